/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// defaultCallbackFrames sizes the per-stream buffer when the host picks the
// callback size.
const defaultCallbackFrames = 4096

// PortAudioDriver implements Driver using the real PortAudio library
type PortAudioDriver struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioDriver creates a new PortAudio driver
func NewPortAudioDriver() *PortAudioDriver {
	return &PortAudioDriver{}
}

// Initialize initializes the PortAudio subsystem
func (p *PortAudioDriver) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p.initialized = true
	return nil
}

// Terminate terminates the PortAudio subsystem
func (p *PortAudioDriver) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}

	err := portaudio.Terminate()
	p.initialized = false
	return err
}

func (p *PortAudioDriver) checkInitialized() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return fmt.Errorf("PortAudio not initialized")
	}
	return nil
}

// Name returns the driver display name
func (p *PortAudioDriver) Name() string {
	return "PortAudio"
}

// Version returns the PortAudio version string
func (p *PortAudioDriver) Version() (string, error) {
	return portaudio.VersionText(), nil
}

// DefaultDevice returns the host's default device for the direction
func (p *PortAudioDriver) DefaultDevice(deviceType DeviceType) (Device, error) {
	if err := p.checkInitialized(); err != nil {
		return nil, err
	}

	var (
		info *portaudio.DeviceInfo
		err  error
	)
	switch {
	case deviceType.IsInput():
		info, err = portaudio.DefaultInputDevice()
	case deviceType.IsOutput():
		info, err = portaudio.DefaultOutputDevice()
	default:
		return nil, fmt.Errorf("unsupported device type %s", deviceType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query default %s device: %w", deviceType, err)
	}
	if info == nil {
		return nil, nil
	}
	return &PortAudioDevice{info: info}, nil
}

// Devices lists every PortAudio device
func (p *PortAudioDriver) Devices() ([]Device, error) {
	if err := p.checkInitialized(); err != nil {
		return nil, err
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list PortAudio devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, &PortAudioDevice{info: info})
	}
	return devices, nil
}

// PortAudioDevice wraps a PortAudio device description
type PortAudioDevice struct {
	info *portaudio.DeviceInfo
}

// Name returns the device name reported by the host API
func (d *PortAudioDevice) Name() string {
	return d.info.Name
}

// DeviceType derives the direction from the device's channel counts
func (d *PortAudioDevice) DeviceType() DeviceType {
	var t DeviceType
	if d.info.MaxInputChannels > 0 {
		t |= DeviceTypeInput
	}
	if d.info.MaxOutputChannels > 0 {
		t |= DeviceTypeOutput
	}
	return t
}

// DefaultInputConfig returns the device's default capture configuration
func (d *PortAudioDevice) DefaultInputConfig() (StreamConfig, error) {
	if d.info.MaxInputChannels == 0 {
		return StreamConfig{}, fmt.Errorf("device %q has no input channels", d.info.Name)
	}
	return StreamConfig{
		SampleRate: uint32(d.info.DefaultSampleRate),
		Channels:   ChannelSetOf(min(d.info.MaxInputChannels, MaxChannels)),
	}, nil
}

// DefaultOutputConfig returns the device's default playback configuration
func (d *PortAudioDevice) DefaultOutputConfig() (StreamConfig, error) {
	if d.info.MaxOutputChannels == 0 {
		return StreamConfig{}, fmt.Errorf("device %q has no output channels", d.info.Name)
	}
	return StreamConfig{
		SampleRate: uint32(d.info.DefaultSampleRate),
		Channels:   ChannelSetOf(min(d.info.MaxOutputChannels, MaxChannels)),
	}, nil
}

// CreateInputStream opens and starts a capture stream running callback
func (d *PortAudioDevice) CreateInputStream(config StreamConfig, callback InputCallback) (StreamHandle[InputCallback], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	span := config.Channels.Span()
	if span > d.info.MaxInputChannels {
		return nil, fmt.Errorf("%w: channel set %s exceeds %d input channels of %q",
			ErrInvalidConfig, config.Channels, d.info.MaxInputChannels, d.info.Name)
	}

	s := &portAudioInputStream{
		callback: callback,
		router:   newChannelRouter(config),
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   d.info,
			Channels: span,
			Latency:  d.info.DefaultLowInputLatency,
		},
		SampleRate: float64(config.SampleRate),
		// Zero leaves the callback size to the host API.
		FramesPerBuffer: config.BufferSize,
	}

	stream, err := portaudio.OpenStream(params, s.process)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	s.router.adoptActualRate(stream)
	s.timestamp = NewTimestamp(float64(s.router.config.SampleRate))

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}
	return &portAudioHandle[InputCallback]{stream: stream, callback: callback}, nil
}

// CreateOutputStream opens and starts a playback stream running callback
func (d *PortAudioDevice) CreateOutputStream(config StreamConfig, callback OutputCallback) (StreamHandle[OutputCallback], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	span := config.Channels.Span()
	if span > d.info.MaxOutputChannels {
		return nil, fmt.Errorf("%w: channel set %s exceeds %d output channels of %q",
			ErrInvalidConfig, config.Channels, d.info.MaxOutputChannels, d.info.Name)
	}

	s := &portAudioOutputStream{
		callback: callback,
		router:   newChannelRouter(config),
	}
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   d.info,
			Channels: span,
			Latency:  d.info.DefaultLowOutputLatency,
		},
		SampleRate:      float64(config.SampleRate),
		FramesPerBuffer: config.BufferSize,
	}

	stream, err := portaudio.OpenStream(params, s.process)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	s.router.adoptActualRate(stream)
	s.timestamp = NewTimestamp(float64(s.router.config.SampleRate))

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}
	return &portAudioHandle[OutputCallback]{stream: stream, callback: callback}, nil
}

// channelRouter maps between the device's interleaved channel span and the
// channel-major buffer holding only the selected channels.
type channelRouter struct {
	config  StreamConfig
	span    int
	indices [MaxChannels]int
	buffer  Buffer
}

func newChannelRouter(config StreamConfig) *channelRouter {
	r := &channelRouter{
		config: config,
		span:   config.Channels.Span(),
	}
	n := 0
	for i := range config.Channels.Indices() {
		r.indices[n] = i
		n++
	}
	frames := config.BufferSize
	if frames <= 0 {
		frames = defaultCallbackFrames
	}
	r.buffer = NewBuffer(n, frames)
	return r
}

func (r *channelRouter) adoptActualRate(stream *portaudio.Stream) {
	if info := stream.Info(); info != nil && info.SampleRate > 0 {
		r.config.SampleRate = uint32(info.SampleRate)
	}
}

// view returns a buffer of frames frames, growing the backing store when the
// host delivers more than expected.
func (r *channelRouter) view(frames int) Buffer {
	if frames > r.buffer.Frames() {
		r.buffer = NewBuffer(r.buffer.Channels(), frames)
	}
	return r.buffer.Slice(0, frames)
}

func (r *channelRouter) deinterleave(in []float32) Buffer {
	frames := len(in) / r.span
	buf := r.view(frames)
	for c := 0; c < buf.Channels(); c++ {
		ch := buf.Channel(c)
		src := r.indices[c]
		for i := range ch {
			ch[i] = in[i*r.span+src]
		}
	}
	return buf
}

func (r *channelRouter) interleave(buf Buffer, out []float32) {
	clear(out)
	for c := 0; c < buf.Channels(); c++ {
		ch := buf.Channel(c)
		dst := r.indices[c]
		for i, s := range ch {
			out[i*r.span+dst] = s
		}
	}
}

type portAudioInputStream struct {
	callback  InputCallback
	router    *channelRouter
	timestamp Timestamp
}

func (s *portAudioInputStream) process(in []float32, _ portaudio.StreamCallbackTimeInfo) {
	buf := s.router.deinterleave(in)
	ctx := CallbackContext{Timestamp: s.timestamp, Config: s.router.config}
	s.callback.OnInputData(ctx, AudioInput{Timestamp: s.timestamp, Buffer: buf})
	s.timestamp = s.timestamp.Add(buf.Frames())
}

type portAudioOutputStream struct {
	callback  OutputCallback
	router    *channelRouter
	timestamp Timestamp
}

func (s *portAudioOutputStream) process(out []float32, _ portaudio.StreamCallbackTimeInfo) {
	buf := s.router.view(len(out) / s.router.span)
	buf.Fill(0)
	ctx := CallbackContext{Timestamp: s.timestamp, Config: s.router.config}
	s.callback.OnOutputData(ctx, AudioOutput{Timestamp: s.timestamp, Buffer: buf})
	s.router.interleave(buf, out)
	s.timestamp = s.timestamp.Add(buf.Frames())
}

// portAudioHandle stops a PortAudio stream and returns its callback
type portAudioHandle[T any] struct {
	mu       sync.Mutex
	stream   *portaudio.Stream
	callback T
}

// Eject stops and closes the stream
func (h *portAudioHandle[T]) Eject() (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var zero T
	if h.stream == nil {
		return zero, ErrStreamEjected
	}

	stopErr := h.stream.Stop()
	closeErr := h.stream.Close()
	h.stream = nil
	if err := errors.Join(stopErr, closeErr); err != nil {
		return zero, fmt.Errorf("failed to stop stream: %w", err)
	}
	return h.callback, nil
}
