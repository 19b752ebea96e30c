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
	"fmt"
	"math"
	"sync"
	"time"
)

// defaultMockBufferSize is used for real-time simulation when the stream
// config leaves the buffer size to the backend.
const defaultMockBufferSize = 512

// MockDriver implements Driver for testing without hardware dependencies
type MockDriver struct {
	mu      sync.Mutex
	devices []*MockDevice
}

// NewMockDriver creates a mock driver with one input and one output device
func NewMockDriver() *MockDriver {
	d := &MockDriver{}
	d.AddDevice(NewMockDevice("Mock Input", DeviceTypeInput, StreamConfig{
		SampleRate: 48000,
		Channels:   ChannelSetOf(1),
		BufferSize: 480,
	}))
	d.AddDevice(NewMockDevice("Mock Output", DeviceTypeOutput, StreamConfig{
		SampleRate: 44100,
		Channels:   ChannelSetOf(2),
		BufferSize: 441,
	}))
	return d
}

// AddDevice registers a device with the driver
func (m *MockDriver) AddDevice(device *MockDevice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, device)
}

// SetSimulateRealTiming toggles real-time simulation on every device
func (m *MockDriver) SetSimulateRealTiming(simulate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		d.SetSimulateRealTiming(simulate)
	}
}

// Name returns the driver display name
func (m *MockDriver) Name() string { return "Mock" }

// Version returns a fixed version string
func (m *MockDriver) Version() (string, error) { return "mock 1.0", nil }

// DefaultDevice returns the first device supporting deviceType
func (m *MockDriver) DefaultDevice(deviceType DeviceType) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.deviceType&deviceType == deviceType {
			return d, nil
		}
	}
	return nil, nil
}

// Devices lists all registered devices
func (m *MockDriver) Devices() ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]Device, len(m.devices))
	for i, d := range m.devices {
		devices[i] = d
	}
	return devices, nil
}

// MockDevice implements InputDevice and OutputDevice without hardware
type MockDevice struct {
	mu                 sync.Mutex
	name               string
	deviceType         DeviceType
	config             StreamConfig
	createStreamError  error
	simulateRealTiming bool
	generator          func(buf Buffer, ts Timestamp)
	streams            []*MockStream
	streamCounter      int
}

// NewMockDevice creates a mock device whose default configuration is config
func NewMockDevice(name string, deviceType DeviceType, config StreamConfig) *MockDevice {
	return &MockDevice{
		name:       name,
		deviceType: deviceType,
		config:     config,
	}
}

// SetCreateStreamError configures the device to fail stream creation
func (m *MockDevice) SetCreateStreamError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createStreamError = err
}

// SetSimulateRealTiming controls whether new streams run on their own
// goroutine at the buffer period
func (m *MockDevice) SetSimulateRealTiming(simulate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateRealTiming = simulate
}

// SetInputGenerator sets a function that fills captured buffers
func (m *MockDevice) SetInputGenerator(generator func(buf Buffer, ts Timestamp)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generator = generator
}

// Streams returns every stream created on this device
func (m *MockDevice) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*MockStream, len(m.streams))
	copy(result, m.streams)
	return result
}

// Name returns the device name
func (m *MockDevice) Name() string { return m.name }

// DeviceType returns the configured direction
func (m *MockDevice) DeviceType() DeviceType { return m.deviceType }

// DefaultInputConfig returns the configured default
func (m *MockDevice) DefaultInputConfig() (StreamConfig, error) {
	if !m.deviceType.IsInput() {
		return StreamConfig{}, fmt.Errorf("mock device %q has no input", m.name)
	}
	return m.config, nil
}

// DefaultOutputConfig returns the configured default
func (m *MockDevice) DefaultOutputConfig() (StreamConfig, error) {
	if !m.deviceType.IsOutput() {
		return StreamConfig{}, fmt.Errorf("mock device %q has no output", m.name)
	}
	return m.config, nil
}

// CreateInputStream creates a mock capture stream
func (m *MockDevice) CreateInputStream(config StreamConfig, callback InputCallback) (StreamHandle[InputCallback], error) {
	if !m.deviceType.IsInput() {
		return nil, fmt.Errorf("mock device %q has no input", m.name)
	}
	stream, err := m.newStream(config, true)
	if err != nil {
		return nil, err
	}
	stream.inputCallback = callback
	stream.start()
	return &MockInputHandle{Stream: stream}, nil
}

// CreateOutputStream creates a mock playback stream
func (m *MockDevice) CreateOutputStream(config StreamConfig, callback OutputCallback) (StreamHandle[OutputCallback], error) {
	if !m.deviceType.IsOutput() {
		return nil, fmt.Errorf("mock device %q has no output", m.name)
	}
	stream, err := m.newStream(config, false)
	if err != nil {
		return nil, err
	}
	stream.outputCallback = callback
	stream.start()
	return &MockOutputHandle{Stream: stream}, nil
}

func (m *MockDevice) newStream(config StreamConfig, isInput bool) (*MockStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createStreamError != nil {
		return nil, m.createStreamError
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	direction := "output"
	if isInput {
		direction = "input"
	}
	frames := config.BufferSize
	if frames <= 0 {
		frames = defaultMockBufferSize
	}

	stream := &MockStream{
		id:                 fmt.Sprintf("%s_%d", direction, m.streamCounter),
		isInput:            isInput,
		config:             config,
		buffer:             NewBuffer(config.Channels.Count(), frames),
		timestamp:          NewTimestamp(float64(config.SampleRate)),
		generator:          m.generator,
		simulateRealTiming: m.simulateRealTiming,
		stopChannel:        make(chan struct{}),
	}
	m.streamCounter++
	m.streams = append(m.streams, stream)
	return stream, nil
}

// MockStream is a running mock stream. Tests drive it with Pump, or let it
// run on its own goroutine when real timing is simulated.
type MockStream struct {
	mu                 sync.Mutex
	id                 string
	isInput            bool
	config             StreamConfig
	inputCallback      InputCallback
	outputCallback     OutputCallback
	buffer             Buffer
	timestamp          Timestamp
	generator          func(buf Buffer, ts Timestamp)
	simulateRealTiming bool
	stopError          error
	ejected            bool
	ejectCalls         int
	pumps              int
	recordPlayback     bool
	playbackData       [][]float32
	stopChannel        chan struct{}
	wg                 sync.WaitGroup
}

// ID returns the stream identifier
func (s *MockStream) ID() string { return s.id }

// SetStopError configures the stream to fail Eject
func (s *MockStream) SetStopError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopError = err
}

// SetSampleRate changes the rate reported to callbacks, as a device does
// when its clock is reconfigured under a running stream.
func (s *MockStream) SetSampleRate(rate uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.SampleRate = rate
	s.timestamp.SampleRate = float64(rate)
}

// SetRecordPlayback makes output streams keep a copy of every buffer the
// callback produced
func (s *MockStream) SetRecordPlayback(record bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordPlayback = record
}

// PlaybackData returns the interleaved output buffers recorded so far
func (s *MockStream) PlaybackData() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([][]float32, len(s.playbackData))
	copy(result, s.playbackData)
	return result
}

// Config returns the configuration currently reported to callbacks
func (s *MockStream) Config() StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// IsActive returns true until the stream has been ejected
func (s *MockStream) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ejected
}

// EjectCalls returns how many times Eject was attempted
func (s *MockStream) EjectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ejectCalls
}

// Pumps returns how many callback invocations have run
func (s *MockStream) Pumps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pumps
}

// Pump runs one callback invocation for frames frames. It returns false
// once the stream has been ejected.
func (s *MockStream) Pump(frames int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ejected {
		return false
	}
	if frames > s.buffer.Frames() {
		s.buffer = NewBuffer(s.buffer.Channels(), frames)
	}
	buf := s.buffer.Slice(0, frames)
	ctx := CallbackContext{Timestamp: s.timestamp, Config: s.config}

	if s.isInput {
		if s.generator != nil {
			s.generator(buf, s.timestamp)
		} else {
			sine(buf, s.timestamp)
		}
		s.inputCallback.OnInputData(ctx, AudioInput{Timestamp: s.timestamp, Buffer: buf})
	} else {
		buf.Fill(0)
		s.outputCallback.OnOutputData(ctx, AudioOutput{Timestamp: s.timestamp, Buffer: buf})
		if s.recordPlayback {
			data := make([]float32, buf.Len())
			buf.CopyIntoInterleaved(data)
			s.playbackData = append(s.playbackData, data)
		}
	}

	s.timestamp = s.timestamp.Add(frames)
	s.pumps++
	return true
}

// sine writes a 440 Hz tone continuing from ts
func sine(buf Buffer, ts Timestamp) {
	rate := ts.SampleRate
	if rate <= 0 {
		return
	}
	for c := 0; c < buf.Channels(); c++ {
		ch := buf.Channel(c)
		for i := range ch {
			t := float64(ts.Counter+uint64(i)) / rate
			ch[i] = float32(0.1 * math.Sin(2*math.Pi*440*t))
		}
	}
}

func (s *MockStream) start() {
	if !s.simulateRealTiming {
		return
	}
	frames := s.buffer.Frames()
	period := time.Duration(float64(frames) / float64(s.config.SampleRate) * float64(time.Second))
	if period <= 0 {
		period = time.Millisecond
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChannel:
				return
			case <-ticker.C:
				if !s.Pump(frames) {
					return
				}
			}
		}
	}()
}

// stop ends the stream. The simulation goroutine is joined after the lock
// is released so an in-flight Pump can finish.
func (s *MockStream) stop() error {
	s.mu.Lock()
	s.ejectCalls++
	if s.ejected {
		s.mu.Unlock()
		return ErrStreamEjected
	}
	if s.stopError != nil {
		err := s.stopError
		s.mu.Unlock()
		return err
	}
	s.ejected = true
	close(s.stopChannel)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// MockInputHandle is the handle returned for mock capture streams
type MockInputHandle struct {
	Stream *MockStream
}

// Eject stops the stream and returns its callback
func (h *MockInputHandle) Eject() (InputCallback, error) {
	if err := h.Stream.stop(); err != nil {
		return nil, err
	}
	return h.Stream.inputCallback, nil
}

// MockOutputHandle is the handle returned for mock playback streams
type MockOutputHandle struct {
	Stream *MockStream
}

// Eject stops the stream and returns its callback
func (h *MockOutputHandle) Eject() (OutputCallback, error) {
	if err := h.Stream.stop(); err != nil {
		return nil, err
	}
	return h.Stream.outputCallback, nil
}
