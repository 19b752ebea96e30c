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

// Package handoff implements the sample-rate converting channel that carries
// interleaved audio frames from an input callback thread to an output
// callback thread.
//
// The channel is split into a Producer, owned by the input side, and a
// Consumer, owned by the output side. Conversion happens on the producer
// side so the consumer only ever moves frames that are already at its rate.
package handoff

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	resampler "github.com/tphakala/go-audio-resampler"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
	"github.com/loqalabs/loqa-duplex-go/internal/ringbuf"
)

// ErrInvalidConfig is returned by New for unusable channel parameters
var ErrInvalidConfig = errors.New("invalid hand-off channel configuration")

// Config tunes a hand-off channel
type Config struct {
	// Latency is the amount of buffered audio the channel aims to hold.
	// Underflow recovery refills up to it and jitter correction trims down
	// to it.
	Latency time.Duration

	// Capacity is the most audio the channel buffers before dropping input
	Capacity time.Duration

	// Quality selects the converter used when the rates differ
	Quality resampler.QualityPreset

	// MaxCallbackFrames sizes the producer's staging buffers. Zero uses
	// DefaultCallbackFrames. Larger callbacks still work but grow the
	// buffers once.
	MaxCallbackFrames int
}

// DefaultCallbackFrames is the staging size used when the input callback
// size is unknown
const DefaultCallbackFrames = 4096

// DefaultConfig returns the configuration used by duplex streams
func DefaultConfig() Config {
	return Config{
		Latency:  50 * time.Millisecond,
		Capacity: 400 * time.Millisecond,
		Quality:  resampler.QualityQuick,
	}
}

func durationFrames(d time.Duration, rate uint32) int {
	return int(math.Round(d.Seconds() * float64(rate)))
}

// shared is the state visible to both ends
type shared struct {
	ring      *ringbuf.Ring
	channels  int
	inRate    uint32
	outRate   uint32
	latency   int
	underflow atomic.Bool
	dropped   atomic.Uint64
}

func (s *shared) availableFrames() int {
	return s.ring.Len() / s.channels
}

// New creates a channel converting channels-wide interleaved audio from
// inRate to outRate.
func New(channels int, inRate, outRate uint32, cfg Config) (*Producer, *Consumer, error) {
	if channels <= 0 || channels > audio.MaxChannels {
		return nil, nil, fmt.Errorf("%w: %d channels", ErrInvalidConfig, channels)
	}
	if inRate == 0 || outRate == 0 {
		return nil, nil, fmt.Errorf("%w: sample rates %d -> %d", ErrInvalidConfig, inRate, outRate)
	}
	if cfg.Latency <= 0 || cfg.Capacity <= cfg.Latency {
		return nil, nil, fmt.Errorf("%w: latency %s must be positive and below capacity %s",
			ErrInvalidConfig, cfg.Latency, cfg.Capacity)
	}

	s := &shared{
		ring:     ringbuf.New(durationFrames(cfg.Capacity, outRate) * channels),
		channels: channels,
		inRate:   inRate,
		outRate:  outRate,
		latency:  durationFrames(cfg.Latency, outRate),
	}

	p := &Producer{
		shared:  s,
		planar:  make([][]float64, channels),
		silence: make([]float32, chunkFrames*channels),
	}
	if inRate != outRate {
		maxFrames := cfg.MaxCallbackFrames
		if maxFrames <= 0 {
			maxFrames = DefaultCallbackFrames
		}
		maxOut := int(math.Ceil(float64(maxFrames)*float64(outRate)/float64(inRate))) + chunkFrames

		conv, err := resampler.New(&resampler.Config{
			InputRate:  float64(inRate),
			OutputRate: float64(outRate),
			Channels:   channels,
			Quality:    resampler.QualitySpec{Preset: cfg.Quality},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create %d -> %d Hz converter: %w", inRate, outRate, err)
		}
		p.converter = conv
		for c := range p.planar {
			p.planar[c] = make([]float64, 0, maxFrames)
		}
		p.converted = make([]float32, 0, maxOut*channels)
	}

	return p, &Consumer{shared: s}, nil
}

// chunkFrames sizes the silence written per step of underflow correction and
// the slack left for converter output
const chunkFrames = 32

// Producer is the input side of a hand-off channel. It must only be used
// from one goroutine at a time.
//
// Audio is staged in pieces and converted once per Flush, so a converting
// channel calls the converter once per input callback however the callback
// slices its buffer.
type Producer struct {
	*shared
	converter resampler.Resampler
	planar    [][]float64
	converted []float32
	silence   []float32
	pending   int
}

// Stage adds interleaved samples to the audio converted by the next Flush.
// Trailing samples that do not form a whole frame are ignored. Without
// conversion the frames are enqueued right away.
func (p *Producer) Stage(samples []float32) {
	frames := len(samples) / p.channels
	if frames == 0 {
		return
	}
	samples = samples[:frames*p.channels]

	if p.converter == nil {
		p.pending += p.enqueue(samples)
		return
	}
	for c := range p.planar {
		ch := p.planar[c]
		for i := 0; i < frames; i++ {
			ch = append(ch, float64(samples[i*p.channels+c]))
		}
		p.planar[c] = ch
	}
}

// Flush converts everything staged since the last Flush in a single
// converter call and enqueues the result. Frames that do not fit are
// dropped. It returns the number of output-rate frames enqueued.
func (p *Producer) Flush() (int, error) {
	if p.converter == nil {
		n := p.pending
		p.pending = 0
		return n, nil
	}
	frames := len(p.planar[0])
	if frames == 0 {
		return 0, nil
	}

	out, err := p.converter.ProcessMulti(p.planar)
	for c := range p.planar {
		p.planar[c] = p.planar[c][:0]
	}
	if err != nil {
		return 0, fmt.Errorf("failed to convert %d frames: %w", frames, err)
	}

	produced := len(out[0])
	for _, ch := range out[1:] {
		produced = min(produced, len(ch))
	}
	converted := p.converted[:0]
	for i := 0; i < produced; i++ {
		for c := range out {
			converted = append(converted, float32(out[c][i]))
		}
	}
	p.converted = converted
	return p.enqueue(converted), nil
}

// PushInterleaved stages samples and flushes them
func (p *Producer) PushInterleaved(samples []float32) (int, error) {
	p.Stage(samples)
	return p.Flush()
}

func (p *Producer) enqueue(samples []float32) int {
	fit := min(len(samples), p.ring.Free()/p.channels*p.channels)
	written := p.ring.Write(samples[:fit]) / p.channels
	if lost := len(samples)/p.channels - written; lost > 0 {
		p.dropped.Add(uint64(lost))
	}
	return written
}

// CorrectUnderflows reports whether the consumer ran dry since the last
// call. When it did, silence is queued so the consumer has the latency
// target available again.
func (p *Producer) CorrectUnderflows() bool {
	if !p.underflow.Swap(false) {
		return false
	}
	for missing := p.latency - p.availableFrames(); missing > 0; {
		n := min(missing, chunkFrames)
		written := p.ring.Write(p.silence[:n*p.channels]) / p.channels
		if written == 0 {
			break
		}
		missing -= written
	}
	return true
}

// DroppedFrames returns the number of output-rate frames lost to overflow
func (p *Producer) DroppedFrames() uint64 {
	return p.dropped.Load()
}

// Consumer is the output side of a hand-off channel. It must only be used
// from one goroutine at a time.
type Consumer struct {
	*shared
	primed bool
}

// Channels returns the number of interleaved channels per frame
func (c *Consumer) Channels() int { return c.channels }

// InputRate returns the rate audio is pushed at
func (c *Consumer) InputRate() uint32 { return c.inRate }

// OutputRate returns the rate audio is read at
func (c *Consumer) OutputRate() uint32 { return c.outRate }

// LatencyFrames returns the buffering target in output frames
func (c *Consumer) LatencyFrames() int { return c.latency }

// AvailableFrames returns the number of whole frames ready to read
func (c *Consumer) AvailableFrames() int {
	return c.availableFrames()
}

// Claim returns how many of want frames can be read now. When the channel
// has been filled to its latency target before and can no longer satisfy
// want, an underflow is flagged for the producer to correct.
func (c *Consumer) Claim(want int) int {
	if want <= 0 {
		return 0
	}
	available := c.availableFrames()
	if available >= c.latency {
		c.primed = true
	}
	if available < want && c.primed {
		c.primed = false
		c.underflow.Store(true)
	}
	return min(want, available)
}

// ReadInterleaved pops one frame into frame, which must hold Channels()
// samples. It returns false when no whole frame is available.
func (c *Consumer) ReadInterleaved(frame []float32) bool {
	if len(frame) < c.channels || c.availableFrames() == 0 {
		return false
	}
	return c.ring.Read(frame[:c.channels]) == c.channels
}

// DiscardJitter drops buffered frames once more than toleranceFrames above
// the latency target have accumulated, bringing the fill level back to the
// target. It returns the number of frames dropped.
func (c *Consumer) DiscardJitter(toleranceFrames int) int {
	available := c.availableFrames()
	if available <= c.latency+max(toleranceFrames, 0) {
		return 0
	}
	excess := available - c.latency
	return c.ring.Discard(excess*c.channels) / c.channels
}
