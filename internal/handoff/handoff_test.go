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

package handoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(frames, channels int) []float32 {
	out := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = float32(i) / float32(frames)
		}
	}
	return out
}

func TestNewValidation(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		channels int
		inRate   uint32
		outRate  uint32
		cfg      Config
	}{
		{"zero channels", 0, 48000, 48000, cfg},
		{"too many channels", 65, 48000, 48000, cfg},
		{"zero input rate", 1, 0, 48000, cfg},
		{"zero output rate", 1, 48000, 0, cfg},
		{"capacity below latency", 1, 48000, 48000, Config{Latency: time.Second, Capacity: time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := New(tt.channels, tt.inRate, tt.outRate, tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	p, c, err := New(2, 48000, 44100, cfg)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2, c.Channels())
	assert.Equal(t, uint32(48000), c.InputRate())
	assert.Equal(t, uint32(44100), c.OutputRate())
	assert.Equal(t, 2205, c.LatencyFrames())
	assert.Equal(t, 0, c.AvailableFrames())
}

func TestPassthroughSameRate(t *testing.T) {
	p, c, err := New(2, 48000, 48000, DefaultConfig())
	require.NoError(t, err)

	n, err := p.PushInterleaved([]float32{1, -1, 2, -2, 3, -3, 9})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "partial trailing frame is ignored")
	assert.Equal(t, 3, c.AvailableFrames())

	frame := make([]float32, 2)
	for i := 1; i <= 3; i++ {
		require.True(t, c.ReadInterleaved(frame))
		assert.Equal(t, []float32{float32(i), float32(-i)}, frame)
	}
	assert.False(t, c.ReadInterleaved(frame))
	assert.False(t, c.ReadInterleaved(make([]float32, 1)), "short frame is rejected")
}

func TestConvertedFrameCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallbackFrames = 480
	p, c, err := New(1, 48000, 44100, cfg)
	require.NoError(t, err)

	input := ramp(480, 1)
	for start := 0; start < len(input); start += 32 {
		p.Stage(input[start:min(start+32, len(input))])
	}
	assert.Zero(t, c.AvailableFrames(), "staged audio is not visible before a flush")

	total, err := p.Flush()
	require.NoError(t, err)
	assert.Equal(t, total, c.AvailableFrames())
	assert.InDelta(t, 441, total, 8)

	n, err := p.Flush()
	require.NoError(t, err)
	assert.Zero(t, n, "nothing left to flush")
}

func TestPushInterleavedMatchesStagedFlush(t *testing.T) {
	p, c, err := New(1, 48000, 44100, DefaultConfig())
	require.NoError(t, err)

	input := ramp(480, 1)
	total := 0
	for start := 0; start < len(input); start += 32 {
		n, err := p.PushInterleaved(input[start:min(start+32, len(input))])
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, total, c.AvailableFrames())
	assert.InDelta(t, 441, total, 8)
}

func TestStageBeyondCallbackHint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallbackFrames = 32
	p, c, err := New(2, 48000, 44100, cfg)
	require.NoError(t, err)

	p.Stage(ramp(480, 2))
	total, err := p.Flush()
	require.NoError(t, err)
	assert.InDelta(t, 441, total, 8)
	assert.Equal(t, total, c.AvailableFrames())
}

func TestPassthroughStageEnqueuesImmediately(t *testing.T) {
	p, c, err := New(1, 48000, 48000, DefaultConfig())
	require.NoError(t, err)

	p.Stage(ramp(32, 1))
	p.Stage(ramp(16, 1))
	assert.Equal(t, 48, c.AvailableFrames())

	n, err := p.Flush()
	require.NoError(t, err)
	assert.Equal(t, 48, n)
}

func TestPassthroughDoesNotAllocate(t *testing.T) {
	p, c, err := New(2, 48000, 48000, DefaultConfig())
	require.NoError(t, err)
	input := ramp(480, 2)
	frame := make([]float32, 2)

	allocs := testing.AllocsPerRun(100, func() {
		for start := 0; start < len(input); start += 64 {
			p.Stage(input[start : start+64])
		}
		_, _ = p.Flush()
		c.DiscardJitter(0)
		c.Claim(441)
		c.ReadInterleaved(frame)
	})
	assert.Zero(t, allocs)
}

// The converter allocates inside the library for every input sample of every
// channel. Flushing once per callback keeps the remainder to one call's
// worth, independent of how the callback was split into chunks.
const (
	converterAllocsPerSample = 2
	converterAllocsPerFlush  = 48
)

func TestConversionAllocationsPerFlush(t *testing.T) {
	for _, channels := range []int{1, 2} {
		cfg := DefaultConfig()
		cfg.MaxCallbackFrames = 480
		p, c, err := New(channels, 48000, 44100, cfg)
		require.NoError(t, err)
		input := ramp(480, channels)
		chunk := 32 * channels

		allocs := testing.AllocsPerRun(20, func() {
			for start := 0; start < len(input); start += chunk {
				p.Stage(input[start : start+chunk])
			}
			_, _ = p.Flush()
			c.DiscardJitter(0)
		})
		limit := float64(converterAllocsPerSample*480*channels + converterAllocsPerFlush)
		assert.LessOrEqual(t, allocs, limit, "%d channels", channels)
	}
}

func TestOverflowDropsFrames(t *testing.T) {
	cfg := Config{Latency: time.Millisecond, Capacity: 2 * time.Millisecond}
	p, c, err := New(1, 1000, 1000, cfg)
	require.NoError(t, err)

	capacity := p.ring.Cap()
	n, err := p.PushInterleaved(ramp(capacity+10, 1))
	require.NoError(t, err)
	assert.Equal(t, capacity, n)
	assert.Equal(t, uint64(10), p.DroppedFrames())
	assert.Equal(t, capacity, c.AvailableFrames())
}

func TestClaimAndUnderflowCorrection(t *testing.T) {
	cfg := Config{Latency: 10 * time.Millisecond, Capacity: 100 * time.Millisecond}
	p, c, err := New(1, 1000, 1000, cfg)
	require.NoError(t, err)
	require.Equal(t, 10, c.LatencyFrames())

	p.PushInterleaved(ramp(4, 1))
	assert.Equal(t, 4, c.Claim(8), "claim is bounded by availability")
	assert.False(t, p.CorrectUnderflows(), "an unprimed channel never reports underflow")
	assert.Equal(t, 0, c.Claim(0))

	p.PushInterleaved(ramp(8, 1))
	assert.Equal(t, 5, c.Claim(5))
	c.ring.Discard(12)

	assert.Equal(t, 0, c.Claim(5))
	assert.True(t, p.CorrectUnderflows())
	assert.Equal(t, 10, c.AvailableFrames(), "silence refills to the latency target")
	assert.False(t, p.CorrectUnderflows(), "the event is consumed")

	frame := make([]float32, 1)
	require.True(t, c.ReadInterleaved(frame))
	assert.Equal(t, float32(0), frame[0])
}

func TestDiscardJitter(t *testing.T) {
	cfg := Config{Latency: 10 * time.Millisecond, Capacity: 100 * time.Millisecond}
	p, c, err := New(2, 1000, 1000, cfg)
	require.NoError(t, err)

	p.PushInterleaved(ramp(14, 2))
	assert.Equal(t, 0, c.DiscardJitter(5), "within tolerance")
	assert.Equal(t, 14, c.AvailableFrames())

	p.PushInterleaved(ramp(6, 2))
	assert.Equal(t, 10, c.DiscardJitter(5))
	assert.Equal(t, 10, c.AvailableFrames())
	assert.Equal(t, 0, c.DiscardJitter(-1))
}

func TestConcurrentPushAndRead(t *testing.T) {
	p, c, err := New(2, 48000, 48000, DefaultConfig())
	require.NoError(t, err)

	const frames = 20000
	done := make(chan struct{})
	go func() {
		defer close(done)
		chunk := make([]float32, 64)
		for i := 0; i < frames; {
			for j := 0; j < 32; j++ {
				chunk[2*j] = float32(i + j)
				chunk[2*j+1] = -float32(i + j)
			}
			n, _ := p.PushInterleaved(chunk[:min(32, frames-i)*2])
			i += n
		}
	}()

	frame := make([]float32, 2)
	next := 0
	for next < frames {
		if !c.ReadInterleaved(frame) {
			continue
		}
		require.Equal(t, float32(next), frame[0])
		require.Equal(t, -float32(next), frame[1])
		next++
	}
	<-done
}
