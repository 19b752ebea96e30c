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
	"iter"
	"math/bits"
	"strconv"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
)

// MaxChannels is the largest number of channels a stream can carry.
// It is bounded by the width of ChannelSet.
const MaxChannels = 64

// ErrInvalidConfig is returned when a stream configuration cannot be used
var ErrInvalidConfig = errors.New("invalid stream configuration")

// ChannelSet is an ordered set of channel indices in [0, MaxChannels)
type ChannelSet uint64

// ChannelSetOf returns the set holding the first n channels
func ChannelSetOf(n int) ChannelSet {
	switch {
	case n <= 0:
		return 0
	case n >= MaxChannels:
		return ^ChannelSet(0)
	default:
		return ChannelSet(uint64(1)<<uint(n) - 1)
	}
}

// Count returns the number of channels in the set
func (c ChannelSet) Count() int {
	return bits.OnesCount64(uint64(c))
}

// Contains reports whether channel index i is part of the set
func (c ChannelSet) Contains(i int) bool {
	if i < 0 || i >= MaxChannels {
		return false
	}
	return c&(1<<uint(i)) != 0
}

// With returns a copy of the set with channel i added
func (c ChannelSet) With(i int) ChannelSet {
	if i < 0 || i >= MaxChannels {
		return c
	}
	return c | 1<<uint(i)
}

// Span returns the highest channel index plus one, the number of
// interleaved hardware channels needed to reach every member of the set.
func (c ChannelSet) Span() int {
	return MaxChannels - bits.LeadingZeros64(uint64(c))
}

// Indices yields the channel indices in ascending order
func (c ChannelSet) Indices() iter.Seq[int] {
	return func(yield func(int) bool) {
		rest := uint64(c)
		for rest != 0 {
			i := bits.TrailingZeros64(rest)
			if !yield(i) {
				return
			}
			rest &= rest - 1
		}
	}
}

func (c ChannelSet) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	first := true
	for i := range c.Indices() {
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		sb.WriteString(strconv.Itoa(i))
	}
	sb.WriteByte(']')
	return sb.String()
}

// StreamConfig describes one hardware stream. It does not change for the
// lifetime of the stream.
type StreamConfig struct {
	SampleRate uint32
	Channels   ChannelSet
	// BufferSize is the requested number of frames per callback.
	// Zero lets the backend choose.
	BufferSize int
}

// Validate checks the configuration for values no backend can honor
func (c StreamConfig) Validate() error {
	if c.SampleRate == 0 {
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalidConfig)
	}
	if c.Channels == 0 {
		return fmt.Errorf("%w: no channels selected", ErrInvalidConfig)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("%w: negative buffer size %d", ErrInvalidConfig, c.BufferSize)
	}
	return nil
}

// Format returns the go-audio PCM format matching this configuration
func (c StreamConfig) Format() *goaudio.Format {
	return &goaudio.Format{
		NumChannels: c.Channels.Count(),
		SampleRate:  int(c.SampleRate),
	}
}

// BufferPeriod returns the wall-clock duration of one callback buffer,
// or zero when the backend picks the buffer size.
func (c StreamConfig) BufferPeriod() time.Duration {
	if c.SampleRate == 0 || c.BufferSize <= 0 {
		return 0
	}
	return time.Duration(float64(c.BufferSize) / float64(c.SampleRate) * float64(time.Second))
}

func (c StreamConfig) String() string {
	return fmt.Sprintf("%d Hz, channels %s, buffer %d", c.SampleRate, c.Channels, c.BufferSize)
}

// Timestamp counts frames elapsed on a stream's clock
type Timestamp struct {
	SampleRate float64
	Counter    uint64
}

// NewTimestamp returns a zero timestamp ticking at sampleRate
func NewTimestamp(sampleRate float64) Timestamp {
	return Timestamp{SampleRate: sampleRate}
}

// Seconds returns the elapsed time in seconds
func (t Timestamp) Seconds() float64 {
	if t.SampleRate <= 0 {
		return 0
	}
	return float64(t.Counter) / t.SampleRate
}

// Duration returns the elapsed time as a time.Duration
func (t Timestamp) Duration() time.Duration {
	return time.Duration(t.Seconds() * float64(time.Second))
}

// Add returns the timestamp advanced by frames
func (t Timestamp) Add(frames int) Timestamp {
	if frames > 0 {
		t.Counter += uint64(frames)
	}
	return t
}

// CallbackContext is passed to every callback invocation. Callbacks treat it
// as read-only.
type CallbackContext struct {
	Timestamp Timestamp
	Config    StreamConfig
}
