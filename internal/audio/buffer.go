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
	"iter"

	goaudio "github.com/go-audio/audio"
)

// Buffer is fixed-capacity, channel-major sample storage. Channel c of a
// buffer occupies data[c*stride+offset : c*stride+offset+frames].
//
// Buffers are small values; Slice returns a view sharing the same storage.
type Buffer struct {
	data     []float32
	channels int
	stride   int
	offset   int
	frames   int
}

// NewBuffer allocates a zeroed buffer of channels x frames samples
func NewBuffer(channels, frames int) Buffer {
	if channels < 0 {
		channels = 0
	}
	if frames < 0 {
		frames = 0
	}
	return Buffer{
		data:     make([]float32, channels*frames),
		channels: channels,
		stride:   frames,
		frames:   frames,
	}
}

// Channels returns the number of channels
func (b Buffer) Channels() int { return b.channels }

// Frames returns the number of frames in this view
func (b Buffer) Frames() int { return b.frames }

// Len returns the total number of samples in this view
func (b Buffer) Len() int { return b.channels * b.frames }

// Channel returns the samples of channel c. The slice aliases the buffer.
func (b Buffer) Channel(c int) []float32 {
	start := c*b.stride + b.offset
	return b.data[start : start+b.frames : start+b.frames]
}

// Slice returns the view of frames [start, end). Out-of-range bounds are
// clamped.
func (b Buffer) Slice(start, end int) Buffer {
	start = max(0, min(start, b.frames))
	end = max(start, min(end, b.frames))
	b.offset += start
	b.frames = end - start
	return b
}

// Frame copies frame i into dst, one sample per channel. It returns the
// number of samples copied.
func (b Buffer) Frame(i int, dst []float32) int {
	if i < 0 || i >= b.frames {
		return 0
	}
	n := min(len(dst), b.channels)
	for c := 0; c < n; c++ {
		dst[c] = b.data[c*b.stride+b.offset+i]
	}
	return n
}

// SetFrame writes src as frame i. Extra samples in src are ignored and
// missing ones leave the channel untouched. It returns false when i is out
// of range.
func (b Buffer) SetFrame(i int, src []float32) bool {
	if i < 0 || i >= b.frames {
		return false
	}
	n := min(len(src), b.channels)
	for c := 0; c < n; c++ {
		b.data[c*b.stride+b.offset+i] = src[c]
	}
	return true
}

// CopyIntoInterleaved writes the view into dst as interleaved frames.
// It returns false, leaving dst untouched, when dst is not exactly Len()
// samples long.
func (b Buffer) CopyIntoInterleaved(dst []float32) bool {
	if len(dst) != b.Len() {
		return false
	}
	for c := 0; c < b.channels; c++ {
		ch := b.Channel(c)
		for i, s := range ch {
			dst[i*b.channels+c] = s
		}
	}
	return true
}

// CopyFromInterleaved fills the view from interleaved src. It returns false
// when src is not exactly Len() samples long.
func (b Buffer) CopyFromInterleaved(src []float32) bool {
	if len(src) != b.Len() {
		return false
	}
	for c := 0; c < b.channels; c++ {
		ch := b.Channel(c)
		for i := range ch {
			ch[i] = src[i*b.channels+c]
		}
	}
	return true
}

// Chunks yields consecutive views of at most size frames
func (b Buffer) Chunks(size int) iter.Seq[Buffer] {
	return func(yield func(Buffer) bool) {
		if size <= 0 {
			return
		}
		for start := 0; start < b.frames; start += size {
			if !yield(b.Slice(start, start+size)) {
				return
			}
		}
	}
}

// Fill sets every sample of the view to v
func (b Buffer) Fill(v float32) {
	for c := 0; c < b.channels; c++ {
		ch := b.Channel(c)
		for i := range ch {
			ch[i] = v
		}
	}
}

// CopyFrom copies as many frames and channels of src as fit into b and
// returns the number of frames copied.
func (b Buffer) CopyFrom(src Buffer) int {
	frames := min(b.frames, src.frames)
	channels := min(b.channels, src.channels)
	for c := 0; c < channels; c++ {
		copy(b.Channel(c)[:frames], src.Channel(c)[:frames])
	}
	return frames
}

// Interleaved returns a go-audio float buffer holding a copy of the view.
// It allocates and is not meant for the audio thread.
func (b Buffer) Interleaved(sampleRate int) *goaudio.Float32Buffer {
	data := make([]float32, b.Len())
	b.CopyIntoInterleaved(data)
	return &goaudio.Float32Buffer{
		Format: &goaudio.Format{NumChannels: b.channels, SampleRate: sampleRate},
		Data:   data,
	}
}

// AudioInput is the captured audio handed to input and duplex callbacks
type AudioInput struct {
	Timestamp Timestamp
	Buffer    Buffer
}

// AudioOutput is the buffer an output or duplex callback must fill before
// returning.
type AudioOutput struct {
	Timestamp Timestamp
	Buffer    Buffer
}
