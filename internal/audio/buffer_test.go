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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rampBuffer(channels, frames int) Buffer {
	buf := NewBuffer(channels, frames)
	for c := 0; c < channels; c++ {
		ch := buf.Channel(c)
		for i := range ch {
			ch[i] = float32(c*1000 + i)
		}
	}
	return buf
}

func TestBufferLayout(t *testing.T) {
	buf := rampBuffer(2, 4)
	assert.Equal(t, 2, buf.Channels())
	assert.Equal(t, 4, buf.Frames())
	assert.Equal(t, 8, buf.Len())
	assert.Equal(t, []float32{0, 1, 2, 3}, buf.Channel(0))
	assert.Equal(t, []float32{1000, 1001, 1002, 1003}, buf.Channel(1))
}

func TestBufferSlice(t *testing.T) {
	buf := rampBuffer(2, 8)

	tests := []struct {
		name       string
		start, end int
		frames     int
		first      float32
	}{
		{name: "middle", start: 2, end: 5, frames: 3, first: 2},
		{name: "empty", start: 3, end: 3, frames: 0},
		{name: "clamped_end", start: 6, end: 100, frames: 2, first: 6},
		{name: "inverted", start: 5, end: 2, frames: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := buf.Slice(tt.start, tt.end)
			assert.Equal(t, tt.frames, view.Frames())
			if tt.frames > 0 {
				assert.Equal(t, tt.first, view.Channel(0)[0])
				assert.Equal(t, tt.first+1000, view.Channel(1)[0])
			}
		})
	}

	t.Run("shares_storage", func(t *testing.T) {
		view := buf.Slice(4, 6)
		view.Channel(1)[0] = -1
		assert.Equal(t, float32(-1), buf.Channel(1)[4])
	})

	t.Run("nested", func(t *testing.T) {
		view := buf.Slice(2, 8).Slice(1, 3)
		assert.Equal(t, []float32{3, 4}, view.Channel(0))
	})
}

func TestBufferFrames(t *testing.T) {
	buf := NewBuffer(3, 4)

	assert.True(t, buf.SetFrame(1, []float32{1, 2, 3}))
	assert.False(t, buf.SetFrame(4, []float32{1, 2, 3}), "out of range frame is rejected")
	assert.False(t, buf.SetFrame(-1, []float32{1}))

	// short source leaves remaining channels untouched
	assert.True(t, buf.SetFrame(2, []float32{9}))

	frame := make([]float32, 3)
	assert.Equal(t, 3, buf.Frame(1, frame))
	assert.Equal(t, []float32{1, 2, 3}, frame)
	assert.Equal(t, 3, buf.Frame(2, frame))
	assert.Equal(t, []float32{9, 0, 0}, frame)
	assert.Equal(t, 0, buf.Frame(10, frame))
}

func TestBufferInterleaving(t *testing.T) {
	buf := rampBuffer(2, 3)

	dst := make([]float32, 6)
	require.True(t, buf.CopyIntoInterleaved(dst))
	assert.Equal(t, []float32{0, 1000, 1, 1001, 2, 1002}, dst)

	assert.False(t, buf.CopyIntoInterleaved(make([]float32, 5)), "length must match exactly")

	other := NewBuffer(2, 3)
	require.True(t, other.CopyFromInterleaved(dst))
	assert.Equal(t, buf.Channel(0), other.Channel(0))
	assert.Equal(t, buf.Channel(1), other.Channel(1))

	t.Run("slice_round_trip", func(t *testing.T) {
		view := buf.Slice(1, 3)
		out := make([]float32, view.Len())
		require.True(t, view.CopyIntoInterleaved(out))
		assert.Equal(t, []float32{1, 1001, 2, 1002}, out)
	})

	t.Run("go_audio_buffer", func(t *testing.T) {
		fb := buf.Interleaved(48000)
		assert.Equal(t, 2, fb.Format.NumChannels)
		assert.Equal(t, 48000, fb.Format.SampleRate)
		assert.Equal(t, 3, fb.NumFrames())
		assert.Equal(t, dst, fb.Data)
	})
}

func TestBufferChunks(t *testing.T) {
	buf := rampBuffer(1, 70)

	var sizes []int
	var firsts []float32
	for chunk := range buf.Chunks(32) {
		sizes = append(sizes, chunk.Frames())
		firsts = append(firsts, chunk.Channel(0)[0])
	}
	assert.Equal(t, []int{32, 32, 6}, sizes)
	assert.Equal(t, []float32{0, 32, 64}, firsts)

	count := 0
	for range buf.Chunks(0) {
		count++
	}
	assert.Zero(t, count, "non-positive chunk size yields nothing")

	count = 0
	for range buf.Chunks(10) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestBufferFillAndCopy(t *testing.T) {
	dst := NewBuffer(2, 4)
	dst.Fill(0.5)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, dst.Channel(1))

	src := rampBuffer(1, 2)
	assert.Equal(t, 2, dst.CopyFrom(src))
	assert.Equal(t, []float32{0, 1, 0.5, 0.5}, dst.Channel(0))
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, dst.Channel(1), "missing source channel leaves data")
}
