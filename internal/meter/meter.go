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

// Package meter measures signal levels of audio buffers.
package meter

import (
	"math"
	"time"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
	"github.com/loqalabs/loqa-duplex-go/internal/duplex"
)

// SilenceDB is the level reported for digital silence
const SilenceDB = -120.0

// ChannelLevel holds the level of one channel as linear amplitudes
type ChannelLevel struct {
	RMS  float64 `json:"rms"`
	Peak float64 `json:"peak"`
}

// RMSDB returns the RMS level in dBFS
func (l ChannelLevel) RMSDB() float64 { return DBFS(l.RMS) }

// PeakDB returns the peak level in dBFS
func (l ChannelLevel) PeakDB() float64 { return DBFS(l.Peak) }

// DBFS converts a linear amplitude to decibels relative to full scale
func DBFS(v float64) float64 {
	if v <= 0 {
		return SilenceDB
	}
	return max(20*math.Log10(v), SilenceDB)
}

// Levels is the per-channel level of some audio
type Levels struct {
	Channels int
	Frames   int
	levels   [audio.MaxChannels]ChannelLevel
}

// Channel returns the level of channel c
func (l Levels) Channel(c int) ChannelLevel {
	if c < 0 || c >= l.Channels {
		return ChannelLevel{}
	}
	return l.levels[c]
}

// Slice returns the levels as a newly allocated slice
func (l Levels) Slice() []ChannelLevel {
	out := make([]ChannelLevel, l.Channels)
	copy(out, l.levels[:l.Channels])
	return out
}

// Loudest returns the highest RMS and peak across channels
func (l Levels) Loudest() ChannelLevel {
	var out ChannelLevel
	for _, lvl := range l.levels[:l.Channels] {
		out.RMS = max(out.RMS, lvl.RMS)
		out.Peak = max(out.Peak, lvl.Peak)
	}
	return out
}

// Measure computes the levels of buf. It does not allocate.
func Measure(buf audio.Buffer) Levels {
	var acc Accumulator
	acc.Add(buf)
	return acc.Levels()
}

// Accumulator integrates levels over several buffers. The zero value is
// ready to use.
type Accumulator struct {
	channels int
	frames   int
	sumSq    [audio.MaxChannels]float64
	peak     [audio.MaxChannels]float64
}

// Add folds buf into the running levels
func (a *Accumulator) Add(buf audio.Buffer) {
	channels := min(buf.Channels(), audio.MaxChannels)
	a.channels = max(a.channels, channels)
	for c := 0; c < channels; c++ {
		sumSq := a.sumSq[c]
		peak := a.peak[c]
		for _, s := range buf.Channel(c) {
			v := float64(s)
			sumSq += v * v
			peak = max(peak, math.Abs(v))
		}
		a.sumSq[c] = sumSq
		a.peak[c] = peak
	}
	a.frames += buf.Frames()
}

// Frames returns the number of frames added since the last reset
func (a *Accumulator) Frames() int { return a.frames }

// Levels returns the levels of everything added since the last reset
func (a *Accumulator) Levels() Levels {
	l := Levels{Channels: a.channels, Frames: a.frames}
	if a.frames == 0 {
		return l
	}
	for c := 0; c < a.channels; c++ {
		l.levels[c] = ChannelLevel{
			RMS:  math.Sqrt(a.sumSq[c] / float64(a.frames)),
			Peak: a.peak[c],
		}
	}
	return l
}

// Reset clears the accumulator
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// Report is a periodic summary of a running duplex stream
type Report struct {
	StreamID  string               `json:"stream_id"`
	Timestamp time.Time            `json:"timestamp"`
	Input     []ChannelLevel       `json:"input"`
	Output    []ChannelLevel       `json:"output"`
	Stats     duplex.StatsSnapshot `json:"stats"`
}

// NewReport builds a report from input and output levels
func NewReport(streamID string, input, output Levels, stats duplex.StatsSnapshot) Report {
	return Report{
		StreamID:  streamID,
		Timestamp: time.Now().UTC(),
		Input:     input.Slice(),
		Output:    output.Slice(),
		Stats:     stats,
	}
}
