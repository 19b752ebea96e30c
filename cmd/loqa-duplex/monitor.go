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

package main

import (
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
	"github.com/loqalabs/loqa-duplex-go/internal/mailbox"
	"github.com/loqalabs/loqa-duplex-go/internal/meter"
	"github.com/loqalabs/loqa-duplex-go/internal/recorder"
)

// levelPair is one metering period of input and output levels
type levelPair struct {
	input  meter.Levels
	output meter.Levels
}

// Monitor passes input through to output with a gain. Output channel i plays
// input channel i modulo the input channel count. It meters both sides and
// optionally records the input.
type Monitor struct {
	gain     float32
	interval time.Duration
	recorder *recorder.Recorder

	input        meter.Accumulator
	output       meter.Accumulator
	periodFrames int
	levels       *mailbox.Sender[levelPair]
	reports      *mailbox.Receiver[levelPair]
	lost         atomic.Uint64
}

// NewMonitor creates a monitor publishing levels every interval of output
// audio. rec may be nil.
func NewMonitor(gain float64, interval time.Duration, rec *recorder.Recorder) *Monitor {
	levels, reports := mailbox.New[levelPair]()
	return &Monitor{
		gain:     float32(gain),
		interval: interval,
		recorder: rec,
		levels:   levels,
		reports:  reports,
	}
}

// OnAudioData runs on the output audio thread
func (m *Monitor) OnAudioData(ctx audio.CallbackContext, input audio.AudioInput, output audio.AudioOutput) {
	if m.recorder != nil {
		m.recorder.WriteBuffer(input.Buffer)
	}

	in := input.Buffer
	out := output.Buffer
	inChannels := in.Channels()
	for c := 0; c < out.Channels(); c++ {
		dst := out.Channel(c)
		if inChannels == 0 {
			clear(dst)
			continue
		}
		src := in.Channel(c % inChannels)
		n := min(len(src), len(dst))
		for i := 0; i < n; i++ {
			dst[i] = src[i] * m.gain
		}
		clear(dst[n:])
	}

	m.input.Add(in)
	m.output.Add(out)

	if m.periodFrames == 0 {
		m.periodFrames = max(1, int(m.interval.Seconds()*float64(ctx.Config.SampleRate)))
	}
	if m.output.Frames() < m.periodFrames {
		return
	}
	if err := m.levels.Send(levelPair{input: m.input.Levels(), output: m.output.Levels()}); err != nil {
		m.lost.Add(1)
	}
	m.input.Reset()
	m.output.Reset()
}

// Levels returns the most recent completed metering period, if one is
// waiting
func (m *Monitor) Levels() (input, output meter.Levels, ok bool) {
	pair, ok := m.reports.TryReceive()
	if !ok {
		return meter.Levels{}, meter.Levels{}, false
	}
	return pair.input, pair.output, true
}

// LostPeriods returns the number of metering periods dropped because the
// reporter had not collected the previous one
func (m *Monitor) LostPeriods() uint64 { return m.lost.Load() }
