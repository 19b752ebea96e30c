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

// Package duplex bridges an input stream and an output stream running on
// independent hardware clocks into a single callback that sees both.
//
// The input stream runs an InputProxy which pushes captured audio into a
// sample-rate converting hand-off channel. The output stream runs a
// DuplexCallback which drains that channel and calls the user's Callback
// with the converted input next to the output buffer to fill. The two
// threads only communicate through capacity-one mailboxes and the lock-free
// channel: the output side announces its rate, and the input side answers
// with a freshly built channel.
package duplex

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
	"github.com/loqalabs/loqa-duplex-go/internal/handoff"
	"github.com/loqalabs/loqa-duplex-go/internal/mailbox"
)

// Callback processes input and output audio in the same invocation. It runs
// on the output hardware thread and must fill output.Buffer before
// returning.
type Callback interface {
	OnAudioData(ctx audio.CallbackContext, input audio.AudioInput, output audio.AudioOutput)
}

// CallbackFunc adapts a function to Callback
type CallbackFunc func(ctx audio.CallbackContext, input audio.AudioInput, output audio.AudioOutput)

// OnAudioData calls f
func (f CallbackFunc) OnAudioData(ctx audio.CallbackContext, input audio.AudioInput, output audio.AudioOutput) {
	f(ctx, input, output)
}

// DuplexCallback runs as the output stream's callback. It pulls converted
// input from the current hand-off channel and passes it with the output
// buffer to the wrapped Callback.
type DuplexCallback struct {
	input     *handoff.Consumer
	consumers *mailbox.Receiver[*handoff.Consumer]
	rates     *mailbox.Sender[uint32]
	callback  Callback

	storage     audio.Buffer
	currentRate uint32
	frame       [audio.MaxChannels]float32
	tolerance   float64

	logger zerolog.Logger
	stats  *Stats
}

// NewDuplexCallback wraps callback. The input buffer is sized from
// inputConfig to hold one second of audio, the most a single output buffer
// can ask for.
func NewDuplexCallback(
	callback Callback,
	inputConfig audio.StreamConfig,
	consumers *mailbox.Receiver[*handoff.Consumer],
	rates *mailbox.Sender[uint32],
	opts ...Option,
) *DuplexCallback {
	return newDuplexCallback(callback, inputConfig, consumers, rates, newOptions(opts))
}

func newDuplexCallback(
	callback Callback,
	inputConfig audio.StreamConfig,
	consumers *mailbox.Receiver[*handoff.Consumer],
	rates *mailbox.Sender[uint32],
	o options,
) *DuplexCallback {
	return &DuplexCallback{
		consumers: consumers,
		rates:     rates,
		callback:  callback,
		storage:   audio.NewBuffer(inputConfig.Channels.Count(), int(inputConfig.SampleRate)),
		tolerance: o.jitterTolerance,
		logger:    o.logger.With().Str("component", "duplex_callback").Logger(),
		stats:     o.stats,
	}
}

// OnOutputData implements audio.OutputCallback
func (d *DuplexCallback) OnOutputData(ctx audio.CallbackContext, output audio.AudioOutput) {
	d.stats.outputCycles.Add(1)

	if rate := ctx.Config.SampleRate; rate != d.currentRate {
		if err := d.rates.Send(rate); err != nil {
			d.stats.publishFailures.Add(1)
			d.logger.Debug().Err(err).Uint32("rate", rate).Msg("cannot publish output sample rate yet")
		} else {
			d.currentRate = rate
			d.stats.ratesPublished.Add(1)
			d.logger.Debug().Uint32("rate", rate).Msg("output sample rate changed")
		}
	}

	if consumer, ok := d.consumers.TryReceive(); ok {
		d.logger.Debug().
			Uint32("input_rate", consumer.InputRate()).
			Uint32("output_rate", consumer.OutputRate()).
			Msg("hand-off channel received")
		d.input = consumer
		d.stats.channelsAdopted.Add(1)
	}

	frames := 0
	if d.input != nil {
		frames = d.drain(output.Buffer.Frames())
	}

	input := audio.AudioInput{
		Timestamp: ctx.Timestamp,
		Buffer:    d.storage.Slice(0, frames),
	}
	d.callback.OnAudioData(ctx, input, output)
}

// drain copies up to want converted frames into storage and returns how
// many were copied.
func (d *DuplexCallback) drain(want int) int {
	tolerance := int(d.tolerance * float64(want))
	if discarded := d.input.DiscardJitter(tolerance); discarded > 0 {
		d.stats.jitterDiscarded.Add(uint64(discarded))
		d.logger.Warn().Int("frames", discarded).Msg("input jitter detected, frames skipped")
	}

	frame := d.frame[:d.input.Channels()]
	n := d.input.Claim(min(want, d.storage.Frames()))
	for i := 0; i < n; i++ {
		if !d.input.ReadInterleaved(frame) {
			n = i
			break
		}
		d.storage.SetFrame(i, frame)
	}
	d.stats.framesDelivered.Add(uint64(n))
	return n
}

// Unwrap returns the wrapped user callback
func (d *DuplexCallback) Unwrap() (Callback, error) {
	if d.callback == nil {
		return nil, errors.New("duplex callback holds no user callback")
	}
	return d.callback, nil
}
