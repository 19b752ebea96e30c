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

package duplex

import (
	"github.com/rs/zerolog"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
	"github.com/loqalabs/loqa-duplex-go/internal/handoff"
	"github.com/loqalabs/loqa-duplex-go/internal/mailbox"
)

// chunkFrames bounds how many frames are interleaved per push
const chunkFrames = 32

// InputProxy runs as the input stream's callback and forwards captured audio
// into a hand-off channel converting to the output stream's rate.
type InputProxy struct {
	producer  *handoff.Producer
	rates     *mailbox.Receiver[uint32]
	consumers *mailbox.Sender[*handoff.Consumer]

	channel handoff.Config
	scratch [chunkFrames * audio.MaxChannels]float32
	dropped uint64

	logger zerolog.Logger
	stats  *Stats
}

// NewInputProxy creates a proxy with no channel yet. It returns the sending
// end of the rate mailbox and the receiving end of the consumer mailbox for
// the output side to hold.
func NewInputProxy(opts ...Option) (*InputProxy, *mailbox.Sender[uint32], *mailbox.Receiver[*handoff.Consumer]) {
	return newInputProxy(newOptions(opts))
}

func newInputProxy(o options) (*InputProxy, *mailbox.Sender[uint32], *mailbox.Receiver[*handoff.Consumer]) {
	rateTx, rateRx := mailbox.New[uint32]()
	consumerTx, consumerRx := mailbox.New[*handoff.Consumer]()
	p := &InputProxy{
		rates:     rateRx,
		consumers: consumerTx,
		channel:   o.channel,
		logger:    o.logger.With().Str("component", "input_proxy").Logger(),
		stats:     o.stats,
	}
	return p, rateTx, consumerRx
}

// OnInputData implements audio.InputCallback
func (p *InputProxy) OnInputData(ctx audio.CallbackContext, input audio.AudioInput) {
	frames := input.Buffer.Frames()
	p.stats.inputCycles.Add(1)
	p.logger.Trace().
		Int("frames", frames).
		Int("channels", input.Buffer.Channels()).
		Msg("input data")

	if rate, ok := p.rates.TryReceive(); ok {
		if !p.rebuild(ctx.Config, rate) {
			p.stats.framesDropped.Add(uint64(frames))
			return
		}
	}

	if p.producer == nil {
		p.logger.Debug().Msg("no hand-off channel available, dropping input data")
		p.stats.framesDropped.Add(uint64(frames))
		return
	}

	if p.producer.CorrectUnderflows() {
		p.stats.underflows.Add(1)
		p.logger.Error().Msg("input proxy: underflow detected")
	}

	for chunk := range input.Buffer.Chunks(chunkFrames) {
		scratch := p.scratch[:chunk.Len()]
		chunk.CopyIntoInterleaved(scratch)
		p.producer.Stage(scratch)
	}
	if _, err := p.producer.Flush(); err != nil {
		p.stats.conversionErrors.Add(1)
		p.logger.Error().Err(err).Msg("input proxy: failed to push input data")
	} else {
		p.stats.framesPushed.Add(uint64(frames))
	}

	if dropped := p.producer.DroppedFrames(); dropped > p.dropped {
		p.stats.overflowFrames.Add(dropped - p.dropped)
		p.dropped = dropped
	}
}

// rebuild replaces the producer with a new channel converting to rate and
// publishes its consumer. It returns false when this cycle's audio must be
// skipped.
func (p *InputProxy) rebuild(config audio.StreamConfig, rate uint32) bool {
	channels := config.Channels.Count()
	if channels == 0 {
		p.stats.configErrors.Add(1)
		p.logger.Error().Err(ErrNoInputChannels).Msg("input proxy: cannot build hand-off channel")
		return false
	}

	p.logger.Debug().
		Uint32("input_rate", config.SampleRate).
		Uint32("output_rate", rate).
		Int("channels", channels).
		Msg("creating hand-off channel")

	cfg := p.channel
	if config.BufferSize > 0 {
		cfg.MaxCallbackFrames = config.BufferSize
	}
	producer, consumer, err := handoff.New(channels, config.SampleRate, rate, cfg)
	if err != nil {
		p.producer = nil
		p.stats.configErrors.Add(1)
		p.logger.Error().Err(err).Msg("input proxy: cannot build hand-off channel")
		return false
	}
	p.producer = producer
	p.dropped = 0
	p.stats.channelsBuilt.Add(1)

	if err := p.consumers.Send(consumer); err != nil {
		p.stats.publishFailures.Add(1)
		p.logger.Error().Err(err).Msg("input proxy: cannot send hand-off channel")
		return true
	}
	p.logger.Debug().Uint32("output_rate", rate).Msg("input proxy: hand-off channel sent")
	return true
}
