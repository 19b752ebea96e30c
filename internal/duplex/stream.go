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
	"errors"
	"sync"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
)

// StreamHandle owns the input and output streams of a duplex stream
type StreamHandle struct {
	mu      sync.Mutex
	input   audio.StreamHandle[audio.InputCallback]
	output  audio.StreamHandle[audio.OutputCallback]
	stats   *Stats
	ejected bool
}

// CreateDuplexStream opens an input stream on inputDevice and an output
// stream on outputDevice and runs callback with audio from both.
//
// If the output stream cannot be created the input stream is ejected before
// returning, and any failure doing so is joined into the returned error.
func CreateDuplexStream(
	inputDevice audio.InputDevice,
	inputConfig audio.StreamConfig,
	outputDevice audio.OutputDevice,
	outputConfig audio.StreamConfig,
	callback Callback,
	opts ...Option,
) (*StreamHandle, error) {
	if inputConfig.Channels.Count() == 0 {
		return nil, &Error{Kind: KindConfig, Err: ErrNoInputChannels}
	}
	o := newOptions(opts)
	logger := o.logger.With().Str("component", "duplex_stream").Logger()

	proxy, rates, consumers := newInputProxy(o)
	input, err := inputDevice.CreateInputStream(inputConfig, proxy)
	if err != nil {
		return nil, &Error{Kind: KindInput, Err: err}
	}

	duplexCallback := newDuplexCallback(callback, inputConfig, consumers, rates, o)
	output, err := outputDevice.CreateOutputStream(outputConfig, duplexCallback)
	if err != nil {
		if _, ejectErr := input.Eject(); ejectErr != nil {
			err = errors.Join(err, ejectErr)
		}
		return nil, &Error{Kind: KindOutput, Err: err}
	}

	logger.Info().
		Str("input_device", inputDevice.Name()).
		Stringer("input_config", inputConfig).
		Str("output_device", outputDevice.Name()).
		Stringer("output_config", outputConfig).
		Msg("duplex stream started")

	return &StreamHandle{
		input:  input,
		output: output,
		stats:  o.stats,
	}, nil
}

// Stats returns the stream's counters
func (h *StreamHandle) Stats() StatsSnapshot {
	return h.stats.Snapshot()
}

// Eject stops the input stream, then the output stream, and returns the
// callback the stream was created with. A failure at any step is returned
// without attempting the following ones.
func (h *StreamHandle) Eject() (Callback, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ejected {
		return nil, ErrAlreadyEjected
	}
	h.ejected = true

	if _, err := h.input.Eject(); err != nil {
		return nil, &Error{Kind: KindInput, Err: err}
	}

	outputCallback, err := h.output.Eject()
	if err != nil {
		return nil, &Error{Kind: KindOutput, Err: err}
	}

	duplexCallback, ok := outputCallback.(*DuplexCallback)
	if !ok {
		return nil, &Error{Kind: KindOther, Err: ErrUnexpectedCallback}
	}
	callback, err := duplexCallback.Unwrap()
	if err != nil {
		return nil, &Error{Kind: KindOther, Err: err}
	}
	return callback, nil
}
