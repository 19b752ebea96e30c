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

	"github.com/loqalabs/loqa-duplex-go/internal/handoff"
)

// DefaultJitterTolerance is the fraction of one output buffer of excess
// input the bridge tolerates before discarding
const DefaultJitterTolerance = 0.5

type options struct {
	logger          zerolog.Logger
	channel         handoff.Config
	jitterTolerance float64
	stats           *Stats
}

func newOptions(opts []Option) options {
	o := options{
		logger:          zerolog.Nop(),
		channel:         handoff.DefaultConfig(),
		jitterTolerance: DefaultJitterTolerance,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.stats == nil {
		o.stats = &Stats{}
	}
	return o
}

// Option configures a duplex stream or one of its halves
type Option func(*options)

// WithLogger sets the logger used on both audio threads
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithChannelConfig tunes the hand-off channels built on rate changes
func WithChannelConfig(cfg handoff.Config) Option {
	return func(o *options) {
		o.channel = cfg
	}
}

// WithJitterTolerance sets how much excess input, as a fraction of one
// output buffer, is kept before discarding. Negative values are ignored.
func WithJitterTolerance(fraction float64) Option {
	return func(o *options) {
		if fraction >= 0 {
			o.jitterTolerance = fraction
		}
	}
}

// WithStats makes the stream count into stats instead of a private instance
func WithStats(stats *Stats) Option {
	return func(o *options) {
		o.stats = stats
	}
}
