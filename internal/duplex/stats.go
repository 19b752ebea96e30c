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

import "sync/atomic"

// Stats counts events on both sides of a duplex stream. Counters are updated
// from the audio threads with atomic adds and may be read at any time.
type Stats struct {
	inputCycles      atomic.Uint64
	outputCycles     atomic.Uint64
	channelsBuilt    atomic.Uint64
	channelsAdopted  atomic.Uint64
	ratesPublished   atomic.Uint64
	publishFailures  atomic.Uint64
	configErrors     atomic.Uint64
	framesPushed     atomic.Uint64
	framesDropped    atomic.Uint64
	overflowFrames   atomic.Uint64
	framesDelivered  atomic.Uint64
	underflows       atomic.Uint64
	jitterDiscarded  atomic.Uint64
	conversionErrors atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	InputCycles      uint64 `json:"input_cycles"`
	OutputCycles     uint64 `json:"output_cycles"`
	ChannelsBuilt    uint64 `json:"channels_built"`
	ChannelsAdopted  uint64 `json:"channels_adopted"`
	RatesPublished   uint64 `json:"rates_published"`
	PublishFailures  uint64 `json:"publish_failures"`
	ConfigErrors     uint64 `json:"config_errors"`
	FramesPushed     uint64 `json:"frames_pushed"`
	FramesDropped    uint64 `json:"frames_dropped"`
	OverflowFrames   uint64 `json:"overflow_frames"`
	FramesDelivered  uint64 `json:"frames_delivered"`
	Underflows       uint64 `json:"underflows"`
	JitterDiscarded  uint64 `json:"jitter_discarded"`
	ConversionErrors uint64 `json:"conversion_errors"`
}

// Snapshot copies the current counter values
func (s *Stats) Snapshot() StatsSnapshot {
	if s == nil {
		return StatsSnapshot{}
	}
	return StatsSnapshot{
		InputCycles:      s.inputCycles.Load(),
		OutputCycles:     s.outputCycles.Load(),
		ChannelsBuilt:    s.channelsBuilt.Load(),
		ChannelsAdopted:  s.channelsAdopted.Load(),
		RatesPublished:   s.ratesPublished.Load(),
		PublishFailures:  s.publishFailures.Load(),
		ConfigErrors:     s.configErrors.Load(),
		FramesPushed:     s.framesPushed.Load(),
		FramesDropped:    s.framesDropped.Load(),
		OverflowFrames:   s.overflowFrames.Load(),
		FramesDelivered:  s.framesDelivered.Load(),
		Underflows:       s.underflows.Load(),
		JitterDiscarded:  s.jitterDiscarded.Load(),
		ConversionErrors: s.conversionErrors.Load(),
	}
}
