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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, audio.DriverPortAudio, cfg.Backend)
	assert.Equal(t, 50*time.Millisecond, cfg.Latency)
	assert.Equal(t, 400*time.Millisecond, cfg.Capacity)
	assert.Equal(t, 0.5, cfg.JitterTolerance)

	channel := cfg.ChannelConfig()
	assert.Equal(t, cfg.Latency, channel.Latency)
	assert.Equal(t, cfg.Capacity, channel.Capacity)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "alsa" }},
		{"too many input channels", func(c *Config) { c.InputChannels = 65 }},
		{"negative output channels", func(c *Config) { c.OutputChannels = -1 }},
		{"negative buffer size", func(c *Config) { c.BufferSize = -1 }},
		{"negative gain", func(c *Config) { c.Gain = -1 }},
		{"zero latency", func(c *Config) { c.Latency = 0 }},
		{"capacity below latency", func(c *Config) { c.Capacity = c.Latency }},
		{"negative jitter tolerance", func(c *Config) { c.JitterTolerance = -0.1 }},
		{"negative duration", func(c *Config) { c.Duration = -time.Second }},
		{"zero report interval", func(c *Config) { c.ReportInterval = 0 }},
		{"empty stream name", func(c *Config) { c.StreamName = "" }},
		{"bad hub URL", func(c *Config) { c.HubURL = "ftp://example.com" }},
		{"bad record bit depth", func(c *Config) {
			c.RecordPath = "out.wav"
			c.RecordBitDepth = 8
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "alsa"
	cfg.Gain = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alsa")
	assert.Contains(t, err.Error(), "gain")
}

func TestStreamConfigOverrides(t *testing.T) {
	dev := audio.NewMockDevice("Interface", audio.DeviceTypeDuplex, audio.StreamConfig{
		SampleRate: 48000,
		Channels:   audio.ChannelSetOf(2),
		BufferSize: 256,
	})

	cfg := DefaultConfig()
	in, err := cfg.InputConfig(dev)
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), in.SampleRate)
	assert.Equal(t, 2, in.Channels.Count())
	assert.Equal(t, 256, in.BufferSize)

	cfg.OutputChannels = 6
	cfg.OutputRate = 96000
	cfg.BufferSize = 64
	out, err := cfg.OutputConfig(dev)
	require.NoError(t, err)
	assert.Equal(t, uint32(96000), out.SampleRate)
	assert.Equal(t, audio.ChannelSetOf(6), out.Channels)
	assert.Equal(t, 64, out.BufferSize)
}
