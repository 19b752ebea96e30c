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
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
	"github.com/loqalabs/loqa-duplex-go/internal/duplex"
	"github.com/loqalabs/loqa-duplex-go/internal/handoff"
	"github.com/loqalabs/loqa-duplex-go/internal/logging"
)

// Config holds everything the run command needs
type Config struct {
	Backend   string
	LogLevel  string
	LogFormat string

	InputDevice    string
	OutputDevice   string
	InputChannels  int
	OutputChannels int
	InputRate      uint32
	OutputRate     uint32
	BufferSize     int

	Gain            float64
	Latency         time.Duration
	Capacity        time.Duration
	JitterTolerance float64

	Duration       time.Duration
	ReportInterval time.Duration
	StreamName     string

	NATSURL        string
	HubURL         string
	RecordPath     string
	RecordBitDepth int
}

// DefaultConfig returns the configuration used when no flags are given
func DefaultConfig() Config {
	channel := handoff.DefaultConfig()
	return Config{
		Backend:         audio.DriverPortAudio,
		LogLevel:        "info",
		LogFormat:       logging.FormatConsole,
		Gain:            1,
		Latency:         channel.Latency,
		Capacity:        channel.Capacity,
		JitterTolerance: duplex.DefaultJitterTolerance,
		ReportInterval:  time.Second,
		StreamName:      "loqa-duplex-001",
		RecordBitDepth:  16,
	}
}

// Validate rejects values that cannot be used
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case audio.DriverPortAudio, audio.DriverMock:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.InputChannels < 0 || c.InputChannels > audio.MaxChannels {
		errs = append(errs, fmt.Errorf("input channels must be between 0 and %d", audio.MaxChannels))
	}
	if c.OutputChannels < 0 || c.OutputChannels > audio.MaxChannels {
		errs = append(errs, fmt.Errorf("output channels must be between 0 and %d", audio.MaxChannels))
	}
	if c.BufferSize < 0 {
		errs = append(errs, errors.New("buffer size cannot be negative"))
	}
	if c.Gain < 0 {
		errs = append(errs, errors.New("gain cannot be negative"))
	}
	if c.Latency <= 0 || c.Capacity <= c.Latency {
		errs = append(errs, fmt.Errorf("latency %s must be positive and below capacity %s", c.Latency, c.Capacity))
	}
	if c.JitterTolerance < 0 {
		errs = append(errs, errors.New("jitter tolerance cannot be negative"))
	}
	if c.Duration < 0 {
		errs = append(errs, errors.New("duration cannot be negative"))
	}
	if c.ReportInterval <= 0 {
		errs = append(errs, errors.New("report interval must be positive"))
	}
	if c.StreamName == "" {
		errs = append(errs, errors.New("stream name is required"))
	}
	if c.HubURL != "" {
		if u, err := url.Parse(c.HubURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("hub URL %q must be http or https", c.HubURL))
		}
	}
	if c.RecordPath != "" {
		switch c.RecordBitDepth {
		case 16, 24, 32:
		default:
			errs = append(errs, fmt.Errorf("unsupported record bit depth %d", c.RecordBitDepth))
		}
	}
	return errors.Join(errs...)
}

// ChannelConfig returns the hand-off channel settings
func (c Config) ChannelConfig() handoff.Config {
	cfg := handoff.DefaultConfig()
	cfg.Latency = c.Latency
	cfg.Capacity = c.Capacity
	return cfg
}

// streamConfig applies the non-zero overrides to a device default
func streamConfig(base audio.StreamConfig, channels int, rate uint32, bufferSize int) audio.StreamConfig {
	if channels > 0 {
		base.Channels = audio.ChannelSetOf(channels)
	}
	if rate > 0 {
		base.SampleRate = rate
	}
	if bufferSize > 0 {
		base.BufferSize = bufferSize
	}
	return base
}

// InputConfig returns the capture configuration for dev
func (c Config) InputConfig(dev audio.InputDevice) (audio.StreamConfig, error) {
	base, err := dev.DefaultInputConfig()
	if err != nil {
		return audio.StreamConfig{}, err
	}
	return streamConfig(base, c.InputChannels, c.InputRate, c.BufferSize), nil
}

// OutputConfig returns the playback configuration for dev
func (c Config) OutputConfig(dev audio.OutputDevice) (audio.StreamConfig, error) {
	base, err := dev.DefaultOutputConfig()
	if err != nil {
		return audio.StreamConfig{}, err
	}
	return streamConfig(base, c.OutputChannels, c.OutputRate, c.BufferSize), nil
}
