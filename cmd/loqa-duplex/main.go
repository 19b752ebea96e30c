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
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
	"github.com/loqalabs/loqa-duplex-go/internal/logging"
	duplexnats "github.com/loqalabs/loqa-duplex-go/internal/nats"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := DefaultConfig()

	root := &cobra.Command{
		Use:          "loqa-duplex",
		Short:        "Bridge an audio input device to an output device",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&cfg.Backend, "backend", cfg.Backend, "audio backend (portaudio, mock)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console, json)")

	root.AddCommand(newRunCmd(&cfg), newDevicesCmd(&cfg), newListenCmd(&cfg))
	return root
}

func newLogger(cmd *cobra.Command, cfg *Config) (zerolog.Logger, error) {
	return logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Writer: cmd.ErrOrStderr(),
	})
}

func newRunCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a duplex stream passing input through to output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}

			logger.Info().Str("backend", cfg.Backend).Msg("🚀 Starting Loqa Duplex")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := runDuplex(ctx, *cfg, logger)
			printStats(cmd.OutOrStdout(), stats)
			if err != nil {
				return err
			}
			logger.Info().Msg("👋 Duplex stream stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.InputDevice, "input", cfg.InputDevice, "input device name (default device when empty)")
	f.StringVar(&cfg.OutputDevice, "output", cfg.OutputDevice, "output device name (default device when empty)")
	f.IntVar(&cfg.InputChannels, "input-channels", cfg.InputChannels, "input channels to capture (device default when 0)")
	f.IntVar(&cfg.OutputChannels, "output-channels", cfg.OutputChannels, "output channels to play (device default when 0)")
	f.Uint32Var(&cfg.InputRate, "input-rate", cfg.InputRate, "input sample rate in Hz (device default when 0)")
	f.Uint32Var(&cfg.OutputRate, "output-rate", cfg.OutputRate, "output sample rate in Hz (device default when 0)")
	f.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "frames per callback (backend default when 0)")
	f.Float64Var(&cfg.Gain, "gain", cfg.Gain, "linear gain applied to the input")
	f.DurationVar(&cfg.Latency, "latency", cfg.Latency, "target buffering between input and output")
	f.DurationVar(&cfg.Capacity, "capacity", cfg.Capacity, "maximum buffering between input and output")
	f.Float64Var(&cfg.JitterTolerance, "jitter-tolerance", cfg.JitterTolerance, "excess buffering allowed, in output buffer periods")
	f.DurationVar(&cfg.Duration, "duration", cfg.Duration, "stop after this long (run until interrupted when 0)")
	f.DurationVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "metering period")
	f.StringVar(&cfg.StreamName, "stream", cfg.StreamName, "stream name used in meter reports")
	f.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS server URL for meter reports")
	f.StringVar(&cfg.HubURL, "hub", cfg.HubURL, "HTTP collector base URL for meter reports")
	f.StringVar(&cfg.RecordPath, "record", cfg.RecordPath, "record the input to this WAV file")
	f.IntVar(&cfg.RecordBitDepth, "record-bit-depth", cfg.RecordBitDepth, "WAV bit depth (16, 24, 32)")
	return cmd
}

func newDevicesCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			driver, closeDriver, err := audio.OpenDriver(cfg.Backend)
			if err != nil {
				return err
			}
			defer func() { _ = closeDriver() }()
			return printDevices(cmd.OutOrStdout(), driver)
		},
	}
}

func newListenCmd(cfg *Config) *cobra.Command {
	natsURL := "nats://localhost:4222"
	stream := ""
	count := 0

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print meter reports published over NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			conn, err := duplexnats.Connect(natsURL, natsConnectAttempts, natsConnectBackoff, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			printed, err := listen(ctx, conn, stream, count, cmd.OutOrStdout(), logger)
			logger.Info().Int("reports", printed).Msg("👋 Listener stopped")
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&natsURL, "nats", natsURL, "NATS server URL")
	f.StringVar(&stream, "stream", stream, "stream to follow (all streams when empty)")
	f.IntVar(&count, "count", count, "exit after this many reports (0 runs until interrupted)")
	return cmd
}
