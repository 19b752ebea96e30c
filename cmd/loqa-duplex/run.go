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
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
	"github.com/loqalabs/loqa-duplex-go/internal/duplex"
	"github.com/loqalabs/loqa-duplex-go/internal/meter"
	duplexnats "github.com/loqalabs/loqa-duplex-go/internal/nats"
	"github.com/loqalabs/loqa-duplex-go/internal/recorder"
	"github.com/loqalabs/loqa-duplex-go/internal/transport"
)

const (
	natsConnectAttempts = 5
	natsConnectBackoff  = 2 * time.Second
	hubTimeout          = 5 * time.Second
	recordDrainInterval = 100 * time.Millisecond
	recordBufferSeconds = 2
)

// reportSink receives periodic meter reports
type reportSink interface {
	PublishReport(ctx context.Context, report meter.Report) error
}

// openDevices resolves the input and output devices named in cfg
func openDevices(driver audio.Driver, cfg Config) (audio.InputDevice, audio.OutputDevice, error) {
	dev, err := audio.FindDevice(driver, cfg.InputDevice, audio.DeviceTypeInput)
	if err != nil {
		return nil, nil, err
	}
	inDev, ok := dev.(audio.InputDevice)
	if !ok {
		return nil, nil, fmt.Errorf("device %q cannot capture audio", dev.Name())
	}

	dev, err = audio.FindDevice(driver, cfg.OutputDevice, audio.DeviceTypeOutput)
	if err != nil {
		return nil, nil, err
	}
	outDev, ok := dev.(audio.OutputDevice)
	if !ok {
		return nil, nil, fmt.Errorf("device %q cannot play audio", dev.Name())
	}
	return inDev, outDev, nil
}

// openSinks connects the configured report destinations. The returned
// function closes them.
func openSinks(cfg Config, channels int, logger zerolog.Logger) ([]reportSink, func(), error) {
	var (
		sinks   []reportSink
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.NATSURL != "" {
		conn, err := duplexnats.Connect(cfg.NATSURL, natsConnectAttempts, natsConnectBackoff, logger)
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, duplexnats.NewMeterPublisher(conn, cfg.StreamName, channels, logger))
		closers = append(closers, conn.Close)
	}

	if cfg.HubURL != "" {
		reporter, err := transport.NewHTTPReporter(cfg.HubURL, cfg.StreamName, channels, hubTimeout, logger)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		sinks = append(sinks, reporter)
		closers = append(closers, reporter.Close)
	}
	return sinks, closeAll, nil
}

// runDuplex bridges the configured devices until ctx is done or the
// configured duration elapses, then returns the stream's final counters
func runDuplex(ctx context.Context, cfg Config, logger zerolog.Logger) (duplex.StatsSnapshot, error) {
	if err := cfg.Validate(); err != nil {
		return duplex.StatsSnapshot{}, fmt.Errorf("invalid configuration: %w", err)
	}

	driver, closeDriver, err := audio.OpenDriver(cfg.Backend)
	if err != nil {
		return duplex.StatsSnapshot{}, fmt.Errorf("failed to initialize audio: %w", err)
	}
	defer func() {
		if err := closeDriver(); err != nil {
			logger.Warn().Err(err).Msg("⚠️  Failed to shut down audio driver")
		}
	}()
	if mock, ok := driver.(*audio.MockDriver); ok {
		mock.SetSimulateRealTiming(true)
	}

	inDev, outDev, err := openDevices(driver, cfg)
	if err != nil {
		return duplex.StatsSnapshot{}, err
	}
	inCfg, err := cfg.InputConfig(inDev)
	if err != nil {
		return duplex.StatsSnapshot{}, err
	}
	outCfg, err := cfg.OutputConfig(outDev)
	if err != nil {
		return duplex.StatsSnapshot{}, err
	}

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	sinks, closeSinks, err := openSinks(cfg, outCfg.Channels.Count(), logger)
	defer closeSinks()
	if err != nil {
		return duplex.StatsSnapshot{}, err
	}

	var rec *recorder.Recorder
	if cfg.RecordPath != "" {
		rec, err = recorder.Create(cfg.RecordPath, inCfg.Channels.Count(), inCfg.SampleRate,
			cfg.RecordBitDepth, int(inCfg.SampleRate)*recordBufferSeconds, logger)
		if err != nil {
			return duplex.StatsSnapshot{}, err
		}

		recCtx, stopRecording := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rec.Run(recCtx, recordDrainInterval); err != nil {
				logger.Error().Err(err).Msg("❌ Recording failed")
			}
		}()
		defer func() {
			stopRecording()
			wg.Wait()
			if err := rec.Close(); err != nil {
				logger.Error().Err(err).Msg("❌ Failed to save recording")
			}
		}()
	}

	monitor := NewMonitor(cfg.Gain, cfg.ReportInterval, rec)
	stream, err := duplex.CreateDuplexStream(inDev, inCfg, outDev, outCfg, monitor,
		duplex.WithLogger(logger),
		duplex.WithChannelConfig(cfg.ChannelConfig()),
		duplex.WithJitterTolerance(cfg.JitterTolerance),
	)
	if err != nil {
		return duplex.StatsSnapshot{}, fmt.Errorf("failed to start duplex stream: %w", err)
	}

	logger.Info().
		Str("input", inDev.Name()).
		Str("output", outDev.Name()).
		Msg("🎧 Duplex stream running, press Ctrl+C to stop")

	poll := time.NewTicker(max(cfg.ReportInterval/4, 10*time.Millisecond))
	defer poll.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-poll.C:
			in, out, ok := monitor.Levels()
			if !ok {
				continue
			}
			report := meter.NewReport(cfg.StreamName, in, out, stream.Stats())
			logReport(logger, report)
			for _, sink := range sinks {
				if err := sink.PublishReport(ctx, report); err != nil {
					logger.Warn().Err(err).Msg("⚠️  Failed to publish meter report")
				}
			}
		}
	}

	logger.Info().Msg("🛑 Stopping duplex stream...")
	_, ejectErr := stream.Eject()
	stats := stream.Stats()
	if ejectErr != nil {
		return stats, fmt.Errorf("failed to stop duplex stream: %w", ejectErr)
	}
	if lost := monitor.LostPeriods(); lost > 0 {
		logger.Debug().Uint64("periods", lost).Msg("meter periods dropped")
	}
	return stats, nil
}

func logReport(logger zerolog.Logger, report meter.Report) {
	logger.Info().
		Str("input", formatLevels(report.Input)).
		Str("output", formatLevels(report.Output)).
		Uint64("underflows", report.Stats.Underflows).
		Uint64("dropped", report.Stats.FramesDropped+report.Stats.OverflowFrames).
		Msg("📊 Levels")
}

// formatLevels renders per-channel RMS levels in dBFS
func formatLevels(levels []meter.ChannelLevel) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = fmt.Sprintf("%.1f", l.RMSDB())
	}
	return "[" + strings.Join(parts, " ") + "] dBFS"
}

// printStats writes the stream summary shown after shutdown
func printStats(w io.Writer, stats duplex.StatsSnapshot) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "📈 Duplex stream summary")
	fmt.Fprintln(w, "========================")
	fmt.Fprintf(w, "🎙️  Input cycles:      %d\n", stats.InputCycles)
	fmt.Fprintf(w, "🔊 Output cycles:     %d\n", stats.OutputCycles)
	fmt.Fprintf(w, "🔗 Channels built:    %d (adopted %d)\n", stats.ChannelsBuilt, stats.ChannelsAdopted)
	fmt.Fprintf(w, "➡️  Frames pushed:     %d\n", stats.FramesPushed)
	fmt.Fprintf(w, "⬅️  Frames delivered:  %d\n", stats.FramesDelivered)
	fmt.Fprintf(w, "🗑️  Frames dropped:    %d (overflow %d)\n", stats.FramesDropped, stats.OverflowFrames)
	fmt.Fprintf(w, "⚠️  Underflows:        %d\n", stats.Underflows)
	fmt.Fprintf(w, "✂️  Jitter discarded:  %d\n", stats.JitterDiscarded)
	fmt.Fprintln(w)
}
