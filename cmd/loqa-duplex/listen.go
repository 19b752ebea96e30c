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

	"github.com/rs/zerolog"

	"github.com/loqalabs/loqa-duplex-go/internal/meter"
	duplexnats "github.com/loqalabs/loqa-duplex-go/internal/nats"
)

const listenQueue = 16

// listen prints meter reports for stream, or every stream when it is empty,
// until ctx is done or count reports have been printed. A count of zero
// never stops on its own.
func listen(ctx context.Context, conn duplexnats.DuplexNATSConnection, stream string, count int, w io.Writer, logger zerolog.Logger) (int, error) {
	sub := duplexnats.NewMeterSubscriber(conn, logger)
	defer sub.Close()

	reports := make(chan meter.Report, listenQueue)
	err := sub.Subscribe(stream, func(report meter.Report) {
		select {
		case reports <- report:
		default:
			logger.Warn().Str("stream", report.StreamID).Msg("⚠️  Listener falling behind, dropping report")
		}
	})
	if err != nil {
		return 0, err
	}

	printed := 0
	for count <= 0 || printed < count {
		select {
		case <-ctx.Done():
			return printed, nil
		case report := <-reports:
			fmt.Fprintln(w, formatReport(report))
			printed++
		}
	}
	return printed, nil
}

// formatReport renders a report as one line
func formatReport(report meter.Report) string {
	return fmt.Sprintf("%s %s in=%s out=%s underflows=%d dropped=%d",
		report.Timestamp.Format("15:04:05.000"),
		report.StreamID,
		formatLevels(report.Input),
		formatLevels(report.Output),
		report.Stats.Underflows,
		report.Stats.FramesDropped+report.Stats.OverflowFrames,
	)
}
