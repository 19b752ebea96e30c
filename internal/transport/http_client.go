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

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/loqalabs/loqa-duplex-go/internal/meter"
)

const reportPath = "/telemetry/duplex"

// HTTPReporter posts telemetry frames to a collector, one frame per request
type HTTPReporter struct {
	endpoint   string
	streamName string
	streamID   uint32
	channels   uint8
	sequence   atomic.Uint32

	client *http.Client
	logger zerolog.Logger
}

// NewHTTPReporter creates a reporter for the collector at baseURL
func NewHTTPReporter(baseURL, streamName string, channels int, timeout time.Duration, logger zerolog.Logger) (*HTTPReporter, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid collector URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid collector URL %q: scheme must be http or https", baseURL)
	}
	u = u.JoinPath(reportPath)
	q := u.Query()
	q.Set("stream", streamName)
	u.RawQuery = q.Encode()

	transport := &http.Transport{
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     30 * time.Second,
	}

	return &HTTPReporter{
		endpoint:   u.String(),
		streamName: streamName,
		streamID:   StreamIDFor(streamName),
		channels:   uint8(min(max(channels, 0), 255)), //nolint:gosec // G115: clamped above
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger.With().Str("component", "http_reporter").Logger(),
	}, nil
}

// Endpoint returns the URL frames are posted to
func (r *HTTPReporter) Endpoint() string {
	return r.endpoint
}

// SendFrame posts one frame to the collector
func (r *HTTPReporter) SendFrame(ctx context.Context, frameType FrameType, data []byte) error {
	frame := NewFrame(
		frameType,
		r.streamID,
		r.sequence.Add(1),
		uint64(time.Now().UnixMicro()), //nolint:gosec // Safe conversion from int64 to uint64
		data,
	)
	frame.Channels = r.channels

	frameData, err := frame.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(frameData))
	if err != nil {
		return fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Stream-Name", r.streamName)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			r.logger.Warn().Err(closeErr).Msg("⚠️ Failed to close send response body")
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("send frame failed with status: %d", resp.StatusCode)
	}

	r.logger.Debug().
		Stringer("type", frame.Type).
		Uint32("sequence", frame.Sequence).
		Int("bytes", len(frameData)).
		Msg("📤 Sent frame")
	return nil
}

// PublishReport sends a meter report as a levels frame
func (r *HTTPReporter) PublishReport(ctx context.Context, report meter.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode meter report: %w", err)
	}
	return r.SendFrame(ctx, FrameTypeLevels, data)
}

// SendHeartbeat sends an empty heartbeat frame
func (r *HTTPReporter) SendHeartbeat(ctx context.Context) error {
	return r.SendFrame(ctx, FrameTypeHeartbeat, nil)
}

// Close releases idle connections
func (r *HTTPReporter) Close() {
	r.client.CloseIdleConnections()
}
