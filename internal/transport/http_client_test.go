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
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-duplex-go/internal/meter"
)

// collector records every frame posted to it
type collector struct {
	mu     sync.Mutex
	frames []*Frame
	status int
}

func (c *collector) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, reportPath, r.URL.Path)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		assert.Equal(t, "studio", r.URL.Query().Get("stream"))

		body, err := io.ReadAll(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		frame, err := DeserializeFrame(body)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		c.mu.Lock()
		c.frames = append(c.frames, frame)
		status := c.status
		c.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (c *collector) received() []*Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Frame(nil), c.frames...)
}

func newTestReporter(t *testing.T, c *collector) *HTTPReporter {
	t.Helper()
	server := httptest.NewServer(c.handler(t))
	t.Cleanup(server.Close)

	reporter, err := NewHTTPReporter(server.URL, "studio", 2, 5*time.Second, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(reporter.Close)
	return reporter
}

func TestNewHTTPReporter_InvalidURL(t *testing.T) {
	for _, raw := range []string{"://bad", "ftp://collector", "collector:8080"} {
		_, err := NewHTTPReporter(raw, "studio", 1, time.Second, zerolog.Nop())
		assert.Error(t, err, raw)
	}
}

func TestHTTPReporter_SendFrame(t *testing.T) {
	c := &collector{}
	reporter := newTestReporter(t, c)

	require.NoError(t, reporter.SendHeartbeat(context.Background()))
	require.NoError(t, reporter.SendFrame(context.Background(), FrameTypeStats, []byte("{}")))

	frames := c.received()
	require.Len(t, frames, 2)
	assert.Equal(t, FrameTypeHeartbeat, frames[0].Type)
	assert.Empty(t, frames[0].Data)
	assert.Equal(t, FrameTypeStats, frames[1].Type)
	assert.Equal(t, uint32(1), frames[0].Sequence)
	assert.Equal(t, uint32(2), frames[1].Sequence)
	assert.Equal(t, StreamIDFor("studio"), frames[1].StreamID)
	assert.Equal(t, uint8(2), frames[1].Channels)
	assert.NotZero(t, frames[1].Timestamp)
}

func TestHTTPReporter_PublishReport(t *testing.T) {
	c := &collector{}
	reporter := newTestReporter(t, c)

	report := meter.Report{StreamID: "studio", Input: []meter.ChannelLevel{{RMS: 0.5, Peak: 0.9}}}
	require.NoError(t, reporter.PublishReport(context.Background(), report))

	frames := c.received()
	require.Len(t, frames, 1)
	assert.Equal(t, FrameTypeLevels, frames[0].Type)

	var decoded meter.Report
	require.NoError(t, json.Unmarshal(frames[0].Data, &decoded))
	assert.Equal(t, report.Input, decoded.Input)
}

func TestHTTPReporter_ServerError(t *testing.T) {
	c := &collector{status: http.StatusInternalServerError}
	reporter := newTestReporter(t, c)

	err := reporter.SendHeartbeat(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 500")
}

func TestHTTPReporter_CancelledContext(t *testing.T) {
	reporter := newTestReporter(t, &collector{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, reporter.SendHeartbeat(ctx))
}

func TestHTTPReporter_ConcurrentSendFrame(t *testing.T) {
	c := &collector{}
	reporter := newTestReporter(t, c)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, reporter.SendHeartbeat(context.Background()))
		}()
	}
	wg.Wait()

	seen := make(map[uint32]bool)
	for _, f := range c.received() {
		assert.False(t, seen[f.Sequence], "duplicate sequence %d", f.Sequence)
		seen[f.Sequence] = true
	}
	assert.Len(t, seen, 10)
}
