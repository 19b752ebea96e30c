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

package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/loqalabs/loqa-duplex-go/internal/meter"
	"github.com/loqalabs/loqa-duplex-go/internal/transport"
)

// WildcardMeterSubject matches the meter reports of every stream
const WildcardMeterSubject = "loqa.duplex.*.meter"

// MeterSubject returns the subject a stream's meter reports are published on
func MeterSubject(stream string) string {
	if stream == "" {
		return WildcardMeterSubject
	}
	return fmt.Sprintf("loqa.duplex.%s.meter", stream)
}

// DuplexNATSConnection interface for dependency injection
type DuplexNATSConnection interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Flush() error
	Close()
}

// ConnectionAdapter adapts *nats.Conn to DuplexNATSConnection
type ConnectionAdapter struct {
	conn *nats.Conn
}

func NewConnectionAdapter(conn *nats.Conn) *ConnectionAdapter {
	return &ConnectionAdapter{conn: conn}
}

func (a *ConnectionAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *ConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}

func (a *ConnectionAdapter) Flush() error {
	return a.conn.Flush()
}

func (a *ConnectionAdapter) Close() {
	a.conn.Close()
}

// Connect dials the NATS server, retrying up to attempts times
func Connect(url string, attempts int, backoff time.Duration, logger zerolog.Logger) (*ConnectionAdapter, error) {
	attempts = max(attempts, 1)

	var (
		nc  *nats.Conn
		err error
	)
	for i := 0; i < attempts; i++ {
		nc, err = nats.Connect(url, nats.Name("loqa-duplex"))
		if err == nil {
			break
		}
		logger.Warn().Err(err).Msgf("⚠️  Failed to connect to NATS (attempt %d/%d)", i+1, attempts)
		if i < attempts-1 {
			time.Sleep(backoff)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, err)
	}

	logger.Info().Str("url", url).Msg("✅ Connected to NATS")
	return NewConnectionAdapter(nc), nil
}

// MeterPublisher publishes a stream's meter reports as levels frames
type MeterPublisher struct {
	conn     DuplexNATSConnection
	stream   string
	subject  string
	streamID uint32
	channels uint8
	sequence atomic.Uint32
	logger   zerolog.Logger
}

// NewMeterPublisher creates a publisher for stream
func NewMeterPublisher(conn DuplexNATSConnection, stream string, channels int, logger zerolog.Logger) *MeterPublisher {
	return &MeterPublisher{
		conn:     conn,
		stream:   stream,
		subject:  MeterSubject(stream),
		streamID: transport.StreamIDFor(stream),
		channels: uint8(min(max(channels, 0), 255)), //nolint:gosec // G115: clamped above
		logger:   logger.With().Str("component", "meter_publisher").Logger(),
	}
}

// Subject returns the subject reports are published on
func (p *MeterPublisher) Subject() string {
	return p.subject
}

// Publish sends one report
func (p *MeterPublisher) Publish(report meter.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode meter report: %w", err)
	}

	frame := transport.NewFrame(
		transport.FrameTypeLevels,
		p.streamID,
		p.sequence.Add(1),
		uint64(report.Timestamp.UnixMicro()), //nolint:gosec // Safe conversion from int64 to uint64
		data,
	)
	frame.Channels = p.channels

	payload, err := frame.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize meter frame: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}
	return nil
}

// PublishReport is Publish for callers that carry a context
func (p *MeterPublisher) PublishReport(_ context.Context, report meter.Report) error {
	return p.Publish(report)
}

// Run publishes the report returned by source every interval until ctx is
// done. Ticks where source has nothing new are skipped.
func (p *MeterPublisher) Run(ctx context.Context, source func() (meter.Report, bool), interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid publish interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := p.conn.Flush(); err != nil {
				p.logger.Warn().Err(err).Msg("⚠️  Failed to flush meter reports")
			}
			return nil
		case <-ticker.C:
			report, ok := source()
			if !ok {
				continue
			}
			if err := p.Publish(report); err != nil {
				p.logger.Error().Err(err).Msg("❌ Failed to publish meter report")
			}
		}
	}
}

// ErrNotLevelsFrame is reported for frames that do not carry a meter report
var ErrNotLevelsFrame = errors.New("not a levels frame")

// DecodeReport extracts the meter report carried by a serialized frame
func DecodeReport(data []byte) (meter.Report, *transport.Frame, error) {
	frame, err := transport.DeserializeFrame(data)
	if err != nil {
		return meter.Report{}, nil, err
	}
	if frame.Type != transport.FrameTypeLevels {
		return meter.Report{}, frame, fmt.Errorf("%w: got %s", ErrNotLevelsFrame, frame.Type)
	}

	var report meter.Report
	if err := json.Unmarshal(frame.Data, &report); err != nil {
		return meter.Report{}, frame, fmt.Errorf("failed to unmarshal meter report: %w", err)
	}
	return report, frame, nil
}

// MeterSubscriber receives meter reports published by MeterPublisher
type MeterSubscriber struct {
	conn     DuplexNATSConnection
	logger   zerolog.Logger
	received atomic.Uint64
	invalid  atomic.Uint64
}

// NewMeterSubscriber creates a subscriber on conn
func NewMeterSubscriber(conn DuplexNATSConnection, logger zerolog.Logger) *MeterSubscriber {
	return &MeterSubscriber{
		conn:   conn,
		logger: logger.With().Str("component", "meter_subscriber").Logger(),
	}
}

// Subscribe calls handler with every report published for stream, or for
// all streams when stream is empty. The handler runs on the NATS delivery
// goroutine.
func (s *MeterSubscriber) Subscribe(stream string, handler func(meter.Report)) error {
	subject := MeterSubject(stream)
	_, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		report, _, err := DecodeReport(msg.Data)
		if err != nil {
			s.invalid.Add(1)
			s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("❌ Dropping invalid meter message")
			return
		}
		s.received.Add(1)
		handler(report)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	s.logger.Info().Str("subject", subject).Msg("🎧 Subscribed to meter reports")
	return nil
}

// Received returns the number of reports delivered to handlers
func (s *MeterSubscriber) Received() uint64 {
	return s.received.Load()
}

// Invalid returns the number of messages that could not be decoded
func (s *MeterSubscriber) Invalid() uint64 {
	return s.invalid.Load()
}

// Close closes the NATS connection
func (s *MeterSubscriber) Close() {
	if s.conn != nil {
		s.conn.Close()
		s.logger.Info().Msg("🔌 NATS connection closed")
	}
}
