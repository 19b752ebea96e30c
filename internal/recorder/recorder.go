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

// Package recorder captures audio to WAV files. Samples are queued from the
// audio thread without blocking and encoded on a separate goroutine.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
	"github.com/loqalabs/loqa-duplex-go/internal/ringbuf"
)

// ErrClosed is returned when draining a recorder that has been closed
var ErrClosed = errors.New("recorder closed")

const (
	wavFormatPCM = 1
	drainFrames  = 1024
	chunkFrames  = 32
)

// Recorder writes interleaved float samples to a PCM WAV file
type Recorder struct {
	path     string
	channels int
	bitDepth int
	scale    float64

	ring    *ringbuf.Ring
	rtFrame [chunkFrames * audio.MaxChannels]float32
	dropped atomic.Uint64
	written atomic.Uint64

	mu      sync.Mutex
	file    *os.File
	encoder *wav.Encoder
	scratch []float32
	ints    *goaudio.IntBuffer
	closed  bool

	logger zerolog.Logger
}

// Create opens path for writing and returns a recorder buffering up to
// capacityFrames frames between drains
func Create(path string, channels int, sampleRate uint32, bitDepth int, capacityFrames int, logger zerolog.Logger) (*Recorder, error) {
	if channels <= 0 || channels > audio.MaxChannels {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if sampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	if capacityFrames <= 0 {
		return nil, fmt.Errorf("invalid buffer capacity %d", capacityFrames)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	r := &Recorder{
		path:     path,
		channels: channels,
		bitDepth: bitDepth,
		scale:    math.Exp2(float64(bitDepth-1)) - 1,
		ring:     ringbuf.New(capacityFrames * channels),
		file:     file,
		encoder:  wav.NewEncoder(file, int(sampleRate), bitDepth, channels, wavFormatPCM),
		scratch:  make([]float32, drainFrames*channels),
		ints: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: channels, SampleRate: int(sampleRate)},
			Data:           make([]int, drainFrames*channels),
			SourceBitDepth: bitDepth,
		},
		logger: logger.With().Str("component", "recorder").Str("path", path).Logger(),
	}
	return r, nil
}

// Path returns the file being written
func (r *Recorder) Path() string { return r.path }

// Channels returns the number of channels per frame
func (r *Recorder) Channels() int { return r.channels }

// WriteInterleaved queues whole frames from samples and returns how many
// were queued. It never blocks; frames that do not fit are dropped and
// counted. Only one goroutine may write.
func (r *Recorder) WriteInterleaved(samples []float32) int {
	frames := len(samples) / r.channels
	fit := min(frames, r.ring.Free()/r.channels)
	if fit < frames {
		r.dropped.Add(uint64(frames - fit))
	}
	if fit == 0 {
		return 0
	}
	return r.ring.Write(samples[:fit*r.channels]) / r.channels
}

// WriteBuffer queues a channel-major buffer. Missing channels are written
// as silence and extra channels are ignored. Same rules as WriteInterleaved.
func (r *Recorder) WriteBuffer(buf audio.Buffer) int {
	queued := 0
	frame := r.rtFrame[:r.channels]
	for chunk := range buf.Chunks(chunkFrames) {
		if chunk.Channels() == r.channels {
			scratch := r.rtFrame[:chunk.Len()]
			chunk.CopyIntoInterleaved(scratch)
			queued += r.WriteInterleaved(scratch)
			continue
		}
		for i := 0; i < chunk.Frames(); i++ {
			clear(frame)
			chunk.Frame(i, frame)
			queued += r.WriteInterleaved(frame)
		}
	}
	return queued
}

// Dropped returns the number of frames lost because the queue was full
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Frames returns the number of frames encoded so far
func (r *Recorder) Frames() uint64 { return r.written.Load() }

// Duration returns the length of the encoded audio
func (r *Recorder) Duration() time.Duration {
	rate := r.ints.Format.SampleRate
	return time.Duration(float64(r.Frames()) / float64(rate) * float64(time.Second))
}

// Drain encodes everything queued so far and returns the number of frames
// written
func (r *Recorder) Drain() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}
	return r.drainLocked()
}

func (r *Recorder) drainLocked() (int, error) {
	total := 0
	for {
		n := r.ring.Read(r.scratch)
		if n == 0 {
			return total, nil
		}
		data := r.ints.Data[:n]
		for i, s := range r.scratch[:n] {
			v := math.Max(-1, math.Min(1, float64(s)))
			data[i] = int(math.Round(v * r.scale))
		}
		buf := &goaudio.IntBuffer{Format: r.ints.Format, Data: data, SourceBitDepth: r.bitDepth}
		if err := r.encoder.Write(buf); err != nil {
			return total, fmt.Errorf("failed to encode %d samples: %w", n, err)
		}
		frames := n / r.channels
		r.written.Add(uint64(frames))
		total += frames
	}
}

// Run drains the queue every interval until ctx is done, then drains once
// more
func (r *Recorder) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid drain interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_, err := r.Drain()
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		case <-ticker.C:
			if _, err := r.Drain(); err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// Close encodes any queued audio, finalizes the WAV header and closes the
// file. Closing twice is a no-op.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	_, drainErr := r.drainLocked()
	encErr := r.encoder.Close()
	fileErr := r.file.Close()
	if err := errors.Join(drainErr, encErr, fileErr); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", r.path, err)
	}

	r.logger.Info().
		Uint64("frames", r.Frames()).
		Uint64("dropped", r.Dropped()).
		Dur("duration", r.Duration()).
		Msg("💾 Recording saved")
	return nil
}
