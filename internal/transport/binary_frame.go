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
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
)

// Binary frame protocol for duplex telemetry.
// Frames are self-delimiting so they can be sent over a message bus or
// concatenated on a byte stream.

// FrameType represents the type of frame being transmitted
type FrameType uint8

const (
	// Telemetry frame types
	FrameTypeLevels FrameType = 0x01
	FrameTypeStats  FrameType = 0x02

	// Control frame types
	FrameTypeHeartbeat FrameType = 0x10
	FrameTypeError     FrameType = 0x12
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeLevels:
		return "levels"
	case FrameTypeStats:
		return "stats"
	case FrameTypeHeartbeat:
		return "heartbeat"
	case FrameTypeError:
		return "error"
	default:
		return fmt.Sprintf("unknown(0x%02X)", uint8(t))
	}
}

// Frame represents a binary frame in the protocol
type Frame struct {
	Type      FrameType
	Channels  uint8
	StreamID  uint32
	Sequence  uint32
	Timestamp uint64
	Data      []byte
}

// FrameHeader represents the fixed-size frame header (24 bytes)
type FrameHeader struct {
	Magic     uint32    // 0x44504C58 ("DPLX")
	Type      FrameType // Frame type (1 byte)
	Channels  uint8     // Input channel count of the reporting stream (1 byte)
	Length    uint16    // Data payload length (2 bytes)
	StreamID  uint32    // Stream identifier (4 bytes)
	Sequence  uint32    // Sequence number (4 bytes)
	Timestamp uint64    // Unix timestamp microseconds (8 bytes)
}

const (
	// Magic number for frame validation
	FrameMagic = 0x44504C58 // "DPLX" in big-endian

	MaxFrameSize = 8192
	HeaderSize   = 24
	MaxDataSize  = MaxFrameSize - HeaderSize
)

// StreamIDFor derives a stable numeric stream identifier from a name
func StreamIDFor(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}

// Serialize converts a frame to binary format
func (f *Frame) Serialize() ([]byte, error) {
	if len(f.Data) > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", len(f.Data), MaxDataSize)
	}

	header := FrameHeader{
		Magic:     FrameMagic,
		Type:      f.Type,
		Channels:  f.Channels,
		Length:    uint16(len(f.Data)), //nolint:gosec // G115: bounded by MaxDataSize above
		StreamID:  f.StreamID,
		Sequence:  f.Sequence,
		Timestamp: f.Timestamp,
	}

	buf := bytes.NewBuffer(make([]byte, 0, f.Size()))
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write frame header: %w", err)
	}
	if len(f.Data) > 0 {
		if _, err := buf.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write frame data: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DeserializeFrame converts binary data holding exactly one frame
func DeserializeFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too small: %d bytes (min %d)", len(data), HeaderSize)
	}

	header, err := parseFrameHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}

	expectedSize := HeaderSize + int(header.Length)
	if len(data) != expectedSize {
		return nil, fmt.Errorf("frame size mismatch: got %d bytes, expected %d", len(data), expectedSize)
	}

	frame := header.frame()
	if header.Length > 0 {
		frame.Data = make([]byte, header.Length)
		copy(frame.Data, data[HeaderSize:])
	}
	return frame, nil
}

// ReadFrame reads the next frame from r. It returns io.EOF when r ends
// cleanly before a header and io.ErrUnexpectedEOF when a frame is cut short.
func ReadFrame(r io.Reader) (*Frame, error) {
	headerData := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerData); err != nil {
		return nil, err
	}

	header, err := parseFrameHeader(headerData)
	if err != nil {
		return nil, err
	}

	frame := header.frame()
	if header.Length > 0 {
		frame.Data = make([]byte, header.Length)
		if _, err := io.ReadFull(r, frame.Data); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("failed to read frame data: %w", err)
		}
	}
	return frame, nil
}

// parseFrameHeader parses just the header portion of frame data
func parseFrameHeader(headerData []byte) (*FrameHeader, error) {
	if len(headerData) != HeaderSize {
		return nil, fmt.Errorf("invalid header size: %d bytes (expected %d)", len(headerData), HeaderSize)
	}

	var header FrameHeader
	if err := binary.Read(bytes.NewReader(headerData), binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	if header.Magic != FrameMagic {
		return nil, fmt.Errorf("invalid frame magic: 0x%08X (expected 0x%08X)", header.Magic, FrameMagic)
	}
	if header.Length > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", header.Length, MaxDataSize)
	}

	return &header, nil
}

func (h *FrameHeader) frame() *Frame {
	return &Frame{
		Type:      h.Type,
		Channels:  h.Channels,
		StreamID:  h.StreamID,
		Sequence:  h.Sequence,
		Timestamp: h.Timestamp,
	}
}

// NewFrame creates a new frame with the specified parameters
func NewFrame(frameType FrameType, streamID, sequence uint32, timestamp uint64, data []byte) *Frame {
	return &Frame{
		Type:      frameType,
		StreamID:  streamID,
		Sequence:  sequence,
		Timestamp: timestamp,
		Data:      data,
	}
}

// IsValid checks if the frame is structurally valid
func (f *Frame) IsValid() bool {
	return len(f.Data) <= MaxDataSize
}

// Size returns the total serialized size of the frame
func (f *Frame) Size() int {
	return HeaderSize + len(f.Data)
}
