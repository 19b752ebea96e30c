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

package audio

import (
	"errors"
	"fmt"
)

// ErrStreamEjected is returned when a stream handle is ejected twice
var ErrStreamEjected = errors.New("stream already ejected")

// DeviceType describes the directions a device supports
type DeviceType uint8

const (
	DeviceTypeInput  DeviceType = 1 << iota
	DeviceTypeOutput
	DeviceTypeDuplex = DeviceTypeInput | DeviceTypeOutput
)

// IsInput reports whether the device can capture audio
func (t DeviceType) IsInput() bool { return t&DeviceTypeInput != 0 }

// IsOutput reports whether the device can play audio
func (t DeviceType) IsOutput() bool { return t&DeviceTypeOutput != 0 }

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeInput:
		return "input"
	case DeviceTypeOutput:
		return "output"
	case DeviceTypeDuplex:
		return "duplex"
	default:
		return "none"
	}
}

// InputCallback runs on the input hardware thread once per captured buffer
type InputCallback interface {
	OnInputData(ctx CallbackContext, input AudioInput)
}

// OutputCallback runs on the output hardware thread once per buffer the
// hardware needs. It must fill output.Buffer before returning.
type OutputCallback interface {
	OnOutputData(ctx CallbackContext, output AudioOutput)
}

// StreamHandle owns a running hardware stream. Eject stops the stream and
// hands back the callback it was created with.
type StreamHandle[T any] interface {
	Eject() (T, error)
}

// Device is an audio endpoint exposed by a driver
type Device interface {
	Name() string
	DeviceType() DeviceType
}

// InputDevice can open callback-driven capture streams
type InputDevice interface {
	Device
	DefaultInputConfig() (StreamConfig, error)
	CreateInputStream(config StreamConfig, callback InputCallback) (StreamHandle[InputCallback], error)
}

// OutputDevice can open callback-driven playback streams
type OutputDevice interface {
	Device
	DefaultOutputConfig() (StreamConfig, error)
	CreateOutputStream(config StreamConfig, callback OutputCallback) (StreamHandle[OutputCallback], error)
}

// Driver provides an abstraction layer over a platform audio API.
// This enables dependency injection and makes testing hardware-independent.
type Driver interface {
	// Name returns the display name of the driver
	Name() string

	// Version returns the version of the underlying audio API
	Version() (string, error)

	// DefaultDevice returns the default device for the direction, or nil
	// when the system has none.
	DefaultDevice(deviceType DeviceType) (Device, error)

	// Devices lists every device the driver can see
	Devices() ([]Device, error)
}

// Available driver names for OpenDriver
const (
	DriverPortAudio = "portaudio"
	DriverMock      = "mock"
)

// OpenDriver returns an initialized driver by name. The caller closes it
// through the returned function.
func OpenDriver(name string) (Driver, func() error, error) {
	switch name {
	case DriverPortAudio, "":
		d := NewPortAudioDriver()
		if err := d.Initialize(); err != nil {
			return nil, nil, err
		}
		return d, d.Terminate, nil
	case DriverMock:
		d := NewMockDriver()
		return d, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown audio driver %q", name)
	}
}

// FindDevice returns the first device whose name matches and which supports
// deviceType. An empty name selects the driver's default device.
func FindDevice(driver Driver, name string, deviceType DeviceType) (Device, error) {
	if name == "" {
		dev, err := driver.DefaultDevice(deviceType)
		if err != nil {
			return nil, fmt.Errorf("failed to get default %s device: %w", deviceType, err)
		}
		if dev == nil {
			return nil, fmt.Errorf("no default %s device", deviceType)
		}
		return dev, nil
	}

	devices, err := driver.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, dev := range devices {
		if dev.Name() == name && dev.DeviceType()&deviceType == deviceType {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no %s device named %q", deviceType, name)
}
