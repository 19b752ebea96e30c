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
	"fmt"
	"io"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
)

// printDevices lists the driver, its default devices and every device it
// can see
func printDevices(w io.Writer, driver audio.Driver) error {
	version, err := driver.Version()
	if err != nil {
		return fmt.Errorf("failed to query driver version: %w", err)
	}
	fmt.Fprintf(w, "Driver name   : %s\n", driver.Name())
	fmt.Fprintf(w, "Driver version: %s\n", version)

	fmt.Fprintln(w, "Default device")
	for _, deviceType := range []audio.DeviceType{audio.DeviceTypeInput, audio.DeviceTypeOutput} {
		dev, err := driver.DefaultDevice(deviceType)
		if err != nil {
			return fmt.Errorf("failed to query default %s device: %w", deviceType, err)
		}
		name := "None"
		if dev != nil {
			name = dev.Name()
		}
		fmt.Fprintf(w, "\t%s:\t%s\n", deviceType, name)
	}

	devices, err := driver.Devices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	fmt.Fprintln(w, "All devices")
	for _, dev := range devices {
		fmt.Fprintf(w, "\t%s (%s)\n", dev.Name(), dev.DeviceType())
	}
	return nil
}
