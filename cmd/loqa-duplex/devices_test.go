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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-duplex-go/internal/audio"
)

func TestPrintDevices(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printDevices(&out, audio.NewMockDriver()))

	text := out.String()
	assert.Contains(t, text, "Driver name   : Mock")
	assert.Contains(t, text, "Driver version: mock 1.0")
	assert.Contains(t, text, "\tinput:\tMock Input")
	assert.Contains(t, text, "\toutput:\tMock Output")
	assert.Contains(t, text, "\tMock Input (input)")
	assert.Contains(t, text, "\tMock Output (output)")
}

func TestPrintDevicesWithoutDefaults(t *testing.T) {
	driver := &audio.MockDriver{}
	driver.AddDevice(audio.NewMockDevice("Capture Only", audio.DeviceTypeInput, audio.StreamConfig{
		SampleRate: 16000,
		Channels:   audio.ChannelSetOf(1),
	}))

	var out bytes.Buffer
	require.NoError(t, printDevices(&out, driver))
	assert.Contains(t, out.String(), "\toutput:\tNone")
}

func TestDevicesCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"devices", "--backend", "mock"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "All devices")

	root = newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"devices", "--backend", "alsa"})
	assert.Error(t, root.Execute())
}
