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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInput struct {
	mu       sync.Mutex
	contexts []CallbackContext
	frames   []int
	first    []float32
}

func (r *recordingInput) OnInputData(ctx CallbackContext, input AudioInput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts = append(r.contexts, ctx)
	r.frames = append(r.frames, input.Buffer.Frames())
	r.first = append(r.first, input.Buffer.Channel(0)[0])
}

func (r *recordingInput) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

type constantOutput struct{ value float32 }

func (c constantOutput) OnOutputData(_ CallbackContext, output AudioOutput) {
	output.Buffer.Fill(c.value)
}

func TestMockDriver(t *testing.T) {
	driver := NewMockDriver()
	assert.Equal(t, "Mock", driver.Name())

	version, err := driver.Version()
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	devices, err := driver.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 2)

	input, err := driver.DefaultDevice(DeviceTypeInput)
	require.NoError(t, err)
	require.NotNil(t, input)
	assert.Equal(t, "Mock Input", input.Name())

	output, err := driver.DefaultDevice(DeviceTypeOutput)
	require.NoError(t, err)
	assert.Equal(t, "Mock Output", output.Name())

	duplex, err := driver.DefaultDevice(DeviceTypeDuplex)
	require.NoError(t, err)
	assert.Nil(t, duplex, "no mock device supports both directions")

	t.Run("find_device", func(t *testing.T) {
		dev, err := FindDevice(driver, "Mock Output", DeviceTypeOutput)
		require.NoError(t, err)
		assert.Equal(t, "Mock Output", dev.Name())

		_, err = FindDevice(driver, "Mock Output", DeviceTypeInput)
		assert.Error(t, err, "direction must match")

		dev, err = FindDevice(driver, "", DeviceTypeInput)
		require.NoError(t, err)
		assert.Equal(t, "Mock Input", dev.Name())

		_, err = FindDevice(driver, "", DeviceTypeDuplex)
		assert.Error(t, err)
	})
}

func TestOpenDriver(t *testing.T) {
	driver, closeDriver, err := OpenDriver(DriverMock)
	require.NoError(t, err)
	assert.Equal(t, "Mock", driver.Name())
	assert.NoError(t, closeDriver())

	_, _, err = OpenDriver("bogus")
	assert.Error(t, err)
}

func TestMockInputStream(t *testing.T) {
	device := NewMockDevice("in", DeviceTypeInput, StreamConfig{SampleRate: 48000, Channels: ChannelSetOf(1)})
	device.SetInputGenerator(func(buf Buffer, ts Timestamp) {
		ch := buf.Channel(0)
		for i := range ch {
			ch[i] = float32(ts.Counter) + float32(i)
		}
	})

	config, err := device.DefaultInputConfig()
	require.NoError(t, err)

	cb := &recordingInput{}
	handle, err := device.CreateInputStream(config, cb)
	require.NoError(t, err)
	stream := handle.(*MockInputHandle).Stream

	assert.True(t, stream.Pump(100))
	assert.True(t, stream.Pump(50))

	require.Equal(t, 2, cb.calls())
	assert.Equal(t, []int{100, 50}, cb.frames)
	assert.Equal(t, []float32{0, 100}, cb.first, "timestamps advance by frames")
	assert.Equal(t, uint64(100), cb.contexts[1].Timestamp.Counter)
	assert.Equal(t, uint32(48000), cb.contexts[1].Config.SampleRate)

	ejected, err := handle.Eject()
	require.NoError(t, err)
	assert.Same(t, cb, ejected)
	assert.False(t, stream.IsActive())
	assert.False(t, stream.Pump(10), "ejected stream does not run callbacks")

	_, err = handle.Eject()
	assert.ErrorIs(t, err, ErrStreamEjected)
	assert.Equal(t, 2, stream.EjectCalls())
}

func TestMockOutputStream(t *testing.T) {
	device := NewMockDevice("out", DeviceTypeOutput, StreamConfig{SampleRate: 44100, Channels: ChannelSetOf(2)})
	config, err := device.DefaultOutputConfig()
	require.NoError(t, err)

	handle, err := device.CreateOutputStream(config, constantOutput{value: 0.25})
	require.NoError(t, err)
	stream := handle.(*MockOutputHandle).Stream
	stream.SetRecordPlayback(true)

	stream.Pump(3)
	data := stream.PlaybackData()
	require.Len(t, data, 1)
	assert.Equal(t, []float32{0.25, 0.25, 0.25, 0.25, 0.25, 0.25}, data[0])

	stream.SetSampleRate(48000)
	assert.Equal(t, uint32(48000), stream.Config().SampleRate)

	_, err = handle.Eject()
	require.NoError(t, err)
}

func TestMockDeviceErrors(t *testing.T) {
	t.Run("create_stream_error", func(t *testing.T) {
		device := NewMockDevice("in", DeviceTypeInput, StreamConfig{SampleRate: 48000, Channels: 1})
		expected := errors.New("device busy")
		device.SetCreateStreamError(expected)

		_, err := device.CreateInputStream(StreamConfig{SampleRate: 48000, Channels: 1}, &recordingInput{})
		assert.ErrorIs(t, err, expected)
		assert.Empty(t, device.Streams())
	})

	t.Run("wrong_direction", func(t *testing.T) {
		device := NewMockDevice("in", DeviceTypeInput, StreamConfig{SampleRate: 48000, Channels: 1})
		_, err := device.CreateOutputStream(StreamConfig{SampleRate: 48000, Channels: 1}, constantOutput{})
		assert.Error(t, err)
		_, err = device.DefaultOutputConfig()
		assert.Error(t, err)
	})

	t.Run("invalid_config", func(t *testing.T) {
		device := NewMockDevice("in", DeviceTypeInput, StreamConfig{})
		_, err := device.CreateInputStream(StreamConfig{SampleRate: 48000}, &recordingInput{})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("stop_error_keeps_stream_running", func(t *testing.T) {
		device := NewMockDevice("in", DeviceTypeInput, StreamConfig{SampleRate: 48000, Channels: 1})
		handle, err := device.CreateInputStream(StreamConfig{SampleRate: 48000, Channels: 1}, &recordingInput{})
		require.NoError(t, err)
		stream := device.Streams()[0]

		expected := errors.New("hardware stuck")
		stream.SetStopError(expected)
		_, err = handle.Eject()
		assert.ErrorIs(t, err, expected)
		assert.True(t, stream.IsActive())
		assert.True(t, stream.Pump(1))

		stream.SetStopError(nil)
		_, err = handle.Eject()
		assert.NoError(t, err)
	})
}

func TestMockRealTiming(t *testing.T) {
	device := NewMockDevice("in", DeviceTypeInput, StreamConfig{SampleRate: 48000, Channels: 1})
	device.SetSimulateRealTiming(true)

	cb := &recordingInput{}
	handle, err := device.CreateInputStream(StreamConfig{SampleRate: 48000, Channels: 1, BufferSize: 48}, cb)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return cb.calls() >= 3 }, 2*time.Second, time.Millisecond)

	_, err = handle.Eject()
	require.NoError(t, err)
	calls := cb.calls()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, calls, cb.calls(), "no callbacks after eject")
}
