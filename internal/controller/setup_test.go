// SPDX-License-Identifier: MIT

package controller

import (
	"context"
	"testing"
	"time"

	"github.com/clipper-app/clipper/internal/bus"
	"github.com/stretchr/testify/require"
)

func testChannels() (Channels, chan bus.CameraCommand, chan bus.CameraMessage, chan bus.RecorderCommand, chan bus.RecorderMessage, chan bus.AudioMessage) {
	cameraCmd := make(chan bus.CameraCommand, 4)
	cameraMsg := make(chan bus.CameraMessage, 4)
	recorderCmd := make(chan bus.RecorderCommand, 4)
	recorderMsg := make(chan bus.RecorderMessage, 4)
	audioMsg := make(chan bus.AudioMessage, 4)
	return Channels{
		CameraCmd:   cameraCmd,
		CameraMsg:   cameraMsg,
		RecorderCmd: recorderCmd,
		RecorderMsg: recorderMsg,
		AudioMsg:    audioMsg,
	}, cameraCmd, cameraMsg, recorderCmd, recorderMsg, audioMsg
}

// TestRunSetupSingleFormatSingleDevice exercises the full negotiation with
// exactly one capture format and one audio device, which bypasses the
// interactive huh selectors entirely (selectVideoConfig/selectAudioDevice
// short-circuit on a single option) so the sequence is testable without a
// terminal.
func TestRunSetupSingleFormatSingleDevice(t *testing.T) {
	ch, cameraCmd, cameraMsg, recorderCmd, _, audioMsg := testChannels()

	video := bus.VideoConfig{Width: 1280, Height: 720, FPS: 30, PixelFormat: bus.PixelFormatMJPEG}

	cameraMsg <- bus.Capabilities{Formats: []bus.VideoConfig{video}}
	audioMsg <- bus.DeviceList{Devices: []bus.AudioDevice{{Name: "mic0", Index: 0}}}

	done := make(chan struct {
		n   negotiated
		err error
	}, 1)
	go func() {
		n, err := runSetup(context.Background(), Config{}.withDefaults(), ch)
		done <- struct {
			n   negotiated
			err error
		}{n, err}
	}()

	// Drain the negotiation commands and satisfy the final StreamStarted wait.
	var gotSetAudio bool
	var gotStartStream bool
	var gotUpdateConfig bool
	for i := 0; i < 3; i++ {
		select {
		case cmd := <-recorderCmd:
			switch cmd.(type) {
			case bus.SetAudioDevice:
				gotSetAudio = true
			case bus.UpdateConfig:
				gotUpdateConfig = true
			}
		case cmd := <-cameraCmd:
			if _, ok := cmd.(bus.StartStream); ok {
				gotStartStream = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for negotiation commands")
		}
	}
	require.True(t, gotSetAudio)
	require.True(t, gotStartStream)
	require.True(t, gotUpdateConfig)

	cameraMsg <- bus.StreamStarted{Width: 1280, Height: 720, FPS: 30}

	select {
	case result := <-done:
		require.NoError(t, result.err)
		require.Equal(t, 1280, result.n.streamWidth)
		require.Equal(t, 720, result.n.streamHeight)
		require.Equal(t, 30, result.n.streamFPS)
		require.Equal(t, "mic0", result.n.audioDevice)
	case <-time.After(2 * time.Second):
		t.Fatal("runSetup did not return")
	}
}

func TestAwaitCapabilitiesReturnsFormats(t *testing.T) {
	ch, _, cameraMsg, _, _, _ := testChannels()
	formats := []bus.VideoConfig{{Width: 640, Height: 480, FPS: 30, PixelFormat: bus.PixelFormatYUYV}}
	cameraMsg <- bus.Capabilities{Formats: formats}

	got, err := awaitCapabilities(context.Background(), Config{}.withDefaults(), ch)
	require.NoError(t, err)
	require.Equal(t, formats, got)
}

func TestAwaitCapabilitiesClosedChannel(t *testing.T) {
	ch, _, cameraMsg, _, _, _ := testChannels()
	close(cameraMsg)

	_, err := awaitCapabilities(context.Background(), Config{}.withDefaults(), ch)
	require.Error(t, err)
}

func TestSelectAudioDeviceNoDevices(t *testing.T) {
	ch, _, _, _, _, audioMsg := testChannels()
	audioMsg <- bus.DeviceList{Devices: nil}

	name, idx, err := selectAudioDevice(context.Background(), Config{}.withDefaults(), ch)
	require.NoError(t, err)
	require.Equal(t, -1, idx)
	require.Empty(t, name)
}
