// SPDX-License-Identifier: MIT

package audioworker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipper-app/clipper/internal/bus"
	"github.com/stretchr/testify/require"
)

func writeFakeCard(t *testing.T, asoundDir string, card int, name, usbID string) {
	t.Helper()
	cardDir := filepath.Join(asoundDir, "card"+string(rune('0'+card)))
	require.NoError(t, os.MkdirAll(cardDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cardDir, "id"), []byte(name+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cardDir, "usbid"), []byte(usbID+"\n"), 0o644))
}

func TestWorkerEnumeratePublishesDeviceList(t *testing.T) {
	dir := t.TempDir()
	writeFakeCard(t, dir, 0, "Blue_Yeti", "0d8c:0014")

	cmdCh := make(chan bus.AudioCommand, 1)
	msgCh := make(chan bus.AudioMessage, 1)
	w := NewWorker(Config{AsoundPath: dir}, cmdCh, msgCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	select {
	case msg := <-msgCh:
		list, ok := msg.(bus.DeviceList)
		require.True(t, ok, "expected DeviceList, got %T", msg)
		require.Len(t, list.Devices, 1)
		require.Equal(t, "Blue_Yeti", list.Devices[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for DeviceList")
	}
}

func TestStartRecordingWithNoDeviceSelectedEmitsError(t *testing.T) {
	cmdCh := make(chan bus.AudioCommand, 1)
	msgCh := make(chan bus.AudioMessage, 1)
	w := NewWorker(Config{AsoundPath: t.TempDir()}, cmdCh, msgCh)

	w.startRecording(context.Background(), "/tmp/out.wav")

	msg := <-msgCh
	errMsg, ok := msg.(bus.AudioError)
	require.True(t, ok)
	require.Equal(t, bus.ErrDeviceUnavailable, errMsg.Err.Kind)
}

func TestStopRecordingSignalsAndWaits(t *testing.T) {
	origFFmpeg := newFFmpegCmd
	defer func() { newFFmpegCmd = origFFmpeg }()

	newFFmpegCmd = func(ctx context.Context, path string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "trap 'exit 0' INT; sleep 5")
	}

	cmdCh := make(chan bus.AudioCommand, 1)
	msgCh := make(chan bus.AudioMessage, 1)
	w := NewWorker(Config{AsoundPath: t.TempDir(), StopTimeout: 2 * time.Second}, cmdCh, msgCh)
	w.devices = []deviceEntry{{device: bus.AudioDevice{Name: "fake", Index: 0}, card: 0, rate: 48000, ch: 2}}
	w.selected = 0

	w.startRecording(context.Background(), filepath.Join(t.TempDir(), "out.wav"))
	require.NotNil(t, w.cmd)

	start := time.Now()
	w.stopRecording()
	require.Less(t, time.Since(start), 2*time.Second, "stopRecording should return promptly on SIGINT, not wait out the full timeout")
	require.Nil(t, w.cmd)
}

func TestStopRecordingForceKillsAfterTimeout(t *testing.T) {
	origFFmpeg := newFFmpegCmd
	defer func() { newFFmpegCmd = origFFmpeg }()

	newFFmpegCmd = func(ctx context.Context, path string, args ...string) *exec.Cmd {
		// Ignores SIGINT entirely, forcing the kill-after-timeout path.
		return exec.CommandContext(ctx, "sh", "-c", "trap '' INT; sleep 5")
	}

	cmdCh := make(chan bus.AudioCommand, 1)
	msgCh := make(chan bus.AudioMessage, 1)
	w := NewWorker(Config{AsoundPath: t.TempDir(), StopTimeout: 200 * time.Millisecond}, cmdCh, msgCh)
	w.devices = []deviceEntry{{device: bus.AudioDevice{Name: "fake", Index: 0}, card: 0, rate: 48000, ch: 2}}
	w.selected = 0

	w.startRecording(context.Background(), filepath.Join(t.TempDir(), "out.wav"))
	require.NotNil(t, w.cmd)

	done := make(chan struct{})
	go func() { w.stopRecording(); close(done) }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stopRecording never returned; force-kill path did not fire")
	}
}

func TestSelectDeviceResetsActiveStream(t *testing.T) {
	cmdCh := make(chan bus.AudioCommand, 1)
	msgCh := make(chan bus.AudioMessage, 1)
	w := NewWorker(Config{AsoundPath: t.TempDir()}, cmdCh, msgCh)
	w.devices = []deviceEntry{
		{device: bus.AudioDevice{Name: "a", Index: 0}, card: 0},
		{device: bus.AudioDevice{Name: "b", Index: 1}, card: 1},
	}

	w.handleCommand(context.Background(), bus.SelectDevice{Index: 1})
	require.Equal(t, 1, w.selected)
}

func TestCaptureCommandArgs(t *testing.T) {
	args := captureCommandArgs(2, 48000, 2, "/tmp/tmp_aud.mp4")
	require.Equal(t, []string{
		"-f", "alsa", "-i", "hw:2",
		"-ar", "48000",
		"-ac", "2",
		"-c:a", "pcm_f32le",
		"-f", "wav",
		"-y", "/tmp/tmp_aud.mp4",
	}, args)
}
