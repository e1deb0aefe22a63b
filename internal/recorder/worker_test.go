// SPDX-License-Identifier: MIT

package recorder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipper-app/clipper/internal/bus"
	"github.com/stretchr/testify/require"
)

func containsDashStdin(args []string) bool {
	for _, a := range args {
		if a == "-" {
			return true
		}
	}
	return false
}

// TestWorkerFullSegmentLifecycle drives StartSegment/WriteFrame/EndSegment
// through the real Worker state machine, substituting `sh`/`cat`/`touch` for
// ffmpeg/ffprobe so the test needs no media tooling installed.
func TestWorkerFullSegmentLifecycle(t *testing.T) {
	dir := t.TempDir()

	origFFmpeg, origFFprobe := newFFmpegCmd, newFFprobeCmd
	defer func() { newFFmpegCmd, newFFprobeCmd = origFFmpeg, origFFprobe }()

	newFFmpegCmd = func(ctx context.Context, path string, args ...string) *exec.Cmd {
		out := args[len(args)-1]
		if containsDashStdin(args) {
			return exec.CommandContext(ctx, "sh", "-c", fmt.Sprintf("cat > %q", out))
		}
		return exec.CommandContext(ctx, "sh", "-c", fmt.Sprintf("touch %q", out))
	}
	newFFprobeCmd = func(ctx context.Context, path string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "printf 2.000000")
	}

	cmdCh := make(chan bus.RecorderCommand, 8)
	msgCh := make(chan bus.RecorderMessage, 8)
	audioCh := make(chan bus.AudioCommand, 8)

	w, err := NewWorker(Config{OutputDir: dir, LockPath: filepath.Join(dir, "lock")}, cmdCh, msgCh, audioCh)
	require.NoError(t, err)

	go func() {
		for cmd := range audioCh {
			switch c := cmd.(type) {
			case bus.StartRecording:
				_ = os.WriteFile(c.Path, []byte("RIFF-fake-wav"), 0o644)
			case bus.StopRecording:
				c.Ack <- struct{}{}
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	cmdCh <- bus.UpdateConfig{
		Width: 4, Height: 2, FPS: 30,
		Format:  bus.PixelFormatGray,
		Profile: bus.DefaultEncodingProfile(),
	}
	cmdCh <- bus.StartSegment{}
	time.Sleep(30 * time.Millisecond)

	buf := bus.NewRefCountedBuffer(bytes.Repeat([]byte{1}, 4*2))
	cmdCh <- bus.WriteFrame{Buf: buf, CaptureTime: time.Now()}
	time.Sleep(10 * time.Millisecond)
	cmdCh <- bus.EndSegment{}

	select {
	case msg := <-msgCh:
		saved, ok := msg.(bus.SegmentSaved)
		require.True(t, ok, "expected SegmentSaved, got %T", msg)
		require.FileExists(t, saved.Clip.VideoPath)
		require.Equal(t, 2.0, saved.Clip.DurationSeconds)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SegmentSaved")
	}
}

func TestWorkerWriteFrameDiscardedWhenIdle(t *testing.T) {
	dir := t.TempDir()
	cmdCh := make(chan bus.RecorderCommand, 1)
	msgCh := make(chan bus.RecorderMessage, 1)
	audioCh := make(chan bus.AudioCommand, 1)

	w, err := NewWorker(Config{OutputDir: dir, LockPath: filepath.Join(dir, "lock")}, cmdCh, msgCh, audioCh)
	require.NoError(t, err)

	w.handleCommand(context.Background(), bus.WriteFrame{Buf: bus.NewRefCountedBuffer([]byte("x"))})
	require.Equal(t, StateIdle, w.state)
}

func TestFinalizeVideoEmptyListIsNoOp(t *testing.T) {
	dir := t.TempDir()
	cmdCh := make(chan bus.RecorderCommand, 1)
	msgCh := make(chan bus.RecorderMessage, 1)
	audioCh := make(chan bus.AudioCommand, 1)

	w, err := NewWorker(Config{OutputDir: dir, LockPath: filepath.Join(dir, "lock")}, cmdCh, msgCh, audioCh)
	require.NoError(t, err)

	w.finalizeVideo(context.Background(), nil, filepath.Join(dir, "out.mp4"))
	require.Len(t, msgCh, 0)
}

func TestUndoOnEmptyListIsNoOp(t *testing.T) {
	dir := t.TempDir()
	cmdCh := make(chan bus.RecorderCommand, 1)
	msgCh := make(chan bus.RecorderMessage, 1)
	audioCh := make(chan bus.AudioCommand, 1)

	w, err := NewWorker(Config{OutputDir: dir, LockPath: filepath.Join(dir, "lock")}, cmdCh, msgCh, audioCh)
	require.NoError(t, err)

	w.undo()
	require.Len(t, msgCh, 0)
}

func TestUndoDeletesFilesAndEmitsSegmentDeleted(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "clip_001.mp4")
	thumb := filepath.Join(dir, "thumb_001.jpg")
	preview := filepath.Join(dir, "preview_001.gif")
	for _, p := range []string{video, thumb, preview} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	cmdCh := make(chan bus.RecorderCommand, 1)
	msgCh := make(chan bus.RecorderMessage, 1)
	audioCh := make(chan bus.AudioCommand, 1)
	w, err := NewWorker(Config{OutputDir: dir, LockPath: filepath.Join(dir, "lock")}, cmdCh, msgCh, audioCh)
	require.NoError(t, err)

	w.segments.Append(bus.ClipInfo{VideoPath: video, ThumbPath: thumb, PreviewPath: preview})
	w.undo()

	require.NoFileExists(t, video)
	require.Equal(t, 0, w.segments.Len())
	msg := <-msgCh
	_, ok := msg.(bus.SegmentDeleted)
	require.True(t, ok)
}
