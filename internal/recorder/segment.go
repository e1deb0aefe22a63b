// SPDX-License-Identifier: MIT

package recorder

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/clipper-app/clipper/internal/bus"
)

// lockAcquireTimeout bounds how long StartSegment waits for the
// single-active-encoder lock before concluding another process holds it.
const lockAcquireTimeout = 2 * time.Second

func (w *Worker) startSegment(ctx context.Context) {
	if err := w.fileLock.Acquire(lockAcquireTimeout); err != nil {
		w.emitError(bus.ErrEncoderSpawnFailed, "another encoder is already active: %v", err)
		return
	}

	args := captureCommandArgs(w.width, w.height, w.fps, w.format, w.profile, w.tmpVideoPath())
	cmd := newFFmpegCmd(ctx, w.cfg.FFmpegPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = w.fileLock.Release()
		w.emitError(bus.ErrEncoderSpawnFailed, "stdin pipe: %v", err)
		return
	}

	if err := cmd.Start(); err != nil {
		_ = w.fileLock.Release()
		w.emitError(bus.ErrEncoderSpawnFailed, "spawn ffmpeg: %v", err)
		return
	}

	w.counter.Next()
	w.tracker.TrackProcess("encoder", cmd.Process)

	w.rec = &recordingSession{cmd: cmd, stdin: stdin, firstFrame: true}
	w.state = StateRecording

	w.sendAudio(bus.StartRecording{Path: w.tmpAudioPath()})
}

func (w *Worker) onWriteFrame(c bus.WriteFrame) {
	if w.rec.firstFrame {
		w.rec.clipStart = c.CaptureTime
		w.rec.firstFrame = false
	}
	if c.CaptureTime.Before(w.rec.clipStart) {
		return // pre-segment frame, discarded
	}

	if _, err := w.rec.stdin.Write(c.Buf.Bytes()); err != nil {
		w.cfg.Logger.Warn("frame write failed", "err", err)
		return
	}
	w.rec.framesWritten++
	w.rec.lastFrame = c.Buf
}

// endSegment implements the EndSegment procedure: pad to the elapsed wall
// clock, close the encoder's stdin, wait for it to exit, synchronize with
// Audio, verify both temp files, mux, and on success generate the
// thumbnail/preview and push a ClipInfo.
func (w *Worker) endSegment(ctx context.Context) {
	rec := w.rec
	defer func() {
		w.rec = nil
		w.state = StateIdle
		w.tracker.UntrackProcess("encoder")
		_ = w.fileLock.Release()
	}()

	elapsed := time.Since(rec.clipStart)
	expected := int(math.Round(elapsed.Seconds() * float64(w.fps)))
	if rec.framesWritten < expected && rec.lastFrame != nil {
		for i := rec.framesWritten; i < expected; i++ {
			if _, err := rec.stdin.Write(rec.lastFrame.Bytes()); err != nil {
				break
			}
		}
	}

	_ = rec.stdin.Close()
	_ = rec.cmd.Wait()

	ack := make(chan struct{}, 1)
	if w.sendAudio(bus.StopRecording{Ack: ack}) {
		<-ack
	} else {
		w.cfg.Logger.Warn("audio worker disconnected during EndSegment; proceeding")
	}

	tmpVideo, tmpAudio := w.tmpVideoPath(), w.tmpAudioPath()
	if !fileExists(tmpVideo) || !fileExists(tmpAudio) {
		w.emitError(bus.ErrTempFilesMissing, "temp files missing after segment")
		_ = os.Remove(tmpVideo)
		_ = os.Remove(tmpAudio)
		return
	}

	n := w.counter.Value()
	clipName, thumbName, previewName := segmentFilenames(n)
	clipPath := filepath.Join(w.cfg.OutputDir, clipName)
	thumbPath := filepath.Join(w.cfg.OutputDir, thumbName)
	previewPath := filepath.Join(w.cfg.OutputDir, previewName)

	muxCmd := newFFmpegCmd(ctx, w.cfg.FFmpegPath, muxCommandArgs(tmpVideo, tmpAudio, clipPath)...)
	if err := muxCmd.Run(); err != nil {
		w.emitError(bus.ErrMuxFailed, "mux: %v", err)
		return
	}

	if err := newFFmpegCmd(ctx, w.cfg.FFmpegPath, thumbnailCommandArgs(clipPath, thumbPath)...).Run(); err != nil {
		w.cfg.Logger.Warn("thumbnail generation failed", "err", err)
	}
	if err := newFFmpegCmd(ctx, w.cfg.FFmpegPath, previewGIFCommandArgs(clipPath, previewPath)...).Run(); err != nil {
		w.cfg.Logger.Warn("preview GIF generation failed", "err", err)
	}

	duration := w.probeDuration(ctx, clipPath)

	clip := bus.ClipInfo{
		VideoPath:       clipPath,
		ThumbPath:       thumbPath,
		PreviewPath:     previewPath,
		DurationSeconds: duration,
	}
	w.segments.Append(clip)

	_ = os.Remove(tmpVideo)
	_ = os.Remove(tmpAudio)

	select {
	case w.msgCh <- bus.SegmentSaved{Clip: clip}:
	default:
	}
}

func (w *Worker) probeDuration(ctx context.Context, clipPath string) float64 {
	out, err := newFFprobeCmd(ctx, w.cfg.FFprobePath, durationProbeArgs(clipPath)...).Output()
	if err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0
	}
	return v
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
