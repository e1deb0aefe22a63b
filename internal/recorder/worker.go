// SPDX-License-Identifier: MIT

package recorder

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/clipper-app/clipper/internal/bus"
	"github.com/clipper-app/clipper/internal/lock"
	"github.com/clipper-app/clipper/internal/util"
)

// Config configures a Worker.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	OutputDir   string
	LockPath    string // single-active-encoder file lock location

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.FFprobePath == "" {
		c.FFprobePath = "ffprobe"
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.LockPath == "" {
		c.LockPath = filepath.Join(c.OutputDir, ".clipper-recorder.lock")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// newFFmpegCmd and newFFprobeCmd are overridden in tests.
var newFFmpegCmd = func(ctx context.Context, ffmpegPath string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, ffmpegPath, args...)
}

var newFFprobeCmd = func(ctx context.Context, ffprobePath string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, ffprobePath, args...)
}

// recordingSession holds the state that exists only while State ==
// StateRecording.
type recordingSession struct {
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	firstFrame    bool
	clipStart     time.Time
	framesWritten int
	lastFrame     *bus.RefCountedBuffer
}

// Worker is the Recorder worker: the per-segment encoder lifecycle, segment
// list, undo, and final concat described in §4.2.
type Worker struct {
	cfg      Config
	cmdCh    <-chan bus.RecorderCommand
	msgCh    chan<- bus.RecorderMessage
	audioCh  chan<- bus.AudioCommand

	state    State
	counter  bus.SegmentCounter
	segments SegmentList

	width, height, fps int
	format             bus.PixelFormat
	profile            bus.EncodingProfile

	fileLock *lock.FileLock
	tracker  *util.ResourceTracker

	rec *recordingSession
}

// NewWorker constructs a Recorder worker.
func NewWorker(cfg Config, cmdCh <-chan bus.RecorderCommand, msgCh chan<- bus.RecorderMessage, audioCh chan<- bus.AudioCommand) (*Worker, error) {
	cfg = cfg.withDefaults()

	fl, err := lock.NewFileLock(cfg.LockPath)
	if err != nil {
		return nil, err
	}

	return &Worker{
		cfg:      cfg,
		cmdCh:    cmdCh,
		msgCh:    msgCh,
		audioCh:  audioCh,
		state:    StateIdle,
		profile:  bus.DefaultEncodingProfile(),
		fileLock: fl,
		tracker:  util.NewResourceTracker(),
	}, nil
}

// Name identifies this service to the process supervisor.
func (w *Worker) Name() string { return "recorder" }

// SegmentCount returns the number of segments recorded since the last
// FinalizeVideo, for the health endpoint's SystemInfo. Undo does not lower it.
func (w *Worker) SegmentCount() int { return int(w.counter.Value()) }

// Run drives the Idle/Recording state machine until ctx is cancelled or the
// command channel closes.
func (w *Worker) Run(ctx context.Context) error {
	defer func() { _ = w.fileLock.Close() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-w.cmdCh:
			if !ok {
				return nil
			}
			w.handleCommand(ctx, cmd)
		}
	}
}

func (w *Worker) handleCommand(ctx context.Context, cmd bus.RecorderCommand) {
	switch c := cmd.(type) {
	case bus.UpdateConfig:
		w.width, w.height, w.fps, w.format, w.profile = c.Width, c.Height, c.FPS, c.Format, c.Profile
	case bus.SetAudioDevice:
		w.sendAudio(bus.SelectDevice{Index: c.Index})
	case bus.StartSegment:
		if w.state != StateIdle {
			return
		}
		w.startSegment(ctx)
	case bus.WriteFrame:
		if w.state != StateRecording {
			return // stale pre-segment frame, discarded
		}
		w.onWriteFrame(c)
	case bus.EndSegment:
		if w.state != StateRecording {
			return
		}
		w.endSegment(ctx)
	case bus.Undo:
		if w.state != StateIdle {
			return
		}
		w.undo()
	case bus.FinalizeVideo:
		if w.state != StateIdle {
			return
		}
		w.finalizeVideo(ctx, c.OrderedPaths, c.OutPath)
	}
}

// sendAudio forwards a command to the Audio worker, tolerating a closed
// channel (a torn-down Audio worker) by logging instead of panicking.
func (w *Worker) sendAudio(cmd bus.AudioCommand) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			w.cfg.Logger.Warn("audio channel unavailable", "panic", r)
			sent = false
		}
	}()
	w.audioCh <- cmd
	return true
}

func (w *Worker) emitError(kind bus.ErrorKind, format string, args ...any) {
	werr := bus.NewWorkerError(kind, format, args...)
	w.cfg.Logger.Warn("recorder error", "kind", kind.String(), "err", werr.Error())
	select {
	case w.msgCh <- bus.RecorderError{Err: werr}:
	default:
	}
}

func (w *Worker) tmpVideoPath() string { return filepath.Join(w.cfg.OutputDir, tmpVideoFile) }
func (w *Worker) tmpAudioPath() string { return filepath.Join(w.cfg.OutputDir, tmpAudioFile) }
func (w *Worker) concatListPath() string { return filepath.Join(w.cfg.OutputDir, concatFile) }
