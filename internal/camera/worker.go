// SPDX-License-Identifier: MIT

// Package camera implements the Camera worker: capability enumeration,
// stream negotiation, and the paired capture/pacing loops that turn a v4l2
// device into Frame and WriteFrame messages for the rest of the pipeline.
package camera

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/clipper-app/clipper/internal/bus"
	"github.com/clipper-app/clipper/internal/stream"
	"github.com/clipper-app/clipper/internal/udev"
	"github.com/clipper-app/clipper/internal/util"
)

// Config configures a Worker. FFmpegPath gets a default at construction time
// if left empty; an empty DevicePath is discovered on each enumeration pass.
type Config struct {
	FFmpegPath string
	DevicePath string // overrides device discovery when non-empty
	ByIDDir    string // e.g. /dev/v4l/by-id, for stable-path resolution

	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	BackoffMaxAttempts int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.ByIDDir == "" {
		c.ByIDDir = "/dev/v4l/by-id"
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = 2 * time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.BackoffMaxAttempts == 0 {
		c.BackoffMaxAttempts = 1_000_000 // effectively unbounded; Retry is user-driven
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Worker is the Camera worker described in the component design: it
// enumerates capabilities, opens a negotiated stream, and runs the capture
// and pacing sub-loops until told to retry or the command channel closes.
type Worker struct {
	cfg        Config
	cmdCh      <-chan bus.CameraCommand
	msgCh      chan<- bus.CameraMessage
	recorderCh chan<- bus.RecorderCommand

	backoff *stream.Backoff
	cell    latestFrameCell
}

// NewWorker constructs a Camera worker. cmdCh carries StartStream/Retry in;
// msgCh carries Capabilities/StreamStarted/Frame/Error out; recorderCh
// carries the paced WriteFrame commands to the Recorder worker.
func NewWorker(cfg Config, cmdCh <-chan bus.CameraCommand, msgCh chan<- bus.CameraMessage, recorderCh chan<- bus.RecorderCommand) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		cfg:        cfg,
		cmdCh:      cmdCh,
		msgCh:      msgCh,
		recorderCh: recorderCh,
		backoff:    stream.NewBackoff(cfg.BackoffInitial, cfg.BackoffMax, cfg.BackoffMaxAttempts),
	}
}

// Name identifies this service to the process supervisor.
func (w *Worker) Name() string { return "camera" }

// Run drives the enumerate → await-command → stream state machine until ctx
// is cancelled or the command channel is closed (sender side dropped, per
// the termination model).
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		devicePath, err := w.resolveDevicePath(ctx)
		if err != nil {
			w.emitError(bus.ErrDeviceUnavailable, "resolve device: %v", err)
			if !w.awaitRetry(ctx) {
				return nil
			}
			continue
		}

		configs, err := EnumerateFormats(ctx, devicePath)
		if err != nil || len(configs) == 0 {
			w.backoff.RecordFailure()
			w.emitError(bus.ErrDeviceUnavailable, "enumerate %s: %v", devicePath, err)
			if !w.awaitRetryAfterBackoff(ctx) {
				return nil
			}
			continue
		}
		w.backoff.Reset()

		select {
		case w.msgCh <- bus.Capabilities{Formats: configs}:
		case <-ctx.Done():
			return nil
		}

		cfg, retry, ok := w.awaitStartStream(ctx)
		if !ok {
			return nil
		}
		if retry {
			continue
		}

		if err := w.runStream(ctx, devicePath, cfg); err != nil {
			w.emitError(bus.ErrDeviceUnavailable, "camera lost: %v", err)
		}
		// Either the stream ended in error or a Retry command asked us to
		// re-enumerate; both paths loop back to the top.
	}
}

func (w *Worker) resolveDevicePath(ctx context.Context) (string, error) {
	if w.cfg.DevicePath != "" {
		return udev.ResolveByIDPath(w.cfg.ByIDDir, w.cfg.DevicePath), nil
	}
	path, err := DefaultDevicePath(ctx)
	if err != nil {
		return "", err
	}
	return udev.ResolveByIDPath(w.cfg.ByIDDir, path), nil
}

func (w *Worker) emitError(kind bus.ErrorKind, format string, args ...any) {
	werr := bus.NewWorkerError(kind, format, args...)
	w.cfg.Logger.Warn("camera error", "kind", kind.String(), "err", werr.Error())
	select {
	case w.msgCh <- bus.CameraError{Err: werr}:
	default:
		// UI channel full or torn down; the error is logged regardless.
	}
}

// awaitRetry blocks until a Retry command arrives, discarding anything else,
// and reports whether the command channel is still open.
func (w *Worker) awaitRetry(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case cmd, ok := <-w.cmdCh:
			if !ok {
				return false
			}
			if _, isRetry := cmd.(bus.Retry); isRetry {
				return true
			}
			// Non-Retry commands are silently discarded during the error
			// wait, per the failure model.
		}
	}
}

func (w *Worker) awaitRetryAfterBackoff(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.backoff.CurrentDelay()):
	}
	return w.awaitRetry(ctx)
}

// awaitStartStream blocks for either StartStream (returns its config) or
// Retry (returns retry=true to signal re-enumeration).
func (w *Worker) awaitStartStream(ctx context.Context) (cfg bus.VideoConfig, retry bool, ok bool) {
	for {
		select {
		case <-ctx.Done():
			return bus.VideoConfig{}, false, false
		case cmd, chOpen := <-w.cmdCh:
			if !chOpen {
				return bus.VideoConfig{}, false, false
			}
			switch c := cmd.(type) {
			case bus.StartStream:
				return c.Config, false, true
			case bus.Retry:
				return bus.VideoConfig{}, true, true
			}
		}
	}
}

// runStream opens the negotiated format and runs the capture and pacing
// sub-loops until a read failure, a Retry command, or ctx cancellation.
func (w *Worker) runStream(ctx context.Context, devicePath string, cfg bus.VideoConfig) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := newCaptureCmd(streamCtx, w.cfg.FFmpegPath, devicePath, cfg)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	defer func() {
		cancel()
		_ = cmd.Wait()
	}()

	select {
	case w.msgCh <- bus.StreamStarted{Width: cfg.Width, Height: cfg.Height, FPS: cfg.FPS}:
	case <-ctx.Done():
		return nil
	}

	captureErrCh := make(chan error, 1)
	util.SafeGo("camera-capture", w.cfg.Logger, func() {
		captureErrCh <- w.captureLoop(streamCtx, stdout, cfg)
	}, nil)

	pacingDone := make(chan struct{})
	util.SafeGo("camera-pacing", w.cfg.Logger, func() {
		defer close(pacingDone)
		w.pacingLoop(streamCtx, cfg)
	}, nil)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-captureErrCh:
			cancel()
			<-pacingDone
			return err
		case cmd, ok := <-w.cmdCh:
			if !ok {
				cancel()
				<-pacingDone
				return nil
			}
			switch cmd.(type) {
			case bus.Retry:
				cancel()
				<-pacingDone
				return nil
			case bus.StartStream:
				// A fresh negotiation while already streaming: tear down
				// and let the outer loop re-enter via re-enumeration.
				cancel()
				<-pacingDone
				return nil
			}
		}
	}
}

// captureLoop reads frames from the ffmpeg process, decodes them, computes
// the preview, publishes the raw buffer into the latest-frame cell, and
// emits a Frame message for display.
func (w *Worker) captureLoop(ctx context.Context, stdout io.Reader, cfg bus.VideoConfig) error {
	readBuf := make([]byte, 32*1024)
	var scratch []byte
	frameSize := rawFrameSize(cfg)

	for {
		if ctx.Err() != nil {
			return nil
		}

		var raw []byte
		var err error
		if cfg.PixelFormat == bus.PixelFormatMJPEG {
			raw, err = readMJPEGFrame(stdout, &scratch, readBuf)
		} else {
			raw, err = readRawFrame(stdout, frameSize)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		now := time.Now()
		img, decodeErr := decodeToImage(raw, cfg.PixelFormat, cfg.Width, cfg.Height)

		buf := bus.NewRefCountedBuffer(raw)
		w.cell.store(buf, now)

		frame := bus.Frame{
			Raw:         buf,
			PreviewW:    bus.PreviewWidth,
			PreviewH:    bus.PreviewHeight,
			CaptureTime: now,
		}
		if decodeErr == nil {
			frame.Preview = downscalePreview(img)
		}

		select {
		case w.msgCh <- bus.FrameMessage{Frame: frame}:
		default:
			// Preview consumer is slower than the capture rate; dropping a
			// display frame is harmless, unlike dropping a WriteFrame.
		}
	}
}

// pacingLoop emits WriteFrame to the Recorder at a fixed cadence derived
// from cfg.FPS, using a monotonic deadline that accumulates the nominal
// interval rather than resetting from "now" each tick, so occasional jitter
// does not accumulate into long-term drift. If the loop falls behind by a
// full interval or more, the deadline is clamped back to now instead of
// trying to catch up with a burst of sends.
func (w *Worker) pacingLoop(ctx context.Context, cfg bus.VideoConfig) {
	if cfg.FPS <= 0 {
		return
	}
	interval := time.Second / time.Duration(cfg.FPS)
	nextTick := time.Now().Add(interval)

	for {
		sleep := time.Until(nextTick)
		if sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		nextTick = nextTick.Add(interval)
		if now := time.Now(); nextTick.Before(now) {
			nextTick = now
		}

		buf, _ := w.cell.snapshot()
		if buf == nil {
			continue
		}

		cmd := bus.WriteFrame{Buf: buf, CaptureTime: time.Now()}
		select {
		case w.recorderCh <- cmd:
		case <-ctx.Done():
			return
		}
	}
}
