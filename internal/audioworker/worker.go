// SPDX-License-Identifier: MIT

// Package audioworker implements the Audio worker: device enumeration and
// a per-segment float32 WAV writer driven by an external ffmpeg capture
// subprocess, as described in §4.3.
package audioworker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/clipper-app/clipper/internal/audio"
	"github.com/clipper-app/clipper/internal/bus"
	"github.com/clipper-app/clipper/internal/util"
)

// Config configures a Worker.
type Config struct {
	FFmpegPath  string
	AsoundPath  string // /proc/asound, overridable for tests
	StopTimeout time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.AsoundPath == "" {
		c.AsoundPath = "/proc/asound"
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// newFFmpegCmd is overridden in tests.
var newFFmpegCmd = func(ctx context.Context, ffmpegPath string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, ffmpegPath, args...)
}

// deviceEntry pairs the external AudioDevice identity with the internal
// detail (ALSA card number, native rate/channels) needed to open it.
type deviceEntry struct {
	device bus.AudioDevice
	card   int
	rate   int
	ch     int
}

// Worker is the Audio worker.
type Worker struct {
	cfg   Config
	cmdCh <-chan bus.AudioCommand
	msgCh chan<- bus.AudioMessage

	tracker *util.ResourceTracker

	devices  []deviceEntry
	selected int // index into devices, -1 if none selected

	cmd *exec.Cmd
}

// NewWorker constructs an Audio worker.
func NewWorker(cfg Config, cmdCh <-chan bus.AudioCommand, msgCh chan<- bus.AudioMessage) *Worker {
	return &Worker{
		cfg:      cfg.withDefaults(),
		cmdCh:    cmdCh,
		msgCh:    msgCh,
		tracker:  util.NewResourceTracker(),
		selected: -1,
	}
}

// Name identifies this service to the process supervisor.
func (w *Worker) Name() string { return "audio" }

// Run enumerates input devices, publishes them, then blocks on cmdCh until
// ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	w.enumerate()

	for {
		select {
		case <-ctx.Done():
			w.stopActive()
			return nil
		case cmd, ok := <-w.cmdCh:
			if !ok {
				w.stopActive()
				return nil
			}
			w.handleCommand(ctx, cmd)
		}
	}
}

func (w *Worker) enumerate() {
	raw, err := audio.DetectDevices(w.cfg.AsoundPath)
	if err != nil {
		w.emitError(bus.ErrDeviceUnavailable, "enumerate audio devices: %v", err)
		w.devices = nil
		w.publishDeviceList()
		return
	}

	entries := make([]deviceEntry, 0, len(raw))
	for i, d := range raw {
		rate, ch := 48000, 2
		if caps, err := audio.DetectCapabilities(w.cfg.AsoundPath, d.CardNumber); err == nil {
			rate, ch = caps.NativeRate(), caps.NativeChannels()
		}
		entries = append(entries, deviceEntry{
			device: bus.AudioDevice{Name: d.Name, Index: i},
			card:   d.CardNumber,
			rate:   rate,
			ch:     ch,
		})
	}
	w.devices = entries
	w.publishDeviceList()
}

func (w *Worker) publishDeviceList() {
	list := make([]bus.AudioDevice, len(w.devices))
	for i, e := range w.devices {
		list[i] = e.device
	}
	select {
	case w.msgCh <- bus.DeviceList{Devices: list}:
	default:
	}
}

func (w *Worker) handleCommand(ctx context.Context, cmd bus.AudioCommand) {
	switch c := cmd.(type) {
	case bus.SelectDevice:
		w.stopActive()
		w.selected = c.Index
	case bus.StartRecording:
		w.startRecording(ctx, c.Path)
	case bus.StopRecording:
		w.stopRecording()
		select {
		case c.Ack <- struct{}{}:
		default:
		}
	}
}

func (w *Worker) startRecording(ctx context.Context, path string) {
	if w.selected < 0 || w.selected >= len(w.devices) {
		w.emitError(bus.ErrDeviceUnavailable, "no audio device selected")
		return
	}
	entry := w.devices[w.selected]

	args := captureCommandArgs(entry.card, entry.rate, entry.ch, path)
	cmd := newFFmpegCmd(ctx, w.cfg.FFmpegPath, args...)
	if err := cmd.Start(); err != nil {
		w.emitError(bus.ErrEncoderSpawnFailed, "spawn audio capture: %v", err)
		return
	}

	w.cmd = cmd
	w.tracker.TrackProcess("audio-capture", cmd.Process)
}

// stopRecording signals the active capture process to flush and exit,
// force-killing it only if it ignores the signal within StopTimeout, then
// waits for it to actually exit before returning — the caller must not ack
// EndSegment's handshake until the WAV file is fully flushed to disk.
func (w *Worker) stopRecording() {
	if w.cmd == nil || w.cmd.Process == nil {
		return
	}
	proc := w.cmd.Process
	cmd := w.cmd
	w.cmd = nil
	w.tracker.UntrackProcess("audio-capture")

	_ = proc.Signal(os.Interrupt)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.cfg.StopTimeout):
		_ = proc.Kill()
		<-done
	}
}

// stopActive is stopRecording without an ack, used on shutdown.
func (w *Worker) stopActive() {
	if w.cmd != nil {
		w.stopRecording()
	}
}

func (w *Worker) emitError(kind bus.ErrorKind, format string, args ...any) {
	werr := bus.NewWorkerError(kind, format, args...)
	w.cfg.Logger.Warn("audio error", "kind", kind.String(), "err", werr.Error())
	select {
	case w.msgCh <- bus.AudioError{Err: werr}:
	default:
	}
}

func captureCommandArgs(card, rate, channels int, outPath string) []string {
	return []string{
		"-f", "alsa", "-i", fmt.Sprintf("hw:%d", card),
		"-ar", fmt.Sprintf("%d", rate),
		"-ac", fmt.Sprintf("%d", channels),
		"-c:a", "pcm_f32le",
		"-f", "wav",
		"-y", outPath,
	}
}
