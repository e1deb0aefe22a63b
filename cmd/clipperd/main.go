// SPDX-License-Identifier: MIT

// Command clipperd is the capture daemon: it owns the Camera, Recorder and
// Audio workers, supervises them under suture, and serves the health/metrics
// endpoint. The interactive front end lives in cmd/clipper-tui and talks to
// these workers over the same bus channels this daemon wires up in-process
// for its own standalone mode; clipperd's bus is local to its own process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/clipper-app/clipper/internal/audioworker"
	"github.com/clipper-app/clipper/internal/bus"
	"github.com/clipper-app/clipper/internal/camera"
	"github.com/clipper-app/clipper/internal/config"
	"github.com/clipper-app/clipper/internal/diagnostics"
	"github.com/clipper-app/clipper/internal/health"
	"github.com/clipper-app/clipper/internal/recorder"
	"github.com/clipper-app/clipper/internal/supervisor"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

const exitError = 1

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
}

// run is the main entry point, extracted for testability.
func run(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "doctor":
			return runDoctor(args[1:])
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Printf("clipperd %s (%s, built %s)\n", Version, GitCommit, BuildDate)
			return nil
		}
	}

	configPath := config.ConfigFilePath
	logLevel := "info"

	for i := 0; i < len(args); i++ {
		switch {
		case strings.HasPrefix(args[i], "--config="):
			configPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--log-level="):
			logLevel = strings.TrimPrefix(args[i], "--log-level=")
		case args[i] == "--log-level" && i+1 < len(args):
			logLevel = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--"):
			return fmt.Errorf("unknown flag: %s (run 'clipperd help' for usage)", args[i])
		}
	}

	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfiguration(configPath, logger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runDaemon(ctx, cfg, logger)
}

// newLogger builds the JSON slog logger the daemon runs with, per the
// ambient logging design (text formatting is for cmd/clipper-tui instead,
// which shares a terminal with the user).
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadConfiguration loads configPath, falling back to built-in defaults when
// the file does not exist - mirrors the teacher's loadConfiguration helper.
func loadConfiguration(path string, logger *slog.Logger) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("config file not found, using defaults", slog.String("path", path))
		return config.DefaultConfig(), nil
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runDaemon wires the three core workers onto bus channels, runs them under
// a suture supervisor tree, and serves the health endpoint alongside it,
// per §10.1's process-supervision design.
func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	cameraCmdCh := make(chan bus.CameraCommand, 4)
	cameraMsgCh := make(chan bus.CameraMessage, 16)
	recorderCmdCh := make(chan bus.RecorderCommand, 4)
	recorderMsgCh := make(chan bus.RecorderMessage, 16)
	audioCmdCh := make(chan bus.AudioCommand, 4)
	audioMsgCh := make(chan bus.AudioMessage, 16)

	defaultDev := cfg.Default

	camWorker := camera.NewWorker(camera.Config{
		Logger: logger.With(slog.String("worker", "camera")),
	}, cameraCmdCh, cameraMsgCh, recorderCmdCh)

	recWorker, err := recorder.NewWorker(recorder.Config{
		FFmpegPath:  cfg.Recorder.FFmpegPath,
		FFprobePath: cfg.Recorder.FFprobePath,
		OutputDir:   cfg.Recorder.ClipsDir,
		LockPath:    cfg.Recorder.LockPath,
		Logger:      logger.With(slog.String("worker", "recorder")),
	}, recorderCmdCh, recorderMsgCh, audioCmdCh)
	if err != nil {
		return fmt.Errorf("construct recorder worker: %w", err)
	}

	audioWorker := audioworker.NewWorker(audioworker.Config{
		FFmpegPath:  cfg.Audio.FFmpegPath,
		AsoundPath:  cfg.Audio.AsoundPath,
		StopTimeout: cfg.Audio.StopTimeout,
		Logger:      logger.With(slog.String("worker", "audio")),
	}, audioCmdCh, audioMsgCh)

	reg := supervisor.NewRegistry()
	sup := suture.NewSimple("clipper")

	sup.Add(supervisor.NewRunnerService("camera", reg, camWorker.Run))
	sup.Add(supervisor.NewRunnerService("recorder", reg, recWorker.Run))
	sup.Add(supervisor.NewRunnerService("audio", reg, audioWorker.Run))

	var eg []func() error
	eg = append(eg, func() error { return sup.Serve(ctx) })

	if cfg.Health.Enabled {
		h := health.NewHandler(reg).WithSystemInfo(&systemInfoProvider{
			clipsDir: cfg.Recorder.ClipsDir,
			recorder: recWorker,
		})
		eg = append(eg, func() error { return health.ListenAndServe(ctx, cfg.Health.Addr, h) })
	}

	// Fan out the default VideoConfig/EncodingProfile immediately: clipperd
	// runs headless, so there is no controller negotiation step to do it.
	go func() {
		select {
		case cameraCmdCh <- bus.StartStream{Config: defaultDev.VideoConfig()}:
		case <-ctx.Done():
			return
		}
		vc := defaultDev.VideoConfig()
		select {
		case recorderCmdCh <- bus.UpdateConfig{
			Width: vc.Width, Height: vc.Height, FPS: vc.FPS, Format: vc.PixelFormat,
			Profile: defaultDev.EncodingProfile(),
		}:
		case <-ctx.Done():
		}
	}()

	// Headless mode has no controller to drain these - without a reader,
	// a full FrameMessage backlog would stall the camera's pacing loop.
	drainCameraMsgs(ctx, logger, cameraMsgCh)
	drainRecorderMsgs(ctx, logger, recorderMsgCh)
	drainAudioMsgs(ctx, logger, audioMsgCh)

	errCh := make(chan error, len(eg))
	for _, f := range eg {
		f := f
		go func() { errCh <- f() }()
	}

	var firstErr error
	for range eg {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// systemInfoProvider implements health.SystemInfoProvider over the clips
// filesystem and the running recorder's segment counter.
type systemInfoProvider struct {
	clipsDir string
	recorder *recorder.Worker
}

// diskLowWarningPercent mirrors diagnostics.DiskUsageWarningPercent so the
// health endpoint and the doctor command agree on when disk space is low.
const diskLowWarningPercent = diagnostics.DiskUsageWarningPercent

func (p *systemInfoProvider) SystemInfo() health.SystemInfo {
	free, total := diskUsage(p.clipsDir)

	info := health.SystemInfo{
		DiskFreeBytes:  free,
		DiskTotalBytes: total,
		SegmentCount:   p.recorder.SegmentCount(),
	}
	if total > 0 {
		usedPercent := 100.0 - (float64(free)/float64(total))*100.0
		info.DiskLowWarning = usedPercent > diskLowWarningPercent
	}
	return info
}

// diskUsage reports free/total bytes on the filesystem holding dir, the
// same syscall.Statfs approach diagnostics.checkClipsDir uses.
func diskUsage(dir string) (free, total uint64) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, 0
	}
	// #nosec G115 -- Bsize is always positive on Linux filesystems
	free = stat.Bavail * uint64(stat.Bsize)
	// #nosec G115 -- Bsize is always positive on Linux filesystems
	total = stat.Blocks * uint64(stat.Bsize)
	return free, total
}

func runDoctor(args []string) error {
	opts := diagnostics.DefaultOptions()

	for i := 0; i < len(args); i++ {
		switch {
		case strings.HasPrefix(args[i], "--config="):
			opts.ConfigPath = strings.TrimPrefix(args[i], "--config=")
		case strings.HasPrefix(args[i], "--camera-device="):
			opts.CameraDevice = strings.TrimPrefix(args[i], "--camera-device=")
		case strings.HasPrefix(args[i], "--clips-dir="):
			opts.ClipsDir = strings.TrimPrefix(args[i], "--clips-dir=")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runner := diagnostics.NewRunner(opts)
	report, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("diagnostics run failed: %w", err)
	}

	diagnostics.PrintReport(os.Stdout, report)

	if !report.Healthy {
		return fmt.Errorf("doctor found %d critical/error issue(s)", report.Summary.Critical+report.Summary.Error)
	}
	return nil
}

func printUsage() {
	fmt.Printf(`clipperd %s

USAGE:
    clipperd [OPTIONS]
    clipperd doctor [OPTIONS]
    clipperd help

COMMANDS:
    (default)  Run the capture daemon
    doctor     Run preflight checks (ffmpeg, camera, ALSA, clips directory)
    help       Show this help message
    version    Show version information

OPTIONS:
    --config PATH       Path to configuration file (default: %s)
    --log-level LEVEL   debug, info, warn, error (default: info)

DOCTOR OPTIONS:
    --config PATH
    --camera-device PATH
    --clips-dir PATH

SIGNALS:
    SIGINT, SIGTERM   Graceful shutdown: stop workers, close the health server
`, Version, config.ConfigFilePath)
}

// drainCameraMsgs discards Camera worker output in headless mode, logging
// errors so they still surface in the daemon's log stream.
func drainCameraMsgs(ctx context.Context, logger *slog.Logger, ch <-chan bus.CameraMessage) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if ce, isErr := msg.(bus.CameraError); isErr {
					logger.Warn("camera error", slog.String("err", ce.Err.Error()))
				}
			}
		}
	}()
}

func drainRecorderMsgs(ctx context.Context, logger *slog.Logger, ch <-chan bus.RecorderMessage) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				switch m := msg.(type) {
				case bus.SegmentSaved:
					logger.Info("segment saved", slog.String("path", m.Clip.VideoPath))
				case bus.VideoFinalized:
					logger.Info("video finalized", slog.String("path", m.OutPath))
				case bus.RecorderError:
					logger.Warn("recorder error", slog.String("err", m.Err.Error()))
				}
			}
		}
	}()
}

func drainAudioMsgs(ctx context.Context, logger *slog.Logger, ch <-chan bus.AudioMessage) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if ae, isErr := msg.(bus.AudioError); isErr {
					logger.Warn("audio error", slog.String("err", ae.Err.Error()))
				}
			}
		}
	}()
}
