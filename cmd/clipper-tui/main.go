// SPDX-License-Identifier: MIT

// Command clipper-tui is the interactive front end: it wires the Camera,
// Recorder and Audio workers as plain goroutines (no process supervisor -
// a crashed worker here takes the whole session down with it, same as the
// teacher's own interactive binary) and drives them through the controller's
// startup negotiation and repaint loop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/clipper-app/clipper/internal/audioworker"
	"github.com/clipper-app/clipper/internal/bus"
	"github.com/clipper-app/clipper/internal/camera"
	"github.com/clipper-app/clipper/internal/config"
	"github.com/clipper-app/clipper/internal/controller"
	"github.com/clipper-app/clipper/internal/recorder"
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
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Printf("clipper-tui %s (%s, built %s)\n", Version, GitCommit, BuildDate)
			return nil
		}
	}

	configPath := config.ConfigFilePath
	logLevel := "info"
	accessible := false

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
		case args[i] == "--accessible":
			accessible = true
		case strings.HasPrefix(args[i], "--"):
			return fmt.Errorf("unknown flag: %s (run 'clipper-tui help' for usage)", args[i])
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

	return runSession(ctx, cfg, logger, accessible)
}

// newLogger builds the text slog logger the interactive session runs with:
// unlike clipperd's JSON stream, this shares a terminal with the operator,
// so log lines need to stay human-readable alongside the Bubble Tea view.
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

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadConfiguration loads configPath, falling back to built-in defaults when
// the file does not exist - mirrors clipperd's loadConfiguration helper.
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

// runSession wires the three workers onto bus channels as plain goroutines
// and hands the channels to the controller, which negotiates a stream and
// drives the session until the operator quits or ctx is cancelled.
func runSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, accessible bool) error {
	cameraCmdCh := make(chan bus.CameraCommand, 4)
	cameraMsgCh := make(chan bus.CameraMessage, 16)
	recorderCmdCh := make(chan bus.RecorderCommand, 4)
	recorderMsgCh := make(chan bus.RecorderMessage, 16)
	audioCmdCh := make(chan bus.AudioCommand, 4)
	audioMsgCh := make(chan bus.AudioMessage, 16)

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

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() { _ = camWorker.Run(ctx) }()
	go func() { _ = recWorker.Run(ctx) }()
	go func() { _ = audioWorker.Run(ctx) }()

	return controller.Run(ctx, controller.Config{
		DefaultProfile:   cfg.Default.EncodingProfile(),
		DefaultOutputDir: cfg.Recorder.ClipsDir,
		Accessible:       accessible,
		Logger:           logger,
	}, controller.Channels{
		CameraCmd:   cameraCmdCh,
		CameraMsg:   cameraMsgCh,
		RecorderCmd: recorderCmdCh,
		RecorderMsg: recorderMsgCh,
		AudioMsg:    audioMsgCh,
	})
}

func printUsage() {
	fmt.Printf(`clipper-tui %s

USAGE:
    clipper-tui [OPTIONS]
    clipper-tui help

COMMANDS:
    (default)  Start an interactive capture session
    help       Show this help message
    version    Show version information

OPTIONS:
    --config PATH       Path to configuration file (default: %s)
    --log-level LEVEL   debug, info, warn, error (default: info)
    --accessible        Disable animated UI elements for screen readers

SIGNALS:
    SIGINT, SIGTERM   Graceful shutdown of the current session
`, Version, config.ConfigFilePath)
}
