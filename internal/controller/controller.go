// SPDX-License-Identifier: MIT

// Package controller implements the Controller's boundary described in
// §4.4: a single-threaded UI that negotiates a stream at startup, then runs
// a repaint loop draining the Camera, Recorder and Audio channels and
// translating keys into RecorderCommand/CameraCommand traffic. The
// controller never touches encoder processes or files directly.
package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/clipper-app/clipper/internal/bus"
)

// Channels bundles the bus endpoints the controller drives. All sends are
// owned by the controller; all receives are owned by the controller too -
// no other worker reads from cameraMsg/recorderMsg/audioMsg.
type Channels struct {
	CameraCmd   chan<- bus.CameraCommand
	CameraMsg   <-chan bus.CameraMessage
	RecorderCmd chan<- bus.RecorderCommand
	RecorderMsg <-chan bus.RecorderMessage
	AudioMsg    <-chan bus.AudioMessage
}

// Config configures the controller's startup negotiation and defaults.
type Config struct {
	// DefaultProfile is sent in the UpdateConfig that follows StartStream.
	DefaultProfile bus.EncodingProfile
	// DefaultOutputDir seeds the Enter-triggered output path prompt.
	DefaultOutputDir string

	Input      io.Reader
	Output     io.Writer
	Accessible bool

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DefaultProfile == (bus.EncodingProfile{}) {
		c.DefaultProfile = bus.DefaultEncodingProfile()
	}
	if c.DefaultOutputDir == "" {
		c.DefaultOutputDir = "."
	}
	if c.Input == nil {
		c.Input = os.Stdin
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Run drives the controller end to end: the Loading/Configuring
// negotiation, then the Running repaint loop, until ctx is cancelled or the
// user quits. It is the only exported entry point cmd/clipper-tui needs.
func Run(ctx context.Context, cfg Config, ch Channels) error {
	cfg = cfg.withDefaults()

	negotiated, err := runSetup(ctx, cfg, ch)
	if err != nil {
		return fmt.Errorf("controller setup: %w", err)
	}

	m := newModel(cfg, ch, negotiated)
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithInput(cfg.Input), tea.WithOutput(cfg.Output))
	m.program = p

	_, err = p.Run()
	return err
}
