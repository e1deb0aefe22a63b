// SPDX-License-Identifier: MIT

package controller

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/clipper-app/clipper/internal/bus"
)

// negotiated carries the Loading/Configuring outcome into the Running model.
type negotiated struct {
	video       bus.VideoConfig
	streamWidth int
	streamHeight int
	streamFPS   int
	audioDevice string
}

// runSetup implements the Loading and Configuring phases: wait for
// Capabilities (retrying on CameraError), let the user pick a VideoConfig
// and an audio device, then send StartStream/SetAudioDevice/UpdateConfig and
// wait for StreamStarted. It is synchronous and pre-dates the repaint loop
// proper, matching the Controller's own read of its state machine: there is
// nothing to repaint until a stream exists.
func runSetup(ctx context.Context, cfg Config, ch Channels) (negotiated, error) {
	formats, err := awaitCapabilities(ctx, cfg, ch)
	if err != nil {
		return negotiated{}, err
	}

	video, err := selectVideoConfig(cfg, formats)
	if err != nil {
		return negotiated{}, err
	}

	deviceName, deviceIndex, err := selectAudioDevice(ctx, cfg, ch)
	if err != nil {
		return negotiated{}, err
	}
	if deviceIndex >= 0 {
		select {
		case ch.RecorderCmd <- bus.SetAudioDevice{Index: deviceIndex}:
		case <-ctx.Done():
			return negotiated{}, ctx.Err()
		}
	}

	select {
	case ch.CameraCmd <- bus.StartStream{Config: video}:
	case <-ctx.Done():
		return negotiated{}, ctx.Err()
	}
	select {
	case ch.RecorderCmd <- bus.UpdateConfig{
		Width:   video.Width,
		Height:  video.Height,
		FPS:     video.FPS,
		Format:  video.PixelFormat,
		Profile: cfg.DefaultProfile,
	}:
	case <-ctx.Done():
		return negotiated{}, ctx.Err()
	}

	started, err := awaitStreamStarted(ctx, cfg, ch, video)
	if err != nil {
		return negotiated{}, err
	}
	started.audioDevice = deviceName
	return started, nil
}

func awaitCapabilities(ctx context.Context, cfg Config, ch Channels) ([]bus.VideoConfig, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-ch.CameraMsg:
			if !ok {
				return nil, fmt.Errorf("camera channel closed before Capabilities")
			}
			switch m := msg.(type) {
			case bus.Capabilities:
				if len(m.Formats) == 0 {
					return nil, fmt.Errorf("camera reported no capture formats")
				}
				return m.Formats, nil
			case bus.CameraError:
				if !confirmRetry(cfg, m.Err.Error()) {
					return nil, fmt.Errorf("camera error: %w", m.Err)
				}
				select {
				case ch.CameraCmd <- bus.Retry{}:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
	}
}

func awaitStreamStarted(ctx context.Context, cfg Config, ch Channels, video bus.VideoConfig) (negotiated, error) {
	for {
		select {
		case <-ctx.Done():
			return negotiated{}, ctx.Err()
		case msg, ok := <-ch.CameraMsg:
			if !ok {
				return negotiated{}, fmt.Errorf("camera channel closed before StreamStarted")
			}
			switch m := msg.(type) {
			case bus.StreamStarted:
				return negotiated{
					video:        video,
					streamWidth:  m.Width,
					streamHeight: m.Height,
					streamFPS:    m.FPS,
				}, nil
			case bus.CameraError:
				if !confirmRetry(cfg, m.Err.Error()) {
					return negotiated{}, fmt.Errorf("camera error: %w", m.Err)
				}
				select {
				case ch.CameraCmd <- bus.StartStream{Config: video}:
				case <-ctx.Done():
					return negotiated{}, ctx.Err()
				}
			}
		}
	}
}

func selectVideoConfig(cfg Config, formats []bus.VideoConfig) (bus.VideoConfig, error) {
	if len(formats) == 1 {
		return formats[0], nil
	}
	options := make([]huh.Option[int], len(formats))
	for i, f := range formats {
		options[i] = huh.NewOption(f.Display(), i)
	}
	selected := 0
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Choose a capture format").
				Options(options...).
				Value(&selected),
		),
	).WithAccessible(cfg.Accessible)

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return bus.VideoConfig{}, fmt.Errorf("format selection aborted")
		}
		return bus.VideoConfig{}, err
	}
	return formats[selected], nil
}

// selectAudioDevice waits for the Audio worker's startup DeviceList and lets
// the user pick one. Returns index -1 with no error if no device is
// available - clips are still produced, silent.
func selectAudioDevice(ctx context.Context, cfg Config, ch Channels) (string, int, error) {
	var devices []bus.AudioDevice
	haveList := false
	for !haveList {
		select {
		case <-ctx.Done():
			return "", -1, ctx.Err()
		case msg, ok := <-ch.AudioMsg:
			if !ok {
				return "", -1, nil
			}
			switch m := msg.(type) {
			case bus.DeviceList:
				devices = m.Devices
				haveList = true
			case bus.AudioError:
				cfg.Logger.Warn("audio enumeration error", "err", m.Err.Error())
				return "", -1, nil
			}
		}
	}
	if len(devices) == 0 {
		return "", -1, nil
	}
	if len(devices) == 1 {
		return devices[0].Name, devices[0].Index, nil
	}

	options := make([]huh.Option[int], len(devices))
	for i, d := range devices {
		options[i] = huh.NewOption(d.Name, d.Index)
	}
	selected := devices[0].Index
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Choose a microphone").
				Options(options...).
				Value(&selected),
		),
	).WithAccessible(cfg.Accessible)

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return "", -1, nil
		}
		return "", -1, err
	}
	for _, d := range devices {
		if d.Index == selected {
			return d.Name, d.Index, nil
		}
	}
	return "", -1, nil
}

func confirmRetry(cfg Config, errText string) bool {
	result := true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Error: %s. Retry?", errText)).
				Affirmative("Retry").
				Negative("Quit").
				Value(&result),
		),
	).WithAccessible(cfg.Accessible)
	_ = form.Run()
	return result
}
