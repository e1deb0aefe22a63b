// SPDX-License-Identifier: MIT

package camera

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/clipper-app/clipper/internal/bus"
)

// runV4L2Ctl shells out to v4l2-ctl. Overridden in tests.
var runV4L2Ctl = func(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "v4l2-ctl", args...).Output()
}

// DefaultDevicePath returns the first /dev/video* node that v4l2-ctl reports
// as a capture device. It returns the raw node; the Worker maps it to a
// udev-stabilized path through udev.ResolveByIDPath. Enumeration probes and closes the device before the real stream opens it,
// since some drivers reject a second concurrent open.
func DefaultDevicePath(ctx context.Context) (string, error) {
	out, err := runV4L2Ctl(ctx, "--list-devices")
	if err != nil {
		return firstVideoNode()
	}

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "\t") {
			path := strings.TrimSpace(line)
			if strings.HasPrefix(path, "/dev/video") {
				return path, nil
			}
		}
	}
	return firstVideoNode()
}

// firstVideoNode is the fallback used when v4l2-ctl itself is unavailable.
func firstVideoNode() (string, error) {
	for i := 0; i < 8; i += 2 {
		path := fmt.Sprintf("/dev/video%d", i)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("camera: no /dev/video* node found")
}

var (
	formatHeaderRegex = regexp.MustCompile(`^\s*\[\d+\]:\s*'([A-Za-z0-9]+)'`)
	sizeRegex         = regexp.MustCompile(`Size:\s*Discrete\s*(\d+)x(\d+)`)
	fpsRegex          = regexp.MustCompile(`\(?(\d+)\.\d+\s*fps\)?`)
)

// fourccToPixelFormat maps a v4l2 FourCC code to our capability vocabulary.
// Codes outside this set are not capture candidates and are skipped.
func fourccToPixelFormat(fourcc string) (bus.PixelFormat, bool) {
	switch strings.ToUpper(fourcc) {
	case "MJPG":
		return bus.PixelFormatMJPEG, true
	case "YUYV":
		return bus.PixelFormatYUYV, true
	case "NV12":
		return bus.PixelFormatNV12, true
	case "GREY":
		return bus.PixelFormatGray, true
	case "RGB3":
		return bus.PixelFormatRGB24, true
	default:
		return "", false
	}
}

// EnumerateFormats lists every (format, resolution, fps) tuple the device
// reports, deduplicated by VideoConfig and sorted descending by width then
// by fps, per the capability negotiation contract.
func EnumerateFormats(ctx context.Context, devicePath string) ([]bus.VideoConfig, error) {
	out, err := runV4L2Ctl(ctx, "-d", devicePath, "--list-formats-ext")
	if err != nil {
		return nil, fmt.Errorf("camera: list-formats-ext %s: %w", devicePath, err)
	}

	seen := make(map[bus.VideoConfig]struct{})
	var configs []bus.VideoConfig

	var currentFormat bus.PixelFormat
	var inFormat bool
	var pendingWidth, pendingHeight int

	lines := strings.Split(string(out), "\n")
	for _, raw := range lines {
		line := strings.TrimSpace(raw)

		if m := formatHeaderRegex.FindStringSubmatch(line); m != nil {
			pf, ok := fourccToPixelFormat(m[1])
			currentFormat, inFormat = pf, ok
			continue
		}

		if !inFormat {
			continue
		}

		if m := sizeRegex.FindStringSubmatch(line); m != nil {
			pendingWidth, _ = strconv.Atoi(m[1])
			pendingHeight, _ = strconv.Atoi(m[2])
			continue
		}

		if m := fpsRegex.FindStringSubmatch(line); m != nil && pendingWidth > 0 {
			fps, _ := strconv.Atoi(m[1])
			cfg := bus.VideoConfig{
				Width: pendingWidth, Height: pendingHeight,
				FPS: fps, PixelFormat: currentFormat,
			}
			if _, dup := seen[cfg]; !dup {
				seen[cfg] = struct{}{}
				configs = append(configs, cfg)
			}
		}
	}

	sort.Slice(configs, func(i, j int) bool {
		if configs[i].Width != configs[j].Width {
			return configs[i].Width > configs[j].Width
		}
		return configs[i].FPS > configs[j].FPS
	})

	return configs, nil
}
