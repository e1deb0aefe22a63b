// SPDX-License-Identifier: MIT

package camera

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/clipper-app/clipper/internal/bus"
)

// newCaptureCmd builds the ffmpeg invocation that reads the negotiated
// format off the v4l2 device and streams frames, undecoded, to stdout.
// Overridden in tests.
var newCaptureCmd = func(ctx context.Context, ffmpegPath, devicePath string, cfg bus.VideoConfig) *exec.Cmd {
	return exec.CommandContext(ctx, ffmpegPath, buildCaptureArgs(devicePath, cfg)...)
}

func buildCaptureArgs(devicePath string, cfg bus.VideoConfig) []string {
	videoSize := fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
	framerate := fmt.Sprintf("%d", cfg.FPS)

	input := []string{
		"-f", "v4l2",
		"-input_format", v4l2InputFormat(cfg.PixelFormat),
		"-video_size", videoSize,
		"-framerate", framerate,
		"-i", devicePath,
	}

	if cfg.PixelFormat == bus.PixelFormatMJPEG {
		return append(input, "-f", "image2pipe", "-vcodec", "copy", "-")
	}
	return append(input, "-f", "rawvideo", "-pix_fmt", ffmpegPixFmt(cfg.PixelFormat), "-")
}

func v4l2InputFormat(pf bus.PixelFormat) string {
	switch pf {
	case bus.PixelFormatMJPEG:
		return "mjpeg"
	case bus.PixelFormatYUYV:
		return "yuyv422"
	case bus.PixelFormatNV12:
		return "nv12"
	case bus.PixelFormatGray:
		return "gray"
	case bus.PixelFormatRGB24:
		return "rgb24"
	default:
		return "mjpeg"
	}
}

func ffmpegPixFmt(pf bus.PixelFormat) string {
	switch pf {
	case bus.PixelFormatYUYV:
		return "yuyv422"
	case bus.PixelFormatNV12:
		return "nv12"
	case bus.PixelFormatGray:
		return "gray"
	case bus.PixelFormatRGB24:
		return "rgb24"
	default:
		return "yuyv422"
	}
}

// rawFrameSize returns the exact byte count of one frame in cfg's native
// format. Zero for MJPEG, whose frames are variably sized and found by
// marker-scanning instead.
func rawFrameSize(cfg bus.VideoConfig) int {
	px := cfg.Width * cfg.Height
	switch cfg.PixelFormat {
	case bus.PixelFormatYUYV:
		return px * 2
	case bus.PixelFormatNV12:
		return px + px/2
	case bus.PixelFormatGray:
		return px
	case bus.PixelFormatRGB24:
		return px * 3
	default:
		return 0
	}
}

// frameSOI and frameEOI are the JPEG start-of-image / end-of-image markers
// the MJPEG reader scans for.
const (
	frameSOI = 0xD8
	frameEOI = 0xD9
	markerFF = 0xFF
)

// mjpegFrameTimeout bounds how long readMJPEGFrame will wait for a complete
// frame before giving up and resyncing, so a stalled driver doesn't hang the
// capture sub-loop indefinitely.
const mjpegFrameTimeout = 500 * time.Millisecond

// readMJPEGFrame reads one complete JPEG frame (SOI..EOI inclusive) from r,
// using scratch as reusable scan space across calls so the common case
// allocates nothing.
func readMJPEGFrame(r io.Reader, scratch *[]byte, buf []byte) ([]byte, error) {
	deadline := time.Now().Add(mjpegFrameTimeout)

	for !hasSOI(*scratch) {
		if time.Now().After(deadline) {
			*scratch = (*scratch)[:0]
			return nil, fmt.Errorf("camera: timed out finding JPEG start marker")
		}
		n, err := r.Read(buf)
		if err != nil {
			return nil, err
		}
		*scratch = append(*scratch, buf[:n]...)
		if i := soiIndex(*scratch); i >= 0 {
			*scratch = (*scratch)[i:]
		}
		if len(*scratch) > 1<<20 {
			*scratch = (*scratch)[len(*scratch)-1<<16:]
		}
	}

	for {
		if time.Now().After(deadline) {
			*scratch = (*scratch)[:0]
			return nil, fmt.Errorf("camera: timed out finding JPEG end marker")
		}
		if i := eoiIndex(*scratch); i >= 0 {
			frame := make([]byte, i+1)
			copy(frame, (*scratch)[:i+1])
			*scratch = append((*scratch)[:0], (*scratch)[i+1:]...)
			return frame, nil
		}
		n, err := r.Read(buf)
		if err != nil {
			return nil, err
		}
		*scratch = append(*scratch, buf[:n]...)
	}
}

func hasSOI(b []byte) bool { return soiIndex(b) >= 0 }

func soiIndex(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == markerFF && b[i+1] == frameSOI {
			return i
		}
	}
	return -1
}

func eoiIndex(b []byte) int {
	for i := 1; i < len(b); i++ {
		if b[i-1] == markerFF && b[i] == frameEOI {
			return i
		}
	}
	return -1
}

// readRawFrame reads exactly one fixed-size raw frame into a freshly
// allocated buffer.
func readRawFrame(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
