// SPDX-License-Identifier: MIT

package recorder

import (
	"fmt"

	"github.com/clipper-app/clipper/internal/bus"
)

// speedIndex and qualityIndex map the three-tier Speed/Quality enums onto the
// matching index into each encoder's own preset arrays (fastest/highest-quality
// first, matching the external interface's ordering).
func speedIndex(s bus.Speed) int {
	switch s {
	case bus.SpeedFastest:
		return 0
	case bus.SpeedBalanced:
		return 1
	default: // SpeedCompact
		return 2
	}
}

func qualityIndex(q bus.Quality) int {
	switch q {
	case bus.QualityHigh:
		return 0
	case bus.QualityMed:
		return 1
	default: // QualityLow
		return 2
	}
}

// encoderArgs builds the `<enc_args>` fragment of the segment capture
// command for the given profile.
func encoderArgs(p bus.EncodingProfile) []string {
	switch p.Encoder {
	case bus.EncoderNVIDIA:
		presets := [3]string{"p1", "p4", "p7"}
		cq := [3]string{"19", "23", "28"}
		return []string{
			"-c:v", "h264_nvenc", "-pix_fmt", "yuv420p",
			"-preset", presets[speedIndex(p.Speed)],
			"-rc:v", "vbr", "-cq", cq[qualityIndex(p.Quality)],
		}
	case bus.EncoderAMD:
		return []string{"-c:v", "h264_amf", "-usage", "transcoding"}
	case bus.EncoderIntel:
		return []string{"-c:v", "h264_qsv", "-preset", "medium"}
	default: // EncoderCPU
		presets := [3]string{"ultrafast", "veryfast", "medium"}
		crf := [3]string{"18", "23", "28"}
		return []string{
			"-c:v", "libx264", "-pix_fmt", "yuv420p",
			"-preset", presets[speedIndex(p.Speed)],
			"-crf", crf[qualityIndex(p.Quality)],
			"-tune", "zerolatency",
		}
	}
}

// captureCommandArgs builds the full ffmpeg invocation that reads frames on
// stdin and writes the segment's temporary video file.
func captureCommandArgs(width, height, fps int, format bus.PixelFormat, profile bus.EncodingProfile, tmpVideoPath string) []string {
	var input []string
	if format == bus.PixelFormatMJPEG {
		input = []string{"-f", "mjpeg", "-framerate", fmt.Sprintf("%d", fps), "-i", "-"}
	} else {
		input = []string{
			"-f", "rawvideo",
			"-pixel_format", string(format),
			"-video_size", fmt.Sprintf("%dx%d", width, height),
			"-framerate", fmt.Sprintf("%d", fps),
			"-i", "-",
		}
	}
	args := append(input, encoderArgs(profile)...)
	return append(args, "-y", tmpVideoPath)
}

func muxCommandArgs(tmpVideoPath, tmpAudioPath, clipPath string) []string {
	return []string{
		"-i", tmpVideoPath, "-i", tmpAudioPath,
		"-c:v", "copy", "-c:a", "aac", "-y", clipPath,
	}
}

func thumbnailCommandArgs(clipPath, thumbPath string) []string {
	return []string{
		"-i", clipPath, "-ss", "00:00:00.000", "-vframes", "1",
		"-vf", "scale=200:-1", "-y", thumbPath,
	}
}

func previewGIFCommandArgs(clipPath, previewPath string) []string {
	return []string{
		"-i", clipPath, "-vf", "fps=5,scale=160:-1:flags=lanczos",
		"-f", "gif", "-y", previewPath,
	}
}

func concatCommandArgs(listPath, outPath string) []string {
	return []string{"-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", "-y", outPath}
}

func durationProbeArgs(clipPath string) []string {
	return []string{
		"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", clipPath,
	}
}
