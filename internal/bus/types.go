// SPDX-License-Identifier: MIT

// Package bus defines the typed messages and shared data model that tie the
// Camera, Recorder, Audio and Controller workers together. Every cross-worker
// interaction in clipper is one of these types flowing over a Go channel —
// no worker reaches into another's state.
package bus

import (
	"fmt"
	"sync/atomic"
	"time"
)

// PixelFormat identifies a camera's native pixel encoding.
type PixelFormat string

const (
	PixelFormatMJPEG PixelFormat = "MJPEG"
	PixelFormatYUYV  PixelFormat = "YUYV"
	PixelFormatNV12  PixelFormat = "NV12"
	PixelFormatGray  PixelFormat = "GRAY"
	PixelFormatRGB24 PixelFormat = "RGB24"
)

// VideoConfig is an immutable capability tuple reported by the camera and
// requested by the controller. Equality is structural.
type VideoConfig struct {
	Width       int
	Height      int
	FPS         int
	PixelFormat PixelFormat
}

// Display renders the "WxH@Ffps (FMT)" form used in the capability list.
func (c VideoConfig) Display() string {
	return fmt.Sprintf("%dx%d@%dfps (%s)", c.Width, c.Height, c.FPS, c.PixelFormat)
}

func (c VideoConfig) String() string { return c.Display() }

// AudioDevice identifies a microphone input. Index is stable for the
// lifetime of the Audio worker process.
type AudioDevice struct {
	Name  string
	Index int
}

// RefCountedBuffer is an immutable byte buffer shared by reference across
// goroutines without copying. It models the capture device's raw frame: one
// capture produces it, the pacing loop and the encoder stdin writer each
// hold a reference, and the last holder's release is a no-op — the buffer
// itself never mutates after Frame creation, so no actual refcounting or
// pooling is required for correctness, only for avoiding a second copy.
type RefCountedBuffer struct {
	data []byte
}

// NewRefCountedBuffer wraps data without copying it. The caller must not
// mutate data after this call.
func NewRefCountedBuffer(data []byte) *RefCountedBuffer {
	return &RefCountedBuffer{data: data}
}

// Bytes returns the underlying immutable buffer.
func (b *RefCountedBuffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

func (b *RefCountedBuffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Frame is one captured image pair: the raw buffer in the camera's native
// pixel format, and an owned 854x480 RGB24 preview for UI display.
type Frame struct {
	Raw         *RefCountedBuffer
	Preview     []byte
	PreviewW    int
	PreviewH    int
	CaptureTime time.Time
}

const (
	PreviewWidth  = 854
	PreviewHeight = 480
)

// ClipInfo is a persistent per-segment record, created on successful mux and
// destroyed by Undo or cleared by a successful FinalizeVideo.
type ClipInfo struct {
	VideoPath       string
	ThumbPath       string
	PreviewPath     string
	DurationSeconds float64
}

// Encoder selects the hardware encoder backend used by the external
// encoder binary.
type Encoder string

const (
	EncoderCPU    Encoder = "CPU"
	EncoderNVIDIA Encoder = "NVIDIA"
	EncoderAMD    Encoder = "AMD"
	EncoderIntel  Encoder = "INTEL"
)

// Quality selects an encoding quality preset.
type Quality string

const (
	QualityHigh Quality = "High"
	QualityMed  Quality = "Med"
	QualityLow  Quality = "Low"
)

// Speed selects an encoding speed preset.
type Speed string

const (
	SpeedFastest Speed = "Fastest"
	SpeedBalanced Speed = "Balanced"
	SpeedCompact Speed = "Compact"
)

// EncodingProfile is owned by the Recorder, mutated only via UpdateConfig,
// and read at each StartSegment.
type EncodingProfile struct {
	Encoder Encoder
	Quality Quality
	Speed   Speed
}

// DefaultEncodingProfile mirrors the original implementation's defaults.
func DefaultEncodingProfile() EncodingProfile {
	return EncodingProfile{Encoder: EncoderCPU, Quality: QualityMed, Speed: SpeedBalanced}
}

// SegmentCounter is a strictly-increasing-until-reset counter, split out as
// its own type so its single invariant (monotone between FinalizeVideo
// resets, never decremented by Undo) is obvious at every call site.
type SegmentCounter struct {
	n atomic.Uint64
}

// Next increments and returns the new counter value.
func (c *SegmentCounter) Next() uint64 { return c.n.Add(1) }

// Value returns the current counter value without mutating it.
func (c *SegmentCounter) Value() uint64 { return c.n.Load() }

// Reset sets the counter back to zero, done only after a successful
// FinalizeVideo.
func (c *SegmentCounter) Reset() { c.n.Store(0) }

// ErrorKind classifies the failures the core can surface to the UI.
type ErrorKind int

const (
	ErrDeviceUnavailable ErrorKind = iota
	ErrFormatRejected
	ErrEncoderSpawnFailed
	ErrEncoderExitedNonZero
	ErrMuxFailed
	ErrTempFilesMissing
	ErrAudioStreamLost
	ErrWriterFlushFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrDeviceUnavailable:
		return "DeviceUnavailable"
	case ErrFormatRejected:
		return "FormatRejected"
	case ErrEncoderSpawnFailed:
		return "EncoderSpawnFailed"
	case ErrEncoderExitedNonZero:
		return "EncoderExitedNonZero"
	case ErrMuxFailed:
		return "MuxFailed"
	case ErrTempFilesMissing:
		return "TempFilesMissing"
	case ErrAudioStreamLost:
		return "AudioStreamLost"
	case ErrWriterFlushFailed:
		return "WriterFlushFailed"
	default:
		return "Unknown"
	}
}

// WorkerError is the typed payload behind every Error(text) message.
type WorkerError struct {
	Kind ErrorKind
	Text string
}

func (e *WorkerError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Text) }

func NewWorkerError(kind ErrorKind, format string, args ...any) *WorkerError {
	return &WorkerError{Kind: kind, Text: fmt.Sprintf(format, args...)}
}
