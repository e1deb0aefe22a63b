// SPDX-License-Identifier: MIT

// Package recorder implements the Recorder worker: the per-segment encoder
// lifecycle, audio/video muxing, the live segment list, undo, and the final
// ordered concat.
package recorder

import (
	"fmt"

	"github.com/clipper-app/clipper/internal/bus"
)

// State is the Recorder's two-state machine: Idle (no segment open) or
// Recording (one encoder subprocess alive).
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	if s == StateRecording {
		return "Recording"
	}
	return "Idle"
}

// SegmentList is the ordered, Recorder-owned sequence of saved clips. It is
// never touched from outside the Recorder's own goroutine, so it carries no
// locking of its own.
type SegmentList struct {
	clips []bus.ClipInfo
}

// Append adds a newly-saved clip to the end of the list, preserving capture
// order.
func (l *SegmentList) Append(c bus.ClipInfo) { l.clips = append(l.clips, c) }

// PopLast removes and returns the most recently appended clip, for Undo.
func (l *SegmentList) PopLast() (bus.ClipInfo, bool) {
	if len(l.clips) == 0 {
		return bus.ClipInfo{}, false
	}
	last := l.clips[len(l.clips)-1]
	l.clips = l.clips[:len(l.clips)-1]
	return last, true
}

// Clear empties the list after a successful FinalizeVideo.
func (l *SegmentList) Clear() { l.clips = nil }

// Len reports the number of live segments.
func (l *SegmentList) Len() int { return len(l.clips) }

// Paths returns every clip's video path in list order, for building a
// default (non-reordered) concat.
func (l *SegmentList) Paths() []string {
	paths := make([]string, len(l.clips))
	for i, c := range l.clips {
		paths[i] = c.VideoPath
	}
	return paths
}

// segmentFilenames derives the clip/thumbnail/preview filenames for a given
// counter value, zero-padded to three digits as the external interface
// requires.
func segmentFilenames(n uint64) (clip, thumb, preview string) {
	return fmt.Sprintf("clip_%03d.mp4", n),
		fmt.Sprintf("thumb_%03d.jpg", n),
		fmt.Sprintf("preview_%03d.gif", n)
}

const (
	tmpVideoFile = "tmp_vid.mp4"
	tmpAudioFile = "tmp_aud.mp4"
	concatFile   = "concat_list.txt"
)
