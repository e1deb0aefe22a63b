// SPDX-License-Identifier: MIT

package recorder

import (
	"context"
	"fmt"
	"os"

	"github.com/clipper-app/clipper/internal/bus"
)

func (w *Worker) undo() {
	clip, ok := w.segments.PopLast()
	if !ok {
		return
	}
	_ = os.Remove(clip.VideoPath)
	_ = os.Remove(clip.ThumbPath)
	_ = os.Remove(clip.PreviewPath)

	select {
	case w.msgCh <- bus.SegmentDeleted{}:
	default:
	}
}

// finalizeVideo writes a concat list for orderedPaths, invokes the encoder
// in concat-demuxer/stream-copy mode, and on success deletes every source
// segment file plus the list file, clearing the in-memory list and
// resetting the counter. On failure all segment files are left intact so
// the user can retry.
func (w *Worker) finalizeVideo(ctx context.Context, orderedPaths []string, outPath string) {
	if len(orderedPaths) == 0 {
		return // no-op per the idempotence property
	}

	listPath := w.concatListPath()
	if err := writeConcatList(listPath, orderedPaths); err != nil {
		w.emitError(bus.ErrMuxFailed, "write concat list: %v", err)
		return
	}

	cmd := newFFmpegCmd(ctx, w.cfg.FFmpegPath, concatCommandArgs(listPath, outPath)...)
	if err := cmd.Run(); err != nil {
		w.emitError(bus.ErrMuxFailed, "concat: %v", err)
		return
	}

	for _, clip := range w.collectClips(orderedPaths) {
		_ = os.Remove(clip.VideoPath)
		_ = os.Remove(clip.ThumbPath)
		_ = os.Remove(clip.PreviewPath)
	}
	_ = os.Remove(listPath)

	w.segments.Clear()
	w.counter.Reset()

	select {
	case w.msgCh <- bus.VideoFinalized{OutPath: outPath}:
	default:
	}
}

// collectClips returns the ClipInfo entries whose VideoPath is named in
// orderedPaths, so their thumbnail/preview siblings can be cleaned up too.
func (w *Worker) collectClips(orderedPaths []string) []bus.ClipInfo {
	want := make(map[string]struct{}, len(orderedPaths))
	for _, p := range orderedPaths {
		want[p] = struct{}{}
	}
	var out []bus.ClipInfo
	for _, c := range w.segments.clips {
		if _, ok := want[c.VideoPath]; ok {
			out = append(out, c)
		}
	}
	return out
}

func writeConcatList(path string, paths []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, p := range paths {
		if _, err := fmt.Fprintf(f, "file '%s'\n", p); err != nil {
			return err
		}
	}
	return nil
}
