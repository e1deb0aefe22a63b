// SPDX-License-Identifier: MIT

package controller

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/clipper-app/clipper/internal/bus"
	"github.com/stretchr/testify/require"
)

func newTestModel() (*model, Channels, chan bus.RecorderCommand) {
	ch, _, _, recorderCmd, _, _ := testChannels()
	m := newModel(Config{}.withDefaults(), ch, negotiated{streamWidth: 640, streamHeight: 480, streamFPS: 30})
	return m, ch, recorderCmd
}

func TestSpaceTogglesStartAndEndSegment(t *testing.T) {
	m, _, recorderCmd := newTestModel()

	mm, _ := m.handleKey(tea.KeyMsg{Type: tea.KeySpace})
	m = mm.(*model)
	require.Equal(t, stateRecording, m.recState)
	select {
	case cmd := <-recorderCmd:
		_, ok := cmd.(bus.StartSegment)
		require.True(t, ok)
	default:
		t.Fatal("expected StartSegment on channel")
	}

	mm, _ = m.handleKey(tea.KeyMsg{Type: tea.KeySpace})
	m = mm.(*model)
	require.Equal(t, stateIdle, m.recState)
	select {
	case cmd := <-recorderCmd:
		_, ok := cmd.(bus.EndSegment)
		require.True(t, ok)
	default:
		t.Fatal("expected EndSegment on channel")
	}
}

func TestBackspaceOnlySentWhenIdle(t *testing.T) {
	m, _, recorderCmd := newTestModel()

	m.recState = stateRecording
	m.handleKey(tea.KeyMsg{Type: tea.KeyBackspace})
	select {
	case <-recorderCmd:
		t.Fatal("Undo should not be sent while recording")
	default:
	}

	m.recState = stateIdle
	m.handleKey(tea.KeyMsg{Type: tea.KeyBackspace})
	select {
	case cmd := <-recorderCmd:
		_, ok := cmd.(bus.Undo)
		require.True(t, ok)
	default:
		t.Fatal("expected Undo on channel")
	}
}

func TestEnterRequiresIdleAndClips(t *testing.T) {
	m, _, _ := newTestModel()

	_, cmd := m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd, "Enter with no clips should not prompt")
	require.False(t, m.prompting)

	m.clips = []bus.ClipInfo{{VideoPath: "clip_001.mp4"}}
	_, cmd = m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.True(t, m.prompting)
}

func TestRecorderMsgSegmentSavedAndDeleted(t *testing.T) {
	m, _, _ := newTestModel()

	mm, _ := m.handleRecorderMsg(recorderMsg{msg: bus.SegmentSaved{Clip: bus.ClipInfo{VideoPath: "clip_001.mp4", DurationSeconds: 2}}})
	m = mm.(*model)
	require.Len(t, m.clips, 1)

	mm, _ = m.handleRecorderMsg(recorderMsg{msg: bus.SegmentDeleted{}})
	m = mm.(*model)
	require.Len(t, m.clips, 0)
}

func TestRecorderMsgErrorResetsToIdle(t *testing.T) {
	m, _, _ := newTestModel()
	m.recState = stateRecording

	mm, _ := m.handleRecorderMsg(recorderMsg{msg: bus.RecorderError{Err: bus.NewWorkerError(bus.ErrMuxFailed, "boom")}})
	m = mm.(*model)
	require.Equal(t, stateIdle, m.recState)
	require.Contains(t, m.lastError, "boom")
}

func TestCameraAndAudioErrorsSurface(t *testing.T) {
	m, _, _ := newTestModel()

	mm, _ := m.handleCameraMsg(cameraMsg{msg: bus.CameraError{Err: bus.NewWorkerError(bus.ErrDeviceUnavailable, "no camera")}})
	m = mm.(*model)
	require.Contains(t, m.lastError, "no camera")

	mm, _ = m.handleAudioMsg(audioMsg{msg: bus.AudioError{Err: bus.NewWorkerError(bus.ErrDeviceUnavailable, "no mic")}})
	m = mm.(*model)
	require.Contains(t, m.lastError, "no mic")
}

func TestViewRendersWithoutPanicking(t *testing.T) {
	m, _, _ := newTestModel()
	m.clips = []bus.ClipInfo{{VideoPath: "clip_001.mp4", DurationSeconds: 1.5}}
	out := m.View()
	require.Contains(t, out, "clipper")
	require.Contains(t, out, "clip_001.mp4")
}

func TestQuitSetsQuittingAndReturnsEmptyView(t *testing.T) {
	m, _, _ := newTestModel()
	mm, cmd := m.handleKey(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = mm.(*model)
	require.NotNil(t, cmd)
	require.True(t, m.quitting)
	require.Equal(t, "", m.View())
}
