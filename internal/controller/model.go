// SPDX-License-Identifier: MIT

package controller

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/clipper-app/clipper/internal/bus"
)

var (
	styleTitle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	styleRecording = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	styleIdle      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	styleError     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleHelp      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleClip      = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

// recordingState tracks the controller's own view of Idle/Recording - the
// authoritative state still lives in the Recorder, this is only what the UI
// believes so it can reject Space presses that would be no-ops.
type recordingState int

const (
	stateIdle recordingState = iota
	stateRecording
)

// model is the Running-phase repaint loop: drain the three channels,
// translate keys, render.
type model struct {
	cfg Config
	ch  Channels
	neg negotiated

	program *tea.Program

	recState  recordingState
	clips     []bus.ClipInfo
	lastError string
	quitting  bool
	prompting bool
}

func newModel(cfg Config, ch Channels, neg negotiated) *model {
	return &model{cfg: cfg, ch: ch, neg: neg}
}

// Bubble Tea message wrappers for the three bus channels. Each is produced
// by a Cmd that blocks on one channel and is re-armed after every message,
// which is the channel-draining equivalent of a polled non-blocking receive
// loop: nothing is read out of order and nothing is left unread between
// frames, it is simply delivered as soon as it arrives rather than on a
// fixed repaint tick.
type cameraMsg struct{ msg bus.CameraMessage }
type recorderMsg struct{ msg bus.RecorderMessage }
type audioMsg struct{ msg bus.AudioMessage }
type outputPathMsg struct {
	path string
	ok   bool
}

func waitCamera(ch <-chan bus.CameraMessage) tea.Cmd {
	return func() tea.Msg {
		m, ok := <-ch
		if !ok {
			return cameraMsg{}
		}
		return cameraMsg{msg: m}
	}
}

func waitRecorder(ch <-chan bus.RecorderMessage) tea.Cmd {
	return func() tea.Msg {
		m, ok := <-ch
		if !ok {
			return recorderMsg{}
		}
		return recorderMsg{msg: m}
	}
}

func waitAudio(ch <-chan bus.AudioMessage) tea.Cmd {
	return func() tea.Msg {
		m, ok := <-ch
		if !ok {
			return audioMsg{}
		}
		return audioMsg{msg: m}
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(
		waitCamera(m.ch.CameraMsg),
		waitRecorder(m.ch.RecorderMsg),
		waitAudio(m.ch.AudioMsg),
	)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case cameraMsg:
		return m.handleCameraMsg(msg)
	case recorderMsg:
		return m.handleRecorderMsg(msg)
	case audioMsg:
		return m.handleAudioMsg(msg)
	case outputPathMsg:
		m.prompting = false
		if !msg.ok || msg.path == "" {
			return m, nil
		}
		paths := make([]string, len(m.clips))
		for i, c := range m.clips {
			paths[i] = c.VideoPath
		}
		select {
		case m.ch.RecorderCmd <- bus.FinalizeVideo{OrderedPaths: paths, OutPath: msg.path}:
		default:
		}
		return m, nil
	}
	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.prompting {
		return m, nil
	}
	switch msg.Type {
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	case tea.KeySpace:
		// Terminals deliver key-down only, there is no key-up signal to
		// distinguish Space-down from Space-up - toggle between the two
		// RecorderCommands a held space bar would have produced.
		if m.recState == stateIdle {
			select {
			case m.ch.RecorderCmd <- bus.StartSegment{}:
				m.recState = stateRecording
			default:
			}
		} else {
			select {
			case m.ch.RecorderCmd <- bus.EndSegment{}:
				m.recState = stateIdle
			default:
			}
		}
		return m, nil
	case tea.KeyBackspace:
		if m.recState == stateIdle {
			select {
			case m.ch.RecorderCmd <- bus.Undo{}:
			default:
			}
		}
		return m, nil
	case tea.KeyEnter:
		if m.recState == stateIdle && len(m.clips) > 0 && !m.prompting {
			m.prompting = true
			return m, m.promptOutputPath()
		}
		return m, nil
	}
	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *model) handleCameraMsg(cm cameraMsg) (tea.Model, tea.Cmd) {
	switch c := cm.msg.(type) {
	case bus.CameraError:
		m.lastError = c.Err.Error()
	case bus.FrameMessage:
		_ = c // preview bytes are consumed by a rendering surface outside this text UI
	}
	return m, waitCamera(m.ch.CameraMsg)
}

func (m *model) handleRecorderMsg(rm recorderMsg) (tea.Model, tea.Cmd) {
	switch r := rm.msg.(type) {
	case bus.SegmentSaved:
		m.clips = append(m.clips, r.Clip)
	case bus.SegmentDeleted:
		if len(m.clips) > 0 {
			m.clips = m.clips[:len(m.clips)-1]
		}
	case bus.VideoFinalized:
		m.clips = nil
		m.lastError = ""
	case bus.RecorderError:
		m.lastError = r.Err.Error()
		m.recState = stateIdle
	}
	return m, waitRecorder(m.ch.RecorderMsg)
}

func (m *model) handleAudioMsg(am audioMsg) (tea.Model, tea.Cmd) {
	if e, ok := am.msg.(bus.AudioError); ok {
		m.lastError = e.Err.Error()
	}
	return m, waitAudio(m.ch.AudioMsg)
}

func (m *model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %dx%d@%dfps  mic: %s\n\n",
		styleTitle.Render("clipper"), m.neg.streamWidth, m.neg.streamHeight, m.neg.streamFPS, micLabel(m.neg.audioDevice))

	if m.recState == stateRecording {
		b.WriteString(styleRecording.Render("● RECORDING") + "\n")
	} else {
		b.WriteString(styleIdle.Render("○ idle") + "\n")
	}
	b.WriteString("\n")

	if len(m.clips) == 0 {
		b.WriteString(styleIdle.Render("no clips yet") + "\n")
	} else {
		for i, c := range m.clips {
			fmt.Fprintf(&b, "%s\n", styleClip.Render(fmt.Sprintf("%d. %s (%.1fs)", i+1, c.VideoPath, c.DurationSeconds)))
		}
	}

	if m.lastError != "" {
		fmt.Fprintf(&b, "\n%s\n", styleError.Render("! "+m.lastError))
	}

	b.WriteString("\n" + styleHelp.Render("space: record/stop   backspace: undo   enter: merge   q: quit"))
	return b.String()
}

func micLabel(name string) string {
	if name == "" {
		return "none"
	}
	return name
}
