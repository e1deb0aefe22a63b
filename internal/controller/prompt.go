// SPDX-License-Identifier: MIT

package controller

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
)

// promptOutputPath answers the Enter key's "prompt user for output path"
// requirement. A huh.Form is a full-screen program of its own, so it cannot
// run while this model's Program holds the terminal; ReleaseTerminal/
// RestoreTerminal hand the terminal to the form for the duration of the
// prompt, the same bracket Bubble Tea documents for shelling out to any
// other interactive program mid-session.
func (m *model) promptOutputPath() tea.Cmd {
	return func() tea.Msg {
		if err := m.program.ReleaseTerminal(); err != nil {
			return outputPathMsg{ok: false}
		}
		defer m.program.RestoreTerminal()

		path := m.cfg.DefaultOutputDir + "/merged.mp4"
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Output path").
					Value(&path),
			),
		).WithAccessible(m.cfg.Accessible)

		if err := form.Run(); err != nil {
			return outputPathMsg{ok: false}
		}
		return outputPathMsg{path: path, ok: true}
	}
}
