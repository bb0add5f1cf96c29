package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "j", "down":
			if m.overview != nil && m.selected < len(m.overview.JobNames)-1 {
				m.selected++
				m.history = nil
				return m, m.refreshCmd()
			}
		case "k", "up":
			if m.selected > 0 {
				m.selected--
				m.history = nil
				return m, m.refreshCmd()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd(m.interval))

	case RefreshMsg:
		m.err = msg.Err
		m.lastRefresh = msg.At
		if msg.Err != nil {
			return m, nil
		}
		m.overview = msg.Overview
		if m.selected >= len(m.overview.JobNames) {
			m.selected = max(0, len(m.overview.JobNames)-1)
		}
		// drop history loaded for a job that is no longer selected
		if msg.History != nil && msg.History.JobName == m.selectedJob() {
			m.history = msg.History
		}
	}

	return m, nil
}
