package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		if !m.noticeEnd.IsZero() && time.Time(msg).After(m.noticeEnd) {
			m.notice = ""
			m.noticeEnd = time.Time{}
		}
		return m, tea.Batch(fetchList(m.service), tick())

	case listMsg:
		m.err = msg.err
		if msg.err != nil {
			return m, nil
		}
		m.recordThroughput(msg.downloads, msg.at)
		m.downloads = msg.downloads
		if m.cursor >= len(m.downloads) {
			m.cursor = len(m.downloads) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		if m.state == DetailState && len(m.downloads) == 0 {
			m.state = DashboardState
		}
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.setNotice(fmt.Sprintf("%s failed: %v", strings.ToLower(msg.verb), msg.err))
		} else {
			text := msg.verb
			if msg.id != "" {
				text += " " + shortID(msg.id)
			}
			m.setNotice(text)
		}
		return m, fetchList(m.service)

	case tea.KeyMsg:
		if m.state == InputState {
			return m.updateInput(msg)
		}
		return m.updateDashboard(msg)
	}
	return m, nil
}

func (m RootModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, InputKeys.Cancel):
		m.state = DashboardState
		m.input.Blur()
		m.input.SetValue("")
		return m, nil
	case key.Matches(msg, InputKeys.Submit):
		url := strings.TrimSpace(m.input.Value())
		m.state = DashboardState
		m.input.Blur()
		m.input.SetValue("")
		if url == "" {
			return m, nil
		}
		return m, addURL(m.service, url)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m RootModel) updateDashboard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case msg.Type == tea.KeyEsc && m.state == DetailState:
		m.state = DashboardState
		return m, nil
	case msg.Type == tea.KeyEnter:
		if m.selected() != nil {
			if m.state == DetailState {
				m.state = DashboardState
			} else {
				m.state = DetailState
			}
		}
		return m, nil
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.downloads)-1 {
			m.cursor++
		}
		return m, nil
	case key.Matches(msg, m.keys.Add):
		m.state = InputState
		cmd := m.input.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.ClearCompleted):
		svc := m.service
		return m, func() tea.Msg {
			n, err := svc.DeleteCompleted()
			return actionDoneMsg{verb: fmt.Sprintf("Cleared %d", n), err: err}
		}
	}

	d := m.selected()
	if d == nil {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Pause):
		return m, runAction("Paused", d.ID, m.service.Pause)
	case key.Matches(msg, m.keys.Resume):
		return m, runAction("Resumed", d.ID, m.service.Resume)
	case key.Matches(msg, m.keys.Delete):
		return m, runAction("Removed", d.ID, m.service.Delete)
	case key.Matches(msg, m.keys.Open):
		return m, runAction("Opened", d.ID, m.service.Open)
	}
	return m, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
