package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/surge-downloader/fetchd/internal/engine/types"
)

func (m RootModel) View() string {
	var sections []string
	sections = append(sections, m.renderHeader())

	if m.err != nil {
		sections = append(sections, ErrorTextStyle.Render(fmt.Sprintf("Cannot reach the fetchd server: %v", m.err)))
	}

	switch m.state {
	case DetailState:
		if d := m.selected(); d != nil {
			sections = append(sections, m.renderDetail(*d))
		}
	default:
		sections = append(sections, m.renderThroughput(), m.renderList())
	}

	if m.state == InputState {
		sections = append(sections, m.renderInput())
	}
	sections = append(sections, m.renderFooter())

	return AppStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m RootModel) renderHeader() string {
	counts := map[types.Status]int{}
	for _, d := range m.downloads {
		counts[types.Status(d.Status)]++
	}
	stats := fmt.Sprintf("%d active · %d queued · %d paused · %d done · %d failed",
		counts[types.StatusDownloading],
		counts[types.StatusQueued],
		counts[types.StatusPaused],
		counts[types.StatusCompleted],
		counts[types.StatusError],
	)
	title := TitleStyle.Render("fetchd")
	return HeaderStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", StatsStyle.Render(stats)))
}

func (m RootModel) renderThroughput() string {
	width := m.width - 20
	if width < 10 {
		width = 40
	}
	current := 0.0
	if len(m.throughput) > 0 {
		current = m.throughput[len(m.throughput)-1]
	}
	label := StatsStyle.Render(fmt.Sprintf("%s/s", humanize.IBytes(uint64(current))))
	graph := renderGraph(m.throughput, width, GraphHeight, maxOf(m.throughput), ColorInfo)
	return lipgloss.JoinHorizontal(lipgloss.Bottom, graph, " ", label)
}

func (m RootModel) renderList() string {
	if len(m.downloads) == 0 {
		return PanelStyle.Render(StatsStyle.Render("No downloads. Press a to add one."))
	}

	rows := make([]string, 0, len(m.downloads))
	for i, d := range m.downloads {
		rows = append(rows, m.renderRow(d, i == m.cursor))
	}
	return PanelStyle.Render(strings.Join(rows, "\n"))
}

func (m RootModel) renderRow(d types.DownloadStatus, selected bool) string {
	cursor := "  "
	nameStyle := ItemStyle
	if selected {
		cursor = SelectedItemStyle.Render("> ")
		nameStyle = SelectedItemStyle
	}

	name := nameStyle.Render(fmt.Sprintf("%-*s", FilenameWidth, truncate(d.Filename, FilenameWidth)))
	status := statusStyle(types.Status(d.Status)).Render(fmt.Sprintf("%-11s", d.Status))

	var tail string
	if types.Status(d.Status) == types.StatusError {
		tail = ErrorTextStyle.Render(truncate(d.Error, ProgressWidth+20))
	} else {
		tail = fmt.Sprintf("%s %s", m.progress.ViewAs(d.Progress/100), sizeLabel(d))
	}
	return cursor + name + " " + status + " " + tail
}

func (m RootModel) renderDetail(d types.DownloadStatus) string {
	lines := []string{
		TitleStyle.Render(d.Filename),
		"",
		field("ID", d.ID),
		field("URL", d.URL),
		field("Status", statusStyle(types.Status(d.Status)).Render(d.Status)),
		field("Progress", fmt.Sprintf("%s %.1f%%", m.progress.ViewAs(d.Progress/100), d.Progress)),
		field("Size", sizeLabel(d)),
		field("Streams", fmt.Sprintf("%d", d.Chunks)),
		field("Added", humanize.Time(d.CreatedAt)),
	}
	if d.DestPath != "" {
		lines = append(lines, field("Path", d.DestPath))
	}
	if d.Error != "" {
		lines = append(lines, field("Error", ErrorTextStyle.Render(d.Error)))
	}
	return PanelStyle.Render(strings.Join(lines, "\n"))
}

func (m RootModel) renderInput() string {
	return PanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		InputPromptStyle.Render("Add download"),
		m.input.View(),
		m.help.View(InputKeys),
	))
}

func (m RootModel) renderFooter() string {
	if m.notice != "" {
		return NoticeStyle.Render(m.notice)
	}
	return m.help.View(m.keys)
}

func field(label, value string) string {
	return StatsStyle.Render(fmt.Sprintf("%-9s", label+":")) + " " + value
}

func sizeLabel(d types.DownloadStatus) string {
	done := humanize.IBytes(uint64(d.Downloaded))
	if d.TotalSize == nil {
		return done + " / ?"
	}
	return done + " / " + humanize.IBytes(uint64(*d.TotalSize))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
