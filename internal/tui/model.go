package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/surge-downloader/fetchd/internal/core"
	"github.com/surge-downloader/fetchd/internal/engine/types"
)

type UIState int

const (
	DashboardState UIState = iota
	InputState
	DetailState
)

type tickMsg time.Time

// listMsg carries one poll of the download list.
type listMsg struct {
	downloads []types.DownloadStatus
	err       error
	at        time.Time
}

// actionDoneMsg reports the result of a control action.
type actionDoneMsg struct {
	verb string
	id   string
	err  error
}

type RootModel struct {
	service   core.DownloadService
	downloads []types.DownloadStatus
	width     int
	height    int
	state     UIState

	input    textinput.Model
	help     help.Model
	keys     KeyMap
	progress progress.Model

	// Navigation
	cursor int

	// Aggregate bytes/sec between polls, newest last
	throughput []float64
	lastBytes  int64
	lastPoll   time.Time

	err       error // last poll error; the daemon may be gone
	notice    string
	noticeEnd time.Time
}

func NewRootModel(svc core.DownloadService) RootModel {
	urlInput := textinput.New()
	urlInput.Placeholder = "https://example.com/file.zip"
	urlInput.Width = InputWidth
	urlInput.Prompt = ""
	urlInput.CharLimit = 2048

	return RootModel{
		service:  svc,
		state:    DashboardState,
		input:    urlInput,
		help:     help.New(),
		keys:     Keys,
		progress: progress.New(progress.WithGradient(string(ColorPrimary), string(ColorSecondary)), progress.WithWidth(ProgressWidth)),
	}
}

func (m RootModel) Init() tea.Cmd {
	return tea.Batch(fetchList(m.service), tick())
}

func tick() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchList(svc core.DownloadService) tea.Cmd {
	return func() tea.Msg {
		list, err := svc.List()
		return listMsg{downloads: list, err: err, at: time.Now()}
	}
}

func runAction(verb, id string, fn func(string) error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{verb: verb, id: id, err: fn(id)}
	}
}

func addURL(svc core.DownloadService, url string) tea.Cmd {
	return func() tea.Msg {
		status, err := svc.Add(url)
		id := ""
		if status != nil {
			id = status.ID
		}
		return actionDoneMsg{verb: "Queued", id: id, err: err}
	}
}

// selected returns the download under the cursor.
func (m RootModel) selected() *types.DownloadStatus {
	if m.cursor < 0 || m.cursor >= len(m.downloads) {
		return nil
	}
	return &m.downloads[m.cursor]
}

// recordThroughput folds a new poll into the throughput history.
func (m *RootModel) recordThroughput(list []types.DownloadStatus, at time.Time) {
	var total int64
	for _, d := range list {
		total += d.Downloaded
	}
	if !m.lastPoll.IsZero() {
		elapsed := at.Sub(m.lastPoll).Seconds()
		delta := total - m.lastBytes
		// A restart or removal shrinks the total; that is not negative speed.
		if delta < 0 {
			delta = 0
		}
		if elapsed > 0 {
			m.throughput = append(m.throughput, float64(delta)/elapsed)
			if len(m.throughput) > ThroughputHistory {
				m.throughput = m.throughput[len(m.throughput)-ThroughputHistory:]
			}
		}
	}
	m.lastBytes = total
	m.lastPoll = at
}

func (m *RootModel) setNotice(text string) {
	m.notice = text
	m.noticeEnd = time.Now().Add(NoticeDuration)
}
