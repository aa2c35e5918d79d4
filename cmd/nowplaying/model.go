package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/krosov/mediasessions/pkg/mediasessions"
)

// UI refresh tick, fires every 500ms for progress interpolation
type tickMsg time.Time

// One engine event pulled off the subscription channel
type engineEventMsg mediasessions.Event

// The subscription channel closed (engine shut down)
type engineClosedMsg struct{}

type model struct {
	engine *mediasessions.MediaSessions
	events chan mediasessions.Event

	info      *mediasessions.MediaInfo
	activeApp string
	lastError error

	// interpolation anchors for the progress bar between engine events
	anchorPosition time.Duration
	anchorTime     time.Time

	width    int
	height   int
	showHelp bool
}

func newModel(engine *mediasessions.MediaSessions) model {
	m := model{
		engine: engine,
		events: engine.Subscribe(),
	}
	m.refresh()

	return m
}

// refresh pulls the engine's cached state; it never blocks on backend I/O.
func (m *model) refresh() {
	m.info = m.engine.Current()
	m.activeApp = m.engine.ActiveApp()

	if m.info != nil && m.info.Position != nil {
		m.anchorPosition = *m.info.Position
		m.anchorTime = time.Now()
	}
}

// currentPosition interpolates the playhead between accepted position
// events, so the bar moves smoothly while debouncing holds ticks back.
func (m model) currentPosition() time.Duration {
	if m.info == nil || m.info.Position == nil {
		return 0
	}
	if !m.info.Status.IsPlaying() {
		return m.anchorPosition
	}

	pos := m.anchorPosition + time.Since(m.anchorTime)
	if m.info.Duration != nil && pos > *m.info.Duration {
		pos = *m.info.Duration
	}
	return pos
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*500, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForEventCmd(events chan mediasessions.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return engineClosedMsg{}
		}
		return engineEventMsg(ev)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitForEventCmd(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.engine.Unsubscribe(m.events)
			return m, tea.Quit
		case "p", " ":
			m.lastError = m.engine.PlayPause()
			m.refresh()
			return m, nil
		case "n":
			m.lastError = m.engine.Next()
			return m, nil
		case "b":
			m.lastError = m.engine.Previous()
			return m, nil
		case "s":
			m.lastError = m.engine.Stop()
			m.refresh()
			return m, nil
		case "?":
			m.showHelp = !m.showHelp
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tickCmd()

	case engineEventMsg:
		m.refresh()
		return m, waitForEventCmd(m.events)

	case engineClosedMsg:
		return m, tea.Quit
	}

	return m, nil
}
