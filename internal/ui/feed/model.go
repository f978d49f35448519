// Package feed renders a timeline engine's snapshots as a live terminal view.
package feed

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/missionfeed/internal/keys"
	"github.com/zjrosen/missionfeed/internal/log"
	"github.com/zjrosen/missionfeed/internal/pubsub"
	"github.com/zjrosen/missionfeed/internal/timeline"
	"github.com/zjrosen/missionfeed/internal/ui/styles"
	"github.com/zjrosen/missionfeed/internal/ui/toaster"
)

// Engine is the part of timeline.Engine the view drives.
type Engine interface {
	pubsub.Subscriber[timeline.Snapshot]
	Snapshot() timeline.Snapshot
	SetEnabled(enabled bool)
	Refresh()
}

// Config holds display options.
type Config struct {
	// StaleAfter and DeadAfter color the heartbeat yellow and red.
	StaleAfter time.Duration
	DeadAfter  time.Duration
	ShowRole   bool
	TimeFormat string
	// MaxRendered caps how many of the newest events are drawn; 0 draws all.
	MaxRendered int
}

func (c Config) withDefaults() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Second
	}
	if c.DeadAfter <= 0 {
		c.DeadAfter = 60 * time.Second
	}
	if c.DeadAfter < c.StaleAfter {
		c.DeadAfter = c.StaleAfter
	}
	if c.TimeFormat == "" {
		c.TimeFormat = "15:04:05"
	}
	return c
}

const (
	defaultWidth  = 80
	defaultHeight = 24
)

// Model is the Bubble Tea model for the mission feed.
type Model struct {
	engine   Engine
	listener *pubsub.Listener[timeline.Snapshot]
	cfg      Config
	keys     keys.FeedKeyMap

	snap     timeline.Snapshot
	spinner  spinner.Model
	viewport viewport.Model
	help     help.Model
	toast    toaster.Model

	width     int
	height    int
	announced bool
}

// New subscribes to engine for the lifetime of ctx.
func New(ctx context.Context, engine Engine, cfg Config) Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.MiniDot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(styles.SpinnerColor)),
	)
	m := Model{
		engine:   engine,
		listener: pubsub.NewListener[timeline.Snapshot](ctx, engine),
		cfg:      cfg.withDefaults(),
		keys:     keys.Feed,
		snap:     engine.Snapshot(),
		spinner:  s,
		viewport: viewport.New(defaultWidth, defaultHeight),
		help:     help.New(),
		toast:    toaster.New(),
		width:    defaultWidth,
		height:   defaultHeight,
	}
	m.announced = m.snap.Terminated()
	m.layout(true)
	return m
}

// Init starts listening for snapshots.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.listener.Next(), m.spinner.Tick)
}

// Snapshot returns the snapshot currently on screen.
func (m Model) Snapshot() timeline.Snapshot {
	return m.snap
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.layout(m.viewport.AtBottom())
		return m, nil

	case pubsub.Event[timeline.Snapshot]:
		return m.handleSnapshot(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case toaster.DismissMsg:
		m.toast = m.toast.Update(msg)
		m.layout(m.viewport.AtBottom())
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleSnapshot(ev pubsub.Event[timeline.Snapshot]) (tea.Model, tea.Cmd) {
	follow := m.viewport.AtBottom()
	m.snap = ev.Payload

	cmds := []tea.Cmd{m.listener.Next()}
	if m.snap.Terminated() && !m.announced {
		m.announced = true
		var cmd tea.Cmd
		m.toast, cmd = m.toast.Show("Mission ended", toaster.StyleWarn, toaster.DefaultDuration)
		cmds = append(cmds, cmd)
		log.Info(log.CatUI, "Exit shown", "key", m.snap.SubscriptionKey)
	}
	if !m.snap.Terminated() {
		m.announced = false
	}
	m.layout(follow)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Pause):
		if m.snap.SubscriptionKey == "" || m.snap.Terminated() {
			return m, nil
		}
		enable := !m.snap.Enabled
		m.engine.SetEnabled(enable)
		text := "Paused"
		if enable {
			text = "Resumed"
		}
		m.toast, cmd = m.toast.Show(text, toaster.StyleInfo, toaster.DefaultDuration)

	case key.Matches(msg, m.keys.Refresh):
		if m.snap.SubscriptionKey == "" {
			return m, nil
		}
		m.engine.Refresh()
		m.toast, cmd = m.toast.Show("Refreshing", toaster.StyleInfo, toaster.DefaultDuration)

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, m.keys.Top):
		m.viewport.GotoTop()
		return m, nil

	case key.Matches(msg, m.keys.Bottom):
		m.viewport.GotoBottom()
		return m, nil

	default:
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	m.layout(m.viewport.AtBottom())
	return m, cmd
}

// layout sizes the viewport to the space between header and footer and
// refreshes its content. With follow set it stays pinned to the newest event.
func (m *Model) layout(follow bool) {
	chrome := lipgloss.Height(m.headerView()) + lipgloss.Height(m.footerView())
	h := m.height - chrome
	if h < 1 {
		h = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.viewport.SetContent(m.eventsView(m.width))
	if follow {
		m.viewport.GotoBottom()
	}
}

// View renders the model.
func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.headerView(),
		m.viewport.View(),
		m.footerView(),
	)
}
