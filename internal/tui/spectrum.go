// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"
	"time"

	"micscope/internal/spectrum"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#767676"))
)

// Controller is the part of the analyzer the spectrum view drives.
type Controller interface {
	Snapshot() *spectrum.Snapshot
	State() spectrum.State
	StartAnalysis()
	StopAnalysis()
}

// SpectrumOptions configures a SpectrumModel.
type SpectrumOptions struct {
	Title     string
	Refresh   time.Duration
	BarHeight int
	// StaleAfter blanks the bars when the newest snapshot is older than
	// this, so a stalled capture does not freeze the display.
	StaleAfter time.Duration
	// Status, if set, is rendered under the bars on every refresh.
	Status func() string
}

var (
	quitKey   = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	toggleKey = key.NewBinding(key.WithKeys(" "))
)

type tickMsg time.Time

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// SpectrumModel is the Bubble Tea model for the live bar display. It never
// blocks the analyzer: each refresh tick reads the latest published
// snapshot and renders whatever it finds.
type SpectrumModel struct {
	ctrl  Controller
	opts  SpectrumOptions
	width int

	snap  *spectrum.Snapshot
	state spectrum.State
	now   time.Time
}

// NewSpectrumModel creates a model polling ctrl. Zero options fall back to
// a 50ms refresh, 12-row bars and a one second staleness limit.
func NewSpectrumModel(ctrl Controller, opts SpectrumOptions) SpectrumModel {
	if opts.Refresh <= 0 {
		opts.Refresh = 50 * time.Millisecond
	}
	if opts.BarHeight <= 0 {
		opts.BarHeight = 12
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Second
	}
	if opts.Title == "" {
		opts.Title = "Spectrum"
	}
	return SpectrumModel{
		ctrl:  ctrl,
		opts:  opts,
		state: ctrl.State(),
		snap:  ctrl.Snapshot(),
		now:   time.Now(),
	}
}

// Init starts the refresh ticker.
func (m SpectrumModel) Init() tea.Cmd {
	return tick(m.opts.Refresh)
}

// Update handles refresh ticks and key presses.
func (m SpectrumModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		m.now = time.Time(msg)
		m.snap = m.ctrl.Snapshot()
		m.state = m.ctrl.State()
		return m, tick(m.opts.Refresh)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, quitKey):
			return m, tea.Quit
		case key.Matches(msg, toggleKey):
			if m.ctrl.State() == spectrum.Analyzing {
				m.ctrl.StopAnalysis()
			} else {
				m.ctrl.StartAnalysis()
			}
			m.now = time.Now()
			m.snap = m.ctrl.Snapshot()
			m.state = m.ctrl.State()
		}
	}
	return m, nil
}

// View renders the title, the bars and the help line.
func (m SpectrumModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(m.opts.Title))
	sb.WriteString(" ")
	sb.WriteString(infoStyle.Render(m.state.String()))
	sb.WriteString("\n\n")

	if stale := m.stale(); m.snap.Len() == 0 || stale {
		label := "no signal"
		if stale {
			label += " (capture stalled)"
		}
		blank := strings.Repeat("\n", m.opts.BarHeight-1)
		sb.WriteString(dimStyle.Render(label))
		sb.WriteString(blank)
		sb.WriteString("\n\n")
	} else {
		colWidth := m.columnWidth(m.snap.Len())
		sb.WriteString(barStyle.Render(renderBars(m.snap.Magnitudes, m.opts.BarHeight, colWidth)))
		sb.WriteString("\n")
		sb.WriteString(dimStyle.Render(axis(m.snap.Frequencies, colWidth)))
		sb.WriteString("\n")
		_, freq, mag := m.snap.Peak()
		sb.WriteString(fmt.Sprintf("Peak: %s Hz (%.2f)\n", axisLabel(freq), mag))
	}

	if m.opts.Status != nil {
		sb.WriteString(dimStyle.Render(m.opts.Status()))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render("Space: Start/Stop • q: Quit"))
	return sb.String()
}

// stale reports whether the held snapshot is too old to draw.
func (m SpectrumModel) stale() bool {
	return m.snap != nil && m.snap.Age(m.now) > m.opts.StaleAfter
}

// columnWidth spreads bins over the terminal width, up to three cells each.
func (m SpectrumModel) columnWidth(bins int) int {
	if m.width <= 0 || bins == 0 {
		return 2
	}
	return min(max(m.width/bins, 1), 3)
}

// axis labels the first, middle and last bins.
func axis(freqs []float64, colWidth int) string {
	n := len(freqs)
	if n == 0 {
		return ""
	}
	line := []rune(strings.Repeat(" ", n*colWidth))
	place := func(i int) {
		label := []rune(axisLabel(freqs[i]))
		start := min(i*colWidth, len(line)-len(label))
		if start < 0 {
			return
		}
		copy(line[start:], label)
	}
	place(0)
	place(n / 2)
	place(n - 1)
	return string(line)
}

// RunSpectrum runs the spectrum view until the user quits.
func RunSpectrum(ctrl Controller, opts SpectrumOptions) error {
	p := tea.NewProgram(
		NewSpectrumModel(ctrl, opts),
		tea.WithAltScreen(),
	)
	_, err := p.Run()
	return err
}
