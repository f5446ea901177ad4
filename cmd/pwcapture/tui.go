package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lanikai/pwcapture/internal/capture"
)

const refreshInterval = 250 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)
)

// One block color per slot state, in SlotState order.
var slotColors = []lipgloss.Color{
	capture.SlotFree:      "240",
	capture.SlotReserved:  "214",
	capture.SlotFilled:    "33",
	capture.SlotInFlight:  "42",
	capture.SlotRecycling: "161",
}

type tickMsg time.Time

// model shows the session state, the slot pool by state and the counters.
type model struct {
	stats func() capture.Stats
	last  capture.Stats
}

func newModel(s *capture.Session) model {
	return model{stats: s.Stats, last: s.Stats()}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		m.last = m.stats()
		return m, tick()
	}
	return m, nil
}

func (m model) View() string {
	s := m.last
	var b strings.Builder

	b.WriteString(titleStyle.Render("pw-capture"))
	b.WriteString("\n\n")

	state := s.State.String()
	if s.State == capture.Error {
		state = errorStyle.Render(state)
	}
	row(&b, "state", state)
	if s.State == capture.Streaming || s.State == capture.Paused {
		row(&b, "format", s.Format.String())
	}
	row(&b, "epoch", fmt.Sprint(s.Pool.Epoch))

	if s.Pool.Capacity == 0 {
		row(&b, "slots", dimStyle.Render("no pool"))
	} else {
		row(&b, "memory", memory(s))
		row(&b, "slots", slotBar(s.Pool))
		for st := capture.SlotFree; st <= capture.SlotRecycling; st++ {
			swatch := lipgloss.NewStyle().Foreground(slotColors[st]).Render("■")
			row(&b, "  "+st.String(), fmt.Sprintf("%s %d", swatch, s.Pool.Count(st)))
		}
	}

	b.WriteString("\n")
	row(&b, "submitted", fmt.Sprint(s.Submitted))
	row(&b, "delivered", fmt.Sprint(s.Delivered))
	row(&b, "released", fmt.Sprint(s.Released))
	row(&b, "backpressured", fmt.Sprint(s.Backpressured))
	row(&b, "not streaming", fmt.Sprint(s.NotStreaming))
	row(&b, "fill errors", fmt.Sprint(s.FillErrors))
	row(&b, "stale", fmt.Sprint(s.Stale))
	row(&b, "renegotiations", fmt.Sprint(s.Renegotiations))
	row(&b, "reconnects", fmt.Sprint(s.Reconnects))
	row(&b, "forced reclaims", fmt.Sprint(s.ForcedReclaims))

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

// Kind of slot memory, and detached backings still held elsewhere.
func memory(s capture.Stats) string {
	kind := "memfd"
	if s.Layout.DMABuf {
		kind = "dmabuf"
	}
	kind = fmt.Sprintf("%s, %d plane(s)", kind, s.Layout.Planes)
	if s.Pool.Orphans > 0 {
		kind += dimStyle.Render(fmt.Sprintf(" +%d detached", s.Pool.Orphans))
	}
	return kind
}

func row(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(value)
	b.WriteString("\n")
}

// One block per slot, grouped by state.
func slotBar(p capture.PoolSnapshot) string {
	var b strings.Builder
	for st := capture.SlotFree; st <= capture.SlotRecycling; st++ {
		if n := p.Count(st); n > 0 {
			style := lipgloss.NewStyle().Foreground(slotColors[st])
			b.WriteString(style.Render(strings.Repeat("█", n)))
		}
	}
	return b.String()
}
