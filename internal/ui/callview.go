package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/amigotalk/meshcall/internal/call"
)

// CallView is the live in-call terminal view: the roster with speaking
// indicators, the local mute and share state, and the m/s/q key bindings.
// It consumes the session event stream and quits once the session reports
// Left.
type CallView struct {
	session *call.Session
	callID  string

	spinner spinner.Model

	state     call.SessionState
	roster    []call.Participant
	speaking  map[string]bool
	screens   map[string]bool
	localShow bool
	muted     bool
	notice    string
	errText   string

	startTime  time.Time
	peakPeers  int
	everShared bool
	leaving    bool
	quitting   bool
}

type sessionEventMsg struct{ ev call.Event }

type leftMsg struct{ err error }

// NewCallView builds the model around a joined session.
func NewCallView(session *call.Session, callID string) *CallView {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallView{
		session:   session,
		callID:    callID,
		spinner:   s,
		state:     session.State(),
		speaking:  map[string]bool{},
		screens:   map[string]bool{},
		muted:     session.Muted(),
		startTime: time.Now(),
	}
}

func (m *CallView) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvents())
}

func (m *CallView) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		return sessionEventMsg{ev: <-m.session.Events()}
	}
}

// leave runs the blocking teardown off the update loop.
func (m *CallView) leave() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return leftMsg{err: m.session.Leave(ctx)}
	}
}

func (m *CallView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.leaving {
				m.leaving = true
				cmds = append(cmds, m.leave())
			}
		case "m":
			if !m.leaving {
				m.muted = m.session.ToggleMute()
			}
		case "s":
			if !m.leaving {
				if err := m.session.ToggleScreen(context.Background()); err != nil {
					m.notice = err.Error()
				}
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case sessionEventMsg:
		m.apply(msg.ev)
		if m.state == call.Left {
			m.quitting = true
			return m, tea.Quit
		}
		cmds = append(cmds, m.listenForEvents())

	case leftMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
		}
		m.quitting = true
		return m, tea.Quit
	}

	return m, tea.Batch(cmds...)
}

func (m *CallView) apply(ev call.Event) {
	switch ev := ev.(type) {
	case call.StateEvent:
		m.state = ev.State
	case call.RosterEvent:
		m.roster = ev.Participants
		if len(m.roster) > m.peakPeers {
			m.peakPeers = len(m.roster)
		}
	case call.SpeakingEvent:
		m.speaking = ev.Speaking
	case call.ScreenShareEvent:
		if ev.Local {
			m.localShow = ev.Active
			if ev.Active {
				m.everShared = true
			}
		} else if ev.Active {
			m.screens[ev.PeerID] = true
		} else {
			delete(m.screens, ev.PeerID)
		}
	case call.NoticeEvent:
		m.notice = ev.Text
	}
}

func (m *CallView) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(fmt.Sprintf("\n%s %s\n\n", IconRoom, TitleStyle.Render("Call "+m.callID)))

	switch m.state {
	case call.Joining:
		b.WriteString(fmt.Sprintf("%s Joining...\n\n", m.spinner.View()))
	case call.Leaving:
		b.WriteString(fmt.Sprintf("%s Leaving...\n\n", m.spinner.View()))
	}

	roster := append([]call.Participant(nil), m.roster...)
	sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })

	for _, p := range roster {
		dot := IconSilent
		nameStyle := MutedStyle
		if m.speaking[p.ID] {
			dot = IconSpeaking
			nameStyle = SpeakingStyle
		}

		name := p.Name
		if name == "" {
			name = p.ID
		}

		var badges []string
		if m.screens[p.ID] {
			badges = append(badges, IconScreen)
		}

		b.WriteString(fmt.Sprintf("  %s %s %s\n", dot, nameStyle.Render(name), strings.Join(badges, " ")))
	}
	if len(roster) == 0 {
		b.WriteString(MutedStyle.Render("  waiting for participants...") + "\n")
	}
	b.WriteString("\n")

	micIcon := IconMic
	micText := "mic on"
	if m.muted {
		micIcon = IconMuted
		micText = WarningStyle.Render("muted")
	}
	b.WriteString(fmt.Sprintf("  %s %s", micIcon, micText))
	if m.localShow {
		b.WriteString(fmt.Sprintf("   %s %s", IconScreen, SuccessStyle.Render("sharing screen")))
	}
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString("\n" + WarningStyle.Render(IconWarning+" "+m.notice) + "\n")
	}

	b.WriteString("\n" + MutedStyle.Render("m: mute  s: share screen  q: leave"))

	return b.String()
}

// Err returns the teardown error, if leaving failed.
func (m *CallView) Err() string {
	return m.errText
}

// Summary captures what the view saw, for the post-call report.
func (m *CallView) Summary() CallSummary {
	return CallSummary{
		CallID:       m.callID,
		Duration:     time.Since(m.startTime),
		PeakPeers:    m.peakPeers,
		EndedMuted:   m.muted,
		SharedScreen: m.everShared,
	}
}
