package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
)

// CallSummary is the post-call report printed after the live view exits.
type CallSummary struct {
	CallID       string
	Duration     time.Duration
	PeakPeers    int
	EndedMuted   bool
	SharedScreen bool
}

// String renders the summary as a table.
func (s CallSummary) String() string {
	t := table.NewWriter()
	t.SetTitle("Call Summary")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"Call", s.CallID})
	t.AppendRow(table.Row{"Duration", s.Duration.Round(time.Second).String()})
	t.AppendRow(table.Row{"Peak participants", fmt.Sprintf("%d", s.PeakPeers)})
	t.AppendRow(table.Row{"Left muted", yesNo(s.EndedMuted)})
	t.AppendRow(table.Row{"Shared screen", yesNo(s.SharedScreen)})
	return t.Render()
}

// RenderCallSummary prints the summary to stdout.
func RenderCallSummary(s CallSummary) {
	fmt.Println(s.String())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// CallInfo is the shareable call details box shown when a room is created.
type CallInfo struct {
	CallID   string
	CallLink string
}

func (c CallInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Call Created!\n\n%s Call ID:    %s\n%s Call Link:  %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(c.CallID),
		IconLink, MutedStyle.Render(c.CallLink),
	)

	return boxStyle.Render(content)
}

// RenderCallInfo prints the call details box to stdout.
func RenderCallInfo(c CallInfo) {
	fmt.Println(c.View())
}
