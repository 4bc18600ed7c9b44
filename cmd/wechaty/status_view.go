package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/LinuxSuRen/wechaty/internal/admin"
)

type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	detail  lipgloss.Style
	good    lipgloss.Style
	warning lipgloss.Style
	faint   lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(18),
		detail:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		good:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		warning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		faint:   lipgloss.NewStyle().Faint(true),
	}
}

func renderStatus(st admin.StatusResponse, now time.Time) string {
	s := newStyles()
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, s.label.Render(label), value)
	}

	state := s.detail.Render(st.State)
	switch st.State {
	case "live":
		state = s.good.Render(st.State)
	case "errored":
		state = s.warning.Render(st.State)
	}

	lines := []string{
		s.title.Render("Wechaty Session"),
		row("state", fmt.Sprintf("%s %s", state, s.faint.Render("for "+now.Sub(st.Since).Round(time.Second).String()))),
	}
	if st.UserID != "" {
		lines = append(lines, row("user", s.detail.Render(st.UserID)))
	} else {
		lines = append(lines, row("user", s.faint.Render("not logged in")))
	}
	lines = append(lines, row("connectivity due", s.detail.Render(st.ConnectivityDue)))
	if st.ScanSleeping {
		lines = append(lines, row("scan watchdog", s.faint.Render("sleeping")))
	} else {
		lines = append(lines, row("scan watchdog", s.detail.Render("due in "+st.ScanDue)))
	}
	if st.Scan != nil {
		lines = append(lines, row("scan code", s.warning.Render(st.Scan.URL)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
