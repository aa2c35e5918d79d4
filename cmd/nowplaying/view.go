package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/krosov/mediasessions/pkg/mediasessions"
)

const maxWidth = 50

func (m model) View() string {
	color := lipgloss.Color("12")
	highlight := lipgloss.NewStyle().Foreground(color)
	white := lipgloss.NewStyle().Foreground(lipgloss.Color("15"))

	borderStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(1, 2)

	labelStyle := lipgloss.NewStyle().Foreground(color).Bold(true)
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	var content strings.Builder
	content.WriteString(highlight.Render("Now Playing") + "\n\n")

	if m.info == nil {
		content.WriteString(mutedStyle.Render("Nothing playing") + "\n\n")
		content.WriteString(mutedStyle.Render("Start playing media to begin"))
	} else {
		addLine := func(label, value string) {
			if value != "" {
				content.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render(label), value))
			}
		}

		addLine("Title: ", m.info.Title)
		addLine("Artist:", m.info.Artist)
		addLine("Album: ", m.info.Album)
		addLine("App:   ", m.activeApp)
		addLine("State: ", statusLabel(m.info.Status))

		if m.info.Duration != nil && *m.info.Duration > 0 {
			pos := m.currentPosition()
			progress := float64(pos) / float64(*m.info.Duration)
			if progress > 1 {
				progress = 1
			}

			barWidth := maxWidth - 17
			filled := int(float64(barWidth) * progress)
			bar := highlight.Render(strings.Repeat("█", filled)) +
				white.Render(strings.Repeat("─", barWidth-filled))

			content.WriteString(fmt.Sprintf(
				"\n%s %s/%s",
				bar,
				highlight.Render(formatClock(pos)),
				highlight.Render(formatClock(*m.info.Duration)),
			))
		}
	}

	if m.lastError != nil {
		content.WriteString("\n\n" + errorStyle.Render("Error: "+m.lastError.Error()))
	}

	contentStr := borderStyle.Width(maxWidth).Render(content.String())

	var helpText string
	if m.showHelp {
		helpText = lipgloss.NewStyle().
			Width(maxWidth).
			Align(lipgloss.Center).
			Render(lipgloss.JoinHorizontal(
				lipgloss.Center,
				"Play/Pause: "+highlight.Render("p"),
				"  Next: "+highlight.Render("n"),
				"  Previous: "+highlight.Render("b"),
				"  Stop: "+highlight.Render("s"),
				"  Quit: "+highlight.Render("q"),
			))
	} else {
		helpText = mutedStyle.Render("Press ? for help")
	}

	fullUI := lipgloss.JoinVertical(lipgloss.Center, contentStr, "\n"+helpText)

	return lipgloss.Place(
		m.width, m.height,
		lipgloss.Center, lipgloss.Center,
		fullUI,
	)
}

func statusLabel(s mediasessions.PlaybackStatus) string {
	switch s {
	case mediasessions.StatusPlaying:
		return "Playing"
	case mediasessions.StatusPaused:
		return "Paused"
	case mediasessions.StatusTransitioning:
		return "Transitioning"
	default:
		return "Stopped"
	}
}

func formatClock(d time.Duration) string {
	total := int(d.Seconds())
	if total >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	}
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
