package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nathoo/turnweave/engine/state"
)

// displayName derives a human-readable name from an id.
// "street_corner" -> "Street Corner".
func displayName(id string) string {
	words := strings.Split(id, "_")
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// renderStatusBar produces a full-width inverted status line showing
// the current node, place, clock, player meters, and turn count.
func (m Model) renderStatusBar() string {
	s := m.engine.State

	place := displayName(s.Node)
	if s.Position.Location != "" {
		if loc, ok := m.engine.Defs.Locations[s.Position.Location]; ok && loc.Name != "" {
			place += " @ " + loc.Name
		} else {
			place += " @ " + displayName(s.Position.Location)
		}
	}

	clock := fmt.Sprintf("Day %d", s.Time.Day)
	if s.Time.Slot != "" {
		clock += " " + s.Time.Slot
	}

	left := fmt.Sprintf(" %s | %s", place, clock)
	right := fmt.Sprintf("T:%d ", s.TurnCount)

	// Show player meters if they fit, otherwise just the turn count.
	if meters, ok := s.Meters[state.PlayerID]; ok && len(meters) > 0 {
		ids := make([]string, 0, len(meters))
		for id := range meters {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, fmt.Sprintf("%s:%.0f", id, meters[id]))
		}
		candidate := fmt.Sprintf("%s | T:%d ", strings.Join(parts, " "), s.TurnCount)
		if lipgloss.Width(left)+lipgloss.Width(candidate)+2 < m.width {
			right = candidate
		}
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	bar := left + strings.Repeat(" ", gap) + right
	return styleStatusBar.Width(m.width).Render(bar)
}
