package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	mapStyle    = lipgloss.NewStyle().Bold(true)
	axisStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	alliesStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	countStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

// Render writes a human-readable report to w.
func Render(w io.Writer, r *Report) error {
	var lines []string

	scope := fmt.Sprintf("last %d days, at least %d players", r.Days, r.MinPlayers)
	if r.Days == 0 {
		scope = fmt.Sprintf("all matches, at least %d players", r.MinPlayers)
	}
	if r.Map != "" {
		scope += ", map " + r.Map
	}
	lines = append(lines, "")
	lines = append(lines, "  "+titleStyle.Render("Map report")+"  "+dimStyle.Render(scope))
	if r.Since.IsZero() {
		lines = append(lines, "  "+dimStyle.Render(fmt.Sprintf("%d matches", r.Matches)))
	} else {
		lines = append(lines, "  "+dimStyle.Render(fmt.Sprintf("%d matches since %s", r.Matches, r.Since.Format("2006-01-02 15:04"))))
	}
	separator := dimStyle.Render("  " + strings.Repeat("─", 44))
	lines = append(lines, separator)

	if len(r.Maps) == 0 {
		lines = append(lines, "  "+dimStyle.Render("no matches"))
	}

	for _, m := range r.Maps {
		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("  %s  %s", mapStyle.Render(m.Name), dimStyle.Render(fmt.Sprintf("%d games, avg %.0f players", m.Games, m.AvgPlayers))))
		lines = append(lines, fmt.Sprintf("    %s %4d  %s", alliesStyle.Render("Allies won"), m.AlliesWins, formatPercent(m.AlliesRatio)))
		lines = append(lines, fmt.Sprintf("    %s   %4d  %s", axisStyle.Render("Axis won"), m.AxisWins, formatPercent(m.AxisRatio)))

		if len(m.WinConditions) > 0 {
			parts := make([]string, 0, len(m.WinConditions))
			for _, wc := range m.WinConditions {
				cond := wc.Condition
				if cond == "" {
					cond = "unknown"
				}
				parts = append(parts, fmt.Sprintf("%s %s", cond, countStyle.Render(fmt.Sprint(wc.Count))))
			}
			lines = append(lines, "    "+dimStyle.Render("Win conditions ")+strings.Join(parts, dimStyle.Render(" · ")))
		}

		if m.Supremacy {
			continue
		}
		for i, seq := range m.Sequences {
			lines = append(lines, fmt.Sprintf("    %s %s", dimStyle.Render(fmt.Sprintf("#%d", i+1)), countStyle.Render(fmt.Sprintf("%dx", seq.Count))))
			for _, o := range seq.Objectives {
				lines = append(lines, fmt.Sprintf("      %d %s %s", o.Index, o.Name, dimStyle.Render(o.Holder)))
			}
		}
	}
	lines = append(lines, "")

	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

func formatPercent(r float64) string {
	return fmt.Sprintf("%.1f%%", r*100)
}
