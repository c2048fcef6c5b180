package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#2e8b57"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#c0392b")).Bold(true)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// renderTable renders rows under headers with a rounded border.
func renderTable(headers []string, rows [][]string) string {
	t := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
	for _, r := range rows {
		t.Row(r...)
	}
	return t.String()
}

// mark renders a pass/fail check mark.
func mark(ok bool) string {
	if ok {
		return passStyle.Render("✓")
	}
	return failStyle.Render("✗")
}

func count(n int) string {
	return humanize.Comma(int64(n))
}

// shortID abbreviates a content hash for tables.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatError(e float64) string {
	if e == 0 {
		return "0"
	}
	return fmt.Sprintf("%.2g", e)
}
