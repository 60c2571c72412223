package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dmorcellet/delta-downloads/internal/data"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))  // dark green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))   // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))  // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))  // blue
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250")) // light grey
)

func printSuccess(text string) { fmt.Println(successStyle.Render("✓ " + text)) }
func printError(text string)   { fmt.Println(errorStyle.Render("✗ " + text)) }
func printWarning(text string) { fmt.Println(warningStyle.Render("! " + text)) }
func printPending(text string) { fmt.Println(pendingStyle.Render("◉ " + text)) }

// progressLine renders "done / total [bar] pct"; an unknown total shows the
// byte count only.
func progressLine(done int64, total int64, known bool) string {
	if !known || total <= 0 {
		return detailStyle.Render(humanBytes(done))
	}
	const width = 30
	if done > total {
		done = total
	}
	filled := int(done * width / total)
	bar := strings.Repeat("━", filled) + strings.Repeat("·", width-filled)
	return detailStyle.Render(fmt.Sprintf("%s / %s %s %3d%%",
		humanBytes(done), humanBytes(total), bar, done*100/total))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func describe(st data.State, status int, err error) string {
	s := st.String()
	if status != 0 {
		s += fmt.Sprintf(" (HTTP %d)", status)
	}
	if err != nil {
		s += ": " + err.Error()
	}
	return s
}
