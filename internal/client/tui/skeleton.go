// internal/client/tui/skeleton.go
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const skeletonRows = 6

// renderSkeleton draws placeholder bubbles alternating sides, clipped to
// height lines.
func renderSkeleton(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}

	var lines []string
	for i := 0; i < skeletonRows && len(lines) < height; i++ {
		pos := lipgloss.Left
		if i%2 == 1 {
			pos = lipgloss.Right
		}
		barWidth := width / 3
		if barWidth < 4 {
			barWidth = 4
		}
		avatar := skeletonStyle.Render("(░░)")
		bar := skeletonStyle.Render(strings.Repeat("░", barWidth))
		lines = append(lines, lipgloss.PlaceHorizontal(width, pos, avatar))
		lines = append(lines, lipgloss.PlaceHorizontal(width, pos, bar))
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
