package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var graphBlocks = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// renderGraph draws data as a right-aligned bar graph of the given size,
// scaled so that maxVal fills the full height. Empty cells show a faint grid.
func renderGraph(data []float64, width, height int, maxVal float64, color lipgloss.Color) string {
	if width < 1 || height < 1 {
		return ""
	}
	if maxVal <= 0 {
		maxVal = 1
	}

	gridStyle := lipgloss.NewStyle().Foreground(ColorBorder)
	barStyle := lipgloss.NewStyle().Foreground(color)

	rows := make([][]string, height)
	for i := range rows {
		rows[i] = make([]string, width)
		for j := range rows[i] {
			if i == height-1 {
				rows[i][j] = gridStyle.Render("╌")
			} else {
				rows[i][j] = " "
			}
		}
	}

	if len(data) > width {
		data = data[len(data)-width:]
	}
	offset := width - len(data)

	for x, val := range data {
		pct := val / maxVal
		if pct < 0 {
			pct = 0
		}
		if pct > 1 {
			pct = 1
		}
		eighths := int(pct * float64(height*8))
		for y := 0; y < height; y++ {
			fill := eighths - y*8
			if fill <= 0 {
				break
			}
			if fill > 8 {
				fill = 8
			}
			rows[height-1-y][offset+x] = barStyle.Render(graphBlocks[fill])
		}
	}

	var b strings.Builder
	for i, row := range rows {
		b.WriteString(strings.Join(row, ""))
		if i < height-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func maxOf(data []float64) float64 {
	var m float64
	for _, v := range data {
		if v > m {
			m = v
		}
	}
	return m
}
