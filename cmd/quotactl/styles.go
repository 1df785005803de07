package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	colorWhite     = lipgloss.Color("#FFFFFF")
	colorLightGray = lipgloss.Color("#CCCCCC")
	colorGray      = lipgloss.Color("#888888")
	colorGreen     = lipgloss.Color("#00FF00")
	colorYellow    = lipgloss.Color("#FFFF00")
	colorRed       = lipgloss.Color("#FF0000")
)

// styles bound to one writer so colors are dropped when it is not a terminal
type styles struct {
	header lipgloss.Style
	cell   lipgloss.Style
	border lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	muted  lipgloss.Style
}

func newStyles(out io.Writer) styles {
	re := lipgloss.NewRenderer(out)

	return styles{
		header: re.NewStyle().Bold(true).Foreground(colorWhite).Padding(0, 1),
		cell:   re.NewStyle().Foreground(colorLightGray).Padding(0, 1),
		border: re.NewStyle().Foreground(colorGray),
		label:  re.NewStyle().Foreground(colorGray).Width(8),
		value:  re.NewStyle().Bold(true).Foreground(colorWhite),
		muted:  re.NewStyle().Foreground(colorGray),
	}
}

// a bordered table; row cells fall back to the plain cell style
func (s styles) table(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.border).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			return s.cell
		})
}

// green while plenty is left, yellow near the limit, red when spent
func (s styles) remaining(left, limit int) lipgloss.Style {
	switch {
	case left <= 0:
		return s.cell.Foreground(colorRed)
	case left*5 <= limit:
		return s.cell.Foreground(colorYellow)
	default:
		return s.cell.Foreground(colorGreen)
	}
}
