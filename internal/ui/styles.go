package ui

import "github.com/charmbracelet/lipgloss"

// Palette, as 256-color codes.
const (
	ColorAccent    = "37" // teal
	ColorAccentDim = "30"
	ColorGray      = "245"
	ColorDarkGray  = "238"
	ColorRed       = "196"
	ColorYellow    = "220"
)

// Styles holds the lipgloss styles used by the renderers.
type Styles struct {
	Header    lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Dim       lipgloss.Style
	Active    lipgloss.Style
	Label     lipgloss.Style
	Border    lipgloss.Style
	Sparkline lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	color := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return Styles{
		Header:    color(ColorAccent).Bold(true),
		Success:   color(ColorAccent),
		Warning:   color(ColorYellow),
		Error:     color(ColorRed),
		Dim:       color(ColorDarkGray),
		Active:    color(ColorAccent).Bold(true),
		Label:     color(ColorGray),
		Border:    color(ColorDarkGray),
		Sparkline: color(ColorAccentDim),
	}
}

// NoColorStyles returns unstyled styles.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header: plain, Success: plain, Warning: plain, Error: plain, Dim: plain,
		Active: plain, Label: plain, Border: plain, Sparkline: plain,
	}
}

// GetStyles picks styles by color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
