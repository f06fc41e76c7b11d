// Package styles renders audit output with lipgloss. Colours drop out
// automatically when the output is not a terminal.
package styles

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// Palette holds the colours used for report and progress output.
type Palette struct {
	Accent    lipgloss.Color
	Heading   lipgloss.Color
	Text      lipgloss.Color
	Dim       lipgloss.Color
	Present   lipgloss.Color
	Absent    lipgloss.Color
	Uncertain lipgloss.Color
}

// DefaultPalette is the palette used when none is given.
func DefaultPalette() Palette {
	return Palette{
		Accent:    lipgloss.Color("#7C3AED"),
		Heading:   lipgloss.Color("#06B6D4"),
		Text:      lipgloss.Color("#CDD6F4"),
		Dim:       lipgloss.Color("#6C7086"),
		Present:   lipgloss.Color("#F38BA8"),
		Absent:    lipgloss.Color("#A6E3A1"),
		Uncertain: lipgloss.Color("#F9E2AF"),
	}
}

// Styles are the rendered styles derived from a Palette.
type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Normal   lipgloss.Style
	Muted    lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Help     lipgloss.Style

	verdicts map[domain.Verdict]lipgloss.Style
}

// New builds styles from p.
func New(p Palette) *Styles {
	return &Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(p.Accent),
		Subtitle: lipgloss.NewStyle().Bold(true).Foreground(p.Heading),
		Normal:   lipgloss.NewStyle().Foreground(p.Text),
		Muted:    lipgloss.NewStyle().Foreground(p.Dim),
		Error:    lipgloss.NewStyle().Bold(true).Foreground(p.Present),
		Warning:  lipgloss.NewStyle().Foreground(p.Uncertain),
		Help:     lipgloss.NewStyle().Foreground(p.Dim).Italic(true),
		verdicts: map[domain.Verdict]lipgloss.Style{
			domain.VerdictPresent:   lipgloss.NewStyle().Bold(true).Foreground(p.Present),
			domain.VerdictAbsent:    lipgloss.NewStyle().Foreground(p.Absent),
			domain.VerdictUncertain: lipgloss.NewStyle().Foreground(p.Uncertain),
		},
	}
}

// DefaultStyles returns styles for DefaultPalette.
func DefaultStyles() *Styles {
	return New(DefaultPalette())
}

// Verdict returns the style for v; unknown verdicts are muted.
func (s *Styles) Verdict(v domain.Verdict) lipgloss.Style {
	if st, ok := s.verdicts[v]; ok {
		return st
	}
	return s.Muted
}

// Badge renders v padded to the widest verdict so finding lines align.
func (s *Styles) Badge(v domain.Verdict) string {
	return s.Verdict(v).Render(fmt.Sprintf("%-9s", v))
}

// Tally renders "<n> <verdict>" in the verdict's colour.
func (s *Styles) Tally(v domain.Verdict, n int) string {
	return s.Verdict(v).Render(fmt.Sprintf("%d %s", n, v))
}
