// Package styles holds the CLI palette and table rendering.
package styles

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/nebula/internal/lifecycle"
)

var (
	// Colors meet WCAG AA contrast on dark terminals
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	BlueColor      = lipgloss.Color("#60A5FA") // Blue
	BorderColor    = lipgloss.Color("#6B7280") // Gray

	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor)

	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(BorderColor)

	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(BorderColor).
		Padding(0, 1)
)

// StateColor returns the color used for a lifecycle state.
func StateColor(s lifecycle.State) lipgloss.Color {
	switch s {
	case lifecycle.StateRunning:
		return SecondaryColor
	case lifecycle.StatePulling, lifecycle.StateStarting, lifecycle.StateProbing, lifecycle.StateRequested:
		return BlueColor
	case lifecycle.StateStopping:
		return WarningColor
	case lifecycle.StateFailed:
		return ErrorColor
	default:
		return MutedColor
	}
}

// Printer renders styled output when writing to a terminal and plain text
// otherwise.
type Printer struct {
	w     io.Writer
	plain bool
}

// NewPrinter returns a Printer for w. Output is plain unless w is a
// terminal.
func NewPrinter(w io.Writer) *Printer {
	plain := true
	if f, ok := w.(*os.File); ok {
		plain = !term.IsTerminal(int(f.Fd()))
	}
	return &Printer{w: w, plain: plain}
}

// NewPlainPrinter returns a Printer that never styles.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w, plain: true}
}

// Plain reports whether styling is disabled.
func (p *Printer) Plain() bool {
	return p.plain
}

// Render applies style unless the printer is plain.
func (p *Printer) Render(style lipgloss.Style, s string) string {
	if p.plain {
		return s
	}
	return style.Render(s)
}

// State renders a lifecycle state in its color.
func (p *Printer) State(s lifecycle.State) string {
	return p.Render(lipgloss.NewStyle().Foreground(StateColor(s)), s.String())
}

// Println writes a line.
func (p *Printer) Println(s string) {
	_, _ = io.WriteString(p.w, s+"\n")
}

// Table writes rows under headers with padded columns. Cells may already
// contain styling; widths are measured without it.
func (p *Printer) Table(headers []string, rows [][]string) {
	p.Println(RenderTable(headers, rows, p.plain))
}

// RenderTable lays out rows under headers with two spaces between columns.
func RenderTable(headers []string, rows [][]string, plain bool) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	var sb strings.Builder
	line := func(cells []string) string {
		var parts []string
		for i, c := range cells {
			if i == len(cells)-1 || i >= len(widths) {
				parts = append(parts, c)
				continue
			}
			parts = append(parts, c+strings.Repeat(" ", widths[i]-lipgloss.Width(c)))
		}
		return strings.Join(parts, "  ")
	}

	head := line(headers)
	if plain {
		sb.WriteString(strings.ToUpper(head))
	} else {
		sb.WriteString(TableHeader.Render(head))
	}
	for _, row := range rows {
		sb.WriteString("\n")
		sb.WriteString(line(row))
	}
	return sb.String()
}
