package ui

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const panelWidth = 64

// Field is one label/value line of a panel
type Field struct {
	Label string
	Value string
}

// RenderPanel draws a titled box with one line per field
func RenderPanel(title string, fields []Field) string {
	var sb strings.Builder

	// ╭─── relaycache v1.0 ──────────────╮
	titleText := " " + title + " "
	leftDashes := 3
	rightDashes := panelWidth - 2 - leftDashes - utf8.RuneCountInString(titleText)
	if rightDashes < 0 {
		rightDashes = 0
	}
	sb.WriteString(Color(ColorBorder, BoxTopLeft+strings.Repeat(BoxHorizontal, leftDashes)))
	sb.WriteString(Color(ColorBorder+Bold, titleText))
	sb.WriteString(Color(ColorBorder, strings.Repeat(BoxHorizontal, rightDashes)+BoxTopRight))
	sb.WriteString("\n")

	for _, f := range fields {
		sb.WriteString(formatInfoLine(f.Label, f.Value, panelWidth))
	}

	sb.WriteString(Color(ColorBorder, BoxBottomLeft+strings.Repeat(BoxHorizontal, panelWidth-2)+BoxBottomRight))
	sb.WriteString("\n")
	return sb.String()
}

func formatInfoLine(label, value string, width int) string {
	var sb strings.Builder

	// " label: value " between the borders
	visibleLen := visibleLength(label) + visibleLength(value) + 4
	padding := width - 2 - visibleLen
	if padding < 0 {
		padding = 0
	}

	sb.WriteString(Color(ColorBorder, BoxVertical))
	sb.WriteString(" ")
	sb.WriteString(Color(ColorLabel, label+":"))
	sb.WriteString(" ")
	sb.WriteString(value)
	sb.WriteString(strings.Repeat(" ", padding))
	sb.WriteString(" ")
	sb.WriteString(Color(ColorBorder, BoxVertical))
	sb.WriteString("\n")

	return sb.String()
}

// visibleLength returns the visible length of a string, ignoring ANSI codes
func visibleLength(s string) int {
	inEscape := false
	visible := 0
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if r == 'm' {
				inEscape = false
			}
			continue
		}
		visible++
	}
	return visible
}

// RenderSizes formats per-shape queue lengths as "bytes=0 text=2", sorted by name
func RenderSizes(sizes map[string]int) string {
	names := make([]string, 0, len(sizes))
	for name := range sizes {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		n := fmt.Sprintf("%d", sizes[name])
		if sizes[name] > 0 {
			n = Color(ColorPending, n)
		}
		parts = append(parts, Color(ShapeColor(name), name)+Color(ColorLabel, "=")+n)
	}
	return strings.Join(parts, " ")
}

// RenderHost formats a discovered relay server
func RenderHost(host string) string {
	return fmt.Sprintf("%s %s", Color(ColorFound, "●"), Color(Bold, host))
}

// RenderState formats a discovery state name
func RenderState(state string) string {
	return Color(StateColor(state), state)
}

// RenderError formats an error message
func RenderError(err error) string {
	return Color(ColorFailure, fmt.Sprintf("Error: %v", err))
}

// RenderSuccess formats a success message
func RenderSuccess(msg string) string {
	return Color(ColorFound, msg)
}

// RenderDim formats text in dim style
func RenderDim(msg string) string {
	return Color(ColorLabel, msg)
}
