// Package ui styles relaycache's terminal output
package ui

import (
	"os"

	"golang.org/x/term"
)

// ANSI codes
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	Dim     = "\033[2m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
)

// Palette
const (
	ColorBorder  = Cyan
	ColorLabel   = Dim
	ColorPending = Yellow
	ColorFound   = Green
	ColorFailure = Red
)

// Panel glyphs
const (
	BoxTopLeft     = "╭"
	BoxTopRight    = "╮"
	BoxBottomLeft  = "╰"
	BoxBottomRight = "╯"
	BoxHorizontal  = "─"
	BoxVertical    = "│"
)

// shapeColors follow the writer's drain order: json_and_binary, binary_packet, bytes, text
var shapeColors = map[string]string{
	"json_and_binary": Magenta,
	"binary_packet":   Cyan,
	"bytes":           Yellow,
	"text":            Green,
}

// stateColors are keyed by discovery state name
var stateColors = map[string]string{
	"idle":           Dim,
	"awaiting_reply": Yellow,
	"disabled":       Green,
	"stopped":        Red,
}

// ShapeColor returns the color of a cache queue shape, Dim for unknown names
func ShapeColor(shape string) string {
	if c, ok := shapeColors[shape]; ok {
		return c
	}
	return Dim
}

// StateColor returns the color of a discovery state name, Dim for unknown names
func StateColor(state string) string {
	if c, ok := stateColors[state]; ok {
		return c
	}
	return Dim
}

var (
	colorEnabled = true
	isTTY        = true
)

func init() {
	isTTY = term.IsTerminal(int(os.Stdout.Fd()))
	colorEnabled = isTTY && os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
}

// SetNoColor disables color output. Color cannot be forced back on.
func SetNoColor(disable bool) {
	if disable {
		colorEnabled = false
	}
}

// IsColorEnabled reports whether output is colored
func IsColorEnabled() bool {
	return colorEnabled
}

// Color wraps text in code, or returns it unchanged when color is off
func Color(code, text string) string {
	if !colorEnabled || code == "" {
		return text
	}
	return code + text + Reset
}
