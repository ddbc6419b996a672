// Package cli provides shared formatting helpers for the newtval CLI.
package cli

import (
	"os"
	"strings"
)

// colorEnabled is false when NO_COLOR env var is set (per no-color.org).
var colorEnabled = os.Getenv("NO_COLOR") == ""

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Green wraps s in ANSI green. Returns s unchanged when NO_COLOR is set.
func Green(s string) string { return paint("32", s) }

// Yellow wraps s in ANSI yellow. Returns s unchanged when NO_COLOR is set.
func Yellow(s string) string { return paint("33", s) }

// Red wraps s in ANSI red. Returns s unchanged when NO_COLOR is set.
func Red(s string) string { return paint("31", s) }

// Bold wraps s in ANSI bold. Returns s unchanged when NO_COLOR is set.
func Bold(s string) string { return paint("1", s) }

// Dim wraps s in ANSI dim. Returns s unchanged when NO_COLOR is set.
func Dim(s string) string { return paint("2", s) }

// Status colors a result word: PASS green, SKIP yellow, FAIL and ERROR red.
// Anything else is returned unchanged.
func Status(s string) string {
	switch s {
	case "PASS":
		return Green(s)
	case "SKIP":
		return Yellow(s)
	case "FAIL", "ERROR":
		return Red(s)
	default:
		return s
	}
}

// DotPad pads name with dots to the given width.
// Example: DotPad("transceiver-lpmode", 24) → "transceiver-lpmode ....."
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	dots := width - len(name) - 1
	return name + " " + strings.Repeat(".", dots)
}
