package cli

import (
	"fmt"
	"strings"

	"github.com/rts2go/rts2drv/pkg/health"
)

// ANSI color helpers.

func Green(s string) string  { return "\033[32m" + s + "\033[0m" }
func Yellow(s string) string { return "\033[33m" + s + "\033[0m" }
func Red(s string) string    { return "\033[31m" + s + "\033[0m" }
func Bold(s string) string   { return "\033[1m" + s + "\033[0m" }
func Dim(s string) string    { return "\033[2m" + s + "\033[0m" }

// DotPad pads name with dots to the given width.
// Example: DotPad("exposure", 20) → "exposure ..........."
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	dots := width - len(name) - 1
	return name + " " + strings.Repeat(".", dots)
}

// StatusLabel colorizes a health.Status for terminal output.
func StatusLabel(s health.Status) string {
	switch s {
	case health.StatusOK:
		return Green(string(s))
	case health.StatusWarning:
		return Yellow(string(s))
	case health.StatusCritical:
		return Red(string(s))
	default:
		return Dim(string(s))
	}
}

// RenderReport writes a health.Report as a color-coded table to stdout.
func RenderReport(report *health.Report) {
	fmt.Printf("%s  %s  (%s)\n", Bold(report.Device), StatusLabel(report.Overall), report.Duration)

	t := NewTable("CHECK", "STATUS", "MESSAGE")
	for _, r := range report.Results {
		t.Row(r.Check, StatusLabel(r.Status), r.Message)
	}
	t.Flush()
}
