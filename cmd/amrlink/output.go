package main

import (
	"fmt"
	"os"
	"time"

	"github.com/poelink/amrlink/internal/store"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func printBackendStatus(status *store.BackendStatus) {
	if status == nil {
		printStatus("Backend", "unknown (no status recorded)")
		return
	}
	if status.Online {
		printStatus("Backend", "%s", colorize(colorGreen, "online"))
	} else if status.Error != "" {
		printStatus("Backend", "%s (%s)", colorize(colorRed, "offline"), status.Error)
	} else {
		printStatus("Backend", "%s", colorize(colorRed, "offline"))
	}
	if status.LastCheck > 0 {
		printStatus("Last check", "%s", time.UnixMilli(status.LastCheck).Local().Format(time.RFC3339))
	}
}
