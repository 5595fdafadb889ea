package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// stderrIsTTY reports whether stderr is attached to an interactive
// terminal. Per-file progress detail is suppressed when output is
// redirected.
func stderrIsTTY() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

// sizeUnits caps at TB; the service itself tops out well below PB.
var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	v := float64(bytes)

	unit := 0
	for v >= 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}

	if unit == 0 {
		return fmt.Sprintf("%d B", bytes)
	}

	return fmt.Sprintf("%.1f %s", v, sizeUnits[unit])
}

// formatTime returns a compact ls-style timestamp: time of day within
// the current year, the year otherwise. Zero times render as "-".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	layout := "Jan _2  2006"
	if t.Year() == time.Now().Year() {
		layout = "Jan _2 15:04"
	}

	return t.Format(layout)
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := columnWidths(headers, rows)

	writeRow(w, headers, widths)

	for _, row := range rows {
		writeRow(w, row, widths)
	}
}

func columnWidths(headers []string, rows [][]string) []int {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	return widths
}

// writeRow writes one padded row. The last column is left unpadded so
// lines carry no trailing whitespace.
func writeRow(w io.Writer, cells []string, widths []int) {
	var b strings.Builder

	for i, cell := range cells {
		if i > 0 {
			b.WriteString("  ")
		}

		b.WriteString(cell)

		if i < len(cells)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-len(cell)))
		}
	}

	fmt.Fprintln(w, b.String())
}
