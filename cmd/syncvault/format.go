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

// stdoutIsTTY reports whether stdout is an interactive terminal. Piped
// output gets bare machine-readable lines instead of aligned tables.
func stdoutIsTTY() bool {
	fd := os.Stdout.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// sizeUnits maps binary magnitudes to display labels, largest first.
var sizeUnits = []struct {
	scale int64
	label string
}{
	{1 << 40, "TB"},
	{1 << 30, "GB"},
	{1 << 20, "MB"},
	{1 << 10, "KB"},
}

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	for _, u := range sizeUnits {
		if bytes >= u.scale {
			return fmt.Sprintf("%.1f %s", float64(bytes)/float64(u.scale), u.label)
		}
	}

	return fmt.Sprintf("%d B", bytes)
}

// formatTime returns a compact timestamp for display. A nil timestamp
// renders as "-".
func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}

	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	// Different year: show "Jan  2  2006"
	return t.Format("Jan _2  2006")
}

// printTable writes a header row and data rows as two-space-separated
// columns, each padded to its widest cell.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := columnWidths(headers, rows)

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// columnWidths returns the display width of each column. headers and every
// row must have the same length.
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

// printRow writes one row with each cell left-aligned to its column width.
func printRow(w io.Writer, cells []string, widths []int) {
	var sb strings.Builder

	for i, cell := range cells {
		if i > 0 {
			sb.WriteString("  ")
		}

		fmt.Fprintf(&sb, "%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, sb.String())
}
