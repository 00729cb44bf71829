package cli

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// ansiRe matches ANSI escape sequences for stripping when calculating visual width.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// visualLen returns the display width of s, excluding ANSI escape codes
// and counting Unicode runes (not bytes) for correct multi-byte character width.
func visualLen(s string) int {
	return utf8.RuneCountInString(ansiRe.ReplaceAllString(s, ""))
}

// terminalWidth returns the terminal column count for stdout.
// COLUMNS environment variable overrides the detected width.
// Returns 0 if stdout is not a terminal and COLUMNS is unset,
// which signals that no width constraint should be applied.
func terminalWidth() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if n, err := strconv.Atoi(cols); err == nil && n > 0 {
			return n
		}
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 0 // not a terminal — no constraint
	}
	return w
}

// Table produces column-aligned output with ANSI-aware width calculation.
// Headers and a dash divider are written lazily on Flush(),
// so empty tables produce no output.
//
// When stdout is a terminal (or COLUMNS is set), the last column is
// truncated with an ellipsis to keep rows on one physical line.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// Row appends a row to the table.
func (t *Table) Row(values ...string) {
	t.rows = append(t.rows, values)
}

// Flush writes all buffered output. If no rows were added, nothing is printed.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}

	// Compute natural column widths from headers and all rows.
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visualLen(h)
	}
	for _, row := range t.rows {
		for i, v := range row {
			if i < len(widths) {
				if vl := visualLen(v); vl > widths[i] {
					widths[i] = vl
				}
			}
		}
	}

	lastMax := 0
	if tw := terminalWidth(); tw > 0 {
		lastMax = lastColumnBudget(widths, tw)
	}

	t.printRow(t.headers, widths, lastMax)

	dividers := make([]string, len(t.headers))
	for i := range t.headers {
		w := widths[i]
		if i == len(t.headers)-1 && lastMax > 0 && w > lastMax {
			w = lastMax
		}
		dividers[i] = strings.Repeat("-", w)
	}
	t.printRow(dividers, widths, lastMax)

	for _, row := range t.rows {
		t.printRow(row, widths, lastMax)
	}
}

// lastColumnBudget computes how many columns the final column may occupy so
// the whole row fits within termWidth, never below one column.
func lastColumnBudget(widths []int, termWidth int) int {
	if len(widths) == 0 {
		return 0
	}
	const colGap = 2
	used := colGap * (len(widths) - 1)
	for _, w := range widths[:len(widths)-1] {
		used += w
	}
	budget := termWidth - used
	if budget < 1 {
		budget = 1
	}
	return budget
}

// truncate shortens s to width visual characters, appending an ellipsis.
// ANSI codes are stripped when truncation is needed.
func truncate(s string, width int) string {
	if width <= 0 || visualLen(s) <= width {
		return s
	}
	plain := []rune(ansiRe.ReplaceAllString(s, ""))
	if width <= 1 {
		return string(plain[:width])
	}
	return string(plain[:width-1]) + "…"
}

// printRow prints one physical line.
func (t *Table) printRow(row []string, widths []int, lastMax int) {
	parts := make([]string, len(widths))
	for i := range widths {
		val := ""
		if i < len(row) {
			val = row[i]
		}
		if i == len(widths)-1 && lastMax > 0 {
			val = truncate(val, lastMax)
		}
		pad := widths[i] - visualLen(val)
		if pad < 0 {
			pad = 0
		}
		parts[i] = val + strings.Repeat(" ", pad)
	}
	fmt.Fprintln(os.Stdout, strings.TrimRight(strings.Join(parts, "  "), " "))
}
