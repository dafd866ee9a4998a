package search

import "strings"

// FlattenTables rewrites markdown tables in page text into one-line facts so
// that each row survives paragraph splitting and truncation on its own. With a
// header row, cells are labelled ("Name: Ada; Born: 1815"); without one, cells
// are joined by spaces. Separator rows (|---|:--:|) are dropped and all other
// lines are kept as-is.
func FlattenTables(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	var header []string
	inTable := false

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if !isTableRow(line) {
			if inTable {
				out = append(out, "")
			}
			inTable = false
			header = nil
			out = append(out, strings.TrimRight(raw, " \t\r"))
			continue
		}

		cells := splitCells(line)
		if isSeparator(cells) {
			continue
		}
		if !inTable {
			inTable = true
			out = append(out, "")
			// A header is a first row directly followed by a separator row.
			if i+1 < len(lines) {
				next := strings.TrimSpace(lines[i+1])
				if isTableRow(next) && isSeparator(splitCells(next)) {
					header = cells
					continue
				}
			}
		}
		if fact := rowFact(header, cells); fact != "" {
			out = append(out, fact, "")
		}
	}

	return joinCollapsingBlanks(out)
}

// joinCollapsingBlanks joins lines, keeping at most one blank line in a row
// and none at either end. The result ends with a single newline.
func joinCollapsingBlanks(lines []string) string {
	var b strings.Builder
	blank := true
	pending := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if !blank {
				pending = true
			}
			blank = true
			continue
		}
		if pending {
			b.WriteByte('\n')
			pending = false
		}
		b.WriteString(l)
		b.WriteByte('\n')
		blank = false
	}
	return b.String()
}

func isTableRow(line string) bool {
	return len(line) >= 2 && strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|")
}

func splitCells(line string) []string {
	cols := strings.Split(strings.Trim(line, "|"), "|")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}

func isSeparator(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, ":- ") != "" {
			return false
		}
	}
	return true
}

func rowFact(header, cells []string) string {
	parts := make([]string, 0, len(cells))
	for i, c := range cells {
		if c == "" {
			continue
		}
		if i < len(header) && header[i] != "" {
			parts = append(parts, header[i]+": "+c)
			continue
		}
		parts = append(parts, c)
	}
	if len(header) > 0 {
		return strings.Join(parts, "; ")
	}
	return strings.Join(parts, " ")
}
