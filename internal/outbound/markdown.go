package outbound

import "strings"

// hasMarkdownTable detects pipe-table content that chat clients render as
// raw text.
func hasMarkdownTable(text string) bool {
	return strings.Contains(text, "| --- ") ||
		strings.Contains(text, "|---") ||
		strings.Contains(text, "---|")
}

// NormalizeTables rewrites markdown pipe tables as space-aligned plain text
// so they stay readable in clients without markdown rendering. Non-table
// lines pass through unchanged.
func NormalizeTables(text string) string {
	if !hasMarkdownTable(text) {
		return text
	}

	lines := strings.Split(text, "\n")
	var out []string

	for i := 0; i < len(lines); i++ {
		if !isTableRow(lines[i]) {
			out = append(out, lines[i])
			continue
		}

		// Collect the contiguous table block.
		start := i
		for i < len(lines) && isTableRow(lines[i]) {
			i++
		}
		block := lines[start:i]
		i--

		out = append(out, renderTable(block)...)
	}

	return strings.Join(out, "\n")
}

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") && len(trimmed) > 1
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if c == "" {
			return false
		}
		if strings.Trim(c, "-:") != "" {
			return false
		}
	}
	return true
}

func splitCells(line string) []string {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "|")
	trimmed = strings.TrimSuffix(trimmed, "|")
	parts := strings.Split(trimmed, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// renderTable drops the separator row and pads cells to column width so the
// rows line up in a monospace view.
func renderTable(block []string) []string {
	var rows [][]string
	for _, line := range block {
		cells := splitCells(line)
		if isSeparatorRow(cells) {
			continue
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return nil
	}

	var widths []int
	for _, row := range rows {
		for j, cell := range row {
			if j >= len(widths) {
				widths = append(widths, 0)
			}
			if n := len([]rune(cell)); n > widths[j] {
				widths[j] = n
			}
		}
	}

	out := make([]string, 0, len(rows))
	for _, row := range rows {
		var b strings.Builder
		for j, cell := range row {
			if j > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			if j < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[j]-len([]rune(cell))))
			}
		}
		out = append(out, strings.TrimRight(b.String(), " "))
	}
	return out
}
