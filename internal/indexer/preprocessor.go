package indexer

import (
	"strings"
)

// Preprocess normalizes extracted text before splitting: line endings become \n, spaces and
// tabs inside a line collapse to one space, lines are trimmed, and runs of blank lines collapse
// to a single paragraph break. Paragraph breaks are kept because the splitter prefers them.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
