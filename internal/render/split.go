package render

import (
	"strings"
)

// Fixed vocabulary used to classify flat reply lines as tool activity.
var toolNames = map[string]struct{}{
	"read":       {},
	"write":      {},
	"edit":       {},
	"bash":       {},
	"exec":       {},
	"search":     {},
	"grep":       {},
	"glob":       {},
	"fetch":      {},
	"browse":     {},
	"task":       {},
	"web_search": {},
	"read_file":  {},
	"write_file": {},
	"list_files": {},
}

// Leading glyphs emitted by agent runtimes ahead of tool activity lines.
var toolGlyphs = []string{"⏺", "⚙", "🔧", "🛠", "→", "↳", "✓", "✗"}

// splitToolLines partitions a flat text payload into tool-activity lines and
// prose. A line is tool activity when it starts with a known glyph or its
// first word (case-insensitive, trailing punctuation stripped) is in the
// tool vocabulary.
func splitToolLines(text string) (toolLines []string, prose string) {
	var proseLines []string
	for _, line := range strings.Split(text, "\n") {
		if isToolLine(line) {
			toolLines = append(toolLines, strings.TrimSpace(line))
		} else {
			proseLines = append(proseLines, line)
		}
	}
	return toolLines, strings.Trim(strings.Join(proseLines, "\n"), "\n")
}

func isToolLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, g := range toolGlyphs {
		if strings.HasPrefix(trimmed, g) {
			return true
		}
	}
	first := trimmed
	if i := strings.IndexAny(first, " \t("); i >= 0 {
		first = first[:i]
	}
	first = strings.ToLower(strings.TrimRight(first, ":…."))
	_, ok := toolNames[first]
	return ok
}
