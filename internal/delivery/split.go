package delivery

import (
	"strings"
)

// SplitMessage breaks text into chunks of at most limit runes, preferring
// paragraph boundaries, then line boundaries. Product listings separate
// entries with blank lines, so paragraph splits keep entries intact and
// never cut a URL in half.
func SplitMessage(text string, limit int) []string {
	if len([]rune(text)) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len([]rune(para)) > limit {
			flush()
			chunks = append(chunks, splitLines(para, limit)...)
			continue
		}
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(para))+2 > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

func splitLines(text string, limit int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if len([]rune(line)) > limit {
			flush()
			chunks = append(chunks, hardSplit(line, limit)...)
			continue
		}
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(line))+1 > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	flush()
	return chunks
}

func hardSplit(text string, limit int) []string {
	runes := []rune(text)
	var chunks []string
	for len(runes) > limit {
		chunks = append(chunks, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
