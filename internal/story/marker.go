package story

import (
	"regexp"
	"strings"
)

var imagePromptMarker = regexp.MustCompile(`(?i)IMAGE_PROMPT:`)

// Markdown вокруг маркера: **IMAGE_PROMPT:** ..., `IMAGE_PROMPT: ...`, > IMAGE_PROMPT: ...
const (
	markerPrefixChars = " \t*`>"
	markerPromptChars = " \t*`\r"
)

// ExtractImagePrompt ищет маркер "IMAGE_PROMPT:" в любом месте строки (без учета регистра).
// Промптом считается остаток первой строки с маркером без обрамляющего markdown.
// Маркер и все после него убираются из текста сцены; текст перед маркером на той же
// строке остается. Если маркера нет или он пуст, промпт равен addendum + text.
func ExtractImagePrompt(text, addendum string) (prompt, narrative string) {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	seen := false
	for _, line := range lines {
		loc := imagePromptMarker.FindStringIndex(line)
		if loc == nil {
			kept = append(kept, line)
			continue
		}
		if !seen {
			seen = true
			prompt = strings.Trim(line[loc[1]:], markerPromptChars)
		}
		before := strings.TrimRight(line[:loc[0]], markerPrefixChars)
		if strings.TrimLeft(before, markerPrefixChars) != "" {
			kept = append(kept, before)
		}
	}

	narrative = collapseBlankLines(strings.TrimSpace(strings.Join(kept, "\n")))
	if prompt == "" {
		return addendum + text, narrative
	}
	return prompt, narrative
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, l := range lines {
		isBlank := strings.TrimSpace(l) == ""
		if isBlank && blank {
			continue
		}
		blank = isBlank
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
