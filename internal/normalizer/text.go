package normalizer

import "strings"

const maxDepth = 8

var (
	textKeys      = []string{"text", "content", "message"}
	containerKeys = []string{"body", "output", "result", "data"}
	listKeys      = []string{"choices", "messages", "candidates", "outputs"}
)

// Text ищет в значении правдоподобный текст ответа. Никогда не паникует;
// в худшем случае возвращает строковую форму всего значения.
func Text(v Value) string {
	if s, ok := find(v, 0); ok {
		return s
	}
	return v.String()
}

func find(v Value, depth int) (string, bool) {
	if depth > maxDepth {
		return "", false
	}

	switch v.kind {
	case KindScalar:
		return v.String(), true
	case KindList:
		if len(v.list) == 0 {
			return "", false
		}
		return find(v.list[0], depth+1)
	case KindMapping:
		for _, keys := range [][]string{textKeys, containerKeys} {
			for _, k := range keys {
				c, ok := v.mapping[k]
				if !ok {
					continue
				}
				if s, ok := find(c, depth+1); ok && strings.TrimSpace(s) != "" {
					return s, true
				}
			}
		}
		for _, k := range listKeys {
			c := v.mapping[k]
			if c.kind != KindList || len(c.list) == 0 {
				continue
			}
			if s, ok := find(c.list[0], depth+1); ok && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
	}
	return "", false
}
