package llm

import (
	"strings"
	"unicode"
)

// toSnake converts a camelCase key to snake_case. Runs of capitals
// collapse into one segment, so "maxTokensHTTP" becomes
// "max_tokens_http".
func toSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || (unicode.IsUpper(runes[i-1]) && nextLower)) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// snakeKeys returns a copy of m with every key converted to
// snake_case, recursing into nested maps and slices. Values are not
// copied.
func snakeKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[toSnake(k)] = snakeValue(v)
	}
	return out
}

func snakeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return snakeKeys(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = snakeValue(e)
		}
		return out
	default:
		return v
	}
}
