package llm

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/spherical/docmark/internal/domain"
)

// fenceRe matches a response wrapped in a fenced code block, with or
// without a language tag (markdown, html, json, ...).
var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*[ \t]*\n?(.*?)\n?```$")

// StripFences removes a wrapping code fence and trims whitespace
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// ProcessOCR normalizes a page conversion response and reports the
// visible content length.
func ProcessOCR(raw string) (string, int) {
	content := StripFences(raw)
	return content, utf8.RuneCountInString(content)
}

// ProcessExtraction parses an extraction response as a JSON object.
// Empty or null responses become an empty object; anything else that
// is not an object is an error.
func ProcessExtraction(raw string) (map[string]any, error) {
	content := StripFences(raw)
	if content == "" {
		return map[string]any{}, nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, domain.ExtractionError("extraction response is not valid JSON", err)
	}
	switch obj := parsed.(type) {
	case map[string]any:
		return obj, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, domain.ExtractionError("extraction response is not a JSON object", nil)
	}
}
