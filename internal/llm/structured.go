package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// ParseStructured decodes a JSON answer into v. It tolerates a surrounding
// Markdown code fence and trailing commas before closing brackets.
func ParseStructured(raw string, v any) error {
	text := stripFence(strings.TrimSpace(raw))
	if text == "" {
		return fmt.Errorf("empty response")
	}

	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return nil
	}

	fixed := trailingComma.ReplaceAllString(text, "$1")
	if fixed != text {
		if retryErr := json.Unmarshal([]byte(fixed), v); retryErr == nil {
			return nil
		}
	}
	return fmt.Errorf("decode json: %w", err)
}

func stripFence(text string) string {
	if i := strings.Index(text, "```json"); i >= 0 {
		rest := text[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return text
}
