package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripFences removes a surrounding markdown code fence, if present.
// Models frequently wrap JSON answers in ```json blocks.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// DecodeJSON parses a model response into out, tolerating markdown fences
// and leading prose before the first brace or bracket.
func DecodeJSON(text string, out any) error {
	text = StripFences(text)
	if text == "" {
		return fmt.Errorf("empty model response")
	}
	if start := strings.IndexAny(text, "{["); start > 0 {
		text = text[start:]
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}
