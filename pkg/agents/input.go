package agents

import "fmt"

// TextKeys are the candidate keys for a stage's primary text input, in
// priority order. Upstream agents have drifted on the field name over
// time; the projection tolerates all known spellings.
var TextKeys = []string{"textContent", "extractedText", "content", "text"}

// FirstString returns the first non-empty string found under the given
// keys, or "".
func FirstString(input map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := input[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// requireText projects the paper text out of the input, or fails with
// ErrMissingInput naming the expected keys.
func requireText(input map[string]any) (string, error) {
	if text := FirstString(input, TextKeys...); text != "" {
		return text, nil
	}
	return "", fmt.Errorf("%w: no text under any of %v", ErrMissingInput, TextKeys)
}

// stringSlice projects a []string out of a decoded JSON value.
func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// truncateText clips text for prompt building so a 300-page paper cannot
// blow the provider's context window.
func truncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
