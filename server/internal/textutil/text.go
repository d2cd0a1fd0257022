package textutil

import "strings"

// Compact collapses all whitespace runs in text to single spaces and
// truncates the result to maxChars, appending "..." when cut.
func Compact(text string, maxChars int) string {
	normalized := strings.Join(strings.Fields(text), " ")
	if len(normalized) <= maxChars {
		return normalized
	}
	if maxChars <= 3 {
		return strings.TrimSpace(normalized[:maxChars])
	}
	return strings.TrimRight(normalized[:maxChars-3], " ") + "..."
}

// FirstNonEmpty returns the first item containing non-whitespace content.
func FirstNonEmpty(items ...string) string {
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// ExtractSnippet returns up to radius characters of context on both sides of
// the first case-insensitive occurrence of token in text, marking truncated
// ends with ellipses. When the token is absent a compacted prefix of the text
// is returned instead.
func ExtractSnippet(text, token string, radius int) string {
	if text == "" {
		return ""
	}

	index := strings.Index(strings.ToLower(text), strings.ToLower(token))
	if index < 0 {
		limit := 2 * radius
		if limit > 180 {
			limit = 180
		}
		return Compact(text, limit)
	}

	start := index - radius
	if start < 0 {
		start = 0
	}
	end := index + len(token) + radius
	if end > len(text) {
		end = len(text)
	}

	snippet := strings.TrimSpace(text[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet = snippet + "..."
	}
	return strings.Join(strings.Fields(snippet), " ")
}
