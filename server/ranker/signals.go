package ranker

import (
	"regexp"
	"sort"
	"strings"
)

var (
	versionRegex    = regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+)?\b`)
	errorCodeRegex  = regexp.MustCompile(`(?i)\b(?:error|err|code)\s*[:#-]?\s*([A-Z0-9_-]{2,})\b`)
	stackFrameRegex = regexp.MustCompile(`\bat\s+[\w.$<>]+\([^)]*\)`)
	osRegex         = regexp.MustCompile(`(?i)\b(windows|win11|win10|macos|osx|linux|ubuntu|debian|android|ios)\b`)
)

// ExtractSignals pulls version strings, OS names, error codes, and stack
// frame lines out of raw candidate text. Each list is deduplicated, sorted,
// and capped to 8 entries.
func ExtractSignals(text string) Signals {
	versions := collectMatches(versionRegex.FindAllString(text, -1))

	var osHits []string
	for _, match := range osRegex.FindAllStringSubmatch(text, -1) {
		osHits = append(osHits, strings.ToLower(match[1]))
	}

	var errorCodes []string
	for _, match := range errorCodeRegex.FindAllStringSubmatch(text, -1) {
		errorCodes = append(errorCodes, match[1])
	}

	stackFrames := stackFrameRegex.FindAllString(text, -1)

	return Signals{
		Versions:    versions,
		OS:          collectMatches(osHits),
		ErrorCodes:  collectMatches(errorCodes),
		StackFrames: collectMatches(stackFrames),
	}
}

// collectMatches dedupes, sorts, and caps a match list.
func collectMatches(matches []string) []string {
	seen := make(map[string]struct{}, len(matches))
	unique := make([]string, 0, len(matches))
	for _, match := range matches {
		if _, ok := seen[match]; ok {
			continue
		}
		seen[match] = struct{}{}
		unique = append(unique, match)
	}
	sort.Strings(unique)
	if len(unique) > 8 {
		unique = unique[:8]
	}
	return unique
}
