package github

import (
	"fmt"
	"strings"
)

// BuildSearchQuery assembles the qualifier-augmented query string for the
// search API. Free text is whitespace-collapsed and truncated to the
// configured maximum, with a warning when truncation occurs.
func (c *Client) BuildSearchQuery(query, repo string, searchType SearchType, state SearchState, labelsInclude, labelsExclude []string) (string, []string) {
	var warnings []string

	compact := strings.Join(strings.Fields(query), " ")
	if maxChars := c.profile.GitHubQueryMaxChars; len(compact) > maxChars {
		compact = strings.TrimRight(compact[:maxChars], " ")
		warnings = append(warnings, fmt.Sprintf("Query text exceeded %d chars and was truncated for GitHub search.", maxChars))
	}

	parts := []string{compact, "repo:" + repo}

	switch searchType {
	case SearchTypeIssue:
		parts = append(parts, "is:issue")
	case SearchTypePR:
		parts = append(parts, "is:pull-request")
	}

	if state != SearchStateAll && state != "" {
		parts = append(parts, "state:"+string(state))
	}

	for _, label := range labelsInclude {
		parts = append(parts, fmt.Sprintf("label:%q", label))
	}
	for _, label := range labelsExclude {
		parts = append(parts, fmt.Sprintf("-label:%q", label))
	}

	return strings.TrimSpace(strings.Join(parts, " ")), warnings
}
