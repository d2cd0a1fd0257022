package ranker

import (
	"fmt"
	"strings"

	"github.com/bchewy/issueradar/server/internal/textutil"
)

// FallbackRank is the deterministic token-overlap ranker. It never fails and
// does not consult the cache, so the pipeline can always produce a ranking.
func (r *Ranker) FallbackRank(query, queryContext string, candidates []Candidate) map[string]RankedItem {
	queryText := query + "\n" + queryContext
	queryTokens := distinctTokens(queryText)

	ranked := make(map[string]RankedItem, len(candidates))
	for _, candidate := range candidates {
		text := candidateText(candidate)
		textTokens := textutil.TokenSet(text)

		var matched []string
		for _, token := range queryTokens {
			if _, ok := textTokens[token]; ok {
				matched = append(matched, token)
			}
		}

		denominator := len(queryTokens)
		if denominator < 1 {
			denominator = 1
		}
		score := 25 + 75*len(matched)/denominator
		if score > 100 {
			score = 100
		} else if score < 0 {
			score = 0
		}
		if strings.TrimSpace(query) != "" && strings.Contains(strings.ToLower(text), strings.ToLower(query)) && score < 85 {
			score = 85
		}

		summary := textutil.Compact(textutil.FirstNonEmpty(
			candidate.Body,
			strings.Join(candidate.Comments, " "),
			candidate.Title,
		), 280)
		if summary == "" {
			summary = candidate.Title
		}

		var why []string
		for _, token := range matched {
			if len(why) == 3 {
				break
			}
			if snippet := textutil.ExtractSnippet(text, token, 80); snippet != "" {
				why = append(why, fmt.Sprintf("Matched '%s' in: %q", token, snippet))
			}
		}
		if len(why) == 0 {
			why = []string{fmt.Sprintf("Keyword overlap is limited; candidate appears in related area: %q", textutil.Compact(candidate.Title, 120))}
		}

		ranked[candidate.ID] = RankedItem{
			ID:          candidate.ID,
			Score:       score,
			Summary:     summary,
			WhyRelevant: why,
			Signals:     ExtractSignals(text),
		}
	}

	return ranked
}

// distinctTokens returns unique tokens in first-appearance order so matched
// token selection (and therefore evidence bullets) is deterministic.
func distinctTokens(text string) []string {
	seen := make(map[string]struct{})
	var distinct []string
	for _, token := range textutil.Tokenize(text) {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		distinct = append(distinct, token)
	}
	return distinct
}

func candidateText(c Candidate) string {
	parts := []string{c.Title, c.Body, strings.Join(c.Comments, "\n"), strings.Join(c.PRFiles, "\n")}
	return strings.Join(parts, "\n")
}
