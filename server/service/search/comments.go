package search

import (
	"sort"
	"strings"

	"github.com/bchewy/issueradar/server/github"
	"github.com/bchewy/issueradar/server/internal/textutil"
)

const commentCompactChars = 700

// selectRelevantComments picks the comments most likely to matter for the
// query: token overlap against the query plus context, with a small bonus
// for comments that carry a timestamp. When nothing scores, the first few
// non-empty comments are returned as-is.
func selectRelevantComments(comments []github.Comment, query, queryContext string, maxComments int) []string {
	if len(comments) == 0 || maxComments <= 0 {
		return nil
	}

	queryTokens := textutil.TokenSet(query + "\n" + queryContext)

	type scoredComment struct {
		score float64
		body  string
	}
	scored := make([]scoredComment, 0, len(comments))
	for _, comment := range comments {
		if strings.TrimSpace(comment.Body) == "" {
			continue
		}
		overlap := 0
		for token := range textutil.TokenSet(comment.Body) {
			if _, ok := queryTokens[token]; ok {
				overlap++
			}
		}
		score := float64(overlap) / float64(max(1, len(queryTokens)))
		if comment.CreatedAt != "" {
			score += 0.05
		}
		scored = append(scored, scoredComment{score: score, body: textutil.Compact(comment.Body, commentCompactChars)})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	if len(scored) > 0 && scored[0].score > 0 {
		selected := make([]string, 0, maxComments)
		for _, row := range scored {
			if len(selected) == maxComments {
				break
			}
			selected = append(selected, row.body)
		}
		return selected
	}

	// Nothing scored above zero; fall back to the first few raw bodies.
	fallback := make([]string, 0, maxComments)
	for _, comment := range comments {
		if len(fallback) == maxComments {
			break
		}
		if strings.TrimSpace(comment.Body) != "" {
			fallback = append(fallback, textutil.Compact(comment.Body, commentCompactChars))
		}
	}
	return fallback
}
