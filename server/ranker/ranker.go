// Package ranker scores search candidates for relevance to a query. The
// primary path is one batched LLM call with a strict JSON-schema response
// format; every failure mode falls back to a deterministic token-overlap
// ranker, so this package always produces a ranking.
package ranker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/bchewy/issueradar/internal/profile"
	"github.com/bchewy/issueradar/plugin/cache"
	"github.com/bchewy/issueradar/server/internal/textutil"
)

// Candidate is the normalized input shared with the search service.
type Candidate struct {
	ID          string
	Repo        string
	Number      int
	Type        string
	Title       string
	Body        string
	Comments    []string
	PRFiles     []string
	URL         string
	State       string
	Labels      []string
	Author      string
	CreatedAt   string
	UpdatedAt   string
	SearchScore float64
}

// Signals are structured hints extracted from candidate text.
type Signals struct {
	Versions    []string `json:"versions"`
	OS          []string `json:"os"`
	ErrorCodes  []string `json:"error_codes"`
	StackFrames []string `json:"stack_frames"`
}

// RankedItem is one ranking result, keyed by the candidate identity.
type RankedItem struct {
	ID          string
	Score       int
	Summary     string
	WhyRelevant []string
	Signals     Signals
}

// chatCompleter is the slice of the OpenAI client the ranker uses; tests
// substitute a fake.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Ranker ranks candidates, caching parsed LLM responses in the shared cache.
type Ranker struct {
	profile   *profile.Profile
	cache     *cache.Cache
	newClient func(apiKey string) chatCompleter
}

// New creates a ranker from the profile.
func New(p *profile.Profile, c *cache.Cache) *Ranker {
	return &Ranker{
		profile: p,
		cache:   c,
		newClient: func(apiKey string) chatCompleter {
			config := openai.DefaultConfig(apiKey)
			if p.OpenAIBaseURL != "" {
				config.BaseURL = p.OpenAIBaseURL
			}
			return openai.NewClientWithConfig(config)
		},
	}
}

// Rerank scores all candidates in one batched call. It returns the ranking
// keyed by candidate identity, any warnings, and whether the result was
// served from cache. Ranking errors are never propagated: every failure
// falls back to the deterministic ranker with an explanatory warning.
func (r *Ranker) Rerank(ctx context.Context, query, queryContext string, candidates []Candidate, apiKey string) (map[string]RankedItem, []string, bool) {
	if len(candidates) == 0 {
		return map[string]RankedItem{}, nil, false
	}

	normalized := r.normalize(candidates)
	key := r.cacheKey(query, queryContext, normalized)
	if entry, ok := r.cache.Get(key, false); ok {
		var payload rankingPayload
		if err := json.Unmarshal(entry.Value, &payload); err == nil {
			return r.parseRankedItems(&payload), nil, true
		}
		r.cache.Delete(key)
	}

	if !r.profile.LLMEnabled {
		return r.FallbackRank(query, queryContext, candidates), []string{"LLM reranking disabled; fallback ranker used."}, false
	}

	resolvedKey := apiKey
	if resolvedKey == "" {
		resolvedKey = r.profile.OpenAIAPIKey
	}
	if resolvedKey == "" {
		return r.FallbackRank(query, queryContext, candidates), []string{"No LLM API key provided; fallback ranker used."}, false
	}

	payload, raw, err := r.rerankWithLLM(ctx, query, queryContext, normalized, resolvedKey)
	if err != nil {
		warning := fmt.Sprintf("LLM reranking failed (%v); fallback ranker used.", err)
		return r.FallbackRank(query, queryContext, candidates), []string{warning}, false
	}

	parsed := r.parseRankedItems(payload)
	if len(parsed) == 0 {
		return r.FallbackRank(query, queryContext, candidates), []string{"LLM reranking failed (empty ranking); fallback ranker used."}, false
	}

	r.cache.Set(key, raw, r.profile.LLMCacheTTL, "")
	return parsed, nil, false
}

const rerankSystemPrompt = "You are a strict GitHub relevance ranker. " +
	"Score each candidate for relevance to the user query/context using this rubric: " +
	"90-100 same error signature or same root cause and environment; " +
	"70-89 very similar symptoms and plausible same cause; " +
	"40-69 adjacent and potentially useful; " +
	"0-39 mostly irrelevant. " +
	"Use only provided text. Do not invent versions, OS, fixes, links, or statuses. " +
	"Why-relevant bullets must include short evidence snippets from the candidate text."

func (r *Ranker) rerankWithLLM(ctx context.Context, query, queryContext string, normalized []normalizedCandidate, apiKey string) (*rankingPayload, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.profile.LLMTimeout)
	defer cancel()

	userPayload, err := json.Marshal(map[string]any{
		"query":      query,
		"context":    queryContext,
		"candidates": normalized,
		"instructions": map[string]any{
			"require_evidence_snippets": true,
			"max_summary_sentences":     3,
			"max_why_bullets":           3,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	req := openai.ChatCompletionRequest{
		Model:       r.profile.OpenAIModel,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rerankSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(userPayload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "relevance_ranking",
				Strict: true,
				Schema: rerankJSONSchema,
			},
		},
	}

	resp, err := r.newClient(apiKey).CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil, fmt.Errorf("empty chat response")
	}

	content := []byte(resp.Choices[0].Message.Content)
	var payload rankingPayload
	if err := json.Unmarshal(content, &payload); err != nil {
		return nil, nil, fmt.Errorf("parse ranking response: %w", err)
	}
	return &payload, content, nil
}

// rankingPayload mirrors the strict response schema.
type rankingPayload struct {
	Results []rankedRow `json:"results"`
}

type rankedRow struct {
	ItemID         string      `json:"item_id"`
	RelevanceScore json.Number `json:"relevance_score"`
	Summary        string      `json:"summary"`
	WhyRelevant    []string    `json:"why_relevant"`
	Signals        rawSignals  `json:"signals"`
	Uncertain      bool        `json:"uncertain"`
}

type rawSignals struct {
	Versions    []string `json:"versions"`
	OS          []string `json:"os"`
	ErrorCodes  []string `json:"error_codes"`
	StackFrames []string `json:"stack_frames"`
}

// parseRankedItems validates rows defensively: scores are clamped to
// [0,100], text fields compacted, and empty evidence replaced with a
// placeholder bullet.
func (r *Ranker) parseRankedItems(payload *rankingPayload) map[string]RankedItem {
	parsed := make(map[string]RankedItem, len(payload.Results))
	for _, row := range payload.Results {
		itemID := textutil.FirstNonEmpty(row.ItemID)
		if itemID == "" {
			continue
		}

		score := 0
		if v, err := row.RelevanceScore.Int64(); err == nil {
			score = int(v)
		} else if f, err := row.RelevanceScore.Float64(); err == nil {
			score = int(f)
		}
		if score < 0 {
			score = 0
		} else if score > 100 {
			score = 100
		}

		why := make([]string, 0, len(row.WhyRelevant))
		for _, bullet := range row.WhyRelevant {
			if compacted := textutil.Compact(bullet, 220); compacted != "" {
				why = append(why, compacted)
			}
		}
		if len(why) == 0 {
			why = []string{"No explicit evidence provided by model."}
		}

		parsed[itemID] = RankedItem{
			ID:          itemID,
			Score:       score,
			Summary:     textutil.Compact(row.Summary, 380),
			WhyRelevant: why,
			Signals: Signals{
				Versions:    cleanStrings(row.Signals.Versions),
				OS:          cleanStrings(row.Signals.OS),
				ErrorCodes:  cleanStrings(row.Signals.ErrorCodes),
				StackFrames: cleanStrings(row.Signals.StackFrames),
			},
		}
	}
	return parsed
}

func cleanStrings(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := textutil.FirstNonEmpty(v); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

// normalizedCandidate is the compact record sent to the LLM. Fingerprinting
// happens on this record, so raw payloads that normalize identically share a
// cache key.
type normalizedCandidate struct {
	ItemID    string   `json:"item_id"`
	Type      string   `json:"type"`
	Repo      string   `json:"repo"`
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Comments  []string `json:"comments"`
	PRFiles   []string `json:"pr_files"`
	State     string   `json:"state"`
	Labels    []string `json:"labels"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	URL       string   `json:"url"`
}

func (r *Ranker) normalize(candidates []Candidate) []normalizedCandidate {
	normalized := make([]normalizedCandidate, 0, len(candidates))
	for _, c := range candidates {
		comments := c.Comments
		if len(comments) > r.profile.LLMCommentsPerItem {
			comments = comments[:r.profile.LLMCommentsPerItem]
		}
		compactComments := make([]string, 0, len(comments))
		for _, comment := range comments {
			compactComments = append(compactComments, textutil.Compact(comment, r.profile.LLMMaxCommentChars))
		}

		prFiles := c.PRFiles
		if len(prFiles) > 20 {
			prFiles = prFiles[:20]
		}
		labels := c.Labels
		if len(labels) > 20 {
			labels = labels[:20]
		}

		normalized = append(normalized, normalizedCandidate{
			ItemID:    c.ID,
			Type:      c.Type,
			Repo:      c.Repo,
			Number:    c.Number,
			Title:     textutil.Compact(c.Title, 240),
			Body:      textutil.Compact(c.Body, r.profile.LLMMaxBodyChars),
			Comments:  compactComments,
			PRFiles:   prFiles,
			State:     c.State,
			Labels:    labels,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
			URL:       c.URL,
		})
	}
	return normalized
}

// cacheKey hashes the prompt version, query, context, and the ordered
// normalized candidate fingerprints.
func (r *Ranker) cacheKey(query, queryContext string, normalized []normalizedCandidate) string {
	fingerprints := make([]string, 0, len(normalized))
	for _, c := range normalized {
		encoded, _ := json.Marshal(c)
		fingerprints = append(fingerprints, sha256Hex(encoded))
	}

	seed, _ := json.Marshal(struct {
		PromptVersion string   `json:"prompt_version"`
		Query         string   `json:"query"`
		Context       string   `json:"context"`
		Fingerprints  []string `json:"candidate_fingerprints"`
	}{
		PromptVersion: r.profile.LLMPromptVersion,
		Query:         query,
		Context:       queryContext,
		Fingerprints:  fingerprints,
	})
	return "llm:" + sha256Hex(seed)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
