package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bchewy/issueradar/internal/profile"
	"github.com/bchewy/issueradar/server/github"
	"github.com/bchewy/issueradar/server/internal/observability"
	"github.com/bchewy/issueradar/server/internal/textutil"
	"github.com/bchewy/issueradar/server/ranker"
)

// GitHubClient is the slice of the GitHub client the orchestrator uses.
type GitHubClient interface {
	SearchIssues(ctx context.Context, params github.SearchParams) ([]github.Issue, github.CallMeta, error)
	GetIssueComments(ctx context.Context, repo string, number int, limit int, token string) ([]github.Comment, github.CallMeta, error)
	GetPullRequestFiles(ctx context.Context, repo string, number int, token string) ([]github.PullRequestFile, github.CallMeta, error)
	ValidateRepo(ctx context.Context, repo string, token string) (*github.Repository, github.CallMeta, error)
}

// Reranker scores candidates against the query.
type Reranker interface {
	Rerank(ctx context.Context, query, queryContext string, candidates []ranker.Candidate, apiKey string) (map[string]ranker.RankedItem, []string, bool)
	FallbackRank(query, queryContext string, candidates []ranker.Candidate) map[string]ranker.RankedItem
}

// Credentials are the per-request upstream tokens.
type Credentials struct {
	GitHubToken string
	LLMAPIKey   string
}

// Service orchestrates the search pipeline: fan-out, dedupe, rank, enrich.
type Service struct {
	profile *profile.Profile
	github  GitHubClient
	ranker  Reranker
}

// NewService wires the orchestrator from its collaborators.
func NewService(p *profile.Profile, gh GitHubClient, rk Reranker) *Service {
	return &Service{profile: p, github: gh, ranker: rk}
}

// rawCandidate is a search hit tagged with its owning repository.
type rawCandidate struct {
	issue github.Issue
	repo  string
}

func (c rawCandidate) identity() string {
	if c.issue.NodeID != "" {
		return c.issue.NodeID
	}
	if c.issue.Number > 0 {
		return fmt.Sprintf("%s#%d", c.repo, c.issue.Number)
	}
	return c.issue.HTMLURL
}

// Search runs the full pipeline. It always returns a response: every task
// failure is downgraded to a warning and partial data.
func (s *Service) Search(ctx context.Context, req *Request, creds Credentials) *Response {
	started := time.Now()
	rc := observability.FromContext(ctx)
	acc := &metaAccumulator{}

	allocations := splitCandidatePool(req.CandidatePool, req.Repos)

	githubStart := time.Now()
	candidates := s.fanOutSearch(ctx, req, allocations, creds.GitHubToken, true, acc)
	githubMs := time.Since(githubStart).Milliseconds()
	rc.Info("github search completed",
		slog.Int("candidates", len(candidates)),
		slog.Int64("github_ms", githubMs))

	if len(candidates) == 0 && req.Context != "" {
		rc.Info("strict search returned zero; retrying with query only")
		candidates = s.fanOutSearch(ctx, req, allocations, creds.GitHubToken, false, acc)
		githubMs = time.Since(githubStart).Milliseconds()
	}

	if len(candidates) == 0 {
		return &Response{Results: []ResultItem{}, Meta: acc.build(time.Since(started).Milliseconds())}
	}

	unique := dedupeCandidates(candidates)
	sort.SliceStable(unique, func(i, j int) bool {
		if unique[i].issue.Score != unique[j].issue.Score {
			return unique[i].issue.Score > unique[j].issue.Score
		}
		return unique[i].identity() < unique[j].identity()
	})
	if len(unique) > req.CandidatePool {
		unique = unique[:req.CandidatePool]
	}

	prepared := prepareCandidates(unique)
	acc.setCandidatesSearched(len(prepared))
	if len(prepared) == 0 {
		return &Response{Results: []ResultItem{}, Meta: acc.build(time.Since(started).Milliseconds())}
	}

	rankStart := time.Now()
	ranked, rankWarnings, rankCached := s.ranker.Rerank(ctx, req.Query, req.Context, prepared, creds.LLMAPIKey)
	rankMs := time.Since(rankStart).Milliseconds()
	acc.addWarnings(rankWarnings)
	acc.markCached(rankCached)
	rc.Info("rerank completed",
		slog.Int("scored", len(ranked)),
		slog.Bool("cached", rankCached),
		slog.Int64("rank_ms", rankMs))

	fallback := s.ranker.FallbackRank(req.Query, req.Context, prepared)
	scoreFor := func(id string) int {
		if item, ok := ranked[id]; ok {
			return item.Score
		}
		if item, ok := fallback[id]; ok {
			return item.Score
		}
		return 0
	}

	sort.SliceStable(prepared, func(i, j int) bool {
		left, right := scoreFor(prepared[i].ID), scoreFor(prepared[j].ID)
		if left != right {
			return left > right
		}
		if prepared[i].SearchScore != prepared[j].SearchScore {
			return prepared[i].SearchScore > prepared[j].SearchScore
		}
		return prepared[i].ID < prepared[j].ID
	})
	top := prepared
	if len(top) > req.Limit {
		top = top[:req.Limit]
	}

	enrichStart := time.Now()
	enriched := s.enrichTop(ctx, top, req, creds.GitHubToken, acc)
	enrichMs := time.Since(enrichStart).Milliseconds()

	results := make([]ResultItem, 0, len(enriched))
	for _, candidate := range enriched {
		item, ok := ranked[candidate.ID]
		if !ok {
			item, ok = fallback[candidate.ID]
		}
		if !ok {
			item = ranker.RankedItem{
				ID:          candidate.ID,
				Summary:     textutil.Compact(candidate.Title, 260),
				WhyRelevant: []string{"No ranking metadata available."},
			}
		}
		results = append(results, ResultItem{
			Type:           candidate.Type,
			Number:         candidate.Number,
			Title:          candidate.Title,
			URL:            candidate.URL,
			State:          candidate.State,
			Labels:         candidate.Labels,
			Author:         candidate.Author,
			CreatedAt:      candidate.CreatedAt,
			UpdatedAt:      candidate.UpdatedAt,
			RelevanceScore: item.Score,
			Summary:        item.Summary,
			WhyRelevant:    item.WhyRelevant,
			Signals:        item.Signals,
		})
	}

	tookMs := time.Since(started).Milliseconds()
	rc.Info("search completed",
		slog.Int("results", len(results)),
		slog.Int64("github_ms", githubMs),
		slog.Int64("rank_ms", rankMs),
		slog.Int64("enrich_ms", enrichMs),
		slog.Int64("took_ms", tookMs))
	return &Response{Results: results, Meta: acc.build(tookMs)}
}

// repoAllocation is one repository's share of the candidate pool.
type repoAllocation struct {
	repo string
	pool int
}

// splitCandidatePool divides the pool evenly, handing the remainder one per
// repository to the earliest ones.
func splitCandidatePool(total int, repos []string) []repoAllocation {
	if len(repos) == 0 {
		return nil
	}
	if total < 1 {
		total = 1
	}
	base := total / len(repos)
	remainder := total % len(repos)

	allocations := make([]repoAllocation, 0, len(repos))
	for i, repo := range repos {
		size := base
		if i < remainder {
			size++
		}
		if size <= 0 {
			continue
		}
		allocations = append(allocations, repoAllocation{repo: repo, pool: size})
	}
	return allocations
}

// fanOutSearch runs one search per repository concurrently, bounded only by
// repository count. Per-repo failures become warnings; successful results
// keep allocation order so downstream deduplication is deterministic.
func (s *Service) fanOutSearch(ctx context.Context, req *Request, allocations []repoAllocation, token string, includeContext bool, acc *metaAccumulator) []rawCandidate {
	searchText := req.Query
	warningPrefix := "Search call failed"
	if includeContext && req.Context != "" {
		searchText = req.Query + "\n" + req.Context
	} else if req.Context != "" {
		warningPrefix = "Relaxed search call failed"
	}

	perRepo := make([][]rawCandidate, len(allocations))
	var wg sync.WaitGroup
	for i, alloc := range allocations {
		wg.Add(1)
		go func(i int, alloc repoAllocation) {
			defer wg.Done()
			items, meta, err := s.github.SearchIssues(ctx, github.SearchParams{
				Repo:          alloc.repo,
				Query:         searchText,
				Type:          req.Type,
				State:         req.State,
				LabelsInclude: req.LabelsInclude,
				LabelsExclude: req.LabelsExclude,
				PerPage:       alloc.pool,
				Sort:          req.Sort,
				Order:         req.Order,
				Token:         token,
			})
			if err != nil {
				acc.addWarning(fmt.Sprintf("%s: %v", warningPrefix, err))
				foldRateLimited(acc, err)
				observability.FromContext(ctx).Warn("github search failed",
					slog.String("repo", alloc.repo),
					slog.String("error", err.Error()))
				return
			}
			acc.merge(meta)
			tagged := make([]rawCandidate, 0, len(items))
			for _, issue := range items {
				repo := issue.RepoFullName()
				if repo == "" {
					repo = alloc.repo
				}
				tagged = append(tagged, rawCandidate{issue: issue, repo: repo})
			}
			perRepo[i] = tagged
		}(i, alloc)
	}
	wg.Wait()

	var candidates []rawCandidate
	for _, tagged := range perRepo {
		candidates = append(candidates, tagged...)
	}
	return candidates
}

// dedupeCandidates removes duplicate identities, first occurrence wins.
func dedupeCandidates(candidates []rawCandidate) []rawCandidate {
	seen := make(map[string]struct{}, len(candidates))
	unique := make([]rawCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		id := candidate.identity()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, candidate)
	}
	return unique
}

// prepareCandidates converts tagged search hits to ranker candidates.
// Enrichment data (comments, PR files) is filled in later, and only for the
// top results.
func prepareCandidates(raw []rawCandidate) []ranker.Candidate {
	prepared := make([]ranker.Candidate, 0, len(raw))
	for _, candidate := range raw {
		if candidate.repo == "" || candidate.issue.Number <= 0 {
			continue
		}
		kind := "issue"
		if candidate.issue.IsPullRequest() {
			kind = "pr"
		}
		prepared = append(prepared, ranker.Candidate{
			ID:          candidate.identity(),
			Repo:        candidate.repo,
			Number:      candidate.issue.Number,
			Type:        kind,
			Title:       candidate.issue.Title,
			Body:        candidate.issue.Body,
			URL:         candidate.issue.HTMLURL,
			State:       candidate.issue.State,
			Labels:      candidate.issue.LabelNames(),
			Author:      candidate.issue.AuthorLogin(),
			CreatedAt:   candidate.issue.CreatedAt,
			UpdatedAt:   candidate.issue.UpdatedAt,
			SearchScore: candidate.issue.Score,
		})
	}
	return prepared
}

// enrichTop fetches comments and PR files for the selected winners only,
// under the shared concurrency cap. Per-item failures leave the candidate in
// place with whatever data it already has.
func (s *Service) enrichTop(ctx context.Context, top []ranker.Candidate, req *Request, token string, acc *metaAccumulator) []ranker.Candidate {
	enriched := make([]ranker.Candidate, len(top))
	copy(enriched, top)

	sem := semaphore.NewWeighted(s.profile.GitHubMaxConcurrency)
	var wg sync.WaitGroup
	for i := range enriched {
		wg.Add(1)
		go func(candidate *ranker.Candidate) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				acc.addWarning(fmt.Sprintf("Enrichment skipped for %s#%d: %v", candidate.Repo, candidate.Number, err))
				return
			}
			defer sem.Release(1)

			if *req.IncludeComments {
				comments, meta, err := s.github.GetIssueComments(ctx, candidate.Repo, candidate.Number, s.profile.GitHubCommentLimit, token)
				if err != nil {
					acc.addWarning(fmt.Sprintf("Failed to fetch comments for %s#%d: %v", candidate.Repo, candidate.Number, err))
					foldRateLimited(acc, err)
				} else {
					acc.merge(meta)
					candidate.Comments = selectRelevantComments(comments, req.Query, req.Context, s.profile.LLMCommentsPerItem)
				}
			}

			if candidate.Type == "pr" && req.IncludePRFiles {
				files, meta, err := s.github.GetPullRequestFiles(ctx, candidate.Repo, candidate.Number, token)
				if err != nil {
					acc.addWarning(fmt.Sprintf("Failed to fetch PR files for %s#%d: %v", candidate.Repo, candidate.Number, err))
					foldRateLimited(acc, err)
				} else {
					acc.merge(meta)
					summaries := make([]string, 0, len(files))
					for _, file := range files {
						if file.Filename == "" {
							continue
						}
						status := file.Status
						if status == "" {
							status = "modified"
						}
						summaries = append(summaries, textutil.Compact(fmt.Sprintf("%s [%s]", file.Filename, status), 180))
					}
					candidate.PRFiles = summaries
				}
			}
		}(&enriched[i])
	}
	wg.Wait()
	return enriched
}

// foldRateLimited folds a call error's rate-limited flag into the summary.
func foldRateLimited(acc *metaAccumulator, err error) {
	var apiErr *github.APIError
	if errors.As(err, &apiErr) {
		acc.markRateLimited(apiErr.RateLimited)
	}
}
