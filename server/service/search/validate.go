package search

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/bchewy/issueradar/server/github"
)

// ValidateRepos checks that each repository exists and is accessible with
// the supplied token, under the shared concurrency cap. Every input repo
// always yields exactly one result.
func (s *Service) ValidateRepos(ctx context.Context, repos []string, token string) *ValidateResponse {
	sem := semaphore.NewWeighted(s.profile.GitHubMaxConcurrency)

	var (
		mu       sync.Mutex
		warnings []string
	)
	addWarnings := func(more []string) {
		if len(more) == 0 {
			return
		}
		mu.Lock()
		warnings = append(warnings, more...)
		mu.Unlock()
	}

	results := make([]ValidationResult, len(repos))
	var wg sync.WaitGroup
	for i, repo := range repos {
		wg.Add(1)
		go func(i int, repo string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = ValidationResult{Repo: repo, Reason: fmt.Sprintf("Validation skipped: %v", err)}
				return
			}
			defer sem.Release(1)
			results[i] = s.validateOne(ctx, repo, token, addWarnings)
		}(i, repo)
	}
	wg.Wait()

	seen := make(map[string]struct{}, len(warnings))
	deduped := make([]string, 0, len(warnings))
	for _, warning := range warnings {
		if _, ok := seen[warning]; ok {
			continue
		}
		seen[warning] = struct{}{}
		deduped = append(deduped, warning)
	}
	return &ValidateResponse{Results: results, Warnings: deduped}
}

func (s *Service) validateOne(ctx context.Context, repo, token string, addWarnings func([]string)) ValidationResult {
	payload, meta, err := s.github.ValidateRepo(ctx, repo, token)
	addWarnings(meta.Warnings)
	if err != nil {
		var apiErr *github.APIError
		if errors.As(err, &apiErr) {
			return ValidationResult{
				Repo:   repo,
				Reason: fmt.Sprintf("GitHub API error %d: %s", apiErr.StatusCode, apiErr.Message),
			}
		}
		return ValidationResult{Repo: repo, Reason: fmt.Sprintf("Unexpected error: %v", err)}
	}
	if payload == nil {
		return ValidationResult{
			Repo:   repo,
			Reason: "Repository not found or not accessible with provided token.",
		}
	}
	private := payload.Private
	return ValidationResult{
		Repo:          repo,
		Exists:        true,
		Accessible:    true,
		Private:       &private,
		DefaultBranch: payload.DefaultBranch,
	}
}
