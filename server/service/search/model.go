package search

import (
	"fmt"
	"strings"

	"github.com/bchewy/issueradar/server/github"
	"github.com/bchewy/issueradar/server/ranker"
)

// Request is the body of a search call. Normalize must be called before the
// request is handed to the service.
type Request struct {
	Repo    string   `json:"repo"`
	Repos   []string `json:"repos"`
	Query   string   `json:"query"`
	Context string   `json:"context"`

	Type  github.SearchType  `json:"type"`
	State github.SearchState `json:"state"`

	LabelsInclude []string `json:"labels_include"`
	LabelsExclude []string `json:"labels_exclude"`

	Limit         int `json:"limit"`
	CandidatePool int `json:"candidate_pool"`

	IncludeComments *bool `json:"include_comments"`
	IncludePRFiles  bool  `json:"include_pr_files"`

	Sort  string `json:"sort"`
	Order string `json:"order"`
}

// Normalize validates the request and applies defaults in place. Exactly one
// of repo and repos must be set; after normalization, Repos holds the
// deduplicated target list.
func (r *Request) Normalize() error {
	hasRepo := strings.TrimSpace(r.Repo) != ""
	hasRepos := len(r.Repos) > 0
	if hasRepo == hasRepos {
		return fmt.Errorf("provide exactly one of `repo` or `repos`")
	}

	raw := r.Repos
	if hasRepo {
		raw = []string{r.Repo}
	}
	repos, err := normalizeRepos(raw)
	if err != nil {
		return err
	}
	r.Repos = repos
	r.Repo = ""
	if len(repos) == 1 {
		r.Repo = repos[0]
	}

	r.Query = strings.Join(strings.Fields(r.Query), " ")
	if r.Query == "" {
		return fmt.Errorf("query must not be empty")
	}
	r.Context = normalizeContext(r.Context)

	switch r.Type {
	case "":
		r.Type = github.SearchTypeBoth
	case github.SearchTypeIssue, github.SearchTypePR, github.SearchTypeBoth:
	default:
		return fmt.Errorf("invalid type: %s", r.Type)
	}
	switch r.State {
	case "":
		r.State = github.SearchStateAll
	case github.SearchStateOpen, github.SearchStateClosed, github.SearchStateAll:
	default:
		return fmt.Errorf("invalid state: %s", r.State)
	}

	if r.Limit == 0 {
		r.Limit = 10
	}
	if r.Limit < 1 || r.Limit > 50 {
		return fmt.Errorf("limit must be between 1 and 50")
	}
	if r.CandidatePool == 0 {
		r.CandidatePool = 30
	}
	if r.CandidatePool < 1 || r.CandidatePool > 100 {
		return fmt.Errorf("candidate_pool must be between 1 and 100")
	}

	if r.IncludeComments == nil {
		include := true
		r.IncludeComments = &include
	}

	switch r.Sort {
	case "":
		r.Sort = "updated"
	case "updated", "created":
	default:
		return fmt.Errorf("invalid sort: %s", r.Sort)
	}
	switch r.Order {
	case "":
		r.Order = "desc"
	case "desc", "asc":
	default:
		return fmt.Errorf("invalid order: %s", r.Order)
	}

	r.LabelsInclude = trimLabels(r.LabelsInclude)
	r.LabelsExclude = trimLabels(r.LabelsExclude)
	return nil
}

func normalizeRepos(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	repos := make([]string, 0, len(raw))
	for _, repo := range raw {
		repo = strings.TrimSpace(repo)
		if repo == "" {
			continue
		}
		if _, ok := seen[repo]; ok {
			continue
		}
		seen[repo] = struct{}{}
		repos = append(repos, repo)
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("at least one repo must be provided")
	}
	for _, repo := range repos {
		if strings.Count(repo, "/") != 1 {
			return nil, fmt.Errorf("invalid repo format: %s (use owner/repo)", repo)
		}
	}
	return repos, nil
}

func normalizeContext(context string) string {
	lines := make([]string, 0)
	for _, line := range strings.Split(context, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func trimLabels(labels []string) []string {
	trimmed := make([]string, 0, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label != "" {
			trimmed = append(trimmed, label)
		}
	}
	return trimmed
}

// ResultItem is one ranked search result.
type ResultItem struct {
	Type   string   `json:"type"`
	Number int      `json:"number"`
	Title  string   `json:"title"`
	URL    string   `json:"url"`
	State  string   `json:"state"`
	Labels []string `json:"labels"`
	Author string   `json:"author,omitempty"`

	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`

	RelevanceScore int            `json:"relevance_score"`
	Summary        string         `json:"summary"`
	WhyRelevant    []string       `json:"why_relevant"`
	Signals        ranker.Signals `json:"signals"`
}

// RateLimitSummary is the worst-case view across every GitHub call.
type RateLimitSummary struct {
	RemainingMin *int     `json:"remaining_min,omitempty"`
	ResetMin     *int     `json:"reset_min,omitempty"`
	Resources    []string `json:"resources,omitempty"`
}

// Meta summarizes the work behind a response.
type Meta struct {
	RateLimit          RateLimitSummary `json:"rate_limit"`
	Cached             bool             `json:"cached"`
	TookMs             int64            `json:"took_ms"`
	Warnings           []string         `json:"warnings"`
	RateLimited        bool             `json:"rate_limited"`
	TotalFound         int              `json:"total_found"`
	CandidatesSearched int              `json:"candidates_searched"`
}

// Response is the full search response body.
type Response struct {
	Results []ResultItem `json:"results"`
	Meta    Meta         `json:"meta"`
}

// ValidateRequest is the body of a repo validation call.
type ValidateRequest struct {
	Repo  string   `json:"repo"`
	Repos []string `json:"repos"`
}

// Normalize applies the shared repo-list rules.
func (r *ValidateRequest) Normalize() error {
	hasRepo := strings.TrimSpace(r.Repo) != ""
	hasRepos := len(r.Repos) > 0
	if hasRepo == hasRepos {
		return fmt.Errorf("provide exactly one of `repo` or `repos`")
	}
	raw := r.Repos
	if hasRepo {
		raw = []string{r.Repo}
	}
	repos, err := normalizeRepos(raw)
	if err != nil {
		return err
	}
	r.Repos = repos
	r.Repo = ""
	if len(repos) == 1 {
		r.Repo = repos[0]
	}
	return nil
}

// ValidationResult is the outcome for one repository.
type ValidationResult struct {
	Repo          string `json:"repo"`
	Exists        bool   `json:"exists"`
	Accessible    bool   `json:"accessible"`
	Private       *bool  `json:"private,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ValidateResponse is the full validation response body.
type ValidateResponse struct {
	Results  []ValidationResult `json:"results"`
	Warnings []string           `json:"warnings"`
}
