package github

import (
	"encoding/json"
	"strings"
)

// SearchType selects which item kinds a search covers.
type SearchType string

const (
	SearchTypeIssue SearchType = "issue"
	SearchTypePR    SearchType = "pr"
	SearchTypeBoth  SearchType = "both"
)

// SearchState filters items by state.
type SearchState string

const (
	SearchStateOpen   SearchState = "open"
	SearchStateClosed SearchState = "closed"
	SearchStateAll    SearchState = "all"
)

// Label is an issue label. The search API returns labels as objects but some
// payloads carry bare strings, so unmarshaling accepts both.
type Label struct {
	Name string `json:"name"`
}

func (l *Label) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &l.Name)
	}
	type alias Label
	return json.Unmarshal(data, (*alias)(l))
}

// User is the author of an issue or comment.
type User struct {
	Login string `json:"login"`
}

// PullRequestRef marks a search item as a pull request.
type PullRequestRef struct {
	URL string `json:"url"`
}

// Issue is a single issue or pull request as returned by the search and
// issues endpoints.
type Issue struct {
	NodeID        string          `json:"node_id"`
	Number        int             `json:"number"`
	Title         string          `json:"title"`
	Body          string          `json:"body"`
	State         string          `json:"state"`
	Labels        []Label         `json:"labels"`
	User          *User           `json:"user"`
	HTMLURL       string          `json:"html_url"`
	RepositoryURL string          `json:"repository_url"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
	Score         float64         `json:"score"`
	PullRequest   *PullRequestRef `json:"pull_request,omitempty"`
}

// IsPullRequest reports whether the item is a pull request.
func (i *Issue) IsPullRequest() bool {
	return i.PullRequest != nil
}

// LabelNames returns the label names, skipping unnamed entries.
func (i *Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, label := range i.Labels {
		if label.Name != "" {
			names = append(names, label.Name)
		}
	}
	return names
}

// AuthorLogin returns the author login, or empty when unknown.
func (i *Issue) AuthorLogin() string {
	if i.User == nil {
		return ""
	}
	return i.User.Login
}

// Identity returns a globally stable identity for deduplication: the
// provider node ID when present, else the canonical web URL.
func (i *Issue) Identity() string {
	if i.NodeID != "" {
		return i.NodeID
	}
	return i.HTMLURL
}

// RepoFullName resolves the owning "owner/name" repository from the
// repository URL when present, else from the item's web URL.
func (i *Issue) RepoFullName() string {
	if idx := strings.Index(i.RepositoryURL, "/repos/"); idx >= 0 {
		return strings.Trim(i.RepositoryURL[idx+len("/repos/"):], "/")
	}
	const webPrefix = "https://github.com/"
	if strings.HasPrefix(i.HTMLURL, webPrefix) {
		parts := strings.Split(strings.TrimPrefix(i.HTMLURL, webPrefix), "/")
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
	}
	return ""
}

// searchPayload is the raw search response; it is also the cached
// representation for search calls.
type searchPayload struct {
	TotalCount int     `json:"total_count"`
	Items      []Issue `json:"items"`
}

// Comment is a single issue comment.
type Comment struct {
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// PullRequest is the subset of the pulls endpoint payload the service reads.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
}

// PullRequestFile is one changed file in a pull request.
type PullRequestFile struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

// Repository is the subset of the repos endpoint payload used for validation.
type Repository struct {
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
}

// CallMeta records per-call metadata merged into the response-level summary.
type CallMeta struct {
	Cached      bool
	RateLimited bool
	Warnings    []string
	RateLimit   map[string]string
	TotalCount  int
}
