// Package github implements the GitHub REST client used by the search
// service: query building, response caching with conditional revalidation,
// rate-limit classification, and retry with exponential backoff.
package github

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bchewy/issueradar/internal/profile"
	"github.com/bchewy/issueradar/plugin/cache"
)

const (
	apiVersion = "2022-11-28"
	userAgent  = "issueradar/0.1"

	// backoffCeiling caps the computed retry delay.
	backoffCeiling = 8 * time.Second
)

// APIError is returned when a GitHub call fails after exhausting retries.
type APIError struct {
	StatusCode  int
	Message     string
	RateLimited bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error %d: %s", e.StatusCode, e.Message)
}

// Client talks to the GitHub REST API. Responses are cached in the shared
// TTL cache under an auth-fingerprinted key namespace so data fetched under
// one identity never serves a request made under another.
type Client struct {
	profile *profile.Profile
	cache   *cache.Cache
	http    *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewClient creates a client from the profile. The outbound limiter softens
// secondary rate limits before GitHub raises them.
func NewClient(p *profile.Profile, c *cache.Cache) *Client {
	return &Client{
		profile: p,
		cache:   c,
		http:    &http.Client{Timeout: p.GitHubTimeout},
		limiter: rate.NewLimiter(rate.Limit(p.GitHubRequestsPerSec), int(p.GitHubRequestsPerSec)*2),
		baseURL: strings.TrimRight(p.GitHubAPIBase, "/"),
	}
}

// SearchParams are the inputs to a single repository search.
type SearchParams struct {
	Repo          string
	Query         string
	Type          SearchType
	State         SearchState
	LabelsInclude []string
	LabelsExclude []string
	PerPage       int
	Sort          string
	Order         string
	Token         string
}

// SearchIssues runs one search against the issues search endpoint. A fresh
// cache hit short-circuits the network entirely; a stale entry contributes
// its ETag for conditional revalidation.
func (c *Client) SearchIssues(ctx context.Context, params SearchParams) ([]Issue, CallMeta, error) {
	q, queryWarnings := c.BuildSearchQuery(params.Query, params.Repo, params.Type, params.State, params.LabelsInclude, params.LabelsExclude)

	perPage := params.PerPage
	if perPage < 1 {
		perPage = 1
	} else if perPage > 100 {
		perPage = 100
	}

	// Read stale-inclusive: a fresh entry short-circuits, an expired one is
	// kept solely so its ETag can drive conditional revalidation below.
	key := cacheKey("search", params.Repo, q, strconv.Itoa(perPage), params.Sort, params.Order, authFingerprint(params.Token))
	staleEntry, hasStale := c.cache.Get(key, true)
	if hasStale && staleEntry.ExpiresAt.After(time.Now()) {
		var payload searchPayload
		if err := json.Unmarshal(staleEntry.Value, &payload); err == nil {
			meta := CallMeta{
				Cached:     true,
				Warnings:   queryWarnings,
				RateLimit:  map[string]string{"source": "cache"},
				TotalCount: payload.TotalCount,
			}
			return payload.Items, meta, nil
		}
		c.cache.Delete(key)
		hasStale = false
	}

	values := url.Values{}
	values.Set("q", q)
	values.Set("sort", params.Sort)
	values.Set("order", params.Order)
	values.Set("per_page", strconv.Itoa(perPage))
	values.Set("page", "1")

	result, err := c.doRequest(ctx, http.MethodGet, "/search/issues", values, params.Token, requestOptions{
		etag:     staleETag(staleEntry, hasStale),
		allow304: true,
	})
	if err != nil {
		return nil, CallMeta{Warnings: queryWarnings}, err
	}

	meta := CallMeta{
		RateLimited: result.rateLimited,
		Warnings:    append(queryWarnings, result.warnings...),
		RateLimit:   rateLimitFromHeaders(result.header),
	}

	if result.status == http.StatusNotModified && hasStale {
		c.cache.Set(key, staleEntry.Value, c.profile.GitHubCacheTTL, staleEntry.ETag)
		var payload searchPayload
		if err := json.Unmarshal(staleEntry.Value, &payload); err != nil {
			return nil, meta, fmt.Errorf("decode revalidated search payload: %w", err)
		}
		meta.Cached = true
		meta.TotalCount = payload.TotalCount
		return payload.Items, meta, nil
	}

	var payload searchPayload
	if err := json.Unmarshal(result.body, &payload); err != nil {
		return nil, meta, fmt.Errorf("decode search payload: %w", err)
	}
	c.cache.Set(key, result.body, c.profile.GitHubCacheTTL, result.header.Get("Etag"))
	meta.TotalCount = payload.TotalCount
	return payload.Items, meta, nil
}

// GetIssue fetches a single issue or pull request. A 404 is reported as a
// missing item with a warning, not an error.
func (c *Client) GetIssue(ctx context.Context, repo string, number int, token string) (*Issue, CallMeta, error) {
	key := cacheKey("issue", repo, strconv.Itoa(number), authFingerprint(token))
	if entry, ok := c.cache.Get(key, false); ok {
		var issue Issue
		if err := json.Unmarshal(entry.Value, &issue); err == nil {
			return &issue, CallMeta{Cached: true, RateLimit: map[string]string{"source": "cache"}}, nil
		}
		c.cache.Delete(key)
	}

	result, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues/%d", repo, number), nil, token, requestOptions{allow404: true})
	if err != nil {
		return nil, CallMeta{}, err
	}

	meta := CallMeta{
		RateLimited: result.rateLimited,
		Warnings:    result.warnings,
		RateLimit:   rateLimitFromHeaders(result.header),
	}

	if result.status == http.StatusNotFound {
		meta.Warnings = append(meta.Warnings, fmt.Sprintf("Issue/PR %s#%d was not accessible.", repo, number))
		return nil, meta, nil
	}

	var issue Issue
	if err := json.Unmarshal(result.body, &issue); err != nil {
		return nil, meta, fmt.Errorf("decode issue payload: %w", err)
	}
	c.cache.Set(key, result.body, c.profile.GitHubCacheTTL, "")
	return &issue, meta, nil
}

// GetIssueComments fetches up to limit comments for an issue. Missing
// comment threads yield an empty list with a warning.
func (c *Client) GetIssueComments(ctx context.Context, repo string, number int, limit int, token string) ([]Comment, CallMeta, error) {
	if limit <= 0 {
		limit = c.profile.GitHubCommentLimit
	}
	if limit > 100 {
		limit = 100
	}

	key := cacheKey("comments", repo, strconv.Itoa(number), strconv.Itoa(limit), authFingerprint(token))
	if entry, ok := c.cache.Get(key, false); ok {
		var comments []Comment
		if err := json.Unmarshal(entry.Value, &comments); err == nil {
			return comments, CallMeta{Cached: true, RateLimit: map[string]string{"source": "cache"}}, nil
		}
		c.cache.Delete(key)
	}

	values := url.Values{}
	values.Set("per_page", strconv.Itoa(limit))
	values.Set("page", "1")

	result, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues/%d/comments", repo, number), values, token, requestOptions{allow404: true})
	if err != nil {
		return nil, CallMeta{}, err
	}

	meta := CallMeta{
		RateLimited: result.rateLimited,
		Warnings:    result.warnings,
		RateLimit:   rateLimitFromHeaders(result.header),
	}

	if result.status == http.StatusNotFound {
		meta.Warnings = append(meta.Warnings, fmt.Sprintf("Comments for %s#%d were not accessible.", repo, number))
		return nil, meta, nil
	}

	var comments []Comment
	if err := json.Unmarshal(result.body, &comments); err != nil {
		return nil, meta, fmt.Errorf("decode comments payload: %w", err)
	}
	c.cache.Set(key, result.body, c.profile.GitHubCacheTTL, "")
	return comments, meta, nil
}

// GetPullRequest fetches pull request details, nil on 404.
func (c *Client) GetPullRequest(ctx context.Context, repo string, number int, token string) (*PullRequest, CallMeta, error) {
	key := cacheKey("pr", repo, strconv.Itoa(number), authFingerprint(token))
	if entry, ok := c.cache.Get(key, false); ok {
		var pr PullRequest
		if err := json.Unmarshal(entry.Value, &pr); err == nil {
			return &pr, CallMeta{Cached: true, RateLimit: map[string]string{"source": "cache"}}, nil
		}
		c.cache.Delete(key)
	}

	result, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d", repo, number), nil, token, requestOptions{allow404: true})
	if err != nil {
		return nil, CallMeta{}, err
	}

	meta := CallMeta{
		RateLimited: result.rateLimited,
		Warnings:    result.warnings,
		RateLimit:   rateLimitFromHeaders(result.header),
	}

	if result.status == http.StatusNotFound {
		return nil, meta, nil
	}

	var pr PullRequest
	if err := json.Unmarshal(result.body, &pr); err != nil {
		return nil, meta, fmt.Errorf("decode pull request payload: %w", err)
	}
	c.cache.Set(key, result.body, c.profile.GitHubCacheTTL, "")
	return &pr, meta, nil
}

// GetPullRequestFiles fetches the changed files of a pull request, empty on 404.
func (c *Client) GetPullRequestFiles(ctx context.Context, repo string, number int, token string) ([]PullRequestFile, CallMeta, error) {
	key := cacheKey("pr_files", repo, strconv.Itoa(number), authFingerprint(token))
	if entry, ok := c.cache.Get(key, false); ok {
		var files []PullRequestFile
		if err := json.Unmarshal(entry.Value, &files); err == nil {
			return files, CallMeta{Cached: true, RateLimit: map[string]string{"source": "cache"}}, nil
		}
		c.cache.Delete(key)
	}

	values := url.Values{}
	values.Set("per_page", "100")
	values.Set("page", "1")

	result, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d/files", repo, number), values, token, requestOptions{allow404: true})
	if err != nil {
		return nil, CallMeta{}, err
	}

	meta := CallMeta{
		RateLimited: result.rateLimited,
		Warnings:    result.warnings,
		RateLimit:   rateLimitFromHeaders(result.header),
	}

	if result.status == http.StatusNotFound {
		return nil, meta, nil
	}

	var files []PullRequestFile
	if err := json.Unmarshal(result.body, &files); err != nil {
		return nil, meta, fmt.Errorf("decode pull request files payload: %w", err)
	}
	c.cache.Set(key, result.body, c.profile.GitHubCacheTTL, "")
	return files, meta, nil
}

// ValidateRepo looks up a repository, nil on 404. Validation results are not
// cached: callers use them to probe current access.
func (c *Client) ValidateRepo(ctx context.Context, repo string, token string) (*Repository, CallMeta, error) {
	result, err := c.doRequest(ctx, http.MethodGet, "/repos/"+repo, nil, token, requestOptions{allow404: true})
	if err != nil {
		return nil, CallMeta{}, err
	}

	meta := CallMeta{
		RateLimited: result.rateLimited,
		Warnings:    result.warnings,
		RateLimit:   rateLimitFromHeaders(result.header),
	}

	if result.status == http.StatusNotFound {
		return nil, meta, nil
	}

	var repository Repository
	if err := json.Unmarshal(result.body, &repository); err != nil {
		return nil, meta, fmt.Errorf("decode repository payload: %w", err)
	}
	return &repository, meta, nil
}

type requestOptions struct {
	etag     string
	allow304 bool
	allow404 bool
}

type requestResult struct {
	body        []byte
	status      int
	header      http.Header
	warnings    []string
	rateLimited bool
}

// doRequest executes one HTTP call with the retry/backoff policy: up to the
// configured number of extra attempts on 5xx or rate-limited responses.
// Exhausting the budget surfaces an APIError carrying the last status and
// the rate-limited flag.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, token string, opts requestOptions) (*requestResult, error) {
	var warnings []string
	rateLimited := false
	maxAttempts := c.profile.GitHubRetryAttempts

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		if params != nil {
			req.URL.RawQuery = params.Encode()
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", apiVersion)
		req.Header.Set("User-Agent", userAgent)
		if opts.etag != "" {
			req.Header.Set("If-None-Match", opts.etag)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("github request %s %s: %w", method, path, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read github response %s %s: %w", method, path, err)
		}

		status := resp.StatusCode

		if status == http.StatusNotModified && opts.allow304 {
			return &requestResult{status: status, header: resp.Header, warnings: warnings, rateLimited: rateLimited}, nil
		}
		if status == http.StatusNotFound && opts.allow404 {
			return &requestResult{status: status, header: resp.Header, warnings: warnings, rateLimited: rateLimited}, nil
		}

		isLimited := isRateLimited(status, body, resp.Header)
		if isLimited {
			rateLimited = true
		}

		shouldRetry := status >= 500 || isLimited
		if shouldRetry && attempt < maxAttempts {
			delay := c.backoffDelay(resp.Header, attempt)
			warnings = append(warnings, fmt.Sprintf("GitHub request %s %s retried after %d; waiting %.2fs.", method, path, status, delay.Seconds()))
			slog.Debug("github request retrying",
				"method", method, "path", path,
				"status", status, "attempt", attempt+1,
				"delay_ms", delay.Milliseconds())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		if status >= 400 {
			message := errorMessage(body)
			if message == "" {
				message = fmt.Sprintf("GitHub API request failed with %d.", status)
			}
			return nil, &APIError{StatusCode: status, Message: message, RateLimited: isLimited}
		}

		return &requestResult{body: body, status: status, header: resp.Header, warnings: warnings, rateLimited: rateLimited}, nil
	}
}

// isRateLimited classifies a response. 429 always is; 403 is when the
// remaining-quota header is exactly zero or the error message carries
// rate-limit wording. Quota exhaustion on a successful response is not a
// rejection and therefore not rate-limited.
func isRateLimited(status int, body []byte, header http.Header) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if status != http.StatusForbidden {
		return false
	}
	if header.Get("x-ratelimit-remaining") == "0" {
		return true
	}
	message := strings.ToLower(errorMessage(body))
	return strings.Contains(message, "rate limit") || strings.Contains(message, "secondary")
}

// backoffDelay computes the retry delay: an explicit Retry-After header wins
// verbatim (floored at zero), otherwise exponential backoff with jitter,
// capped at the ceiling.
func (c *Client) backoffDelay(header http.Header, attempt int) time.Duration {
	if retryAfter := header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.ParseFloat(retryAfter, 64); err == nil {
			if seconds < 0 {
				seconds = 0
			}
			return time.Duration(seconds * float64(time.Second))
		}
	}

	delay := c.profile.GitHubBackoffBase << uint(attempt)
	delay += time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
	if delay > backoffCeiling {
		delay = backoffCeiling
	}
	return delay
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

// rateLimitFromHeaders snapshots the rate-limit headers present on a response.
func rateLimitFromHeaders(header http.Header) map[string]string {
	result := map[string]string{}
	for _, name := range []string{"limit", "remaining", "reset", "resource"} {
		if value := header.Get("x-ratelimit-" + name); value != "" {
			result[name] = value
		}
	}
	return result
}

func staleETag(entry cache.Entry, ok bool) string {
	if !ok {
		return ""
	}
	return entry.ETag
}

func sha256Hex(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// authFingerprint is a short hash of the access token used to namespace
// cache keys per identity; unauthenticated calls share the "anon" namespace.
func authFingerprint(token string) string {
	if token == "" {
		return "anon"
	}
	return sha256Hex(token)[:12]
}

func cacheKey(op string, parts ...string) string {
	return op + ":" + sha256Hex(strings.Join(parts, "|"))
}
