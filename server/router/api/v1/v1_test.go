package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bchewy/issueradar/internal/profile"
	"github.com/bchewy/issueradar/plugin/cache"
	"github.com/bchewy/issueradar/server/github"
	"github.com/bchewy/issueradar/server/ranker"
	"github.com/bchewy/issueradar/server/service/search"
)

type stubGitHub struct {
	issues []github.Issue
	repo   *github.Repository
}

func (s *stubGitHub) SearchIssues(context.Context, github.SearchParams) ([]github.Issue, github.CallMeta, error) {
	return s.issues, github.CallMeta{TotalCount: len(s.issues)}, nil
}

func (s *stubGitHub) GetIssueComments(context.Context, string, int, int, string) ([]github.Comment, github.CallMeta, error) {
	return nil, github.CallMeta{}, nil
}

func (s *stubGitHub) GetPullRequestFiles(context.Context, string, int, string) ([]github.PullRequestFile, github.CallMeta, error) {
	return nil, github.CallMeta{}, nil
}

func (s *stubGitHub) ValidateRepo(context.Context, string, string) (*github.Repository, github.CallMeta, error) {
	return s.repo, github.CallMeta{}, nil
}

func testServer(t *testing.T, gh *stubGitHub) (*echo.Echo, *APIV1Service) {
	t.Helper()
	p := profile.Default()
	svc := search.NewService(p, gh, ranker.New(p, cache.New(100, time.Minute)))
	api := NewAPIV1Service(p.SessionSecret, p, svc)
	e := echo.New()
	api.RegisterRoutes(e)
	return e, api
}

func doJSON(e *echo.Echo, method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestParseBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"BEARER abc123", "abc123"},
		{"abc123", "abc123"},
		{"token xyz", "token xyz"},
		{"  Bearer   padded  ", "padded"},
		{"", ""},
		{"   ", ""},
		{"Bearer ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseBearerToken(tt.header), "header=%q", tt.header)
	}
}

func TestHealthz(t *testing.T) {
	e, _ := testServer(t, &stubGitHub{})
	rec := doJSON(e, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleSearch(t *testing.T) {
	t.Run("RejectsInvalidShape", func(t *testing.T) {
		e, _ := testServer(t, &stubGitHub{})
		for _, body := range []string{
			`{"query":"leak"}`,
			`{"repo":"a/a","repos":["b/b"],"query":"leak"}`,
			`{"repo":"not-a-repo","query":"leak"}`,
			`{"repo":"a/a","query":"leak","limit":51}`,
			`{"repo":"a/a","query":""}`,
		} {
			rec := doJSON(e, http.MethodPost, "/api/v1/search", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, "body=%s", body)
		}
	})

	t.Run("ReturnsRankedResults", func(t *testing.T) {
		gh := &stubGitHub{issues: []github.Issue{{
			NodeID:        "node-1",
			Number:        7,
			Title:         "memory leak in pool",
			Body:          "memory leak reproduced",
			State:         "open",
			HTMLURL:       "https://github.com/owner/repo/issues/7",
			RepositoryURL: "https://api.github.com/repos/owner/repo",
			Score:         12,
		}}}
		e, _ := testServer(t, gh)

		rec := doJSON(e, http.MethodPost, "/api/v1/search", `{"repo":"owner/repo","query":"memory leak"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp search.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Results, 1)
		assert.Equal(t, 7, resp.Results[0].Number)
		assert.GreaterOrEqual(t, resp.Results[0].RelevanceScore, 85)
		assert.Contains(t, resp.Meta.Warnings, "LLM reranking disabled; fallback ranker used.")
	})
}

func TestHandleValidateRepos(t *testing.T) {
	gh := &stubGitHub{repo: &github.Repository{FullName: "owner/repo", DefaultBranch: "main"}}
	e, _ := testServer(t, gh)

	rec := doJSON(e, http.MethodPost, "/api/v1/repos/validate", `{"repo":"owner/repo"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp search.ValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Accessible)
	assert.Equal(t, "main", resp.Results[0].DefaultBranch)

	rec = doJSON(e, http.MethodPost, "/api/v1/repos/validate", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func sessionCookie(t *testing.T, api *APIV1Service, claims *sessionClaims) *http.Cookie {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, api.sessions.issue(ctx, claims))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[0]
}

func TestSessionRoundTrip(t *testing.T) {
	_, api := testServer(t, &stubGitHub{})

	cookie := sessionCookie(t, api, &sessionClaims{GitHubToken: "gho_secret"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	ctx := e.NewContext(req, httptest.NewRecorder())

	session := api.sessions.read(ctx)
	require.NotNil(t, session)
	assert.Equal(t, "gho_secret", session.GitHubToken)

	tampered := *cookie
	tampered.Value += "x"
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&tampered)
	ctx = e.NewContext(req, httptest.NewRecorder())
	assert.Nil(t, api.sessions.read(ctx))
}

func TestHandleMe(t *testing.T) {
	t.Run("NotLoggedIn", func(t *testing.T) {
		e, _ := testServer(t, &stubGitHub{})
		rec := doJSON(e, http.MethodGet, "/auth/me", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body meResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.LoggedIn)
	})

	t.Run("ServesCachedUserInfo", func(t *testing.T) {
		e, api := testServer(t, &stubGitHub{})
		cookie := sessionCookie(t, api, &sessionClaims{
			GitHubToken: "gho_secret",
			Username:    "octocat",
			AvatarURL:   "https://example.com/a.png",
			UserInfoAt:  time.Now().Unix(),
		})

		rec := doJSON(e, http.MethodGet, "/auth/me", "", func(r *http.Request) { r.AddCookie(cookie) })
		var body meResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.LoggedIn)
		assert.Equal(t, "octocat", body.Username)
	})

	t.Run("FetchesAndCachesUserInfo", func(t *testing.T) {
		userAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer gho_secret", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"login":"octocat","avatar_url":"https://example.com/a.png"}`))
		}))
		defer userAPI.Close()

		e, api := testServer(t, &stubGitHub{})
		api.userAPIBase = userAPI.URL
		cookie := sessionCookie(t, api, &sessionClaims{GitHubToken: "gho_secret"})

		rec := doJSON(e, http.MethodGet, "/auth/me", "", func(r *http.Request) { r.AddCookie(cookie) })
		var body meResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.LoggedIn)
		assert.Equal(t, "octocat", body.Username)
		// The refreshed session cookie carries the cached user info.
		refreshed := false
		for _, c := range rec.Result().Cookies() {
			if c.Name == sessionCookieName && c.Value != "" {
				refreshed = true
			}
		}
		assert.True(t, refreshed)
	})

	t.Run("ClearsSessionOnRevokedToken", func(t *testing.T) {
		userAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer userAPI.Close()

		e, api := testServer(t, &stubGitHub{})
		api.userAPIBase = userAPI.URL
		cookie := sessionCookie(t, api, &sessionClaims{GitHubToken: "gho_revoked"})

		rec := doJSON(e, http.MethodGet, "/auth/me", "", func(r *http.Request) { r.AddCookie(cookie) })
		var body meResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.LoggedIn)

		cleared := false
		for _, c := range rec.Result().Cookies() {
			if c.Name == sessionCookieName && c.MaxAge < 0 {
				cleared = true
			}
		}
		assert.True(t, cleared)
	})
}

func TestHandleGitHubLogin(t *testing.T) {
	t.Run("UnconfiguredOAuth", func(t *testing.T) {
		e, _ := testServer(t, &stubGitHub{})
		rec := doJSON(e, http.MethodGet, "/auth/github/login", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("RedirectsWithStateCookie", func(t *testing.T) {
		e, api := testServer(t, &stubGitHub{})
		api.Profile.GitHubClientID = "client-id"

		rec := doJSON(e, http.MethodGet, "/auth/github/login", "", nil)
		require.Equal(t, http.StatusFound, rec.Code)
		location := rec.Header().Get(echo.HeaderLocation)
		assert.Contains(t, location, "client_id=client-id")
		assert.Contains(t, location, "state=")

		var state string
		for _, c := range rec.Result().Cookies() {
			if c.Name == stateCookieName {
				state = c.Value
			}
		}
		require.NotEmpty(t, state)
		assert.Contains(t, location, "state="+state)
	})
}

func TestHandleGitHubCallbackStateMismatch(t *testing.T) {
	e, api := testServer(t, &stubGitHub{})
	api.Profile.GitHubClientID = "client-id"

	rec := doJSON(e, http.MethodGet, "/auth/github/callback?code=abc&state=forged", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: stateCookieName, Value: "expected"})
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLogout(t *testing.T) {
	e, _ := testServer(t, &stubGitHub{})
	rec := doJSON(e, http.MethodPost, "/auth/logout", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}
