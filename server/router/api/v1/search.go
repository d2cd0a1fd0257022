package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bchewy/issueradar/server/service/search"
)

const llmProviderKeyHeader = "X-LLM-Provider-Key"

func (s *APIV1Service) handleSearch(c echo.Context) error {
	var req search.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body"})
	}
	if err := req.Normalize(); err != nil {
		return badRequest(c, err)
	}

	creds := search.Credentials{
		GitHubToken: s.githubToken(c),
		LLMAPIKey:   c.Request().Header.Get(llmProviderKeyHeader),
	}
	resp := s.SearchService.Search(c.Request().Context(), &req, creds)
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) handleValidateRepos(c echo.Context) error {
	var req search.ValidateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body"})
	}
	if err := req.Normalize(); err != nil {
		return badRequest(c, err)
	}

	resp := s.SearchService.ValidateRepos(c.Request().Context(), req.Repos, s.githubToken(c))
	return c.JSON(http.StatusOK, resp)
}

// githubToken resolves the caller's GitHub token: an explicit Authorization
// header wins, then the login session.
func (s *APIV1Service) githubToken(c echo.Context) string {
	if token := parseBearerToken(c.Request().Header.Get(echo.HeaderAuthorization)); token != "" {
		return token
	}
	if session := s.sessions.read(c); session != nil {
		return session.GitHubToken
	}
	return ""
}
