package v1

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/bchewy/issueradar/internal/profile"
	"github.com/bchewy/issueradar/server/internal/observability"
	"github.com/bchewy/issueradar/server/service/search"
)

// APIV1Service exposes the search pipeline over HTTP.
type APIV1Service struct {
	Secret        string
	Profile       *profile.Profile
	SearchService *search.Service

	sessions *sessionManager
	// userAPIBase overrides the provider user endpoint in tests.
	userAPIBase string
}

// NewAPIV1Service wires the handler layer.
func NewAPIV1Service(secret string, p *profile.Profile, searchService *search.Service) *APIV1Service {
	return &APIV1Service{
		Secret:        secret,
		Profile:       p,
		SearchService: searchService,
		sessions:      newSessionManager(secret),
	}
}

// RegisterRoutes attaches all routes to the Echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.Use(requestContextMiddleware)

	e.GET("/healthz", s.handleHealthz)

	apiV1 := e.Group("/api/v1")
	apiV1.POST("/search", s.handleSearch)
	apiV1.POST("/repos/validate", s.handleValidateRepos)

	auth := e.Group("/auth")
	auth.GET("/github/login", s.handleGitHubLogin)
	auth.GET("/github/callback", s.handleGitHubCallback)
	auth.GET("/me", s.handleMe)
	auth.POST("/logout", s.handleLogout)
}

// requestContextMiddleware gives every request an ID-tagged logger.
func requestContextMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqCtx := observability.NewRequestContext(slog.Default())
		ctx := observability.WithRequestContext(c.Request().Context(), reqCtx)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *APIV1Service) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Profile.Version,
	})
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Message string `json:"message"`
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
}

// parseBearerToken extracts a token from an Authorization header. A bare
// token without a scheme is accepted; a non-bearer scheme is returned
// verbatim so opaque provider tokens keep working.
func parseBearerToken(header string) string {
	value := strings.TrimSpace(header)
	if value == "" {
		return ""
	}
	scheme, token, found := strings.Cut(value, " ")
	if !found {
		return value
	}
	if !strings.EqualFold(scheme, "bearer") {
		return value
	}
	return strings.TrimSpace(token)
}
