package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bchewy/issueradar/internal/profile"
	"github.com/bchewy/issueradar/plugin/cache"
	"github.com/bchewy/issueradar/server/github"
	"github.com/bchewy/issueradar/server/ranker"
	apiv1 "github.com/bchewy/issueradar/server/router/api/v1"
	"github.com/bchewy/issueradar/server/service/search"
)

// Server assembles the cache, GitHub client, ranker, and search service
// behind one Echo instance. The cache instance is shared by the client and
// the ranker.
type Server struct {
	Profile *profile.Profile
	Cache   *cache.Cache

	echoServer *echo.Echo
}

func NewServer(_ context.Context, p *profile.Profile) (*Server, error) {
	sharedCache := cache.New(p.CacheMaxEntries, p.GitHubCacheTTL)
	githubClient := github.NewClient(p, sharedCache)
	reranker := ranker.New(p, sharedCache)
	searchService := search.NewService(p, githubClient, reranker)

	echoServer := echo.New()
	echoServer.Debug = p.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowCredentials: false,
	}))

	apiV1Service := apiv1.NewAPIV1Service(p.SessionSecret, p, searchService)
	apiV1Service.RegisterRoutes(echoServer)

	return &Server{
		Profile:    p,
		Cache:      sharedCache,
		echoServer: echoServer,
	}, nil
}

func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server started", slog.String("address", address), slog.String("mode", s.Profile.Mode))
	return s.echoServer.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down server", slog.String("error", err.Error()))
	}
	slog.Info("server stopped")
}
