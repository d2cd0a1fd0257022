package profile

import (
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Version is the current version of server
	Version string

	// GitHub API configuration
	GitHubAPIBase        string
	GitHubTimeout        time.Duration
	GitHubRetryAttempts  int
	GitHubBackoffBase    time.Duration
	GitHubCacheTTL       time.Duration
	GitHubCommentLimit   int
	GitHubQueryMaxChars  int
	GitHubMaxConcurrency int64
	// GitHubRequestsPerSec throttles outbound calls before GitHub does.
	GitHubRequestsPerSec float64

	// LLM reranking configuration
	LLMEnabled         bool
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	LLMTimeout         time.Duration
	LLMCacheTTL        time.Duration
	LLMPromptVersion   string
	LLMMaxBodyChars    int
	LLMMaxCommentChars int
	LLMCommentsPerItem int

	// CacheMaxEntries bounds the shared in-process cache.
	CacheMaxEntries int

	// GitHub OAuth configuration
	GitHubClientID     string
	GitHubClientSecret string
	SessionSecret      string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMEnabled returns true if reranking is enabled and a server-side key is configured.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMEnabled
}

// Validate normalizes the profile and applies defaults for unset values.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.Port <= 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}

	if p.GitHubAPIBase == "" {
		p.GitHubAPIBase = "https://api.github.com"
	}
	if p.GitHubTimeout <= 0 {
		p.GitHubTimeout = 20 * time.Second
	}
	if p.GitHubRetryAttempts < 0 {
		p.GitHubRetryAttempts = 0
	}
	if p.GitHubBackoffBase <= 0 {
		p.GitHubBackoffBase = 500 * time.Millisecond
	}
	if p.GitHubCacheTTL <= 0 {
		p.GitHubCacheTTL = 10 * time.Minute
	}
	if p.GitHubCommentLimit <= 0 {
		p.GitHubCommentLimit = 20
	}
	if p.GitHubQueryMaxChars <= 0 {
		p.GitHubQueryMaxChars = 256
	}
	if p.GitHubMaxConcurrency <= 0 {
		p.GitHubMaxConcurrency = 6
	}
	if p.GitHubRequestsPerSec <= 0 {
		p.GitHubRequestsPerSec = 8
	}

	if p.OpenAIBaseURL == "" {
		p.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if p.OpenAIModel == "" {
		p.OpenAIModel = "gpt-4.1-mini"
	}
	if p.LLMTimeout <= 0 {
		p.LLMTimeout = 45 * time.Second
	}
	if p.LLMCacheTTL <= 0 {
		p.LLMCacheTTL = time.Hour
	}
	if p.LLMPromptVersion == "" {
		p.LLMPromptVersion = "v1"
	}
	if p.LLMMaxBodyChars <= 0 {
		p.LLMMaxBodyChars = 2500
	}
	if p.LLMMaxCommentChars <= 0 {
		p.LLMMaxCommentChars = 700
	}
	if p.LLMCommentsPerItem <= 0 {
		p.LLMCommentsPerItem = 3
	}

	if p.CacheMaxEntries < 100 {
		p.CacheMaxEntries = 4000
	}

	if p.SessionSecret == "" {
		if p.Mode == "prod" {
			return errors.New("session secret must be set in prod mode")
		}
		p.SessionSecret = "change-me-in-production"
	}

	return nil
}

// Default returns a profile with every default applied, suitable for tests.
func Default() *Profile {
	p := &Profile{Mode: "dev", Addr: "", Port: 8081, Version: "0.1.0"}
	// Validate cannot fail on this input.
	_ = p.Validate()
	return p
}
