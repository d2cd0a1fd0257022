package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bchewy/issueradar/internal/profile"
	"github.com/bchewy/issueradar/server"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "issueradar",
	Short: "Relevance search over GitHub issues and pull requests",
	Run: func(_ *cobra.Command, _ []string) {
		serverProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Version: version,

			GitHubAPIBase:        viper.GetString("github-api-base"),
			GitHubTimeout:        viper.GetDuration("github-timeout"),
			GitHubRetryAttempts:  viper.GetInt("github-retry-attempts"),
			GitHubBackoffBase:    viper.GetDuration("github-backoff-base"),
			GitHubCacheTTL:       viper.GetDuration("github-cache-ttl"),
			GitHubCommentLimit:   viper.GetInt("github-comment-limit"),
			GitHubQueryMaxChars:  viper.GetInt("github-query-max-chars"),
			GitHubMaxConcurrency: viper.GetInt64("github-max-concurrency"),
			GitHubRequestsPerSec: viper.GetFloat64("github-requests-per-sec"),

			LLMEnabled:         viper.GetBool("llm-enabled"),
			OpenAIAPIKey:       viper.GetString("openai-api-key"),
			OpenAIBaseURL:      viper.GetString("openai-base-url"),
			OpenAIModel:        viper.GetString("openai-model"),
			LLMTimeout:         viper.GetDuration("llm-timeout"),
			LLMCacheTTL:        viper.GetDuration("llm-cache-ttl"),
			LLMPromptVersion:   viper.GetString("llm-prompt-version"),
			LLMMaxBodyChars:    viper.GetInt("llm-max-body-chars"),
			LLMMaxCommentChars: viper.GetInt("llm-max-comment-chars"),
			LLMCommentsPerItem: viper.GetInt("llm-comments-per-item"),

			CacheMaxEntries: viper.GetInt("cache-max-entries"),

			GitHubClientID:     viper.GetString("github-client-id"),
			GitHubClientSecret: viper.GetString("github-client-secret"),
			SessionSecret:      viper.GetString("session-secret"),
		}
		if err := serverProfile.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
			os.Exit(1)
		}

		setupLogger(serverProfile)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := server.NewServer(ctx, serverProfile)
		if err != nil {
			slog.Error("failed to create server", slog.String("error", err.Error()))
			os.Exit(1)
		}

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-signals
			s.Shutdown(ctx)
			cancel()
		}()

		if err := s.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start server", slog.String("error", err.Error()))
			cancel()
		}

		<-ctx.Done()
	},
}

func setupLogger(p *profile.Profile) {
	level := slog.LevelInfo
	if p.IsDev() {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func init() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("issueradar")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of the server, can be "prod" or "dev"`)
	flags.String("addr", "", "address of the server")
	flags.Int("port", 8081, "port of the server")
	for _, name := range []string{"mode", "addr", "port"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetDefault("github-api-base", "https://api.github.com")
	viper.SetDefault("github-timeout", "20s")
	viper.SetDefault("github-retry-attempts", 2)
	viper.SetDefault("github-backoff-base", "500ms")
	viper.SetDefault("github-cache-ttl", "10m")
	viper.SetDefault("github-comment-limit", 20)
	viper.SetDefault("github-query-max-chars", 256)
	viper.SetDefault("github-max-concurrency", 6)
	viper.SetDefault("github-requests-per-sec", 8.0)
	viper.SetDefault("llm-enabled", true)
	viper.SetDefault("openai-model", "gpt-4.1-mini")
	viper.SetDefault("llm-timeout", "45s")
	viper.SetDefault("llm-cache-ttl", "1h")
	viper.SetDefault("llm-prompt-version", "v1")
	viper.SetDefault("llm-max-body-chars", 2500)
	viper.SetDefault("llm-max-comment-chars", 700)
	viper.SetDefault("llm-comments-per-item", 3)
	viper.SetDefault("cache-max-entries", 4000)
	viper.SetDefault("session-secret", "")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
