package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"MorningCall/internal/app"
	"MorningCall/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	// Environment first, flags override
	_ = godotenv.Load()
	cfg := config.Load()

	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug|info|warn|error)")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for logs, traces and metrics")

	flag.StringVar(&cfg.StoreBackend, "store", cfg.StoreBackend, "Storage backend (sqlite|redis)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	flag.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database number")
	flag.StringVar(&cfg.RedisPrefix, "redis-prefix", cfg.RedisPrefix, "Prefix for Redis keys")

	flag.StringVar(&cfg.OpenAIBaseURL, "openai-url", cfg.OpenAIBaseURL, "Chat completions API base URL")
	flag.StringVar(&cfg.Plan, "plan", cfg.Plan, "Set the plan on startup (free|plus|premium)")

	flag.StringVar(&cfg.SearchProvider, "search", cfg.SearchProvider, "Web search provider (serper|tavily|mock)")
	flag.DurationVar(&cfg.SearchCacheTTL, "search-cache-ttl", cfg.SearchCacheTTL, "How long search results are reused (0 disables)")

	flag.StringVar(&cfg.SpeechMode, "speech", cfg.SpeechMode, "Speech transport (console|bridge)")
	flag.StringVar(&cfg.BridgeAddr, "bridge-addr", cfg.BridgeAddr, "Listen address for the speech device bridge")
	flag.DurationVar(&cfg.ListenTimeout, "listen-timeout", cfg.ListenTimeout, "Console recognition timeout")
	flag.StringVar(&cfg.Lang, "lang", cfg.Lang, "Speech language")
	flag.IntVar(&cfg.MaxRecognitionFailures, "max-recognition-failures", cfg.MaxRecognitionFailures, "Consecutive recognition failures before hanging up (0 retries forever)")

	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, *cfg, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
