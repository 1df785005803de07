package main

import (
	"context"
	"fmt"
	"os"

	"codeberg.org/lessonforge/server/internal/config"
	"codeberg.org/lessonforge/server/internal/kv"
	"codeberg.org/lessonforge/server/internal/logger"
	"codeberg.org/lessonforge/server/internal/quota"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: quotactl <command> [options]")
		fmt.Println("Commands:")
		fmt.Println("  status  - show today's usage of a client")
		fmt.Println("  reset   - zero today's usage of a client")
		fmt.Println("  search  - run an image search and print ranked candidates")
		fmt.Println("\nOptions:")
		fmt.Println("  --client <id>  - client id (status, reset)")
		fmt.Println("  --q <query>    - search query (search)")
		fmt.Println("  --lang <code>  - lesson language (search, default en)")
		fmt.Println("  --json         - print raw JSON (status, search)")
		os.Exit(1)
	}

	command := os.Args[1]

	cfg, err := config.LoadQuotaConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	ctx := context.Background()
	limits := quota.Limits{Generations: cfg.GenerationLimit, Images: cfg.ImageLimit}

	switch command {
	case "status":
		flags := config.ParseStatusFlags()
		backend := openStore(cfg)
		if err := Status(ctx, os.Stdout, backend, limits, flags); err != nil {
			logger.Fatal("failed to read usage", "error", err)
		}

	case "reset":
		flags := config.ParseResetFlags()
		backend := openStore(cfg)
		if err := Reset(ctx, os.Stdout, backend, limits, flags); err != nil {
			logger.Fatal("failed to reset usage", "error", err)
		}

	case "search":
		flags := config.ParseSearchFlags()
		if err := Search(ctx, os.Stdout, newSearcher(cfg), flags); err != nil {
			logger.Fatal("image search failed", "error", err)
		}

	default:
		logger.Fatal("unknown command", "command", command)
	}
}

// the server's usage store; without REDIS_URL there is nothing to inspect
func openStore(cfg *config.Config) kv.Store {
	if cfg.RedisURL == "" {
		logger.Fatal("REDIS_URL is required: in-memory usage lives only inside the server process")
	}

	store, err := kv.NewRedisStoreFromURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to usage store", "error", err)
	}

	return store
}
