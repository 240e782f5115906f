// Package main is the entry point for the Alexander Uploads schema tool.
// It provisions the DynamoDB session table or applies the SQL schema,
// depending on sessions.backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uploads/internal/app"
	"github.com/prn-tf/alexander-uploads/internal/awsclient"
	"github.com/prn-tf/alexander-uploads/internal/config"
	"github.com/prn-tf/alexander-uploads/internal/repository"
	"github.com/prn-tf/alexander-uploads/internal/repository/dynamo"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// migrator is implemented by the SQL session stores.
type migrator interface {
	Migrate(ctx context.Context) error
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "version":
		fmt.Printf("Alexander Uploads Migration Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "up":
		fs := flag.NewFlagSet("up", flag.ExitOnError)
		configPath := fs.String("config", "", "path to config file")
		_ = fs.Parse(os.Args[2:])

		if err := runUp(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runUp(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Logging)
	ctx := context.Background()

	backend, err := repository.ParseBackend(cfg.Sessions.Backend)
	if err != nil {
		return err
	}

	if backend == repository.BackendDynamo {
		return provisionTable(ctx, cfg, logger)
	}

	store, err := app.OpenStore(ctx, cfg, nil, nil, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	m, ok := store.Database.(migrator)
	if !ok {
		return fmt.Errorf("session backend %s has no schema to apply", backend)
	}
	if err := m.Migrate(ctx); err != nil {
		return err
	}

	logger.Info().Str("backend", string(backend)).Msg("schema is up to date")
	return nil
}

func provisionTable(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	clients, err := awsclient.New(ctx, cfg.AWS)
	if err != nil {
		return err
	}

	if err := dynamo.EnsureTable(ctx, clients.DynamoDB, cfg.Sessions.Table, cfg.Sessions.TableWait, logger); err != nil {
		return err
	}

	logger.Info().Str("table", cfg.Sessions.Table).Msg("session table is ready")
	return nil
}

func printUsage() {
	fmt.Println(`Alexander Uploads Migration Tool

Usage:
  uploads-migrate <command> [arguments]

Commands:
  up          Create the session table (dynamo) or apply the schema (sqlite, postgres)
  version     Print version information
  help        Show this help message

Examples:
  uploads-migrate up --config ./configs/config.yaml
  UPLOADS_SESSIONS_BACKEND=postgres uploads-migrate up`)
}
