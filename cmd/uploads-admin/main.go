// Package main is the entry point for the Alexander Uploads admin CLI.
// This tool drives the upload service directly: planning, completing and
// aborting uploads, presigning downloads and inspecting sessions.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prn-tf/alexander-uploads/internal/app"
	"github.com/prn-tf/alexander-uploads/internal/config"
	"github.com/prn-tf/alexander-uploads/internal/domain"
	"github.com/prn-tf/alexander-uploads/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "version":
		fmt.Printf("Alexander Uploads Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "plan":
		err = runPlan(args)

	case "complete":
		err = runComplete(args)

	case "abort":
		err = runAbort(args)

	case "presign":
		err = runPresign(args)

	case "record-part":
		err = runRecordPart(args)

	case "session":
		err = runSession(args)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// Commands
// =============================================================================

func runPlan(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	provider := fs.String("provider", string(domain.ProviderAWS), "storage provider")
	user := fs.String("user", "", "user sub owning the upload")
	project := fs.String("project", "default", "project id")
	filename := fs.String("filename", "", "file name")
	contentType := fs.String("content-type", "application/octet-stream", "declared content type")
	size := fs.Int64("size", 0, "declared size in bytes")
	_ = fs.Parse(args)

	if *user == "" || *filename == "" {
		return fmt.Errorf("--user and --filename are required")
	}

	return withService(*configPath, func(ctx context.Context, svc *service.UploadService) (any, error) {
		return svc.PlanUpload(ctx, domain.UploadCtx{
			Provider:  domain.Provider(*provider),
			UserSub:   *user,
			ProjectID: *project,
			FileMeta: domain.FileMeta{
				Filename:    *filename,
				ContentType: *contentType,
				SizeBytes:   *size,
			},
		})
	})
}

func runComplete(args []string) error {
	fs := flag.NewFlagSet("complete", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	payloadPath := fs.String("payload", "-", "completion payload JSON file, - for stdin")
	_ = fs.Parse(args)

	payload, err := readPayload(*payloadPath)
	if err != nil {
		return err
	}

	return withService(*configPath, func(ctx context.Context, svc *service.UploadService) (any, error) {
		return svc.CompleteUpload(ctx, *payload)
	})
}

func runAbort(args []string) error {
	fs := flag.NewFlagSet("abort", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	id := fs.String("id", "", "session id")
	_ = fs.Parse(args)

	return withService(*configPath, func(ctx context.Context, svc *service.UploadService) (any, error) {
		return svc.AbortUpload(ctx, *id)
	})
}

func runPresign(args []string) error {
	fs := flag.NewFlagSet("presign", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	provider := fs.String("provider", string(domain.ProviderAWS), "storage provider")
	bucket := fs.String("bucket", "", "bucket, defaults to the configured bucket")
	key := fs.String("key", "", "object key")
	expires := fs.Duration("expires", 0, "URL validity, defaults to uploads.get_url_expiry")
	contentType := fs.String("response-content-type", "", "Content-Type override")
	disposition := fs.String("response-content-disposition", "", "Content-Disposition override")
	_ = fs.Parse(args)

	return withService(*configPath, func(ctx context.Context, svc *service.UploadService) (any, error) {
		return svc.PresignDownload(ctx, domain.DownloadCtx{
			Provider:                   domain.Provider(*provider),
			Bucket:                     *bucket,
			Key:                        *key,
			Expires:                    *expires,
			ResponseContentType:        *contentType,
			ResponseContentDisposition: *disposition,
		})
	})
}

func runRecordPart(args []string) error {
	fs := flag.NewFlagSet("record-part", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	id := fs.String("id", "", "session id")
	part := fs.Int("part", 0, "part number")
	etag := fs.String("etag", "", "part ETag returned by storage")
	size := fs.Int64("size", 0, "part size in bytes")
	_ = fs.Parse(args)

	return withService(*configPath, func(ctx context.Context, svc *service.UploadService) (any, error) {
		if err := svc.RecordPart(ctx, domain.UploadPart{
			SessionID:  *id,
			PartNumber: int32(*part),
			ETag:       *etag,
			Size:       *size,
		}); err != nil {
			return nil, err
		}
		return map[string]any{"upload_id": *id, "part_number": *part, "recorded": true}, nil
	})
}

func runSession(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("session requires a subcommand: get, list")
	}

	switch args[0] {
	case "get":
		fs := flag.NewFlagSet("session get", flag.ExitOnError)
		configPath := fs.String("config", "", "path to config file")
		id := fs.String("id", "", "session id")
		_ = fs.Parse(args[1:])

		return withService(*configPath, func(ctx context.Context, svc *service.UploadService) (any, error) {
			return svc.GetSession(ctx, *id)
		})

	case "list":
		fs := flag.NewFlagSet("session list", flag.ExitOnError)
		configPath := fs.String("config", "", "path to config file")
		status := fs.String("status", string(domain.StatusUploading), "session status")
		user := fs.String("user", "", "restrict to one user sub")
		limit := fs.Int("limit", 0, "page size")
		cursor := fs.String("cursor", "", "cursor from a previous page")
		_ = fs.Parse(args[1:])

		return withService(*configPath, func(ctx context.Context, svc *service.UploadService) (any, error) {
			return svc.ListSessions(ctx, service.ListSessionsInput{
				Status:  domain.UploadStatus(*status),
				UserSub: *user,
				Limit:   *limit,
				Cursor:  *cursor,
			})
		})

	default:
		return fmt.Errorf("unknown session subcommand: %s", args[0])
	}
}

// =============================================================================
// Helpers
// =============================================================================

// withService builds the service graph, runs fn and prints its result as JSON.
func withService(configPath string, fn func(ctx context.Context, svc *service.UploadService) (any, error)) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Stdout carries the JSON result.
	cfg.Logging.Output = "stderr"
	logger := app.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := fn(ctx, a.Service)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, result)
}

func readPayload(path string) (*domain.CompletionPayload, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open payload: %w", err)
		}
		defer f.Close()
		r = f
	}

	var payload domain.CompletionPayload
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &payload, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Println(`Alexander Uploads Admin CLI

Usage:
  uploads-admin <command> [arguments]

Commands:
  plan          Plan an upload and print the presigned URLs
  complete      Complete an upload from its completion payload
  abort         Abort an in-flight upload
  presign       Presign a download URL
  record-part   Record one uploaded part of a multipart upload
  session       Inspect sessions (get, list)
  version       Print version information
  help          Show this help message

Examples:
  uploads-admin plan --user u1 --project p1 --filename report.pdf --content-type application/pdf --size 52428800
  uploads-admin complete --payload payload.json
  uploads-admin abort --id 3f2a9c...
  uploads-admin presign --key user/u1/project/p1/year=2026/month=10/day=14/3f2a9c.../0001__report.pdf
  uploads-admin session list --status error --user u1 --limit 20

Every command accepts --config <path>. Results are printed as JSON.`)
}
