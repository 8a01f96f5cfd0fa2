package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"costgrid/internal/config"
	"costgrid/internal/errlog"
	"costgrid/internal/handler"
	"costgrid/internal/ingest"
	"costgrid/internal/queue"
	"costgrid/internal/registry"
	"costgrid/internal/router"
	"costgrid/internal/store"
)

func main() {
	// Ensure data directory exists
	if err := os.MkdirAll("./data", 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// 1. Initialize ConfigManager and load config
	cm := config.NewConfigManager("./data/config.json")
	if err := cm.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := cm.Get()

	// 2. Initialize error log
	if err := errlog.Init(""); err != nil {
		log.Printf("Error log unavailable: %v", err)
	}
	defer errlog.Close()

	// 3. Build the object store
	st, err := buildStore(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to initialize object store: %v", err)
	}

	// Check for CLI subcommands
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "ingest":
			runLocalIngest(os.Args[2:], st, cfg)
			return
		case "help", "-h", "--help":
			printUsage()
			return
		}
	}

	// 4. Initialize the estimate registry
	reg, err := registry.Open(cfg.Registry.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize registry: %v", err)
	}
	defer reg.Close()

	// 5. Build the ingestion pipeline and its worker queue
	pipeline := ingest.NewPipeline(st)
	runner := queue.NewRunner(ingestJob(pipeline, reg, cm), 16)
	defer runner.Stop()

	// 6. Register HTTP API handlers
	app := handler.NewApp(reg, st, runner, cm)
	router.Register(app)

	// 7. Start HTTP server with graceful shutdown
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Graceful shutdown error: %v", err)
		}
	}()

	fmt.Printf("costgrid ingestion service starting on http://%s\n", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server error: %v", err)
	}
	log.Println("Server stopped")
}

// buildStore constructs the configured store backend wrapped with retries.
func buildStore(sc config.StoreConfig) (store.Store, error) {
	var (
		backend store.Store
		err     error
	)
	switch sc.Backend {
	case "fs", "":
		backend, err = store.NewFSStore(sc.Root)
	case "http":
		backend, err = store.NewHTTPStore(sc.BaseURL, os.Getenv("COSTGRID_STORE_TOKEN"))
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
	if err != nil {
		return nil, err
	}
	return store.WithRetry(backend, sc.RetryAttempts, time.Duration(sc.RetryBaseMs)*time.Millisecond), nil
}

// ingestJob adapts the pipeline into a queue handler that keeps the
// registry's status and progress current.
func ingestJob(pipeline *ingest.Pipeline, reg *registry.Registry, cm *config.ConfigManager) queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		cfg := cm.Get()
		res, err := pipeline.Run(ctx, bytes.NewReader(job.Data), ingest.Options{
			OutputPrefix:     "estimates/" + job.EstimateID,
			FileName:         job.FileName,
			ChunkSize:        cfg.Ingest.ChunkSize,
			RowMargin:        cfg.Ingest.PadRows,
			ColMargin:        cfg.Ingest.PadCols,
			ExtractAssets:    cfg.Ingest.ExtractAssets,
			AssetMaxEdge:     cfg.Ingest.AssetMaxEdge,
			AssetQuality:     cfg.Ingest.AssetQuality,
			AssetConcurrency: cfg.Ingest.AssetConcurrency,
			OnProgress: func(percent int, message string) {
				reg.SetProgress(job.EstimateID, percent, message)
			},
		})
		if err != nil {
			errlog.Logf("[Ingest] %s (%s): %v", job.EstimateID, job.FileName, err)
			if merr := reg.MarkFailed(job.EstimateID, err); merr != nil {
				errlog.Logf("[Ingest] %s: mark failed: %v", job.EstimateID, merr)
			}
			return err
		}
		if merr := reg.MarkSuccess(job.EstimateID, res.ManifestKey,
			res.TotalRows, res.TotalChunks, res.ImagesProcessed, res.ImagesFailed); merr != nil {
			errlog.Logf("[Ingest] %s: mark success: %v", job.EstimateID, merr)
			return merr
		}
		return nil
	}
}

// runLocalIngest processes workbook files synchronously from the command
// line, without the HTTP server or registry.
func runLocalIngest(args []string, st store.Store, cfg *config.Config) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	prefix := fs.String("prefix", "", "output key prefix (default: file name without extension)")
	fs.Parse(args)
	files := fs.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: costgrid ingest [--prefix <key-prefix>] <file.xlsx> [...]")
		os.Exit(2)
	}

	pipeline := ingest.NewPipeline(st)
	failed := 0
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			log.Printf("[CLI] open %s: %v", path, err)
			failed++
			continue
		}
		name := filepath.Base(path)
		out := *prefix
		if out == "" {
			out = strings.TrimSuffix(name, filepath.Ext(name))
		}
		res, err := pipeline.Run(context.Background(), f, ingest.Options{
			OutputPrefix:     out,
			FileName:         name,
			ChunkSize:        cfg.Ingest.ChunkSize,
			RowMargin:        cfg.Ingest.PadRows,
			ColMargin:        cfg.Ingest.PadCols,
			ExtractAssets:    cfg.Ingest.ExtractAssets,
			AssetMaxEdge:     cfg.Ingest.AssetMaxEdge,
			AssetQuality:     cfg.Ingest.AssetQuality,
			AssetConcurrency: cfg.Ingest.AssetConcurrency,
		})
		f.Close()
		if err != nil {
			log.Printf("[CLI] ingest %s failed: %v", name, err)
			failed++
			continue
		}
		fmt.Printf("%s: %d rows, %d chunks, manifest %s\n", name, res.TotalRows, res.TotalChunks, res.ManifestKey)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// printUsage prints CLI usage information.
func printUsage() {
	fmt.Println(`Usage:
  costgrid                                    start the HTTP service (default port 8080)
  costgrid ingest [--prefix <p>] <file> [...] convert workbooks from the command line
  costgrid help                               show this help

The ingest command converts each workbook into chunked grid objects in the
configured store and prints the resulting manifest key. Supported formats:
.xlsx .xls`)
}
