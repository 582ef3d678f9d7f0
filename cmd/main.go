package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/notepress/notepress/internal/analysis"
	"github.com/notepress/notepress/internal/config"
	"github.com/notepress/notepress/internal/extract"
	"github.com/notepress/notepress/internal/httpapi"
	"github.com/notepress/notepress/internal/ingest"
	"github.com/notepress/notepress/internal/jobs"
	"github.com/notepress/notepress/internal/notes"
	"github.com/notepress/notepress/internal/persistence"
	"github.com/notepress/notepress/internal/pipeline"
	"github.com/notepress/notepress/pkg/log"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.SetLevel(log.ParseLevel(cfg.LogLevel))

	store, err := persistence.NewSQLiteStore(cfg.Pipeline.DBPath)
	if err != nil {
		log.Fatal("Failed to open database: %v", err)
	}
	defer store.Close()

	aiClient, err := analysis.NewHTTPClient(analysis.ClientConfig{
		APIKey:  cfg.AI.APIKey,
		APIURL:  cfg.AI.APIURL,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
	})
	if err != nil {
		log.Fatal("Failed to create AI client: %v", err)
	}
	analyzer := analysis.NewAnalyzer(aiClient, store,
		time.Duration(cfg.AI.CacheTTLHours)*time.Hour)

	noteClient, err := notes.NewHTTPClient(notes.HTTPConfig{
		BaseURL: cfg.Notes.APIURL,
		Token:   cfg.Notes.Token,
		Timeout: cfg.Notes.Timeout,
	})
	if err != nil {
		log.Fatal("Failed to create note service client: %v", err)
	}
	vocabulary := notes.NewTagVocabulary(noteClient, 0)

	machine := jobs.NewMachine()
	uploader := pipeline.NewUploader(store, machine, noteClient, nil,
		pipeline.WithRetryPolicy(5*time.Second, cfg.Pipeline.MaxRetries))
	pipe := pipeline.New(store, machine, extract.NewTextExtractor(), analyzer,
		noteClient, vocabulary,
		pipeline.WithMaxConcurrent(cfg.Pipeline.MaxConcurrent),
		pipeline.WithUploader(uploader),
	)

	ctx := context.Background()
	if err := pipe.Restore(ctx); err != nil {
		log.Fatal("Failed to restore persisted jobs: %v", err)
	}

	scanner := ingest.NewScanner(cfg.Pipeline.WatchDir, pipe)
	if _, err := scanner.Scan(ctx); err != nil {
		log.Warn("Initial scan failed: %v", err)
	}

	uploader.Start()
	pipe.Schedule(ctx)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Pipeline.ScanCron, func() {
		if _, err := scanner.Scan(context.Background()); err != nil {
			log.Error("Scheduled scan failed: %v", err)
		}
	}); err != nil {
		log.Fatal("Invalid scan schedule %q: %v", cfg.Pipeline.ScanCron, err)
	}
	if _, err := scheduler.AddFunc("@hourly", func() {
		removed, err := store.DeleteExpiredAnalysis(context.Background(), time.Now())
		if err != nil {
			log.Error("Cache sweep failed: %v", err)
			return
		}
		if removed > 0 {
			log.Info("Cache sweep removed %d expired analyses", removed)
		}
	}); err != nil {
		log.Fatal("Failed to schedule cache sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := httpapi.NewServer(pipe, httpapi.WithScanner(scanner))
	go func() {
		log.Info("Listening on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown: %v", err)
	}
	uploader.Stop()
	pipe.Wait()
}
