package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/CharoKentaro/okozukai-ledger/internal/api/handlers"
	"github.com/CharoKentaro/okozukai-ledger/internal/api/middleware"
	"github.com/CharoKentaro/okozukai-ledger/internal/archive"
	"github.com/CharoKentaro/okozukai-ledger/internal/config"
	"github.com/CharoKentaro/okozukai-ledger/internal/extract"
	"github.com/CharoKentaro/okozukai-ledger/internal/jobs"
	"github.com/CharoKentaro/okozukai-ledger/internal/jobs/inmemory"
	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
	"github.com/CharoKentaro/okozukai-ledger/internal/logger"
	"github.com/CharoKentaro/okozukai-ledger/internal/store"
	"github.com/CharoKentaro/okozukai-ledger/internal/workflow"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := logger.WithContext(context.Background(), log)

	st, cleanup := openStore(cfg, log)
	defer cleanup()

	l, err := ledger.Open(ctx, st, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger")
	}

	// The extractor needs GEMINI_API_KEY at request time; without it,
	// uploads fail but manual entry keeps working.
	var extractor extract.ReceiptExtractor
	if os.Getenv("GEMINI_API_KEY") != "" {
		extractor = extract.NewGeminiExtractor(cfg.Gemini.Model)
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set - receipt extraction disabled, manual entry only")
	}

	wf := workflow.New(extractor, l, log)

	// The BigQuery mirror is optional; when configured, every commit is
	// archived in the background.
	var archiver handlers.TransactionArchiver
	if cfg.Archive.ProjectID != "" {
		a, err := archive.New(cfg.Archive.ProjectID, cfg.Archive.DatasetID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure the transaction archive")
		}
		archiver = a
		log.Info().Str("project", cfg.Archive.ProjectID).Str("dataset", cfg.Archive.DatasetID).Msg("Mirroring commits to BigQuery")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job jobs.Job) error {
		extractJob, ok := job.(*jobs.ExtractReceiptJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", extractJob.JobID).
			Str("filename", extractJob.Filename).
			Msg("Processing extraction job")

		pending, err := wf.StageImage(ctx, extractJob.Image, extractJob.MimeType)
		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", extractJob.JobID).
				Msg("Extraction failed")
			return err
		}

		extractJob.Result = &jobs.ExtractResult{
			TotalAmount:   pending.TotalAmount,
			ItemCount:     len(pending.LineItems),
			ReviewReasons: pending.ReviewReasons,
		}

		log.Info().
			Str("job_id", extractJob.JobID).
			Float64("total_amount", pending.TotalAmount).
			Int("item_count", len(pending.LineItems)).
			Msg("Extraction staged for confirmation")

		return nil
	}

	go func() {
		log.Info().Msg("Starting extraction worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Extraction worker stopped with error")
		}
	}()

	// Initialize handlers
	var publisher jobs.Publisher
	if extractor != nil {
		publisher = jobQueue
	}

	mux := handlers.NewRouter(
		handlers.NewLedgerHandler(l, wf, archiver, log),
		handlers.NewReceiptsHandler(publisher, log),
		handlers.NewJobsHandler(jobStore, log),
	)

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("backend", cfg.Store.Backend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server stopped")
}

// openStore wires the configured persistence backend.
func openStore(cfg *config.Config, log zerolog.Logger) (ledger.Store, func()) {
	switch cfg.Store.Backend {
	case "file":
		st, err := store.NewFileStore(cfg.Store.LedgerPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open ledger file")
		}
		return st, func() {}
	case "sqlite":
		db, err := store.OpenSQLite(cfg.Store.DBPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open ledger database")
		}
		return db, func() { db.Close() }
	case "gcs":
		return store.NewGCSStore(cfg.Store.GCSBucket, cfg.Store.GCSObject), func() {}
	case "memory":
		return store.NewMemoryStore(), func() {}
	default:
		log.Fatal().Str("backend", cfg.Store.Backend).Msg("Unknown store backend")
		return nil, nil
	}
}
