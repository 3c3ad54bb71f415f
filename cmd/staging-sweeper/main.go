package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openflix/catalog-service/internal/config"
	"github.com/openflix/catalog-service/internal/services/media"
	"github.com/openflix/catalog-service/internal/storage/postgres"
	"github.com/openflix/catalog-service/internal/upload"
)

// orphanBatchSize bounds one sweep pass so a large backlog never holds the
// database for long.
const orphanBatchSize = 100

type StagingSweeper struct {
	storage  *postgres.Postgres
	media    *media.Service
	uploads  *upload.Manager
	interval time.Duration
	logger   *slog.Logger
}

func NewStagingSweeper(storage *postgres.Postgres, mediaSvc *media.Service, uploads *upload.Manager, interval time.Duration) *StagingSweeper {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	return &StagingSweeper{
		storage:  storage,
		media:    mediaSvc,
		uploads:  uploads,
		interval: interval,
		logger:   logger,
	}
}

func (sw *StagingSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("Staging sweeper started",
		"interval", sw.interval.String())

	// Run once immediately on startup
	sw.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("Staging sweeper shutting down")
			return
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

func (sw *StagingSweeper) sweep(ctx context.Context) {
	sw.sweepExpiredSessions()
	sw.sweepOrphanMedia(ctx)
}

// sweepExpiredSessions reclaims abandoned staging directories by mtime. Live
// sessions are swept in-process by the API server; this pass only catches
// directories no running server owns anymore.
func (sw *StagingSweeper) sweepExpiredSessions() {
	startTime := time.Now()

	count, err := sw.uploads.SweepStaleDirs(startTime)
	if err != nil {
		sw.logger.Error("Failed to sweep staging directories",
			"error", err.Error())
		return
	}

	if count > 0 {
		sw.logger.Info("Reclaimed stale staging directories",
			"dirs_removed", count,
			"duration_ms", time.Since(startTime).Milliseconds())
	}
}

// sweepOrphanMedia removes media records no episode slot references anymore,
// together with their stored objects. Records are only ever detached by slot
// replacement, never cascaded, so this is the single deletion path.
func (sw *StagingSweeper) sweepOrphanMedia(ctx context.Context) {
	startTime := time.Now()

	orphans, err := sw.storage.ListOrphanMediaRecords(orphanBatchSize)
	if err != nil {
		sw.logger.Error("Failed to list orphan media records",
			"error", err.Error())
		return
	}

	if len(orphans) == 0 {
		return
	}

	removed := 0
	for _, rec := range orphans {
		if ctx.Err() != nil {
			return
		}

		if rec.IsLocal() {
			if err := sw.media.DeleteObject(rec.ObjectKey); err != nil {
				// Keep the record so the next pass retries the object
				sw.logger.Error("Failed to delete orphaned object",
					"media_id", rec.ID,
					"object_key", rec.ObjectKey,
					"error", err.Error())
				continue
			}
		}

		if err := sw.storage.DeleteMediaRecord(rec.ID); err != nil {
			sw.logger.Error("Failed to delete orphaned media record",
				"media_id", rec.ID,
				"error", err.Error())
			continue
		}
		removed++
	}

	sw.logger.Info("Completed orphan media cleanup",
		"records_removed", removed,
		"duration_ms", time.Since(startTime).Milliseconds())
}

func main() {
	// Load config
	cfg := config.MustLoad()

	// Initialize database connection
	storage, err := postgres.NewPostgres(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	slog.Info("Connected to Postgres database")

	mediaSvc, err := media.NewService(cfg)
	if err != nil {
		log.Fatal("Failed to initialize media service:", err)
	}

	// The sweeper owns no live sessions; it reclaims the shared staging
	// directory of crashed or abandoned uploads by TTL.
	uploads, err := upload.NewManager(cfg.Upload.StagingDir, cfg.Upload.ChunkSizeBytes(), cfg.Upload.SessionTTL, mediaSvc)
	if err != nil {
		log.Fatal("Failed to initialize upload manager:", err)
	}

	// Create sweeper with 1-minute interval
	sweeper := NewStagingSweeper(storage, mediaSvc, uploads, time.Minute)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	// Start the sweeper
	sweeper.Start(ctx)

	slog.Info("Staging sweeper stopped")
}
