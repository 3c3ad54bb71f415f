package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openflix/catalog-service/internal/cache"
	"github.com/openflix/catalog-service/internal/config"
	"github.com/openflix/catalog-service/internal/events"
	"github.com/openflix/catalog-service/internal/http/handlers/episodes"
	mediaHandlers "github.com/openflix/catalog-service/internal/http/handlers/media"
	uploadHandlers "github.com/openflix/catalog-service/internal/http/handlers/upload"
	wsHandlers "github.com/openflix/catalog-service/internal/http/handlers/websocket"
	"github.com/openflix/catalog-service/internal/http/middleware"
	"github.com/openflix/catalog-service/internal/services/catalog"
	mediaService "github.com/openflix/catalog-service/internal/services/media"
	"github.com/openflix/catalog-service/internal/storage/postgres"
	"github.com/openflix/catalog-service/internal/upload"
	"github.com/openflix/catalog-service/internal/websocket"
)

func main() {
	// load config
	cfg := config.MustLoad()

	// database setup
	storage, err := postgres.NewPostgres(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	slog.Info("Connected to Postgres database")

	// Redis backs the cache layer and rate limiting
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	slog.Info("Connected to Redis")

	// MinIO holds finalized media objects
	media, err := mediaService.NewService(cfg)
	if err != nil {
		log.Fatal("Failed to initialize media service:", err)
	}
	slog.Info("Connected to MinIO", slog.String("bucket", cfg.MinIO.BucketName))

	// Chunk staging and assembly
	uploadManager, err := upload.NewManager(cfg.Upload.StagingDir, cfg.Upload.ChunkSizeBytes(), cfg.Upload.SessionTTL, media)
	if err != nil {
		log.Fatal("Failed to initialize upload manager:", err)
	}

	// Expired sessions of this process are reclaimed in-process; the
	// staging-sweeper binary handles directories left by crashed servers
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for now := range ticker.C {
			if n := uploadManager.SweepExpired(now); n > 0 {
				slog.Info("Reclaimed expired upload sessions", slog.Int("count", n))
			}
		}
	}()

	// WebSocket hub pushes progress events to connected editors
	hub := websocket.NewHub()
	go hub.Run()

	publisher := events.NewEventPublisher(hub)

	cachedStorage := cache.NewCacheService(storage, redisClient)
	catalogService := catalog.NewService(cachedStorage, uploadManager, publisher)

	// Middleware
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)
	rateLimits := middleware.NewRateLimitConfig(redisClient)

	// Handlers
	uh := uploadHandlers.NewUploadHandlers(uploadManager, publisher)
	eh := episodes.NewEpisodeHandlers(catalogService)
	mh := mediaHandlers.NewMediaHandlers(cachedStorage, media)

	// setup server
	router := http.NewServeMux()

	router.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Chunked upload surface
	router.Handle("POST /upload/chunk", authMiddleware(rateLimits.RateLimitedHandler("chunks", uh.ReceiveChunk())))
	router.Handle("GET /upload/{id}", authMiddleware(uh.SessionStatus()))
	router.Handle("DELETE /upload/{id}", authMiddleware(uh.AbortSession()))

	// Catalog surface
	router.Handle("POST /episodes", authMiddleware(rateLimits.RateLimitedHandler("catalog", eh.CreateEpisode())))
	router.Handle("GET /episodes/{id}", authMiddleware(eh.GetEpisode()))
	router.Handle("GET /episodes/{id}/context", authMiddleware(eh.SequenceContext()))
	router.Handle("POST /episodes/{id}/media", authMiddleware(rateLimits.RateLimitedHandler("catalog", eh.AttachMedia())))
	router.Handle("PATCH /episodes/{id}/season", authMiddleware(rateLimits.RateLimitedHandler("catalog", eh.MoveEpisode())))
	router.Handle("POST /seasons/{id}/reorder", authMiddleware(rateLimits.RateLimitedHandler("catalog", eh.ReorderSeason())))
	router.Handle("GET /seasons/{id}/episodes", authMiddleware(eh.ListSeasonEpisodes()))

	// Media playback surface
	router.Handle("GET /media/{id}", authMiddleware(mh.GetMediaInfo()))
	router.Handle("GET /media/{id}/playback-url", authMiddleware(mh.GeneratePlaybackURL()))

	// WebSocket endpoint (token auth via query parameter)
	router.HandleFunc("GET /ws", wsHandlers.WebSocketHandler(hub, cfg.JWTSecret))

	// Cache administration
	router.Handle("GET /admin/cache/stats", authMiddleware(cache.GetCacheStats(redisClient)))
	router.Handle("DELETE /admin/cache", authMiddleware(cache.ClearCache(redisClient)))

	server := http.Server{
		Addr:    cfg.HTTPServer.Address,
		Handler: router,
	}

	log.Println("server started on", cfg.HTTPServer.Address)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %s", err)
		}
	}()

	<-done

	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = server.Shutdown(ctx)
	if err != nil {
		slog.Error("failed to gracefully shutdown server", slog.String("error", err.Error()))
		return
	}

	slog.Info("Server stopped")
}
