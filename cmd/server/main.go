package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/database"
	"github.com/stemsi/exstem-runtime/internal/examservice"
	"github.com/stemsi/exstem-runtime/internal/handler"
	"github.com/stemsi/exstem-runtime/internal/logger"
	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/repository"
	"github.com/stemsi/exstem-runtime/internal/router"
	"github.com/stemsi/exstem-runtime/internal/service"
	"github.com/stemsi/exstem-runtime/internal/validator"
	"github.com/stemsi/exstem-runtime/internal/worker"
)

const janitorInterval = time.Minute

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("exam_service", cfg.ExamServiceMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem session runtime")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Background work stops on workerCancel; workers.Wait drains them.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	// ─── Exam Service ──────────────────────────────────────────────────
	var (
		exams     examservice.Service
		dbPinger  handler.Pinger
		snapshots *repository.SnapshotRepository
	)
	switch cfg.ExamServiceMode {
	case config.ExamServicePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		dbPinger = pool

		attempts := repository.NewAttemptRepository(pool)
		exams = examservice.NewDirectService(repository.NewExamRepository(pool), attempts, log)
		snapshots = repository.NewSnapshotRepository(rdb, cfg.SnapshotTTL, true)

		drafts := worker.NewDraftAnswerWorker(attempts, rdb, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			drafts.Start(workerCtx)
		}()
	case config.ExamServiceHTTP:
		httpClient := &http.Client{Timeout: cfg.ExamServiceTimeout}
		exams = examservice.NewHTTPClient(cfg.ExamServiceURL, httpClient, log)
		snapshots = repository.NewSnapshotRepository(rdb, cfg.SnapshotTTL, false)
	default:
		log.Fatal().Str("mode", cfg.ExamServiceMode).Msg("Unknown EXAM_SERVICE_MODE")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	sessionService := service.NewSessionService(exams, snapshots, service.SessionConfig{
		TickInterval: cfg.TickInterval,
		Location:     cfg.Location(),
	}, log)

	workers.Add(1)
	go func() {
		defer workers.Done()
		sessionService.RunJanitor(workerCtx, janitorInterval, cfg.SessionRetain)
	}()

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessionService),
		WS:      handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(rdb, dbPinger, sessionService, log),
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = middleware.NewRateLimiter(workerCtx, cfg.RateLimitPerMinute, time.Minute)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, limiter, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close live sessions; running real attempts stay resumable in Redis.
	sessionService.Shutdown()

	// 3. Stop background workers and wait for the draft queue to drain.
	workerCancel()
	workers.Wait()
	logQueueDepth(rdb, log)

	log.Info().Msg("Shutdown complete")
}

func logQueueDepth(rdb *redis.Client, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if n, err := rdb.LLen(ctx, config.WorkerKey.PersistDraftAnswersQueue).Result(); err == nil && n > 0 {
		log.Warn().Int64("pending", n).Msg("Draft answers left in queue")
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
