// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video-subtitler/internal/application"
	"video-subtitler/internal/config"
	"video-subtitler/internal/domain/ports/adapter"
	"video-subtitler/internal/domain/ports/repository"
	"video-subtitler/internal/infra/adapters/media"
	"video-subtitler/internal/infra/adapters/transcribe"
	"video-subtitler/internal/infra/api"
	pg "video-subtitler/internal/infra/db/postgres"
	"video-subtitler/internal/infra/logging"
	"video-subtitler/internal/infra/metrics"
	"video-subtitler/internal/infra/ratelimit"
	red "video-subtitler/internal/infra/redis"
	"video-subtitler/internal/infra/sched"
	"video-subtitler/internal/infra/storage"
	"video-subtitler/internal/infra/worker"
	"video-subtitler/internal/usecase"

	"github.com/rs/zerolog"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("video-subtitler exited")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	role := cfg.Runtime.Role
	runAPI := role == config.RoleAll || role == config.RoleAPI
	runWorker := role == config.RoleAll || role == config.RoleWorker
	if cfg.Executor.Queue == "memory" && role != config.RoleAll {
		return fmt.Errorf("executor.queue=memory requires -role=%s", config.RoleAll)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, role)
	logger.Info().Str("role", role).Str("version", version).Bool("dev", cfg.Runtime.Dev).Msg("starting video-subtitler")

	// ---- Redis ----
	cache := red.NewResultCache(&cfg.Redis, logger)
	defer cache.Close()
	if !cache.Healthy(ctx) {
		logger.Warn().Msg("redis not reachable at startup; continuing in degraded mode")
	}
	jobs := red.NewJobStatusRepo(cache, cfg.Cache.StatusTTL)

	var redisClient *red.Client
	if cfg.Executor.Queue == "redis" || cfg.Admission.RateLimitBackend == "redis" {
		var err error
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
	}

	// ---- Queue ----
	var (
		queue  repository.JobQueue
		locker repository.Locker
	)
	switch cfg.Executor.Queue {
	case "redis":
		queue = red.NewJobQueue(redisClient, 2*time.Second)
		locker = red.NewLocker(redisClient, 1)
	default:
		queue = worker.NewMemQueue(time.Second)
		locker = worker.NewLocalLocker()
	}

	// ---- Storage ----
	var artifacts repository.ArtifactStore
	switch cfg.Storage.Type {
	case "s3":
		s3Store, err := storage.NewS3Store(ctx, cfg.Storage.S3, cfg.Storage.TempDir)
		if err != nil {
			return fmt.Errorf("s3 storage: %w", err)
		}
		artifacts = s3Store
	default:
		local, err := storage.NewLocalStore(cfg.Storage.UploadDir)
		if err != nil {
			return fmt.Errorf("local storage: %w", err)
		}
		artifacts = local
	}

	// ---- Postgres archive (optional) ----
	var archive repository.JobArchive
	if cfg.Database.URL != "" {
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		archive = pg.NewJobArchiveRepo(pool, pg.NewTxManager(pool))
		go pg.ReportPoolStats(ctx, pool, cfg.Database.StatsInterval, logger)
		logger.Info().Msg("job archive enabled")
	}

	statusUC := usecase.NewStatusUseCase(jobs, cache, queue, archive, usecase.StatusPolicy{
		StatusTTL:  cfg.Cache.StatusTTL,
		ResultTTL:  cfg.Cache.ResultTTL,
		MaxRetries: cfg.Executor.MaxRetries,
	}, logger)
	inspector := media.NewFFprobeInspector(cfg.Transcriber.FFprobePath)

	// ---- Cleanup ----
	var sweeper sched.Sweeper
	dirs := []sched.SweepDir{{Path: cfg.Storage.TempDir, Prefixes: []string{"upload-", "artifact-", "whisper-", "openai-stt-"}}}
	if cfg.Storage.Type == "local" {
		dirs = append(dirs, sched.SweepDir{Path: cfg.Storage.UploadDir, Prefixes: []string{".put-"}})
	}

	// ---- HTTP API ----
	var server *http.Server
	if runAPI {
		var limiter repository.RateLimiter
		if cfg.Admission.RateLimitBackend == "redis" {
			limiter = red.NewRateLimiter(redisClient, cfg.Admission.RateLimit, cfg.Admission.RateWindow)
		} else {
			wl := ratelimit.NewWindowLimiter(cfg.Admission.RateLimit, cfg.Admission.RateWindow)
			limiter, sweeper = wl, wl
		}

		a := cfg.Admission
		admissionUC := usecase.NewAdmissionUseCase(usecase.AdmissionPolicy{
			AllowedExtensions: a.AllowedExtensions,
			AllowedMIMETypes:  a.AllowedMIMETypes,
			MaxFileSize:       a.MaxFileSize,
			MaxDuration:       a.MaxDuration,
			RequireAudio:      a.RequireAudio,
			ChunkSize:         a.ChunkSize,
		}, cache, limiter, inspector, logger)
		facade := application.NewSubmissionFacade(admissionUC, statusUC, artifacts, cfg.Storage.TempDir, a.MaxFileSize, logger)
		auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Required, cfg.Server.TrustProxy)

		srv := api.NewServer(facade, statusUC, cache, auth, api.Options{
			RequestTimeout: cfg.Server.RequestTimeout,
			UploadTimeout:  cfg.Server.UploadTimeout,
			MaxUploadBytes: a.MaxFileSize,
		}, logger)
		server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", server.Addr).Msg("http api listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("http server error")
				stop()
			}
		}()
	}

	// ---- Worker ----
	var workers *worker.Pool
	if runWorker {
		transcriber, err := newTranscriber(cfg.Transcriber)
		if err != nil {
			return err
		}
		normalizer := media.NewLoudnormNormalizer(cfg.Transcriber.FFmpegPath)
		proc := worker.NewTranscriptionProcessor(artifacts, inspector, transcriber, normalizer, cfg.Executor.MergeThreshold, logger)
		e := cfg.Executor
		gov := worker.NewMemoryGovernor(e.MemoryCeilingBytes, e.MemoryWarnPercent, e.MemoryCriticalPercent, e.MemorySampleInterval, logger)
		executor := worker.NewExecutor(jobs, queue, locker, artifacts, archive, proc, gov, worker.ExecutorConfig{
			RetryBaseDelay: e.RetryBaseDelay,
			SoftTimeout:    e.SoftTimeout,
			HardTimeout:    e.HardTimeout,
		}, logger)

		if rq, ok := queue.(*red.JobQueue); ok {
			n, err := rq.Recover(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("in-flight job recovery failed")
			} else if n > 0 {
				logger.Info().Int("jobs", n).Msg("requeued in-flight jobs from a previous run")
			}
		}

		workers = worker.NewPool(e.Workers, logger)
		workers.Start(ctx)
		go executor.Start(ctx, workers)
	}

	cleanup := sched.NewCleanupWorker(cfg.Cleanup.Interval, cfg.Cleanup.MaxFileAge, dirs, sweeper, logger)
	go func() { _ = cleanup.Run(ctx) }()

	// ---- Graceful shutdown ----
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
	}
	if workers != nil {
		workers.Stop()
	}
	logger.Info().Msg("stopped")
	return nil
}

func newTranscriber(cfg config.TranscriberConfig) (adapter.Transcriber, error) {
	switch cfg.Provider {
	case "whisper":
		return transcribe.NewWhisperCLI(cfg.WhisperPath, cfg.FFmpegPath, cfg.ModelPath, cfg.Language), nil
	case "openai":
		t, err := transcribe.NewOpenAITranscriber(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.Language, cfg.FFmpegPath, cfg.HTTPTimeout)
		if err != nil {
			return nil, fmt.Errorf("openai transcriber: %w", err)
		}
		return t, nil
	default:
		return transcribe.NewNoopTranscriber(), nil
	}
}
