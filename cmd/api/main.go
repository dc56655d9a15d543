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

	"stylist/internal/arena"
	"stylist/internal/http/handlers"
	httpapi "stylist/internal/http/httpapi"
	"stylist/internal/infra"
	"stylist/internal/outfit"
	"stylist/internal/providers/generation"
	"stylist/internal/providers/rating"
	"stylist/internal/providers/upload"
	"stylist/internal/ratelimit"
	"stylist/internal/retry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	limiter := ratelimit.NewLimiter(map[ratelimit.Category]ratelimit.BucketConfig{
		ratelimit.CategoryRating:     {Capacity: float64(cfg.RatingPerHour), RefillRate: float64(cfg.RatingPerHour) / 3600},
		ratelimit.CategoryUpload:     {Capacity: float64(cfg.UploadPerHour), RefillRate: float64(cfg.UploadPerHour) / 3600},
		ratelimit.CategoryGeneration: {Capacity: float64(cfg.GenerationPerHour), RefillRate: float64(cfg.GenerationPerHour) / 3600},
	})
	executor := retry.NewExecutor(&logger)

	rater, err := rating.NewClient(rating.Options{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		Model:          cfg.OpenAIModel,
		Logger:         &logger,
		Limiter:        limiter,
		Executor:       executor,
		RequestTimeout: cfg.OpenAITimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("rating client init failed")
	}

	uploader, err := upload.NewClient(upload.Options{
		APIKey:   cfg.FALAPIKey,
		BaseURL:  cfg.FALBaseURL,
		Logger:   &logger,
		Limiter:  limiter,
		Executor: executor,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("upload client init failed")
	}

	generator, err := generation.NewClient(generation.Options{
		APIKey:   cfg.NanoBananaAPIKey,
		BaseURL:  cfg.NanoBananaBaseURL,
		Logger:   &logger,
		Limiter:  limiter,
		Executor: executor,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("generation client init failed")
	}
	poller := generation.NewPoller(generator, &logger,
		generation.WithBudget(cfg.GenerationBudget),
		generation.WithPollInterval(cfg.PollInterval),
	)

	ctx := context.Background()
	store, cleanup, err := newArenaStore(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("arena store init failed")
	}
	defer cleanup()

	service, err := outfit.NewService(outfit.ServiceOptions{
		Rater:     rater,
		Uploader:  uploader,
		Generator: poller,
		Arena:     store,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("orchestrator init failed")
	}

	app := handlers.NewApp(service, &logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		ClientPerMinute: cfg.ClientPerMinute,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

// newArenaStore picks Postgres when DATABASE_URL is set, otherwise the
// shared JSON-lines file next to the binary.
func newArenaStore(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (arena.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store := arena.NewPostgresStore(pool)
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(schemaCtx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info().Msg("arena store: postgres")
		return store, pool.Close, nil
	}

	store, err := arena.NewFileStore(cfg.ArenaDBPath, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("path", cfg.ArenaDBPath).Msg("arena store: file")
	return store, func() {}, nil
}
