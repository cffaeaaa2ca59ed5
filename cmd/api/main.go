package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"server/internal/batch"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/imagegen"
	"server/internal/infra"
	"server/internal/jobstore"
	"server/internal/progress"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	store := jobstore.New(jobstore.WithRetention(cfg.JobRetention))

	gemini := imagegen.NewGeminiClient(imagegen.GeminiOptions{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
	})
	if cfg.GeminiAPIKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY is empty; generation attempts will fail")
	}

	var limiter *rate.Limiter
	if cfg.GenerateRPM > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.GenerateRPM)/60.0), cfg.BatchConcurrency)
	}

	processor := batch.New(gemini, store, fileStore, logger, batch.Config{
		Concurrency:    cfg.BatchConcurrency,
		MaxChunkSize:   cfg.BatchMaxSize,
		MaxAttempts:    cfg.MaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		Limiter:        limiter,
	})

	publisher := progress.New(store, cfg.StorageBaseURL, logger,
		progress.WithPollInterval(cfg.FeedInterval),
		progress.WithMaxFeedDuration(cfg.FeedMaxDuration),
	)

	app := handlers.NewApp(logger, cfg, store, processor, publisher, fileStore)
	router := httpapi.NewRouter(app)
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
