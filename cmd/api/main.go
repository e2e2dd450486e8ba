package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"atelier/internal/engine"
	"atelier/internal/events"
	"atelier/internal/http/handlers"
	"atelier/internal/http/httpapi"
	"atelier/internal/infra"
	"atelier/internal/providers/compose"
	"atelier/internal/providers/gate"
	"atelier/internal/providers/genai"
	"atelier/internal/providers/image"
	"atelier/internal/providers/salience"
	"atelier/internal/providers/video"
	"atelier/internal/storage"
	"atelier/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	assets, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open asset storage")
	}

	sessions := store.New(cfg.DataPath, cfg.FlushInterval, logger)
	broadcaster := events.NewBroadcaster(logger)

	gemini, err := genai.NewClient(genai.Options{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build gemini client")
	}
	if gemini.Offline() {
		logger.Warn().Msg("GEMINI_API_KEY not set; running with synthetic providers")
	}

	analyzer := salience.NewGeminiAnalyzer(gemini, salience.NewStaticAnalyzer())
	composer := compose.NewGeminiComposer(gemini, compose.NewStaticComposer())

	eng := engine.New(engine.Options{
		Store:                sessions,
		Events:               broadcaster,
		Assets:               assets,
		Analyzer:             analyzer,
		Composer:             composer,
		Gate:                 gate.NewRuleValidator(),
		Images:               image.NewGeminiGenerator(gemini),
		Videos:               video.NewGeminiGenerator(gemini),
		Logger:               logger,
		AssetBaseURL:         cfg.StorageBaseURL,
		Model:                gemini.Model(),
		MaxDepth:             cfg.MaxChainDepth,
		DirectionCount:       cfg.DirectionCount,
		ProgressTick:         cfg.ProgressTick,
		VideoPollInterval:    cfg.VideoPollEvery,
		VideoPollMaxAttempts: cfg.VideoPollMax,
	})

	runCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	sessions.Start(runCtx)
	eng.Start(runCtx)

	app := handlers.NewApp(eng, broadcaster, logger, cfg.HeartbeatEvery)
	router := httpapi.NewRouter(app, httpapi.Options{
		CORSOrigins: cfg.CORSOrigins,
		StaticRoot:  assets.BasePath(),
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-runCtx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	eng.Shutdown()
	sessions.Shutdown()
	logger.Info().Msg("server stopped")
}
