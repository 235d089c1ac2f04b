package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/hangout/backend/internal/config"
	"github.com/zhouzirui/hangout/backend/internal/handler"
	"github.com/zhouzirui/hangout/backend/internal/observability"
	"github.com/zhouzirui/hangout/backend/internal/resilience"
	"github.com/zhouzirui/hangout/backend/internal/service/ai"
	"github.com/zhouzirui/hangout/backend/internal/service/feed"
	"github.com/zhouzirui/hangout/backend/internal/service/maps"
	"github.com/zhouzirui/hangout/backend/internal/service/orchestrator"
	"github.com/zhouzirui/hangout/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewMetrics()

	if !cfg.LLM.Enabled() {
		logger.Fatal("LLM credentials not configured", zap.String("provider", cfg.LLM.Provider))
	}
	chatModel, err := cfg.LLM.NewChatModel(ctx)
	if err != nil {
		logger.Fatal("failed to create chat model", zap.Error(err))
	}

	llmGuardCfg := resilience.DefaultConfig("llm")
	llmGuardCfg.Timeout = cfg.LLM.Timeout
	llmGuardCfg.Attempts = cfg.LLM.MaxAttempts
	llmGuard := resilience.NewGuard(llmGuardCfg, metrics, logger)

	aiService, err := ai.NewService(ctx, chatModel, llmGuard, logger)
	if err != nil {
		logger.Fatal("failed to initialize AI service", zap.Error(err))
	}
	logger.Info("AI service initialized", zap.String("provider", cfg.LLM.Provider), zap.String("model", cfg.LLM.Model))

	deps := orchestrator.Dependencies{
		Extractor: aiService,
		Planner:   aiService,
		Responder: aiService,
		Metrics:   metrics,
		Logger:    logger,
	}

	var mapsGuard *resilience.Guard
	if cfg.Maps.Enabled() {
		mapsGuardCfg := resilience.DefaultConfig("maps")
		mapsGuardCfg.Timeout = cfg.Maps.Timeout
		mapsGuard = resilience.NewGuard(mapsGuardCfg, metrics, logger)

		mapsClient, err := maps.New(cfg.Maps, mapsGuard, logger)
		if err != nil {
			logger.Fatal("failed to initialize maps client", zap.Error(err))
		}
		deps.Geocoder = mapsClient
		deps.Venues = mapsClient
		logger.Info("maps client initialized", zap.Bool("nearby", cfg.Maps.NearbyEnabled))
	} else {
		logger.Warn("GOOGLE_MAPS_API_KEY not set; plans will be generated without coordinates")
	}

	registry := session.NewRegistry()
	hub := feed.NewHub(metrics)
	deps.Sessions = registry
	deps.Publisher = hub

	orch, err := orchestrator.New(deps, orchestrator.Config{AutoPlanThreshold: cfg.Orchestrator.AutoPlanThreshold})
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}

	router := handler.NewRouter(handler.Options{
		Sessions:       registry,
		Orchestrator:   orch,
		Hub:            hub,
		Metrics:        metrics,
		Logger:         logger,
		PublicBaseURL:  cfg.Server.PublicBaseURL,
		AllowedOrigins: cfg.Server.AllowedOrigin,
		Health: func() map[string]string {
			return map[string]string{
				"llm":  llmGuard.State(),
				"maps": mapsGuard.State(),
			}
		},
	})

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("hangout backend listening", zap.String("addr", addr), zap.String("public_url", serverCfg.PublicBaseURL))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
