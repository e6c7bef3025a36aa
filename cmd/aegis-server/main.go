package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/triage-ai/aegis/internal/api"
	"github.com/triage-ai/aegis/internal/classifier"
	"github.com/triage-ai/aegis/internal/consensus"
	"github.com/triage-ai/aegis/internal/engine"
	"github.com/triage-ai/aegis/internal/engine/detectors"
	"github.com/triage-ai/aegis/internal/expert"
	"github.com/triage-ai/aegis/internal/retrain"
	"github.com/triage-ai/aegis/internal/storage"
	"github.com/triage-ai/aegis/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("AEGIS_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("AEGIS_HTTP_PORT", "8080")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	cacheTTL := envOrDefaultInt("AEGIS_AUTH_CACHE_TTL_S", 30)

	consensusThreshold := envOrDefaultFloat("AEGIS_CONSENSUS_THRESHOLD", 0.9)
	consensusSamples := envOrDefaultInt("AEGIS_CONSENSUS_SAMPLES", 3)
	genMaxTokens := envOrDefaultInt("AEGIS_GEN_MAX_TOKENS", 200)

	logger.Info("starting aegis server",
		zap.String("http_port", httpPort),
		zap.Float64("consensus_threshold", consensusThreshold),
		zap.Int("consensus_samples", consensusSamples),
	)

	// Local classifiers — SLM (adapter-tuned) and misuse detector. Either
	// may be absent; the fusion engine treats an absent one as contributing
	// no information.
	slm := classifier.New(classifier.Config{
		BaseURL: os.Getenv("AEGIS_SLM_BASE_URL"),
		APIKey:  envOrDefault("AEGIS_SLM_API_KEY", "local"),
		Checkpoint: &classifier.Checkpoint{
			Name:        envOrDefault("AEGIS_SLM_CHECKPOINT", "lora-best"),
			AdapterPath: envOrDefault("AEGIS_SLM_ADAPTER_PATH", "lora_adapters/best"),
		},
		MaxInFlight: envOrDefaultInt("AEGIS_SLM_MAX_INFLIGHT", 4),
	}, logger.Named("slm"))

	misuse := classifier.New(classifier.Config{
		BaseURL: os.Getenv("AEGIS_MISUSE_BASE_URL"),
		APIKey:  envOrDefault("AEGIS_MISUSE_API_KEY", "local"),
		Checkpoint: &classifier.Checkpoint{
			Name:        envOrDefault("AEGIS_MISUSE_MODEL", "misuse-detector"),
			AdapterPath: envOrDefault("AEGIS_MISUSE_ADAPTER_PATH", "misuse_model"),
		},
		MaxInFlight: envOrDefaultInt("AEGIS_MISUSE_MAX_INFLIGHT", 4),
	}, logger.Named("misuse"))

	// Cloud second-opinion reviewer
	expertClient := expert.New(expert.Config{
		BaseURL: os.Getenv("AEGIS_EXPERT_BASE_URL"),
		APIKey:  os.Getenv("AEGIS_EXPERT_API_KEY"),
		Model:   envOrDefault("AEGIS_EXPERT_MODEL", "gpt-4o-mini"),
	}, logger.Named("expert"))

	// Consensus detector — one backend config per generation model, all
	// sharing the same gateway endpoint and key.
	genModels := strings.Split(envOrDefault("AEGIS_GEN_MODELS", "gpt-4o-mini"), ",")
	backendCfgs := make([]consensus.BackendConfig, 0, len(genModels))
	for _, m := range genModels {
		backendCfgs = append(backendCfgs, consensus.BackendConfig{
			BaseURL: os.Getenv("AEGIS_GEN_BASE_URL"),
			APIKey:  os.Getenv("AEGIS_GEN_API_KEY"),
			Model:   strings.TrimSpace(m),
		})
	}
	generator, err := consensus.NewGenerator(backendCfgs, genMaxTokens, logger.Named("generator"))
	if err != nil {
		logger.Fatal("failed to build response generator", zap.Error(err))
	}
	embedder := consensus.NewOpenAIEmbedder(
		os.Getenv("AEGIS_EMBED_BASE_URL"),
		os.Getenv("AEGIS_EMBED_API_KEY"),
		os.Getenv("AEGIS_EMBED_MODEL"),
	)
	detector := consensus.NewDetector(generator, embedder, logger.Named("consensus"))

	// Fusion engine
	eng := engine.NewSentryEngine(
		func(entities []string) engine.PIIScanner { return detectors.NewPIIScanner(entities) },
		slm, misuse,
		expertClient,
		detector,
		engine.Defaults{
			ConsensusThreshold: consensusThreshold,
			ConsensusSamples:   consensusSamples,
			ExpertModel:        envOrDefault("AEGIS_EXPERT_MODEL", "gpt-4o-mini"),
		},
		logger.Named("engine"),
	)

	// Adaptive retraining — only when a trainer sidecar and the SLM backend
	// are both present on this host.
	retrainer := buildRetrainer(slm, logger)

	// Storage — ClickHouse or LogWriter fallback
	var writer storage.MessageWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// Postgres pool (required for the HTTP API)
	if postgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	pgStore := store.NewStore(db)
	logger.Info("postgres connected")

	// HTTP API server
	deps := &api.Dependencies{
		Store:     pgStore,
		Engine:    eng,
		Retrainer: retrainer,
		Writer:    writer,
		Logger:    logger,
		CacheTTL:  time.Duration(cacheTTL) * time.Second,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // generation + consensus can be slow
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("aegis server stopped")
}

// buildRetrainer wires the adaptive retraining controller, or a disabled one
// when the trainer sidecar, the SLM backend or the holdout set is absent.
func buildRetrainer(slm *classifier.SLMClassifier, logger *zap.Logger) *retrain.Controller {
	log := logger.Named("retrain")
	cfg := retrain.Config{
		DatasetPath:  envOrDefault("AEGIS_DATASET_PATH", "data/live_training_data.jsonl"),
		RegistryPath: envOrDefault("AEGIS_REGISTRY_PATH", "data/model_registry.json"),
		MaxSteps:     envOrDefaultInt("AEGIS_RETRAIN_MAX_STEPS", 3),
		LearningRate: envOrDefaultFloat("AEGIS_RETRAIN_LEARNING_RATE", 2e-5),
	}

	trainerEndpoint := os.Getenv("AEGIS_TRAINER_ENDPOINT")
	if trainerEndpoint == "" || !slm.Available() {
		return retrain.NewController(nil, nil, nil, cfg, log)
	}

	holdout, err := retrain.LoadHoldout(envOrDefault("AEGIS_HOLDOUT_PATH", "data/test_eval_data.json"))
	if err != nil {
		log.Warn("holdout set unavailable, retraining disabled", zap.Error(err))
		return retrain.NewController(nil, nil, nil, cfg, log)
	}

	evaluator, err := retrain.NewHoldoutEvaluator(holdout, slm.ClassifyWith, log)
	if err != nil {
		log.Warn("holdout evaluator unavailable, retraining disabled", zap.Error(err))
		return retrain.NewController(nil, nil, nil, cfg, log)
	}

	// Cache the initial holdout accuracy on the live checkpoint so the
	// first promote/rollback decision has a baseline to beat.
	evalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	score, err := evaluator.Score(evalCtx, slm.Current())
	if err != nil {
		log.Warn("initial holdout evaluation failed, retraining disabled", zap.Error(err))
		return retrain.NewController(nil, nil, nil, cfg, log)
	}
	baseline := *slm.Current()
	baseline.Score = score
	slm.Swap(&baseline)
	log.Info("initial holdout accuracy cached", zap.Float64("score", score))

	trainer := retrain.NewHTTPTrainer(trainerEndpoint,
		time.Duration(envOrDefaultInt("AEGIS_TRAINER_TIMEOUT_S", 300))*time.Second, log)

	return retrain.NewController(trainer, evaluator, slm, cfg, log)
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
