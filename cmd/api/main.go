package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nyashahama/kinney-risk-backend/internal/ai"
	"github.com/nyashahama/kinney-risk-backend/internal/api"
	"github.com/nyashahama/kinney-risk-backend/internal/auth"
	"github.com/nyashahama/kinney-risk-backend/internal/config"
	"github.com/nyashahama/kinney-risk-backend/internal/db"
	"github.com/nyashahama/kinney-risk-backend/internal/email"
	"github.com/nyashahama/kinney-risk-backend/internal/events"
	"github.com/nyashahama/kinney-risk-backend/internal/logging"
	"github.com/nyashahama/kinney-risk-backend/internal/metrics"
	"github.com/nyashahama/kinney-risk-backend/internal/questionbank"
	"github.com/nyashahama/kinney-risk-backend/internal/store"
	"github.com/nyashahama/kinney-risk-backend/internal/transport"
	"github.com/nyashahama/kinney-risk-backend/internal/worker"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	// JSON in production, text in development. Config is not loaded yet, so
	// read ENV and LOG_LEVEL directly; run() swaps in the configured logger.
	logger := logging.New(os.Stdout, os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger = logging.New(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("config loaded", "env", cfg.Env, "port", cfg.Port)

	// ── Database ──────────────────────────────────────────────────────────────
	pool, queries, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	defer queries.Close()
	logger.Info("database connected")

	// ── Store (atomic multi-step writes) ──────────────────────────────────────
	st := store.New(pool, queries)

	// ── Question bank ─────────────────────────────────────────────────────────
	bank, err := questionbank.Load(cfg.QuestionBankPath)
	if err != nil {
		return fmt.Errorf("question bank: %w", err)
	}
	logger.Info("question bank loaded", "version", bank.Version, "questions", bank.Len())

	// ── Auth ──────────────────────────────────────────────────────────────────
	var verifier auth.Verifier
	if cfg.AuthDisabled {
		verifier = auth.StaticVerifier{User: auth.User{UID: "dev-user", Email: "dev@localhost", EmailVerified: true, Name: "Développeur"}}
		logger.Warn("auth: disabled, every bearer token is accepted as dev-user")
	} else {
		verifier, err = auth.NewFirebaseVerifier(auth.FirebaseConfig{
			ProjectID: cfg.FirebaseProjectID,
			Keys:      auth.NewKeySetCache(cfg.KeySetTTL),
			Tokens:    auth.NewTokenCache(cfg.TokenTTL),
		})
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	// ── AI ────────────────────────────────────────────────────────────────────
	// The OpenAI-compatible provider (Groq by default) is primary. Anthropic is
	// the fallback when ANTHROPIC_API_KEY is also set.
	var assessor ai.Assessor
	openai := func() ai.Assessor {
		return ai.NewOpenAICompatible(ai.OpenAIConfig{
			APIKey:      cfg.LLMAPIKey,
			BaseURL:     cfg.LLMBaseURL,
			Model:       cfg.LLMModel,
			Temperature: float32(cfg.LLMTemperature),
			Retries:     cfg.LLMRetries,
			Logger:      logger,
		})
	}
	switch {
	case cfg.LLMAPIKey != "" && cfg.AnthropicAPIKey != "":
		assessor = ai.NewFallbackAssessor(openai(), ai.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel), logger)
		logger.Info("ai: using OpenAI-compatible provider with Anthropic fallback", "base_url", cfg.LLMBaseURL)
	case cfg.LLMAPIKey != "":
		assessor = openai()
		logger.Info("ai: using OpenAI-compatible provider only", "base_url", cfg.LLMBaseURL)
	default:
		assessor = ai.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		logger.Info("ai: using Anthropic only")
	}

	// ── Events + metrics ──────────────────────────────────────────────────────
	bus := events.NewBus(logger)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	defer m.Subscribe(bus)()

	// ── Email (Resend) ────────────────────────────────────────────────────────
	var mailer email.Sender = email.Discard{}
	if cfg.ResendAPIKey != "" {
		mailer = email.NewResendClient(cfg.ResendAPIKey, cfg.EmailFromAddr, cfg.EmailFromName, cfg.BaseURL)
	} else {
		logger.Warn("email: RESEND_API_KEY not set, notifications disabled")
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	job := worker.NewJob(queries, st, assessor, mailer, bus, logger)
	runner := worker.NewRunner(job, queries, worker.RunnerConfig{
		Workers:      cfg.WorkerCount,
		PollInterval: cfg.PollInterval,
		JobTimeout:   cfg.JobTimeout,
		MaxRetries:   cfg.MaxRetries,
	}, logger)

	// ── HTTP + gRPC health ────────────────────────────────────────────────────
	handler := api.NewServer(api.Deps{
		Q:        queries,
		Store:    st,
		Bank:     bank,
		Assessor: assessor,
		Verifier: verifier,
		Worker:   runner, // *Runner satisfies worker.Enqueuer
		Bus:      bus,
		Metrics:  m.Handler(),
	}, api.Config{
		Env:            cfg.Env,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	lis, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	// Root context cancelled by OS signal. Worker and servers both respect it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the worker pool in a background goroutine. It blocks until ctx is done.
	workerDone := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(workerDone)
	}()

	if err := transport.New(handler, logger).Serve(ctx, lis); err != nil {
		stop()
		<-workerDone
		return fmt.Errorf("server: %w", err)
	}

	<-workerDone
	logger.Info("shutdown complete")
	return nil
}

// openDB opens the connection pool and prepares all sqlc statements.
// Using db.Prepare (rather than db.New) means every query is validated against
// the database schema at startup: the server refuses to start if the schema
// is out of sync.
func openDB(dsn string) (*sql.DB, *db.Queries, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}

	// Tune the connection pool.
	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(10)
	pool.SetConnMaxLifetime(5 * time.Minute)
	pool.SetConnMaxIdleTime(2 * time.Minute)

	// Verify the connection is reachable before proceeding.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}

	queries, err := db.Prepare(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("prepare statements: %w", err)
	}

	return pool, queries, nil
}
