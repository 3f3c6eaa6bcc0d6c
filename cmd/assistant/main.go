package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gridassist/internal/adapter/completion"
	"gridassist/internal/adapter/docstore"
	"gridassist/internal/adapter/doctool"
	"gridassist/internal/adapter/gateway"
	"gridassist/internal/assistant"
	"gridassist/internal/infra/config"
	"gridassist/internal/infra/logger"
	"gridassist/internal/infra/tracer"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	// 1. Config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Document store
	doc, err := docstore.Open(cfg.Document.Path, log)
	if err != nil {
		return fmt.Errorf("document store: %w", err)
	}
	defer doc.Close()

	// 4. Completion client stack. The fallback sits outside the retrier so a
	// context overflow, which the retrier passes through, reaches it; the
	// breaker wraps everything and only counts endpoint-health failures.
	var client = completion.NewCircuitBreakerClient(
		completion.NewLongContextClient(
			completion.NewRetryingClient(
				completion.NewClient(cfg.Completion, log),
				completion.RetryPolicy{
					MaxAttempts: cfg.Completion.Retry.MaxAttempts,
					Backoff:     cfg.Completion.Retry.Backoff,
				},
				log,
			),
			cfg.Completion.LongContextModel,
			log,
		),
		cfg.Completion.Breaker,
		log,
	)

	// 5. Tool catalog & dispatcher
	catalog, err := doctool.NewCatalog()
	if err != nil {
		return fmt.Errorf("tool catalog: %w", err)
	}
	dispatcher := doctool.NewDispatcher(catalog, log)

	// 6. Assistant loop
	svc := assistant.NewAssistant(assistant.Deps{
		Completion:        client,
		Dispatcher:        dispatcher,
		Prompt:            assistant.NewPromptBuilder(cfg.Assistant.PromptVersion, nil),
		Estimator:         assistant.NewEstimator(cfg.Completion.Model),
		Logger:            log,
		MaxToolCalls:      cfg.Assistant.MaxToolCalls,
		LongContextModel:  cfg.Completion.LongContextModel,
		PromptTokenBudget: cfg.Assistant.PromptTokenBudget,
	})

	// 7. HTTP gateway
	server := gateway.NewServer(svc, doc, cfg.Gateway, log)
	log.Info("assistant starting", "addr", cfg.Gateway.Addr, "model", cfg.Completion.Model)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	log.Info("assistant stopped")
	return nil
}
