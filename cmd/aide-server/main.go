// aide-server runs the confirmation and workflow services behind an
// HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"aide/internal/config"
	"aide/internal/confirmation"
	"aide/internal/executor"
	"aide/internal/llm"
	"aide/internal/logging"
	"aide/internal/registry"
	"aide/internal/server"
	"aide/internal/workflow"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "aide-server",
		Short:        "Action confirmation and workflow orchestration service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aide-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewComponentLogger("aide-server")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage: LRU cache always, Postgres behind it when configured.
	cache, err := confirmation.NewMemStore(cfg.Confirmation.CacheSize)
	if err != nil {
		return fmt.Errorf("create confirmation cache: %w", err)
	}
	var durable confirmation.Repository
	var pool *pgxpool.Pool
	if cfg.Database.URL != "" {
		pool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		pgStore := confirmation.NewPGStore(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		durable = pgStore
		logger.Info("durable confirmation store enabled")
	} else {
		logger.Warn("no database configured, confirmations are cache-only")
	}
	repo := confirmation.NewFallbackRepository(cache, durable, logging.NewComponentLogger("store"))

	agents := registry.New()

	toolExec := executor.New(
		agents,
		executor.KeywordClassifier{},
		policyFromConfig(cfg.Policy),
		logging.NewComponentLogger("executor"),
	)

	metrics := confirmation.MustNewMetrics(prometheus.DefaultRegisterer)

	confirmations := confirmation.NewService(
		repo,
		agents,
		toolExec,
		confirmation.Config{
			DefaultExpiration: cfg.Confirmation.DefaultExpiration,
			CleanupInterval:   cfg.Confirmation.CleanupInterval,
		},
		metrics,
		logging.NewComponentLogger("confirmation"),
	)
	if err := confirmations.Start(ctx); err != nil {
		return fmt.Errorf("start confirmation sweeper: %w", err)
	}
	defer confirmations.Stop()

	complete := completionBackend(cfg.Model, logger)
	workflows := workflow.NewExecutor(
		agents,
		nil,
		&workflow.JSONReadinessEvaluator{Complete: complete},
		&workflow.JSONActionEvaluator{Complete: complete},
		&workflow.JSONProgressEvaluator{Complete: complete},
		workflow.Config{
			MaxIterations: cfg.Workflow.MaxIterations,
			DefaultTenant: cfg.Workflow.DefaultTenant,
		},
		logging.NewComponentLogger("workflow"),
	)

	srv := server.New(cfg.Server, confirmations, workflows, logging.NewComponentLogger("http"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// completionBackend wires the workflow evaluators to the configured
// model endpoint. Without one, workflow runs fail with a clear error
// while the confirmation API remains fully usable.
func completionBackend(cfg config.ModelConfig, logger logging.Logger) workflow.CompletionFunc {
	if cfg.BaseURL == "" {
		logger.Warn("no model endpoint configured, workflow execution is disabled")
		return func(context.Context, string) (string, error) {
			return "", fmt.Errorf("no model endpoint configured")
		}
	}
	client := llm.NewClient(llm.Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Name,
		Timeout: cfg.Timeout,
	}, logging.NewComponentLogger("llm"))
	return client.Complete
}

// policyFromConfig materializes the confirmation policy from its list
// form in the config file.
func policyFromConfig(pc config.PolicyConfig) executor.Policy {
	policy := executor.Policy{
		CategoryRules:  make(map[string]bool),
		AgentRules:     make(map[string]bool),
		CriticalTools:  make(map[string]bool),
		DefaultRequire: pc.DefaultRequire,
	}
	if len(pc.RequireCategories) == 0 && len(pc.SkipCategories) == 0 &&
		len(pc.RequireAgents) == 0 && len(pc.CriticalTools) == 0 {
		policy = executor.DefaultPolicy()
		policy.DefaultRequire = pc.DefaultRequire
		return policy
	}
	for _, category := range pc.RequireCategories {
		policy.CategoryRules[category] = true
	}
	for _, category := range pc.SkipCategories {
		policy.CategoryRules[category] = false
	}
	for _, agent := range pc.RequireAgents {
		policy.AgentRules[agent] = true
	}
	for _, tool := range pc.CriticalTools {
		policy.CriticalTools[tool] = true
	}
	return policy
}
