package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	httpapi "github.com/hermitshell/hermitshell/internal/api/http"
	appApproval "github.com/hermitshell/hermitshell/internal/application/approval"
	"github.com/hermitshell/hermitshell/internal/application/audit"
	"github.com/hermitshell/hermitshell/internal/application/ledger"
	"github.com/hermitshell/hermitshell/internal/application/orchestrator"
	appSandbox "github.com/hermitshell/hermitshell/internal/application/sandbox"
	domainApproval "github.com/hermitshell/hermitshell/internal/domain/approval"
	"github.com/hermitshell/hermitshell/internal/domain/delegation"
	"github.com/hermitshell/hermitshell/internal/infrastructure/clock"
	"github.com/hermitshell/hermitshell/internal/infrastructure/docker"
	"github.com/hermitshell/hermitshell/internal/infrastructure/memstore"
	"github.com/hermitshell/hermitshell/internal/infrastructure/metrics"
	"github.com/hermitshell/hermitshell/internal/infrastructure/postgres"
	"github.com/hermitshell/hermitshell/internal/infrastructure/redisstore"
	"github.com/hermitshell/hermitshell/internal/infrastructure/sqlite"
	"github.com/hermitshell/hermitshell/internal/infrastructure/sse"
	"github.com/hermitshell/hermitshell/internal/infrastructure/telegram"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator, webhook and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return serve(cmd, migrate)
		},
	}
	cmd.Flags().Bool("migrate", true, "Apply migrations before serving")
	return cmd
}

func serve(cmd *cobra.Command, migrate bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	clk := clock.Real()

	// stores
	pool, err := postgres.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	if migrate {
		if err := postgres.RunMigrations(ctx, pool, cfg.Database.MigrationsDir); err != nil {
			return fmt.Errorf("migration error: %w", err)
		}
	}
	agentRepo := postgres.NewAgentRepository(pool)
	budgetRepo := postgres.NewBudgetRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	historyStore := redisstore.NewHistoryStore(rdb, cfg.Redis.HistoryLen, cfg.Redis.HistoryTTL)
	if err := historyStore.Ping(ctx); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}

	workspaces := sqlite.NewWorkspaces(cfg.Calendar.WorkspaceRoot, cfg.Calendar.PoolSize, logger)
	defer workspaces.Close()
	calendarRepo := sqlite.NewCalendarRepository(workspaces)

	// sandbox
	engine, err := docker.NewEngine(cfg.Sandbox.DockerHost, logger)
	if err != nil {
		return err
	}
	defer engine.Close()
	if err := engine.EnsureNetwork(ctx, cfg.Sandbox.Network); err != nil {
		return err
	}
	adapter := appSandbox.NewAdapter(engine, appSandbox.Limits{
		MemoryBytes: cfg.Sandbox.MemoryBytes(),
		NanoCPUs:    cfg.Sandbox.NanoCPUs(),
		PidsLimit:   cfg.Sandbox.PidsLimit,
		Network:     cfg.Sandbox.Network,
		Timeout:     cfg.Sandbox.Timeout,
		StopGrace:   cfg.Sandbox.StopGrace,
	}, m, logger)

	// services
	auditKey, _ := cfg.Audit.Key()
	if auditKey == nil {
		logger.Warn().Msg("audit signing key not set, entries are unsigned")
	}
	auditSvc := audit.NewService(auditRepo, logger, auditKey)
	ledgerSvc := ledger.NewService(budgetRepo, clk, m, logger)
	hub := sse.NewHub(logger)
	defer hub.Stop()

	policy, err := appApproval.NewPolicy(cfg.Approval.RequireWhen)
	if err != nil {
		return fmt.Errorf("approval.require_when: %w", err)
	}
	gate := appApproval.NewGate(
		memstore.New[*domainApproval.Pending](clk),
		appSandbox.NewExecMailbox(engine, logger),
		auditSvc, hub, clk, cfg.Approval.TTL, m, logger,
	)

	messenger := telegram.NewClient(telegram.Options{
		BaseURL:    cfg.Chat.BaseURL,
		Token:      cfg.Chat.BotToken,
		Attempts:   cfg.Chat.Attempts,
		RatePerSec: cfg.Chat.RatePerSec,
		Burst:      cfg.Chat.Burst,
	}, m, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Agents:      agentRepo,
		Ledger:      ledgerSvc,
		Approvals:   gate,
		Policy:      policy,
		Runner:      adapter,
		Audit:       auditSvc,
		History:     historyStore,
		Calendar:    calendarRepo,
		Delegations: memstore.New[*delegation.Request](clk),
		Messenger:   messenger,
		Events:      hub,
		Clock:       clk,
		Metrics:     m,
	}, orchestrator.Config{
		AllowedUsers:    cfg.Chat.AllowedUsers,
		DefaultAgent:    cfg.Chat.DefaultAgent,
		MaxTokens:       cfg.Sandbox.MaxTokens,
		HistoryLimit:    cfg.Chat.HistoryLimit,
		OrchestratorURL: cfg.Sandbox.OrchestratorURL,
		Cost: orchestrator.CostModel{
			PerRun:      cfg.Budget.CostPerRun,
			Per1KTokens: cfg.Budget.CostPer1KTokens,
		},
		MaxParallel:   cfg.Calendar.MaxParallel,
		DelegationTTL: cfg.Chat.DelegationTTL,
	}, logger)

	// background loops
	go gate.Run(ctx, cfg.Approval.SweepInterval)
	go orch.RunDelegationSweep(ctx, cfg.Approval.SweepInterval)
	go orch.RunCalendarLoop(ctx, cfg.Calendar.PollInterval)

	// API server
	apiServer := httpapi.NewServer(httpapi.Deps{
		Orchestrator: orch,
		Approvals:    gate,
		Agents:       agentRepo,
		Budgets:      ledgerSvc,
		Audit:        auditSvc,
		Hub:          hub,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Checks: map[string]httpapi.Check{
			"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
			"redis":    historyStore.Ping,
			"docker":   adapter.Ping,
		},
	}, httpapi.Config{
		WebhookSecret:  cfg.Chat.WebhookSecret,
		JWTSecret:      cfg.Auth.JWTSecret,
		JWTIssuer:      cfg.Auth.Issuer,
		RequestTimeout: cfg.Server.WriteTimeout,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // SSE
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	logger.Info().Msg("shutting down")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	apiServer.Wait()
	return nil
}
