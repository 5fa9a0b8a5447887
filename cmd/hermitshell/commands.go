package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/hermitshell/hermitshell/internal/api/http"
	appAgent "github.com/hermitshell/hermitshell/internal/application/agent"
	"github.com/hermitshell/hermitshell/internal/application/ledger"
	"github.com/hermitshell/hermitshell/internal/infrastructure/clock"
	"github.com/hermitshell/hermitshell/internal/infrastructure/metrics"
	"github.com/hermitshell/hermitshell/internal/infrastructure/postgres"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log)
			ctx := cmd.Context()

			pool, err := postgres.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.RunMigrations(ctx, pool, cfg.Database.MigrationsDir); err != nil {
				return err
			}
			logger.Info().Str("dir", cfg.Database.MigrationsDir).Msg("migrations applied")
			return nil
		},
	}
}

func seedAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-agents",
		Short: "Create or update agents from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			seeds, err := appAgent.LoadSeedFile(file)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log)
			ctx := cmd.Context()

			pool, err := postgres.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			ledgerSvc := ledger.NewService(postgres.NewBudgetRepository(pool), clock.Real(), metrics.New(nil), logger)
			svc := appAgent.NewService(postgres.NewAgentRepository(pool), ledgerSvc, cfg.Budget.DefaultDailyLimit, logger)
			agents, err := svc.Seed(ctx, seeds)
			if err != nil {
				return err
			}
			for _, a := range agents {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", a.ID, a.Name, a.Role)
			}
			return nil
		},
	}
	cmd.Flags().String("file", "configs/agents.yaml", "Seed file")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint an operator token for the /v1 API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := httpapi.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
