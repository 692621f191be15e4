package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-location-service/internal/config"
	"github.com/kjstillabower/weather-location-service/internal/observability"
	"github.com/kjstillabower/weather-location-service/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _, err := observability.NewLogger()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = observability.FlushTelemetry(logger) }()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			start := time.Now()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := store.NewPostgres(ctx, cfg.DatabaseURL, store.PoolConfig{MinConns: 1, MaxConns: 2})
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("schema applied", zap.Duration("elapsed", time.Since(start)))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "time limit for connecting and migrating")
	return cmd
}
