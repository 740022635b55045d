// Command migrate applies the embedded schema migrations.
//
// Usage:
//
//	migrate up        # apply all pending migrations
//	migrate down      # roll back the last migration
//	migrate status    # show migration status
//	migrate version   # print the current schema version
//
// The database comes from --dsn, DATABASE_URL, or the API's DB_* settings.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"callbilling/internal/config"
	"callbilling/internal/migrations"
	"callbilling/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

type migrateFunc func(ctx context.Context, db *sql.DB) error

func newRootCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the call billing database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("DATABASE_URL"), "Postgres connection string")

	run := func(fn migrateFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), dsn, fn)
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run(migrations.Up)},
		&cobra.Command{Use: "down", Short: "Roll back the last migration", Args: cobra.NoArgs, RunE: run(migrations.Down)},
		&cobra.Command{Use: "status", Short: "Show migration status", Args: cobra.NoArgs, RunE: run(migrations.Status)},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(cmd.Context(), dsn, func(ctx context.Context, db *sql.DB) error {
					v, err := migrations.Version(ctx, db)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
					return nil
				})
			},
		},
	)
	return cmd
}

func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("no --dsn or DATABASE_URL, and config failed: %w", err)
	}
	return cfg.PostgresDSN(), nil
}

func withDB(ctx context.Context, flagDSN string, fn migrateFunc) error {
	dsn, err := resolveDSN(flagDSN)
	if err != nil {
		return err
	}
	db, err := utils.OpenPostgres(ctx, "pgx", dsn, utils.PostgresPoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		stop()
		os.Exit(1)
	}
}
