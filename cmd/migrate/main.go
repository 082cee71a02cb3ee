package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ms-registration/internal/config"
	"ms-registration/internal/database/migrations"
	"ms-registration/internal/datastore"
	"ms-registration/internal/logger"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the registration schema to Postgres",
	}
	rootCmd.AddCommand(runnerCmd("up", "Apply all pending migrations", cobra.NoArgs,
		func(r *migrations.Runner, _ []string) error { return r.MigrateUp() }))
	rootCmd.AddCommand(runnerCmd("down", "Roll back every migration", cobra.NoArgs,
		func(r *migrations.Runner, _ []string) error { return r.MigrateDown() }))
	rootCmd.AddCommand(runnerCmd("to [version]", "Migrate up or down to a version", cobra.ExactArgs(1),
		func(r *migrations.Runner, args []string) error {
			version, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return r.MigrateTo(uint(version))
		}))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runnerCmd(use, short string, args cobra.PositionalArgs, run func(*migrations.Runner, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.Database.DSN == "" {
				return fmt.Errorf("POSTGRES_DSN not set")
			}
			log, err := logger.NewLogger(logger.Options{Service: "migrate", MinLevel: logger.ParseLevel(cfg.Log.Level), Color: cfg.Log.Color})
			if err != nil {
				return err
			}
			defer log.Close()

			store, err := datastore.OpenPostgres(context.Background(), cfg.Database.DSN, datastore.PoolOptions{MaxOpenConns: 1})
			if err != nil {
				return err
			}
			runner := migrations.NewRunner(store.Bun, log)
			defer runner.Close()

			if err := run(runner, args); err != nil {
				return err
			}
			log.Info("MIGRATE", fmt.Sprintf("%s complete", cmd.Name()))
			return nil
		},
	}
}
