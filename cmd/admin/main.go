package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"spendwise/internal/app"
	"spendwise/internal/shared/config"
)

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Management commands for the Spendwise API",
	Long: `Operator commands for the sync pipeline: run syncs outside the schedule,
inspect and retry dead-lettered jobs, and apply schema migrations.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, deadLettersCmd, migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadDeps loads configuration and connects to the durable store. The memory
// store lives inside the API process, so it is rejected here.
func loadDeps(opts app.Options) (*config.Config, *app.Dependencies, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Store != config.StorePostgres {
		return nil, nil, fmt.Errorf("admin commands require STORE=%s", config.StorePostgres)
	}
	deps, err := app.Build(cfg, opts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, deps, nil
}
