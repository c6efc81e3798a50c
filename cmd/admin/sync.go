package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"spendwise/internal/app"
)

var (
	syncUserID  int64
	syncAll     bool
	syncWait    bool
	syncTimeout time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync pass now for one user or every linked user",
	Example: `  admin sync --user-id=1
  admin sync --all
  admin sync --user-id=1 --wait=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncAll && syncUserID != 0 {
			return fmt.Errorf("--user-id and --all are mutually exclusive")
		}
		if !syncAll && syncUserID <= 0 {
			return fmt.Errorf("must specify --user-id or --all")
		}

		cfg, deps, err := loadDeps(app.Options{})
		if err != nil {
			return err
		}
		defer deps.Close()
		if err := cfg.Plaid.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
		defer cancel()

		// Reconcile jobs are picked up by any running API process as well.
		deps.StartWorkers(ctx)
		defer deps.Queue.Shutdown(cfg.Server.ShutdownTimeout)

		if syncAll {
			return syncEveryone(ctx, cmd, deps)
		}
		return syncOne(ctx, cmd, deps, syncUserID)
	},
}

func init() {
	syncCmd.Flags().Int64Var(&syncUserID, "user-id", 0, "user to sync")
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "sync every linked user")
	syncCmd.Flags().BoolVar(&syncWait, "wait", true, "wait for reconciliation to finish")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 30*time.Minute, "overall timeout")
}

func syncOne(ctx context.Context, cmd *cobra.Command, deps *app.Dependencies, userID int64) error {
	res, err := deps.Sync.SyncUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("sync user %d: %w", userID, err)
	}
	cmd.Printf("user %d: %d pages, %d added, %d modified, %d removed, reconcile job %s\n",
		userID, res.Pages, res.Added, res.Modified, res.Removed, res.Job.ID())

	if !syncWait {
		return nil
	}
	if err := res.Job.Wait(ctx); err != nil {
		return fmt.Errorf("reconcile job %s: %w", res.Job.ID(), err)
	}
	cmd.Printf("user %d: reconciled\n", userID)
	return nil
}

func syncEveryone(ctx context.Context, cmd *cobra.Command, deps *app.Dependencies) error {
	res, err := deps.Sync.SyncUsers(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("synced %d of %d linked users\n", res.Succeeded, res.Users)

	ids := make([]int64, 0, len(res.Failed))
	for id := range res.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		cmd.Printf("  user %d: %v\n", id, res.Failed[id])
	}
	if len(ids) > 0 {
		return fmt.Errorf("%d users failed to sync", len(ids))
	}
	return nil
}
