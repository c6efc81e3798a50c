package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"spendwise/internal/app"
)

var (
	deadQueue string
	deadLimit int
)

var deadLettersCmd = &cobra.Command{
	Use:     "dead-letters",
	Aliases: []string{"dlq"},
	Short:   "Inspect and retry jobs that exhausted their retries",
}

var deadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered jobs, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, deps, err := loadDeps(app.Options{})
		if err != nil {
			return err
		}
		defer deps.Close()

		jobs, err := deps.Queue.ListDead(cmd.Context(), deadQueue, deadLimit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			cmd.Println("no dead-lettered jobs")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tQUEUE\tATTEMPTS\tUPDATED\tLAST ERROR")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
				j.ID, j.Queue, j.Attempts, j.MaxAttempts, j.UpdatedAt.Format("2006-01-02 15:04:05"), j.LastError)
		}
		return w.Flush()
	},
}

var deadRetryCmd = &cobra.Command{
	Use:   "retry <job-id>...",
	Short: "Move dead-lettered jobs back to pending with a fresh attempt budget",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, deps, err := loadDeps(app.Options{})
		if err != nil {
			return err
		}
		defer deps.Close()

		var failed int
		for _, id := range args {
			if _, err := deps.Queue.Requeue(cmd.Context(), id); err != nil {
				cmd.PrintErrf("%s: %v\n", id, err)
				failed++
				continue
			}
			cmd.Printf("%s: requeued\n", id)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d jobs could not be requeued", failed, len(args))
		}
		return nil
	},
}

func init() {
	deadListCmd.Flags().StringVar(&deadQueue, "queue", "", "only list jobs from this queue (sync or reconcile)")
	deadListCmd.Flags().IntVar(&deadLimit, "limit", 100, "maximum number of jobs to list")
	deadLettersCmd.AddCommand(deadListCmd, deadRetryCmd)
}
