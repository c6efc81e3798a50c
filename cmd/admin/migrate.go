package main

import (
	"github.com/spf13/cobra"

	"spendwise/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, deps, err := loadDeps(app.Options{Migrate: true})
		if err != nil {
			return err
		}
		deps.Close()
		cmd.Println("migrations applied")
		return nil
	},
}
