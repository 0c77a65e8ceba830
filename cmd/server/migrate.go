package main

import (
	"github.com/spf13/cobra"

	"entity-api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or alter the tables of every loaded entity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := store.NewMigrator(rt.store).MigrateAll(ctx, rt.registry); err != nil {
			return err
		}
		rt.logger.Info("migration complete", "entities", len(rt.registry.AllEntities()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
