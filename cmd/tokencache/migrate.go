package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencache/internal/app"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones del token cache en los stores configurados",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			c, err := app.New(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
