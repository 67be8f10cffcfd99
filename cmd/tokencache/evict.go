package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencache/internal/app"
	"github.com/dropDatabas3/tokencache/internal/audit"
	"github.com/dropDatabas3/tokencache/internal/observability/logger"
)

func newEvictCmd(opts *rootOptions) *cobra.Command {
	var (
		userID string
		appToo bool
	)
	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Borra la partición de un usuario (--user) o la de la app (--app)",
		Example: `  tokencache evict --user 00000000-0000-0000-0000-000000000001.tenant-id
  tokencache evict --app`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" && !appToo {
				return errors.New("--user o --app es requerido")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			c, err := app.New(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			if userID != "" {
				key, err := c.UserPartitionKey(userID)
				if err != nil {
					return err
				}
				if err := c.UserCache.Evict(cmd.Context(), key); err != nil {
					return fmt.Errorf("evict %s: %w", key, err)
				}
				audit.Log(cmd.Context(), audit.EventAdminEvict, logger.PartitionKey(key))
				fmt.Fprintf(cmd.OutOrStdout(), "evicted %s\n", key)
			}
			if appToo {
				key, err := c.AppPartitionKey()
				if err != nil {
					return err
				}
				if err := c.AppCache.Evict(cmd.Context(), key); err != nil {
					return fmt.Errorf("evict %s: %w", key, err)
				}
				audit.Log(cmd.Context(), audit.EventAdminEvict, logger.PartitionKey(key))
				fmt.Fprintf(cmd.OutOrStdout(), "evicted %s\n", key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Home account id del usuario (<oid>.<tid>)")
	cmd.Flags().BoolVar(&appToo, "app", false, "Borrar la partición app-only")
	return cmd
}
