package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencache/internal/app"
	"github.com/dropDatabas3/tokencache/internal/tokencache"
)

func newInspectCmd(opts *rootOptions) *cobra.Command {
	var (
		key    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Muestra última escritura y cantidad de entradas de una partición (nunca secretos)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				return errors.New("--key es requerido")
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

			coord := c.UserCache
			if strings.HasPrefix(key, "app:") {
				coord = c.AppCache
			}
			info, err := coord.Describe(cmd.Context(), key)
			if err != nil {
				return fmt.Errorf("inspect %s: %w", key, err)
			}
			return printInfo(cmd, info, asJSON)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Partition key (app:<client>@env/realm | user:<home_account_id>@env/realm)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Salida JSON")
	return cmd
}

func printInfo(cmd *cobra.Command, info tokencache.Info, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	if !info.Exists {
		fmt.Fprintf(out, "%s: not found\n", info.Key)
		return nil
	}
	fmt.Fprintf(out, "key:            %s\n", info.Key)
	fmt.Fprintf(out, "last_write:     %s\n", info.LastWrite.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "accounts:       %d\n", info.Accounts)
	fmt.Fprintf(out, "access_tokens:  %d\n", info.AccessTokens)
	fmt.Fprintf(out, "refresh_tokens: %d\n", info.RefreshTokens)
	fmt.Fprintf(out, "id_tokens:      %d\n", info.IDTokens)
	fmt.Fprintf(out, "app_metadata:   %d\n", info.AppMetadata)
	return nil
}
