package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencache/internal/security/secretbox"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Genera una clave maestra nueva para " + secretbox.EnvMasterKey,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := secretbox.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), k)
			return nil
		},
	}
}
