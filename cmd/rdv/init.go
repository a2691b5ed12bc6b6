package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plouffe/rdv/internal/cli"
)

func initCmd() *cobra.Command {
	var keysFile string
	var client string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate an API key for a client",
		Long: `Generate a fresh API key and append it to the keys file. The key
authorizes one named client, such as the mail notification hook or a
dashboard, to call the rdv API from outside localhost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cli.InitKeysFile(keysFile, client)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added key for client %q to %s\n%s\n", client, keysFile, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&keysFile, "keys-file", "rdv.keys.yaml", "Path to the keys file")
	cmd.Flags().StringVar(&client, "client", "dev", "Client name the key belongs to")
	return cmd
}
