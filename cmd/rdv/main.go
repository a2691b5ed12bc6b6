package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rdv",
		Short: "rdv schedules meetings over email",
		Long: `rdv is an email scheduling assistant. It receives mail notifications,
reads the requester's intent, negotiates a time against the calendar, and
books the meeting once the requester confirms.`,
	}
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(initCmd())
	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
