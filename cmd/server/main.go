package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Share-board room server",
		Long: `Serves the room REST API, the ticket exchange and the realtime
room endpoint.

Configuration comes from the environment (optionally a .env file):
  PORT, DATABASE_URL, JWT_SECRET, TICKET_TTL, CREDENTIAL_TTL,
  ALLOWED_ORIGINS, LOG_LEVEL`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load if present")

	rootCmd.AddCommand(
		serveCmd(&envFile),
		tokenCmd(&envFile),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
