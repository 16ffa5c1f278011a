package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "boardctl",
		Short: "Terminal client for share-board rooms",
		Long: `Create rooms and join them from a terminal.

Configuration comes from the environment (optionally a .env file):
  BOARD_API_URL, BOARD_WS_URL, BOARD_TOKEN, BOARD_SAVE_ACK, BOARD_LOG_LEVEL`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load if present")

	rootCmd.AddCommand(
		createCmd(&envFile),
		listCmd(&envFile),
		joinCmd(&envFile),
		whoCmd(&envFile),
		leaveCmd(&envFile),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
