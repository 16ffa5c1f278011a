package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/share-board/internal/auth"
	"github.com/DoyleJ11/share-board/internal/config"
)

func tokenCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "token <username>",
		Short: "Print a session credential for username",
		Long: `Mint a session credential signed with JWT_SECRET. There is no
login flow; use this to hand out credentials in development.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(*envFile)
			if err != nil {
				return err
			}
			tok, err := auth.NewManager(cfg.JWTSecret, cfg.CredentialTTL, issuer).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}
