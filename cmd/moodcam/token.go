package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"moodcam/internal/auth"
)

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed preview token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret (MOODCAM_JWT_SECRET) must be set for tokens to outlive this process")
		}
		user := tokenUser
		if user == "" {
			user = cfg.Auth.Username
		}

		signer := auth.NewTokenSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
		token, expiresAt, err := signer.Sign(user)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "Expires %s\n", expiresAt.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "Token subject (default: auth.username)")
	rootCmd.AddCommand(tokenCmd)
}
