package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"thumbnail-service/internal/infra/api"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an owner token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		ttl := a.cfg.Auth.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		tok, err := api.NewAuthenticator(a.cfg.Auth.JWTSecret, ttl).Mint(tokenUser)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "Owner id the token acts for")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	_ = tokenCmd.MarkFlagRequired("user")
}
