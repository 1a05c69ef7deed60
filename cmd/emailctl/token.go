package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"email-classifier/internal/middleware"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "issue a bearer token for the training routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("EMAILCLF_AUTH_JWT_SECRET")
			}
			if secret == "" {
				return errors.New("--secret or EMAILCLF_AUTH_JWT_SECRET is required")
			}
			token, err := middleware.IssueToken([]byte(secret), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 signing secret (default $EMAILCLF_AUTH_JWT_SECRET)")
	cmd.Flags().StringVar(&subject, "subject", "emailctl", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
