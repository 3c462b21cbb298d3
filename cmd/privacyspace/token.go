package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"privacyspace/internal/auth"
)

func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Sign an admin bearer token",
		Long:  `Sign an HS256 admin token with JWT_SECRET for the /admin endpoints.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := auth.GenerateToken(args[0], auth.RoleAdmin, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
