package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-cv/internal/authgate"
	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

const minUsernameLen = 4

func newHashPasswordCmd(p prompter) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a new admin password for -admin-password-hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := newPassword(p)
			if err != nil {
				return err
			}
			h, err := authgate.HashPassword(pw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		},
	}
}

func newVerifyPasswordCmd(p prompter) *cobra.Command {
	var hash string
	cmd := &cobra.Command{
		Use:   "verify-password",
		Short: "Check a password against a stored hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := p.Secret("Password: ")
			if err != nil {
				return err
			}
			if !authgate.VerifyPassword(pw, hash) {
				return xerrors.New("password does not match")
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return err
		},
	}
	cmd.Flags().StringVar(&hash, "hash", "", "stored hash (salt:hexhash)")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}

func newGenSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-secret",
		Short: "Generate a random token signing secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := authgate.GenerateSecret()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), s)
			return err
		},
	}
}

// newInitCredentialsCmd prompts for a full admin principal and prints the
// environment lines the server needs.
func newInitCredentialsCmd(p prompter) *cobra.Command {
	return &cobra.Command{
		Use:   "init-credentials",
		Short: "Create an admin username, password hash and token secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := p.Line("New admin username: ")
			if err != nil {
				return err
			}
			if len(user) < minUsernameLen || user == "admin" {
				return xerrors.Newf("username must be at least %d characters and not \"admin\"", minUsernameLen)
			}
			pw, err := newPassword(p)
			if err != nil {
				return err
			}
			h, err := authgate.HashPassword(pw)
			if err != nil {
				return err
			}
			secret, err := authgate.GenerateSecret()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, l := range []string{
				envLine("admin-username", user),
				envLine("admin-password-hash", h),
				envLine("token-secret", secret),
			} {
				if _, err := fmt.Fprintln(out, l); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
