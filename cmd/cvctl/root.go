package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-cv/internal/cfg"
	v "github.com/keithlinneman/linnemanlabs-cv/internal/version"
)

func newRootCmd(p prompter) *cobra.Command {
	root := &cobra.Command{
		Use:           "cvctl",
		Short:         "Manage credentials and content backups for the CV server",
		Version:       v.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")

	root.AddCommand(
		newHashPasswordCmd(p),
		newVerifyPasswordCmd(p),
		newGenSecretCmd(),
		newInitCredentialsCmd(p),
		newBackupsCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), v.Get().String())
			return err
		},
	}
}

// envLine formats a server setting the way the server reads it from the
// environment.
func envLine(flagName, value string) string {
	return cfg.EnvKey(cfg.EnvPrefix, flagName) + "=" + value
}
