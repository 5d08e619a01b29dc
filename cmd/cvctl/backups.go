package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-cv/internal/contentstore"
)

func addDataDirFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "data-dir", "./data", "directory holding cv_content.json and backups/")
}

// openStore opens the store directly. The server must not be writing to the
// same directory.
func openStore(cmd *cobra.Command, dir string, keep int) (*contentstore.Store, error) {
	return contentstore.New(cmd.Context(), contentstore.Options{Dir: dir, MaxBackups: keep})
}

func newBackupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List or restore content backups",
	}
	var keep int
	cmd.PersistentFlags().IntVar(&keep, "max-backups", 10, "backups kept after a restore")
	cmd.AddCommand(newBackupsListCmd(), newBackupsRestoreCmd(&keep))
	return cmd
}

func newBackupsListCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore(cmd, dir, 0)
			if err != nil {
				return err
			}
			names, err := s.ListBackups(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				_, err = fmt.Fprintln(out, "no backups")
				return err
			}
			for _, n := range names {
				if _, err := fmt.Fprintln(out, n); err != nil {
					return err
				}
			}
			return nil
		},
	}
	addDataDirFlag(cmd, &dir)
	return cmd
}

func newBackupsRestoreCmd(keep *int) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "restore NAME",
		Short: "Make a backup the live document; the current one is backed up first",
		Long: `Make a backup the live document. The current live document is backed up
first and the oldest backups beyond --max-backups are pruned.

Stop the server before restoring. Its store lock does not reach
across processes, so a write by the server during the restore can be lost.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd, dir, *keep)
			if err != nil {
				return err
			}
			doc, err := s.RestoreBackup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "restored %s (document %s)\n", args[0], doc.ID)
			return err
		},
	}
	addDataDirFlag(cmd, &dir)
	return cmd
}

func newStatusCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the store is initialized and what it holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore(cmd, dir, 0)
			if err != nil {
				return err
			}
			st, err := s.Status(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "initialized\t%v\n", st.Initialized)
			if st.Initialized {
				fmt.Fprintf(tw, "updated_at\t%s\n", st.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"))
				fmt.Fprintf(tw, "experiences\t%d\n", st.Counts.Experiences)
				fmt.Fprintf(tw, "education\t%d\n", st.Counts.Education)
				fmt.Fprintf(tw, "skills_categories\t%d\n", st.Counts.SkillsCategories)
				fmt.Fprintf(tw, "languages\t%d\n", st.Counts.Languages)
			}
			fmt.Fprintf(tw, "backups\t%d\n", st.Backups)
			return tw.Flush()
		},
	}
	addDataDirFlag(cmd, &dir)
	return cmd
}
