package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBackupCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up and restore the account store",
	}

	cmd.AddCommand(
		newBackupCreateCmd(app),
		newBackupRestoreCmd(app),
	)

	return cmd
}

func newBackupCreateCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Write a timestamped archive of the data directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := app.backups.Create(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newBackupRestoreCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <archive>",
		Short: "Unpack an archive back into the data directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.backups.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored from %s\n", args[0])
			return nil
		},
	}
}
