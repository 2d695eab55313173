package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boxvps/boxvpsd/internal/domain"
)

func newFleetCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Query and manage remote boxvpsd nodes",
	}

	cmd.AddCommand(
		newFleetStatusCmd(app),
		newFleetListCmd(app),
	)

	return cmd
}

func newFleetStatusCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show account status across all configured servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, result := range app.fleet.Status(cmd.Context()) {
				if result.Err != nil {
					fmt.Fprintf(out, "%s\tunreachable: %v\n", result.ServerID, result.Err)
					continue
				}
				for _, st := range result.Statuses {
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%d online\n",
						result.ServerID, st.Account.ID, st.Account.Protocol,
						st.Account.State, st.Sessions)
				}
			}
			return nil
		},
	}
}

func newFleetListCmd(app *app) *cobra.Command {
	var serverID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts on one remote server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := app.fleet.Node(serverID)
			if err != nil {
				return err
			}

			accounts, err := client.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}

			for _, account := range accounts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n",
					account.ID, account.Protocol, account.State,
					domain.FormatBytes(account.UsageBytes))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverID, "server", "", "server id from the [[servers]] config")
	_ = cmd.MarkFlagRequired("server")

	return cmd
}
