package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/boxvps/boxvpsd/internal/domain"
)

func newQuotaCmd(app *app) *cobra.Command {
	var maxLogins int

	cmd := &cobra.Command{
		Use:   "quota <id> <gigabytes>",
		Short: "Set an account's traffic quota",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gb, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: quota %q is not a number of gigabytes", domain.ErrValidation, args[1])
			}

			account, err := app.service.SetQuota(cmd.Context(),
				domain.AccountID(args[0]), domain.GigabytesToBytes(gb), maxLogins)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s quota: %s, max logins: %d\n",
				account.ID, domain.FormatBytes(account.QuotaBytes), account.QuotaLogins)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxLogins, "max-logins", 0, "concurrent session limit, 0 for unlimited")

	return cmd
}
