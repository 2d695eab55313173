package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/boxvps/boxvpsd/internal/application"
	"github.com/boxvps/boxvpsd/internal/domain"
)

func newUserCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts on this node",
	}

	cmd.AddCommand(
		newUserAddCmd(app),
		newUserDelCmd(app),
		newUserListCmd(app),
		newUserInfoCmd(app),
		newUserLockCmd(app),
		newUserUnlockCmd(app),
		newUserRenewCmd(app),
		newUserRotateCmd(app),
	)

	return cmd
}

func newUserAddCmd(app *app) *cobra.Command {
	var (
		protocol  string
		password  string
		quotaGB   int64
		maxLogins int
		days      int
	)

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Create an account and provision it on the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := application.CreateParams{
				ID:          domain.AccountID(args[0]),
				Protocol:    domain.Protocol(protocol),
				Password:    password,
				QuotaBytes:  domain.GigabytesToBytes(quotaGB),
				QuotaLogins: maxLogins,
			}
			if days > 0 {
				params.ExpiresAt = time.Now().AddDate(0, 0, days)
			}

			account, err := app.service.Create(cmd.Context(), params)
			if err != nil {
				return err
			}

			printAccount(cmd, account)
			return nil
		},
	}

	cmd.Flags().StringVarP(&protocol, "protocol", "p", "", "protocol: ssh, vmess, vless, trojan, openvpn, l2tp")
	cmd.Flags().StringVar(&password, "password", "", "password (required for ssh, openvpn, l2tp)")
	cmd.Flags().Int64Var(&quotaGB, "quota-gb", 0, "traffic quota in gigabytes, 0 for unlimited")
	cmd.Flags().IntVar(&maxLogins, "max-logins", 0, "concurrent session limit, 0 for unlimited")
	cmd.Flags().IntVar(&days, "days", 0, "validity in days, 0 for no expiry")
	_ = cmd.MarkFlagRequired("protocol")

	return cmd
}

func newUserDelCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "del <id>",
		Short: "Revoke an account on the daemon and delete it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.service.Delete(cmd.Context(), domain.AccountID(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newUserListCmd(app *app) *cobra.Command {
	var (
		protocol string
		state    string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := app.service.List(cmd.Context(), domain.Filter{
				Protocol: domain.Protocol(protocol),
				State:    domain.State(state),
			})
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

	cmd.Flags().StringVarP(&protocol, "protocol", "p", "", "filter by protocol")
	cmd.Flags().StringVarP(&state, "state", "s", "", "filter by state")

	return cmd
}

func newUserInfoCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := app.service.Get(cmd.Context(), domain.AccountID(args[0]))
			if err != nil {
				return err
			}
			printAccount(cmd, account)
			return nil
		},
	}
}

func newUserLockCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lock <id>",
		Short: "Revoke daemon access without deleting the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := app.service.Lock(cmd.Context(), domain.AccountID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", account.ID, account.State)
			return nil
		},
	}
}

func newUserUnlockCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <id>",
		Short: "Restore daemon access for a locked account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := app.service.Unlock(cmd.Context(), domain.AccountID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", account.ID, account.State)
			return nil
		},
	}
}

func newUserRenewCmd(app *app) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "renew <id>",
		Short: "Extend an account's expiry date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			until := time.Now().AddDate(0, 0, days)
			account, err := app.service.Renew(cmd.Context(), domain.AccountID(args[0]), until)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s renewed until %s\n",
				account.ID, account.ExpiresAt.Format("2006-01-02"))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "validity in days from now")

	return cmd
}

func newUserRotateCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <id>",
		Short: "Issue a fresh UUID for an Xray-backed account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := app.service.RotateCredential(cmd.Context(), domain.AccountID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s uuid: %s\n", account.ID, account.Credential.UUID)
			return nil
		},
	}
}

func printAccount(cmd *cobra.Command, account domain.Account) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "id:       %s\n", account.ID)
	fmt.Fprintf(out, "protocol: %s\n", account.Protocol)
	fmt.Fprintf(out, "state:    %s\n", account.State)
	if account.Protocol.XrayBacked() {
		fmt.Fprintf(out, "uuid:     %s\n", account.Credential.UUID)
	}
	if account.QuotaBytes > 0 {
		fmt.Fprintf(out, "traffic:  %s / %s\n",
			domain.FormatBytes(account.UsageBytes), domain.FormatBytes(account.QuotaBytes))
	} else {
		fmt.Fprintf(out, "traffic:  %s (no limit)\n", domain.FormatBytes(account.UsageBytes))
	}
	if account.QuotaLogins > 0 {
		fmt.Fprintf(out, "logins:   max %d\n", account.QuotaLogins)
	}
	if !account.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "expires:  %s\n", account.ExpiresAt.Format("2006-01-02"))
	}
}
