package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "boxvpsd",
		Short:         "boxvpsd: VPS account lifecycle and quota manager",
		Long:          "boxvpsd provisions SSH, Xray (VMess/VLESS/Trojan), OpenVPN and L2TP accounts on the local daemons, tracks their traffic against quotas, and serves an HTTP API and Telegram bot for remote management.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	addCommands(rootCmd, app)
	return rootCmd
}

func addCommands(rootCmd *cobra.Command, app *app) {
	rootCmd.AddCommand(
		newVersionCmd(),
		newUserCmd(app),
		newQuotaCmd(app),
		newStatusCmd(app),
		newBackupCmd(app),
		newFleetCmd(app),
		newServeCmd(app),
	)
}
