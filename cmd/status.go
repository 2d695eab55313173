package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	statusadapter "github.com/boxvps/boxvpsd/internal/adapters/render/status"
	"github.com/boxvps/boxvpsd/internal/domain"
)

func newStatusCmd(app *app) *cobra.Command {
	var (
		protocol string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show accounts with live daemon session counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses, err := app.service.Status(cmd.Context(), domain.Filter{
				Protocol: domain.Protocol(protocol),
			})
			if err != nil {
				return err
			}

			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(statuses)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, app.renderer(statuses, statusadapter.RenderOptions{
				Now: time.Now(),
			}))

			for _, daemon := range app.health.Check(cmd.Context()) {
				state := "active"
				if !daemon.Active {
					state = "inactive"
				}
				fmt.Fprintf(out, "%s (%s): %s\n", daemon.Name, daemon.Unit, state)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&protocol, "protocol", "p", "", "filter by protocol")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit raw JSON instead of the rendered view")

	return cmd
}
