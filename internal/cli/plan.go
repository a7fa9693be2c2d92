package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/yuriy-kovalchuk/yk-ddns-helper/internal/controller"
)

func newPlanCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the record changes of one pass without applying them",
		Long: "Plan runs a single reconciliation pass with the provider in dry-run mode and prints\n" +
			"the address records that would be created and deleted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			r, err := o.setup(cfg, true)
			if err != nil {
				return err
			}
			r.Log = ctrl.Log.WithName("plan")

			res, err := r.Reconcile(cmd.Context())
			if res.Plan != nil || res.Skipped {
				fmt.Fprint(cmd.OutOrStdout(), controller.FormatPlan(res))
			}
			if err != nil {
				return fmt.Errorf("plan failed: %w", err)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
