package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

func newPingCmd() *cobra.Command {
	var webhook string
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Sends a TEST_PING to a webhook",
		Long: `Sends the probe envelope to --webhook (default webhook.url) through the
same primary and fallback tiers a batch uses and prints the outcome.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if webhook == "" {
				webhook = cfg.Webhook.URL
			}
			if webhook == "" {
				return errors.New("--webhook is required when webhook.url is unset")
			}
			deliverer := appInstance.Deliverer()
			if deliverer == nil {
				return errors.New("webhook delivery unavailable")
			}
			res, err := deliverer.Probe(cmd.Context(), webhook)
			return reportDelivery(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().StringVar(&webhook, "webhook", "", "endpoint to probe")
	return cmd
}
