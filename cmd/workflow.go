package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/importscout/internal/workflow"
)

func newWorkflowCmd() *cobra.Command {
	var (
		qf      queryFlags
		webhook string
	)
	cmd := &cobra.Command{
		Use:         "workflow",
		Short:       "Prints an n8n workflow for a scouting mission",
		Annotations: map[string]string{"app": "none"},
		Long: `Prints an importable n8n workflow that runs the same search on a
schedule and posts the result to --webhook (default webhook.url).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			q, err := qf.query(cfg)
			if err != nil {
				return err
			}
			if webhook == "" {
				webhook = cfg.Webhook.URL
			}
			doc, err := workflow.Generate(workflow.Params{
				Product:    q.Product,
				Region:     q.Region,
				Limit:      q.Limit,
				WebhookURL: webhook,
				Model:      cfg.Agent.Model,
			})
			if err != nil {
				return fmt.Errorf("render workflow: %w", err)
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(doc)); err != nil {
				return fmt.Errorf("write workflow: %w", err)
			}
			return nil
		},
	}
	qf.register(cmd)
	cmd.Flags().StringVar(&webhook, "webhook", "", "webhook URL embedded in the workflow")
	return cmd
}
