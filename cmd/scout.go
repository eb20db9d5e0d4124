package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/importscout/internal/config"
	"github.com/JakeFAU/importscout/internal/delivery"
	"github.com/JakeFAU/importscout/internal/ingest"
	"github.com/JakeFAU/importscout/internal/lead"
)

type queryFlags struct {
	product string
	region  string
	limit   int
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.product, "product", "", "product or category to search for")
	cmd.Flags().StringVar(&f.region, "region", "", "region to search in")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of leads (default scout.default_limit)")
}

func (f *queryFlags) query(cfg *config.Config) (lead.Query, error) {
	q := lead.Query{
		Product: strings.TrimSpace(f.product),
		Region:  strings.TrimSpace(f.region),
		Limit:   f.limit,
	}
	if q.Limit == 0 {
		q.Limit = cfg.Scout.DefaultLimit
	}
	switch {
	case q.Product == "":
		return lead.Query{}, errors.New("--product is required")
	case q.Region == "":
		return lead.Query{}, errors.New("--region is required")
	case q.Limit < 1 || q.Limit > cfg.Scout.MaxLimit:
		return lead.Query{}, fmt.Errorf("--limit must be between 1 and %d", cfg.Scout.MaxLimit)
	}
	return q, nil
}

func newScoutCmd() *cobra.Command {
	var (
		qf      queryFlags
		webhook string
		user    string
	)
	cmd := &cobra.Command{
		Use:   "scout",
		Short: "Runs one ingestion and prints the leads",
		Long: `Asks the search agent for importers and distributors of --product in
--region, prints the normalized leads as JSON and, with --webhook,
delivers them as one batch.`,
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
			q, err := qf.query(cfg)
			if err != nil {
				return err
			}
			scouter := appInstance.Scouter()
			if scouter == nil {
				return errors.New("search agent not configured: set agent.api_key")
			}

			stderr := cmd.ErrOrStderr()
			res, err := scouter.Run(cmd.Context(), q, func(s ingest.State) {
				fmt.Fprintf(stderr, "%s...\n", s)
			})
			if err != nil {
				return fmt.Errorf("scout run %s: %w", res.RunID, err)
			}
			appInstance.Logger().Info("scout finished",
				zap.String("run_id", res.RunID),
				zap.Int("leads", len(res.Leads)),
			)
			if res.Leads == nil {
				res.Leads = []lead.Lead{}
			}
			if err := writeJSON(cmd.OutOrStdout(), res.Leads); err != nil {
				return err
			}

			if webhook == "" {
				return nil
			}
			if user == "" {
				user = cfg.Webhook.User
			}
			deliverer := appInstance.Deliverer()
			if deliverer == nil {
				return errors.New("webhook delivery unavailable")
			}
			dres, err := deliverer.DispatchBatch(cmd.Context(), webhook, res.Leads, user)
			return reportDelivery(stderr, dres, err)
		},
	}
	qf.register(cmd)
	cmd.Flags().StringVar(&webhook, "webhook", "", "deliver the leads to this URL")
	cmd.Flags().StringVar(&user, "user", "", "user recorded in the batch envelope (default webhook.user)")
	return cmd
}

func reportDelivery(w io.Writer, res delivery.Result, err error) error {
	if err != nil && res.Outcome != delivery.OutcomeFailed {
		return err
	}
	fmt.Fprintf(w, "delivery %s: %s", res.Kind, res.Outcome)
	switch {
	case res.StatusCode == 0:
	case res.Outcome == delivery.OutcomeConfirmed:
		fmt.Fprintf(w, " (HTTP %d)", res.StatusCode)
	default:
		fmt.Fprintf(w, " (primary HTTP %d)", res.StatusCode)
	}
	fmt.Fprintln(w)
	if res.Outcome == delivery.OutcomeFailed {
		if err == nil {
			err = res.Err
		}
		if err == nil {
			return errors.New("delivery failed")
		}
		return fmt.Errorf("delivery failed: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
