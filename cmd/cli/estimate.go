package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dvloznov/grocery-carbon/internal/app"
	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/estimate"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

func (c *cli) estimateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <transaction-id>...",
		Short: "Estimate and store the CO2e of transactions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := c.app.Engine(ctx)
			if err != nil {
				return err
			}

			w := newTable(cmd.OutOrStdout())
			failed := 0
			for _, id := range args {
				res, err := engine.Estimate(ctx, id)
				if err != nil {
					failed++
					fmt.Fprintf(w, "%s\t-\t-\t%v\n", id, err)
					continue
				}
				writeResult(w, res)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d transactions not estimated", failed, len(args))
			}
			return nil
		},
	}
}

func (c *cli) estimateAllCmd() *cobra.Command {
	var (
		userID      string
		all         bool
		limit       int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "estimate-all",
		Short: "Estimate every transaction that has no CO2e yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.Component(ctx, "cli")

			engine, err := c.app.Engine(ctx)
			if err != nil {
				return err
			}
			ids, err := c.app.Store.ListTransactionIDs(ctx, domain.TransactionFilter{
				UserID:          userID,
				UnestimatedOnly: !all,
				Limit:           limit,
			})
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = c.app.Config.Worker.Concurrency
			}
			log.Info().Int("transactions", len(ids)).Int("concurrency", concurrency).Msg("Estimating batch")

			outcomes, err := engine.EstimateAll(ctx, ids, concurrency)
			s := estimate.Summarize(outcomes)
			fmt.Fprintf(cmd.OutOrStdout(), "estimated: %d\nkept prior: %d\nnot estimable: %d\nfailed: %d\n",
				s.Estimated, s.KeptPrior, s.NotEstimable, s.Failed)
			for _, o := range outcomes {
				if o.Err != nil && !estimate.IsNotEstimable(o.Err) {
					log.Warn().Err(o.Err).Str("transaction_id", o.TransactionID).Msg("Estimate failed")
				}
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&userID, "user", "", "Only this user's transactions")
	f.BoolVar(&all, "all", false, "Re-estimate transactions that already have a CO2e")
	f.IntVar(&limit, "limit", 0, "Maximum number of transactions (0 for no limit)")
	f.IntVar(&concurrency, "concurrency", 0, "Estimates in flight (default worker.concurrency)")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <fixtures.yaml>",
		Short: "Load merchants, transactions and receipts from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := app.ReadFixtures(args[0])
			if err != nil {
				return err
			}
			s, err := app.Import(cmd.Context(), c.app.Store, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d merchants, %d transactions, %d receipts\n",
				s.Merchants, s.Transactions, s.Receipts)
			return nil
		},
	}
}

func (c *cli) receiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Manage itemized receipts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <transaction-id>",
		Short: "Delete a transaction's receipt and re-estimate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			if err := c.app.Store.DeleteReceipt(ctx, id); err != nil {
				return err
			}
			engine, err := c.app.Engine(ctx)
			if err != nil {
				return err
			}
			res, err := engine.Estimate(ctx, id)
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			writeResult(w, res)
			return w.Flush()
		},
	})
	return cmd
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func writeResult(w io.Writer, res *estimate.Result) {
	status := "stored"
	if !res.Persisted {
		status = "kept: " + res.Reason
	}
	fmt.Fprintf(w, "%s\t%s\t%.5f\t%s\n", res.TransactionID, res.Method, res.CO2e, status)
}
