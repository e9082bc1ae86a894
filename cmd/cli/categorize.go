package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-doc-processor/internal/ai"
	"github.com/dvloznov/finance-doc-processor/internal/app"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

// transactionFlags describe a single transaction given on the command line.
type transactionFlags struct {
	description string
	amount      string
	txType      string
	method      string
	date        string
}

func (f transactionFlags) transaction() (*domain.Transaction, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(f.amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", f.amount, err)
	}
	txType, err := domain.ParseTransactionType(f.txType)
	if err != nil {
		return nil, err
	}
	method, err := domain.ParseTransactionMethod(f.method)
	if err != nil {
		return nil, err
	}
	date := time.Now().UTC().Truncate(24 * time.Hour)
	if f.date != "" {
		date, err = time.Parse("2006-01-02", f.date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", f.date, err)
		}
	}
	return domain.NewTransaction(domain.Transaction{
		Date:        date,
		Description: f.description,
		Amount:      amount.Abs(),
		Type:        txType,
		Method:      method,
	})
}

func categorizeCmd(e *env) *cobra.Command {
	var (
		flags  transactionFlags
		noAI   bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:     "categorize",
		Short:   "Categorize a single transaction",
		Example: `  cli categorize -d "PIX ENVIADO PADARIA REAL" -a 23.50 -t debit`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tx, err := flags.transaction()
			if err != nil {
				return err
			}

			provider, err := ai.NewProvider(ctx, e.cfg.ProviderConfig(), e.log)
			if err != nil {
				return err
			}
			engine, err := app.NewEngine(e.cfg, provider, e.log)
			if err != nil {
				return err
			}

			tx, err = engine.CategorizeOne(ctx, tx, !noAI)
			if err != nil {
				e.log.Warn().Err(err).Msg("AI categorization failed, showing rule result")
			}

			if asJSON {
				return writeJSON(e.out, tx)
			}
			fmt.Fprintf(e.out, "Description: %s\n", tx.Description)
			fmt.Fprintf(e.out, "Categories:  %s\n", strings.Join(tx.Categories, ", "))
			fmt.Fprintf(e.out, "Confidence:  %.2f\n", tx.Confidence())
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.description, "description", "d", "", "Transaction description (required)")
	cmd.Flags().StringVarP(&flags.amount, "amount", "a", "", "Transaction amount (required)")
	cmd.Flags().StringVarP(&flags.txType, "type", "t", "debit", "credit or debit")
	cmd.Flags().StringVarP(&flags.method, "method", "m", "", "Payment method, e.g. pix")
	cmd.Flags().StringVar(&flags.date, "date", "", "Transaction date in YYYY-MM-DD format (defaults to today)")
	cmd.Flags().BoolVar(&noAI, "no-ai", false, "Use the rule table only")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the transaction as JSON")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
