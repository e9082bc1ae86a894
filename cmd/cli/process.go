package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-doc-processor/internal/app"
	"github.com/dvloznov/finance-doc-processor/internal/bus"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/notionsync"
	"github.com/dvloznov/finance-doc-processor/internal/store"
	"github.com/dvloznov/finance-doc-processor/internal/worker"
)

// eventPrinter writes result events to the command output instead of the
// processed-documents topic.
type eventPrinter struct {
	w io.Writer
}

func (p eventPrinter) SendResult(_ context.Context, event domain.ResultEvent) (bus.Ack, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return bus.Ack{}, fmt.Errorf("SendResult: %w", err)
	}
	fmt.Fprintf(p.w, "Result event: %s\n", data)
	return bus.Ack{Topic: "stdout", Partition: -1, Offset: -1}, nil
}

var _ worker.ResultSender = eventPrinter{}

// runHandler processes doc exactly as the worker does, against the
// configured store, then prints the stored transactions.
func (e *env) runHandler(ctx context.Context, doc domain.Document, asJSON bool) error {
	st, err := app.OpenStore(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer closeLogged(e.log, "store", st.Close)

	return e.handleWith(ctx, st, doc, asJSON)
}

func (e *env) handleWith(ctx context.Context, st store.Store, doc domain.Document, asJSON bool) error {
	pipe, err := app.NewPipeline(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer closeLogged(e.log, "pipeline", pipe.Close)

	handler := worker.NewHandler(st, pipe.Processor, eventPrinter{w: e.out}, e.log)
	if e.cfg.NotionEnabled() {
		client := notionsync.NewNotionClient(e.cfg.Notion.Token, e.cfg.RetryPolicy())
		handler.WithMirror(notionsync.NewMirror(client, e.cfg.Notion.DatabaseID, e.log))
	}

	if err := handler.Handle(ctx, doc); err != nil {
		return fmt.Errorf("document %d: %w", doc.ID, err)
	}

	txs, err := st.GetTransactionsByDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(e.out, txs)
	}
	printTransactions(e.out, txs)
	return nil
}

func processCmd(e *env) *cobra.Command {
	var (
		flags  documentFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process a local document file",
		Long: `Extract, categorize and store the transactions of a local file using the
same handler as the worker service. The result event is printed instead of
being published.`,
		Example: "  cli process -f statement.csv -t bank_statement --user-id 42",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			doc, err := flags.newDocument("", time.Now())
			if err != nil {
				return err
			}
			e.log.Info().
				Int64("document_id", doc.ID).
				Str("filename", doc.Filename).
				Str("content_type", doc.ContentType).
				Msg("Processing local document")
			return e.runHandler(ctx, doc, asJSON)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print transactions as JSON")
	return cmd
}

func reparseCmd(e *env) *cobra.Command {
	var (
		documentID int64
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "reparse",
		Short: "Re-process a stored document by ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			st, err := app.OpenStore(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer closeLogged(e.log, "store", st.Close)

			doc, err := st.GetDocument(ctx, documentID)
			if err != nil {
				return fmt.Errorf("document %d: %w", documentID, err)
			}
			if doc.RawContent == "" && doc.ContentURI == "" {
				return fmt.Errorf("document %d has no stored content", documentID)
			}

			e.log.Info().Int64("document_id", doc.ID).Str("status", string(doc.Status)).Msg("Re-parsing document")
			return e.handleWith(ctx, st, doc.WithStatus(domain.DocumentStatusProcessing, time.Now().UTC()), asJSON)
		},
	}
	cmd.Flags().Int64Var(&documentID, "document-id", 0, "Document ID to re-parse (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print transactions as JSON")
	_ = cmd.MarkFlagRequired("document-id")
	return cmd
}
