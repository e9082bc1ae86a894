package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-doc-processor/internal/app"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

func inspectCmd(e *env) *cobra.Command {
	var documentID int64

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect a document and its transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := app.OpenStore(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer closeLogged(e.log, "store", st.Close)

			doc, err := st.GetDocument(ctx, documentID)
			if err != nil {
				return fmt.Errorf("document %d: %w", documentID, err)
			}
			txs, err := st.GetTransactionsByDocument(ctx, documentID)
			if err != nil {
				return err
			}

			printDocument(e.out, doc)
			printTransactions(e.out, txs)
			return nil
		},
	}
	cmd.Flags().Int64Var(&documentID, "document-id", 0, "Document ID to inspect (required)")
	_ = cmd.MarkFlagRequired("document-id")
	return cmd
}

func printDocument(w io.Writer, doc domain.Document) {
	fmt.Fprintln(w, "\n=== Document Details ===")
	fmt.Fprintf(w, "ID:           %d\n", doc.ID)
	fmt.Fprintf(w, "External ID:  %s\n", doc.ExternalID)
	fmt.Fprintf(w, "User ID:      %d\n", doc.UserID)
	fmt.Fprintf(w, "Type:         %s\n", doc.DocumentType)
	fmt.Fprintf(w, "Filename:     %s\n", doc.Filename)
	fmt.Fprintf(w, "Content type: %s\n", doc.ContentType)
	if doc.ContentURI != "" {
		fmt.Fprintf(w, "Content URI:  %s\n", doc.ContentURI)
	}
	if len(doc.HintCategories) > 0 {
		fmt.Fprintf(w, "Categories:   %s\n", strings.Join(doc.HintCategories, ", "))
	}
	fmt.Fprintf(w, "Status:       %s\n", doc.Status)
	fmt.Fprintf(w, "Created:      %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Updated:      %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))
}
