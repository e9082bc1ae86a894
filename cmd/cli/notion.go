package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-doc-processor/internal/app"
	"github.com/dvloznov/finance-doc-processor/internal/notionsync"
)

func notionSyncCmd(e *env) *cobra.Command {
	var (
		userID     int64
		token      string
		databaseID string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "notion-sync",
		Short: "Mirror a user's transactions to a Notion database",
		Long: `Create or update one Notion page per stored transaction of a user. Token
and database default to the notion section of the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = e.cfg.Notion.Token
			}
			if databaseID == "" {
				databaseID = e.cfg.Notion.DatabaseID
			}
			if token == "" || databaseID == "" {
				return errors.New("a Notion token and database ID are required: pass --notion-token and --notion-db-id or set NOTION_TOKEN and NOTION_DATABASE_ID")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			st, err := app.OpenStore(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer closeLogged(e.log, "store", st.Close)

			e.log.Info().
				Int64("user_id", userID).
				Bool("dry_run", dryRun).
				Msg("Starting Notion sync")

			client := notionsync.NewNotionClient(token, e.cfg.RetryPolicy())
			mirror := notionsync.NewMirror(client, databaseID, e.log)
			stats, err := mirror.SyncUser(ctx, st, userID, dryRun)
			if err != nil {
				return err
			}

			fmt.Fprintf(e.out, "Sync completed: %d created, %d updated, %d failed\n", stats.Created, stats.Updated, stats.Failed)
			if stats.Failed > 0 {
				return fmt.Errorf("%d transactions failed to sync", stats.Failed)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "User whose transactions are synced (required)")
	cmd.Flags().StringVar(&token, "notion-token", "", "Notion API token")
	cmd.Flags().StringVar(&databaseID, "notion-db-id", "", "Notion database ID")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview changes without syncing")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
