// Package notionsync mirrors categorized transactions into a Notion
// database, one page per transaction keyed by its Transaction ID property.
package notionsync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/store"
)

// queryPageSize is the maximum page size accepted by the Notion API.
const queryPageSize = 100

// SyncStats counts the outcome of a sync.
type SyncStats struct {
	Created int
	Updated int
	Failed  int
}

func (s *SyncStats) add(o SyncStats) {
	s.Created += o.Created
	s.Updated += o.Updated
	s.Failed += o.Failed
}

// Mirror writes transactions to a Notion database. Pages are created once
// and updated in place on later syncs of the same transaction.
type Mirror struct {
	client     NotionService
	databaseID string
	log        zerolog.Logger
}

// NewMirror creates a Mirror for the given database.
func NewMirror(client NotionService, databaseID string, log zerolog.Logger) *Mirror {
	return &Mirror{
		client:     client,
		databaseID: databaseID,
		log:        log.With().Str("component", "notionsync").Logger(),
	}
}

// MirrorDocument upserts the pages of one document's transactions. A page
// that fails to write is logged and counted; only a failed lookup of the
// existing pages aborts the sync.
func (m *Mirror) MirrorDocument(ctx context.Context, documentID int64, txs []*domain.Transaction) (SyncStats, error) {
	existing, err := m.existingPages(ctx, PropDocumentID, strconv.FormatInt(documentID, 10))
	if err != nil {
		return SyncStats{}, fmt.Errorf("MirrorDocument: document %d: %w", documentID, err)
	}

	stats := m.upsert(ctx, txs, existing, false)
	m.log.Info().
		Int64("document_id", documentID).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Msg("Mirrored document transactions to Notion")
	return stats, nil
}

// SyncUser backfills every stored transaction of a user. With dryRun set
// nothing is written and the stats report what would have happened.
func (m *Mirror) SyncUser(ctx context.Context, src TransactionSource, userID int64, dryRun bool) (SyncStats, error) {
	log := m.log.With().Int64("user_id", userID).Bool("dry_run", dryRun).Logger()
	log.Info().Msg("Starting transaction sync to Notion")

	existing, err := m.existingPages(ctx, PropUserID, strconv.FormatInt(userID, 10))
	if err != nil {
		return SyncStats{}, fmt.Errorf("SyncUser: user %d: %w", userID, err)
	}
	log.Info().Int("notion_page_count", len(existing)).Msg("Retrieved existing Notion pages")

	var stats SyncStats
	total := 0
	for offset := 0; ; offset += store.DefaultPageSize {
		batch, err := src.GetTransactionsByUser(ctx, userID, store.DefaultPageSize, offset)
		if err != nil {
			return stats, fmt.Errorf("SyncUser: reading transactions at offset %d: %w", offset, err)
		}
		if len(batch) == 0 {
			break
		}
		log.Info().
			Int("batch_start", offset).
			Int("batch_size", len(batch)).
			Msg("Processing batch")

		stats.add(m.upsert(ctx, batch, existing, dryRun))
		total += len(batch)
		if len(batch) < store.DefaultPageSize {
			break
		}
	}

	log.Info().
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Int("total", total).
		Msg("Transaction sync completed")
	return stats, nil
}

func (m *Mirror) upsert(ctx context.Context, txs []*domain.Transaction, existing map[string]string, dryRun bool) SyncStats {
	var stats SyncStats
	for _, tx := range txs {
		txID := tx.ID.String()
		pageID, found := existing[txID]

		if dryRun {
			if found {
				m.log.Info().Str("transaction_id", txID).Str("page_id", pageID).Msg("[DRY RUN] Would update existing Notion page")
				stats.Updated++
			} else {
				m.log.Info().Str("transaction_id", txID).Msg("[DRY RUN] Would create new Notion page")
				stats.Created++
			}
			continue
		}

		props := TransactionToNotionProperties(tx)
		if found {
			if _, err := m.client.UpdatePage(ctx, pageID, props); err != nil {
				m.log.Warn().Err(err).Str("transaction_id", txID).Str("page_id", pageID).Msg("Failed to update Notion page")
				stats.Failed++
				continue
			}
			stats.Updated++
			continue
		}

		page, err := m.client.CreatePage(ctx, m.databaseID, props)
		if err != nil {
			m.log.Warn().Err(err).Str("transaction_id", txID).Msg("Failed to create Notion page")
			stats.Failed++
			continue
		}
		existing[txID] = string(page.ID)
		stats.Created++
	}
	return stats
}

// existingPages maps Transaction ID to page ID for the pages whose text
// property equals value.
func (m *Mirror) existingPages(ctx context.Context, property, value string) (map[string]string, error) {
	pages, err := queryAllNotionPages(ctx, m.client, m.databaseID, &notionapi.PropertyFilter{
		Property: property,
		RichText: &notionapi.TextFilterCondition{Equals: value},
	})
	if err != nil {
		return nil, err
	}

	byTx := make(map[string]string, len(pages))
	for _, page := range pages {
		if txID := extractTransactionID(page); txID != "" {
			byTx[txID] = string(page.ID)
		}
	}
	return byTx, nil
}

// queryAllNotionPages follows the query cursor until every matching page is read.
func queryAllNotionPages(ctx context.Context, client NotionService, databaseID string, filter notionapi.Filter) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			Filter:   filter,
			PageSize: queryPageSize,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := client.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}
		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
