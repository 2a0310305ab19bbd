// Package notionsync pushes the ledger's confirmed transactions into a
// Notion database, so the history stays browsable from the same Notion
// workspace the household already uses. The ledger is the source of
// truth: pages in Notion with no matching transaction are stale and get
// archived on the next sync.
package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
	"github.com/CharoKentaro/okozukai-ledger/internal/logger"
)

// SyncResult reports what a sync run did.
type SyncResult struct {
	Created int
	Deleted int
	Skipped int
}

// SyncTransactions mirrors the ledger's transaction history into the
// Notion database. Existing pages are matched on the Transaction ID
// title; pages without a matching transaction are archived. With dryRun
// set, actions are logged but nothing is written.
func SyncTransactions(ctx context.Context, notionClient NotionService, notionDBID string, txs []ledger.Transaction, dryRun bool) (*SyncResult, error) {
	log := logger.FromContext(ctx)

	log.Info().
		Int("transaction_count", len(txs)).
		Bool("dry_run", dryRun).
		Msg("Starting transaction sync to Notion")

	validIDs := make(map[string]bool, len(txs))
	for _, tx := range txs {
		validIDs[tx.ID] = true
	}

	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return nil, fmt.Errorf("failed to query Notion pages: %w", err)
	}

	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	existingIDs := make(map[string]bool)
	for _, page := range notionPages {
		txID := extractTransactionID(page)
		if txID != "" {
			existingIDs[txID] = true
		}
	}

	result := &SyncResult{}

	// Archive pages whose transaction no longer exists in the ledger.
	for _, page := range notionPages {
		txID := extractTransactionID(page)
		if txID != "" && validIDs[txID] {
			continue
		}

		if dryRun {
			log.Info().
				Str("transaction_id", txID).
				Str("page_id", string(page.ID)).
				Msg("[DRY RUN] Would delete stale Notion page")
			result.Deleted++
			continue
		}

		if err := notionClient.DeletePage(ctx, string(page.ID)); err != nil {
			log.Warn().
				Err(err).
				Str("transaction_id", txID).
				Str("page_id", string(page.ID)).
				Msg("Failed to delete stale Notion page")
			continue
		}
		log.Info().
			Str("transaction_id", txID).
			Str("page_id", string(page.ID)).
			Msg("Deleted stale Notion page")
		result.Deleted++
	}

	for i := range txs {
		tx := &txs[i]

		if existingIDs[tx.ID] {
			result.Skipped++
			continue
		}

		if dryRun {
			log.Info().
				Str("transaction_id", tx.ID).
				Msg("[DRY RUN] Would create new Notion page")
			result.Created++
			continue
		}

		props := TransactionToNotionProperties(tx)
		page, err := notionClient.CreatePage(ctx, notionDBID, props)
		if err != nil {
			log.Warn().
				Err(err).
				Str("transaction_id", tx.ID).
				Msg("Failed to create Notion page")
			continue
		}
		log.Info().
			Str("transaction_id", tx.ID).
			Str("page_id", string(page.ID)).
			Msg("Created Notion page")
		result.Created++
	}

	log.Info().
		Int("created", result.Created).
		Int("deleted", result.Deleted).
		Int("skipped", result.Skipped).
		Int("total", len(txs)).
		Msg("Transaction sync completed")

	return result, nil
}

// queryAllNotionPages retrieves all pages from a Notion database,
// following pagination cursors.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
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

// extractTransactionID extracts the transaction ID from a Notion page's
// title property. Returns empty string if not found.
func extractTransactionID(page notionapi.Page) string {
	if prop, ok := page.Properties["Transaction ID"]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			if len(title.Title) > 0 {
				return title.Title[0].PlainText
			}
		}
	}
	return ""
}
