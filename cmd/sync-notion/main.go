package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/CharoKentaro/okozukai-ledger/internal/config"
	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
	"github.com/CharoKentaro/okozukai-ledger/internal/logger"
	"github.com/CharoKentaro/okozukai-ledger/internal/notionsync"
	"github.com/CharoKentaro/okozukai-ledger/internal/store"
)

func main() {
	log := logger.New()

	notionToken := flag.String("notion-token", "", "Notion API token (defaults to NOTION_TOKEN)")
	notionDBID := flag.String("notion-db-id", "", "Notion database ID (defaults to NOTION_DATABASE_ID)")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	token := *notionToken
	if token == "" {
		token = cfg.Notion.Token
	}
	dbID := *notionDBID
	if dbID == "" {
		dbID = cfg.Notion.DatabaseID
	}

	if token == "" {
		log.Fatal().Msg("Error: --notion-token or NOTION_TOKEN is required")
	}
	if dbID == "" {
		log.Fatal().Msg("Error: --notion-db-id or NOTION_DATABASE_ID is required")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	l, cleanup := openLedger(ctx, cfg, log)
	defer cleanup()

	notionClient := notionsync.NewNotionClient(token)

	result, err := notionsync.SyncTransactions(ctx, notionClient, dbID, l.Snapshot().Transactions, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed: %d created, %d deleted, %d already up to date.\n",
		result.Created, result.Deleted, result.Skipped)
}

// openLedger wires the configured persistence backend and loads the
// ledger history to sync.
func openLedger(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*ledger.Ledger, func()) {
	var st ledger.Store
	cleanup := func() {}

	switch cfg.Store.Backend {
	case "file":
		fs, err := store.NewFileStore(cfg.Store.LedgerPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open ledger file")
		}
		st = fs
	case "sqlite":
		db, err := store.OpenSQLite(cfg.Store.DBPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open ledger database")
		}
		st = db
		cleanup = func() { db.Close() }
	case "gcs":
		st = store.NewGCSStore(cfg.Store.GCSBucket, cfg.Store.GCSObject)
	case "memory":
		st = store.NewMemoryStore()
	default:
		log.Fatal().Str("backend", cfg.Store.Backend).Msg("Unknown store backend")
	}

	l, err := ledger.Open(ctx, st, log)
	if err != nil {
		cleanup()
		log.Fatal().Err(err).Msg("Failed to load ledger")
	}

	return l, cleanup
}
