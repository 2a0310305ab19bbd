package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/CharoKentaro/okozukai-ledger/internal/archive"
	"github.com/CharoKentaro/okozukai-ledger/internal/config"
	"github.com/CharoKentaro/okozukai-ledger/internal/export"
	"github.com/CharoKentaro/okozukai-ledger/internal/extract"
	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
	"github.com/CharoKentaro/okozukai-ledger/internal/logger"
	"github.com/CharoKentaro/okozukai-ledger/internal/staging"
	"github.com/CharoKentaro/okozukai-ledger/internal/store"
	"github.com/CharoKentaro/okozukai-ledger/internal/workflow"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "budget":
		runBudget(log)
	case "stage":
		runStage(log)
	case "edit":
		runEdit(log)
	case "confirm":
		runConfirm(log)
	case "cancel":
		runCancel(log)
	case "list":
		runList(log)
	case "export":
		runExport(log)
	case "reset":
		runReset(log)
	case "archive":
		runArchive(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Okozukai Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  okozukai <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  budget    Set the spending budget")
	fmt.Println("  stage     Stage a receipt for confirmation (from image or manual entry)")
	fmt.Println("  edit      Edit the staged entry before confirming")
	fmt.Println("  confirm   Commit the staged entry to the ledger")
	fmt.Println("  cancel    Discard the staged entry")
	fmt.Println("  list      Show the ledger state and history")
	fmt.Println("  export    Export the transaction history as CSV")
	fmt.Println("  reset     Clear the transaction history")
	fmt.Println("  archive   Mirror the history to BigQuery")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'okozukai <command> -h' for more information on a command.")
}

// openLedger wires the configured store backend and loads the ledger.
// The returned cleanup func must be called before exit.
func openLedger(ctx context.Context, log zerolog.Logger) (*ledger.Ledger, *config.Config, func()) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var st ledger.Store
	cleanup := func() {}

	switch cfg.Store.Backend {
	case "file":
		st, err = store.NewFileStore(cfg.Store.LedgerPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open ledger file")
		}
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

	return l, cfg, cleanup
}

// openStaging opens the sidecar file that carries the staged entry
// from one CLI invocation to the next.
func openStaging(cfg *config.Config, log zerolog.Logger) *staging.File {
	sf, err := staging.NewFile(cfg.Store.StagingPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open staging file")
	}
	return sf
}

// restoreStaged loads the sidecar and stages its entry into the
// freshly opened ledger. Fatal when nothing is staged.
func restoreStaged(ctx context.Context, l *ledger.Ledger, sf *staging.File, log zerolog.Logger) {
	pending, err := sf.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load staged entry")
	}
	if pending == nil {
		log.Fatal().Msg("Nothing staged. Run 'okozukai stage' first.")
	}
	if err := l.StageExtraction(*pending); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore staged entry")
	}
}

func runBudget(log zerolog.Logger) {
	fs := flag.NewFlagSet("budget", flag.ExitOnError)
	amount := fs.Float64("amount", -1, "budget amount")
	fs.Parse(os.Args[2:])

	if *amount < 0 {
		log.Fatal().Msg("Error: --amount is required and must not be negative")
	}

	ctx := logger.WithContext(context.Background(), log)
	l, _, cleanup := openLedger(ctx, log)
	defer cleanup()

	if err := l.SetBudget(ctx, *amount); err != nil {
		log.Fatal().Err(err).Msg("Failed to set budget")
	}

	state := l.Snapshot()
	fmt.Printf("Budget set to %s (remaining %s)\n", formatAmount(state.Budget), formatAmount(state.Remaining()))
}

func runStage(log zerolog.Logger) {
	fs := flag.NewFlagSet("stage", flag.ExitOnError)
	imagePath := fs.String("image", "", "receipt image to extract")
	total := fs.Float64("total", -1, "receipt total for manual entry")
	items := fs.String("items", "", "manual line items as name:price,name:price")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	l, cfg, cleanup := openLedger(ctx, log)
	defer cleanup()

	var pending *ledger.PendingExtraction

	if *imagePath != "" {
		image, err := os.ReadFile(*imagePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *imagePath).Msg("Failed to read image")
		}

		extractor := extract.NewGeminiExtractor(cfg.Gemini.Model)
		wf := workflow.New(extractor, l, log)

		pending, err = wf.StageImage(ctx, image, http.DetectContentType(image))
		if err != nil {
			log.Fatal().Err(err).Msg("Extraction failed; stage the receipt manually with --total and --items")
		}
	} else {
		if *total < 0 {
			log.Fatal().Msg("Error: provide --image, or --total for manual entry")
		}

		lineItems, err := parseItems(*items)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to parse --items")
		}

		if err := l.StageExtraction(ledger.PendingExtraction{
			TotalAmount: *total,
			LineItems:   lineItems,
		}); err != nil {
			log.Fatal().Err(err).Msg("Failed to stage entry")
		}
		pending = l.Snapshot().Pending
	}

	sf := openStaging(cfg, log)
	if err := sf.Save(ctx, pending); err != nil {
		log.Fatal().Err(err).Msg("Failed to save staged entry")
	}

	printPending(pending)
	fmt.Println("\nRun 'okozukai confirm' to commit, 'okozukai edit' to fix, or 'okozukai cancel' to discard.")
}

func runEdit(log zerolog.Logger) {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	total := fs.Float64("total", -1, "corrected receipt total")
	items := fs.String("items", "", "corrected line items as name:price,name:price")
	fs.Parse(os.Args[2:])

	if *total < 0 {
		log.Fatal().Msg("Error: --total is required")
	}

	lineItems, err := parseItems(*items)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse --items")
	}

	ctx := logger.WithContext(context.Background(), log)
	l, cfg, cleanup := openLedger(ctx, log)
	defer cleanup()

	sf := openStaging(cfg, log)
	restoreStaged(ctx, l, sf, log)

	if err := l.EditPending(*total, lineItems); err != nil {
		log.Fatal().Err(err).Msg("Failed to edit staged entry")
	}

	pending := l.Snapshot().Pending
	if err := sf.Save(ctx, pending); err != nil {
		log.Fatal().Err(err).Msg("Failed to save staged entry")
	}

	printPending(pending)
}

func runConfirm(log zerolog.Logger) {
	ctx := logger.WithContext(context.Background(), log)
	l, cfg, cleanup := openLedger(ctx, log)
	defer cleanup()

	sf := openStaging(cfg, log)
	restoreStaged(ctx, l, sf, log)

	tx, err := l.CommitPending(ctx)
	if err != nil {
		if tx == nil {
			log.Fatal().Err(err).Msg("Nothing staged to confirm")
		}
		// The process exits after this, so a commit that could not be
		// saved is lost. Keep the staged entry for a retry.
		log.Fatal().Err(err).Msg("Failed to record the transaction; the staged entry is kept")
	}

	if err := sf.Clear(); err != nil {
		log.Error().Err(err).Msg("Failed to clear the staged entry after commit")
	}

	state := l.Snapshot()
	fmt.Printf("Recorded %s (transaction %s)\n", formatAmount(tx.TotalAmount), tx.ID)
	fmt.Printf("Spent %s of %s, remaining %s\n",
		formatAmount(state.TotalSpent), formatAmount(state.Budget), formatAmount(state.Remaining()))
	if state.Remaining() < 0 {
		fmt.Println("Over budget!")
	}
}

func runCancel(log zerolog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Cancel is idempotent, so it never needs the ledger itself.
	sf := openStaging(cfg, log)
	if err := sf.Clear(); err != nil {
		log.Fatal().Err(err).Msg("Failed to discard staged entry")
	}
	fmt.Println("Staged entry discarded.")
}

func runList(log zerolog.Logger) {
	ctx := logger.WithContext(context.Background(), log)
	l, cfg, cleanup := openLedger(ctx, log)
	defer cleanup()

	state := l.Snapshot()

	fmt.Printf("Budget:    %s\n", formatAmount(state.Budget))
	fmt.Printf("Spent:     %s\n", formatAmount(state.TotalSpent))
	fmt.Printf("Remaining: %s\n", formatAmount(state.Remaining()))

	if len(state.Transactions) == 0 {
		fmt.Println("\nNo transactions recorded.")
	} else {
		fmt.Printf("\n%d transactions:\n", len(state.Transactions))
		for _, tx := range state.Transactions {
			fmt.Printf("  %s  %10s  %d items  %s\n",
				tx.Timestamp.Local().Format("2006-01-02 15:04"),
				formatAmount(tx.TotalAmount), len(tx.LineItems), tx.ID)
		}
	}

	staged, err := openStaging(cfg, log).Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load staged entry")
	}
	if staged != nil {
		fmt.Println()
		printPending(staged)
	}
}

func runExport(log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "", "output file (defaults to stdout)")
	fs.Parse(os.Args[2:])

	ctx := logger.WithContext(context.Background(), log)
	l, _, cleanup := openLedger(ctx, log)
	defer cleanup()

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatal().Err(err).Str("path", *out).Msg("Failed to create output file")
		}
		defer f.Close()
		w = f
	}

	if err := export.WriteCSV(w, l.Snapshot().Transactions); err != nil {
		log.Fatal().Err(err).Msg("Export failed")
	}

	if *out != "" {
		fmt.Printf("Exported to %s\n", *out)
	}
}

func runReset(log zerolog.Logger) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	clearBudget := fs.Bool("clear-budget", false, "also clear the budget")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	fs.Parse(os.Args[2:])

	ctx := logger.WithContext(context.Background(), log)
	l, _, cleanup := openLedger(ctx, log)
	defer cleanup()

	state := l.Snapshot()
	if !*yes {
		fmt.Printf("This deletes %d transactions. Re-run with --yes to confirm.\n", len(state.Transactions))
		return
	}

	if err := l.ResetHistory(ctx, ledger.ResetOptions{ClearBudget: *clearBudget}); err != nil {
		log.Fatal().Err(err).Msg("Reset failed")
	}

	fmt.Println("Ledger history cleared.")
}

func runArchive(log zerolog.Logger) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	monthly := fs.Bool("monthly", false, "print per-month totals from the archive instead of writing")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	l, cfg, cleanup := openLedger(ctx, log)
	defer cleanup()

	archiver, err := archive.New(cfg.Archive.ProjectID, cfg.Archive.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Archive is not configured (set OKOZUKAI_BQ_PROJECT and OKOZUKAI_BQ_DATASET)")
	}

	if *monthly {
		totals, err := archiver.MonthlyTotals(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to query monthly totals")
		}
		for _, row := range totals {
			fmt.Printf("%s  %10s  (%d transactions)\n", row.Month, formatAmount(row.TotalSpent), row.TxCount)
		}
		return
	}

	state := l.Snapshot()
	if err := archiver.ArchiveHistory(ctx, state.Transactions, state.Budget); err != nil {
		log.Fatal().Err(err).Msg("Archive failed")
	}

	fmt.Printf("Archived %d transactions.\n", len(state.Transactions))
}

func printPending(p *ledger.PendingExtraction) {
	if p == nil {
		fmt.Println("Nothing staged.")
		return
	}

	fmt.Printf("Staged: total %s, %d items\n", formatAmount(p.TotalAmount), len(p.LineItems))
	for _, item := range p.LineItems {
		fmt.Printf("  %-24s %s\n", item.Name, formatAmount(item.Price))
	}
	for _, reason := range p.ReviewReasons {
		fmt.Printf("  review: %s\n", reason)
	}
}

// parseItems parses "name:price,name:price" into line items.
func parseItems(s string) ([]ledger.LineItem, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var items []ledger.LineItem
	for _, part := range strings.Split(s, ",") {
		name, priceStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("item %q is not in name:price form", part)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(priceStr), 64)
		if err != nil {
			return nil, fmt.Errorf("item %q has a non-numeric price", part)
		}
		items = append(items, ledger.LineItem{Name: strings.TrimSpace(name), Price: price})
	}
	return items, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
