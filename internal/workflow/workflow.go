// Package workflow mediates between the fallible receipt extractor and
// the expense ledger. Nothing reaches the ledger without passing
// through coercion here, and nothing is committed without an explicit
// confirm.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/CharoKentaro/okozukai-ledger/internal/extract"
	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
	"github.com/rs/zerolog"
)

// ExtractTimeout bounds a single extractor call. The ledger is never
// blocked while waiting: staging happens only after extraction returns.
const ExtractTimeout = 60 * time.Second

// Workflow drives the stage/edit/confirm/cancel cycle for one ledger.
type Workflow struct {
	extractor extract.ReceiptExtractor
	ledger    *ledger.Ledger
	log       zerolog.Logger
}

// New creates a workflow for the given ledger. The extractor may be nil
// when only manual entry is wired (e.g. tests or a degraded session).
func New(extractor extract.ReceiptExtractor, l *ledger.Ledger, log zerolog.Logger) *Workflow {
	return &Workflow{extractor: extractor, ledger: l, log: log}
}

// StageImage runs the extractor over a receipt image and stages the
// coerced result for confirmation. An extraction failure is returned
// as-is (an *extract.Error) so callers can fall back to manual entry;
// malformed-but-present data is never an error, only review flags.
func (w *Workflow) StageImage(ctx context.Context, image []byte, mimeType string) (*ledger.PendingExtraction, error) {
	if w.extractor == nil {
		return nil, &extract.Error{Op: "extract", Err: fmt.Errorf("no extractor configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, ExtractTimeout)
	defer cancel()

	raw, err := w.extractor.Extract(ctx, image, mimeType)
	if err != nil {
		w.log.Warn().Err(err).Msg("Receipt extraction failed; manual entry required")
		return nil, err
	}

	return w.StageFields(raw)
}

// StageFields coerces raw extractor-shaped fields and stages them. Used
// both by StageImage and for manual entry, so manual input gets the
// same defensive parsing as model output.
func (w *Workflow) StageFields(raw map[string]interface{}) (*ledger.PendingExtraction, error) {
	pending := CoerceFields(raw)

	if len(pending.ReviewReasons) > 0 {
		w.log.Info().
			Strs("review_reasons", pending.ReviewReasons).
			Msg("Extraction staged with fields flagged for review")
	}

	if err := w.ledger.StageExtraction(pending); err != nil {
		return nil, err
	}
	return w.ledger.Snapshot().Pending, nil
}

// Edit applies user corrections to the staged extraction.
func (w *Workflow) Edit(totalAmount float64, items []ledger.LineItem) error {
	return w.ledger.EditPending(totalAmount, items)
}

// Confirm commits the staged extraction. The returned transaction is
// valid even when err is non-nil: a store failure after commit keeps
// the entry in memory and is surfaced so the user can be warned.
func (w *Workflow) Confirm(ctx context.Context) (*ledger.Transaction, error) {
	return w.ledger.CommitPending(ctx)
}

// Cancel discards the staged extraction. Idempotent.
func (w *Workflow) Cancel() {
	w.ledger.CancelPending()
}
