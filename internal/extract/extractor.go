// Package extract turns receipt images into structured field guesses.
// Extractor output is untrusted by design: it may fail entirely or
// return low-confidence garbage, and it is always routed through the
// confirmation workflow before it can touch the ledger.
package extract

import (
	"context"
	"fmt"
)

// ReceiptExtractor reads a receipt image into a raw field map following
// the contract {"total_amount": string|number, "items": [{"name",
// "price"}]}. Implementations must not interpret or trust the values -
// coercion and validation belong to the workflow layer.
type ReceiptExtractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) (map[string]interface{}, error)
}

// Error wraps an extraction failure (network, auth, model refusal) so
// callers can distinguish it from malformed-but-present data and offer
// manual entry instead.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
