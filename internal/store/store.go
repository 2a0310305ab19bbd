// Package store provides durable persistence backends for ledger state.
// All backends share the same contract: Load returns (nil, nil) when no
// state has been persisted yet, and Save is atomic - it either fully
// succeeds or leaves the previously persisted state intact.
package store

import (
	"fmt"

	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
)

// Error wraps a persistence failure with the backend and operation that
// produced it. Save failures are surfaced to the caller and never block
// an in-memory commit.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store(%s): %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// normalize repairs state loaded from a backend so ledger invariants
// hold: the cached spent total is recomputed from the transaction list,
// a corrupt negative budget is reset to zero, and line-item sequences
// are never nil.
func normalize(s *ledger.State) *ledger.State {
	if s == nil {
		return nil
	}
	var sum float64
	for i := range s.Transactions {
		if s.Transactions[i].LineItems == nil {
			s.Transactions[i].LineItems = []ledger.LineItem{}
		}
		sum += s.Transactions[i].TotalAmount
	}
	s.TotalSpent = sum
	if s.Budget < 0 {
		s.Budget = 0
	}
	s.Pending = nil
	return s
}
