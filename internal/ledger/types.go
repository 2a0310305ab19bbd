package ledger

import (
	"time"
)

// LineItem is one purchased item on a receipt.
type LineItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Transaction is one committed expense. It is immutable once created:
// corrections are made by committing a new transaction, never by editing
// history in place.
type Transaction struct {
	ID          string     `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	TotalAmount float64    `json:"total_amount"`
	LineItems   []LineItem `json:"line_items"`
}

// PendingExtraction is the single-slot staging area holding one
// unconfirmed candidate transaction. At most one exists per ledger;
// staging a new one replaces the old one.
//
// ReviewReasons carries flags raised during coercion of extractor
// output (e.g. a non-numeric total defaulted to zero) so the
// confirmation surface can ask the user to double-check.
type PendingExtraction struct {
	TotalAmount   float64    `json:"total_amount"`
	LineItems     []LineItem `json:"line_items"`
	ReviewReasons []string   `json:"review_reasons,omitempty"`
}

// State is the aggregate ledger state. TotalSpent is cached but always
// equals the sum of Transactions totals. Pending is transient and is not
// persisted.
type State struct {
	Budget       float64       `json:"budget"`
	TotalSpent   float64       `json:"total_spent"`
	Transactions []Transaction `json:"transactions"`

	Pending *PendingExtraction `json:"-"`
}

// Remaining is budget minus spend. A negative value is a valid,
// displayable over-budget state, not an error.
func (s *State) Remaining() float64 {
	return s.Budget - s.TotalSpent
}

// Clone returns a deep copy safe to hand to readers.
func (s *State) Clone() *State {
	c := &State{
		Budget:     s.Budget,
		TotalSpent: s.TotalSpent,
	}
	if s.Transactions != nil {
		c.Transactions = make([]Transaction, len(s.Transactions))
		for i, tx := range s.Transactions {
			c.Transactions[i] = tx
			c.Transactions[i].LineItems = append([]LineItem(nil), tx.LineItems...)
		}
	}
	if s.Pending != nil {
		p := *s.Pending
		p.LineItems = append([]LineItem(nil), s.Pending.LineItems...)
		p.ReviewReasons = append([]string(nil), s.Pending.ReviewReasons...)
		c.Pending = &p
	}
	return c
}
