package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store persists ledger state. Defined here (rather than importing
// internal/store) so backends depend on the ledger and not the other
// way round.
//
// Load returns (nil, nil) when nothing has been persisted yet. Save is
// atomic from the caller's perspective: it either fully succeeds or
// fails without corrupting the previously persisted state.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}

// ResetOptions controls what ResetHistory clears beyond transactions
// and the spent total.
type ResetOptions struct {
	ClearBudget bool
	KeepPending bool
}

// Ledger is the authoritative in-memory expense state machine. All
// operations are serialized by an internal mutex so a shared ledger can
// be driven from concurrent HTTP handlers.
//
// Regarding pending extractions the ledger has two states: Idle (no
// pending) and AwaitingConfirmation (pending set). StageExtraction
// always lands in AwaitingConfirmation, replacing any previous pending.
// CommitPending and CancelPending return to Idle.
type Ledger struct {
	mu    sync.Mutex
	state *State
	store Store
	log   zerolog.Logger
}

// New creates a ledger with empty state backed by st.
func New(st Store, log zerolog.Logger) *Ledger {
	return &Ledger{
		state: &State{},
		store: st,
		log:   log,
	}
}

// Open loads persisted state from st, falling back to an empty ledger
// when nothing has been saved yet. A store that cannot be read at all
// is the one fatal condition in this design, so the error is returned
// rather than swallowed.
func Open(ctx context.Context, st Store, log zerolog.Logger) (*Ledger, error) {
	state, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: loading persisted state: %w", err)
	}
	if state == nil {
		state = &State{}
	}
	state.Pending = nil
	return &Ledger{state: state, store: st, log: log}, nil
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() *State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// SetBudget replaces the budget. Transactions and the spent total are
// untouched. The new state is persisted; a persistence failure does not
// undo the in-memory change but is surfaced so the caller can warn that
// the budget may not survive a restart.
func (l *Ledger) SetBudget(ctx context.Context, amount float64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Budget = amount
	l.log.Info().Float64("budget", amount).Msg("Budget updated")

	if err := l.store.Save(ctx, l.state); err != nil {
		return fmt.Errorf("ledger: persisting budget: %w", err)
	}
	return nil
}

// StageExtraction stages a candidate transaction for confirmation. If a
// pending extraction already exists it is replaced: a user who uploads
// a second receipt before confirming the first is assumed to have
// abandoned the first. Replace is the only transition, which keeps a
// re-dispatched stage command safe.
func (l *Ledger) StageExtraction(p PendingExtraction) error {
	if p.TotalAmount < 0 {
		return ErrInvalidAmount
	}
	for _, item := range p.LineItems {
		if item.Price < 0 {
			return ErrInvalidAmount
		}
	}
	if p.LineItems == nil {
		p.LineItems = []LineItem{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Pending != nil {
		l.log.Debug().Msg("Replacing existing pending extraction")
	}
	l.state.Pending = &p
	return nil
}

// EditPending applies user corrections to the staged extraction before
// commit. Edits clear any review flags: the user has looked at the
// numbers.
func (l *Ledger) EditPending(totalAmount float64, items []LineItem) error {
	if totalAmount < 0 {
		return ErrInvalidAmount
	}
	for _, item := range items {
		if item.Price < 0 {
			return ErrInvalidAmount
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Pending == nil {
		return ErrNoPendingExtraction
	}
	if items == nil {
		items = []LineItem{}
	}
	l.state.Pending.TotalAmount = totalAmount
	l.state.Pending.LineItems = items
	l.state.Pending.ReviewReasons = nil
	return nil
}

// CommitPending converts the staged extraction into a permanent
// Transaction: it appends the transaction, bumps the spent total,
// clears the pending slot and persists the new state.
//
// If persistence fails the in-memory commit stands - a confirmed user
// action is never silently discarded - and both the transaction and the
// error are returned so the caller can warn that the entry may not
// survive a restart.
func (l *Ledger) CommitPending(ctx context.Context) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Pending == nil {
		return nil, ErrNoPendingExtraction
	}

	tx := Transaction{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		TotalAmount: l.state.Pending.TotalAmount,
		LineItems:   append([]LineItem(nil), l.state.Pending.LineItems...),
	}

	l.state.Transactions = append(l.state.Transactions, tx)
	l.state.TotalSpent += tx.TotalAmount
	l.state.Pending = nil

	l.log.Info().
		Str("transaction_id", tx.ID).
		Float64("total_amount", tx.TotalAmount).
		Float64("total_spent", l.state.TotalSpent).
		Float64("remaining", l.state.Remaining()).
		Msg("Transaction committed")

	if err := l.store.Save(ctx, l.state); err != nil {
		l.log.Warn().Err(err).
			Str("transaction_id", tx.ID).
			Msg("Persistence failed after commit; entry kept in memory")
		return &tx, fmt.Errorf("ledger: persisting after commit: %w", err)
	}
	return &tx, nil
}

// CancelPending discards the staged extraction without creating a
// transaction. Idempotent: cancelling with nothing staged is a no-op.
func (l *Ledger) CancelPending() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Pending == nil {
		return
	}
	l.state.Pending = nil
	l.log.Info().Msg("Pending extraction cancelled")
}

// ResetHistory clears transactions and the spent total, e.g. at the
// start of a new budget period. By default the budget is preserved and
// any pending extraction is cleared. The emptied state is persisted.
func (l *Ledger) ResetHistory(ctx context.Context, opts ResetOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Transactions = nil
	l.state.TotalSpent = 0
	if opts.ClearBudget {
		l.state.Budget = 0
	}
	if !opts.KeepPending {
		l.state.Pending = nil
	}

	l.log.Info().Bool("budget_cleared", opts.ClearBudget).Msg("Ledger history reset")

	if err := l.store.Save(ctx, l.state); err != nil {
		return fmt.Errorf("ledger: persisting reset: %w", err)
	}
	return nil
}
