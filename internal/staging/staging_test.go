package staging

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
	"github.com/CharoKentaro/okozukai-ledger/internal/store"
)

func newTestFile(t *testing.T) *File {
	t.Helper()
	sf, err := NewFile(filepath.Join(t.TempDir(), "pending.json"))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	return sf
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	sf := newTestFile(t)

	want := &ledger.PendingExtraction{
		TotalAmount: 1480,
		LineItems: []ledger.LineItem{
			{Name: "bento", Price: 680},
			{Name: "tea", Price: 800},
		},
		ReviewReasons: []string{"line items do not sum to the total"},
	}
	if err := sf.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := sf.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil after Save")
	}
	if got.TotalAmount != want.TotalAmount {
		t.Errorf("total = %v, want %v", got.TotalAmount, want.TotalAmount)
	}
	if len(got.LineItems) != 2 || got.LineItems[0].Name != "bento" {
		t.Errorf("line items = %+v", got.LineItems)
	}
	if len(got.ReviewReasons) != 1 {
		t.Errorf("review reasons = %v", got.ReviewReasons)
	}
}

func TestLoadWhenNothingStaged(t *testing.T) {
	sf := newTestFile(t)

	got, err := sf.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("Load = %+v, want nil", got)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sf := newTestFile(t)

	if err := sf.Clear(); err != nil {
		t.Fatalf("Clear with nothing staged: %v", err)
	}

	if err := sf.Save(ctx, &ledger.PendingExtraction{TotalAmount: 100}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := sf.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := sf.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}

	got, err := sf.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("Load after Clear = %+v, want nil", got)
	}
}

// A staged entry must survive across processes: staging in one run and
// confirming in the next happens through the sidecar file, since the
// ledger document never carries the pending entry.
func TestStagedEntrySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()
	dir := t.TempDir()

	st, err := store.NewFileStore(filepath.Join(dir, "ledger.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sf, err := NewFile(filepath.Join(dir, "pending.json"))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	// First run: stage and write the sidecar.
	l1, err := ledger.Open(ctx, st, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l1.SetBudget(ctx, 5000); err != nil {
		t.Fatalf("SetBudget: %v", err)
	}
	pending := ledger.PendingExtraction{
		TotalAmount: 1480,
		LineItems:   []ledger.LineItem{{Name: "bento", Price: 1480}},
	}
	if err := l1.StageExtraction(pending); err != nil {
		t.Fatalf("StageExtraction: %v", err)
	}
	if err := sf.Save(ctx, l1.Snapshot().Pending); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Second run: a fresh ledger over the same store has no pending
	// entry of its own; the sidecar restores it.
	l2, err := ledger.Open(ctx, st, log)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if l2.Snapshot().Pending != nil {
		t.Fatal("reopened ledger should not carry a pending entry")
	}

	staged, err := sf.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if staged == nil {
		t.Fatal("staged entry did not survive the reopen")
	}
	if err := l2.StageExtraction(*staged); err != nil {
		t.Fatalf("StageExtraction after reopen: %v", err)
	}

	tx, err := l2.CommitPending(ctx)
	if err != nil {
		t.Fatalf("CommitPending: %v", err)
	}
	if tx.TotalAmount != 1480 {
		t.Errorf("committed total = %v, want 1480", tx.TotalAmount)
	}

	state := l2.Snapshot()
	if state.TotalSpent != 1480 {
		t.Errorf("total spent = %v, want 1480", state.TotalSpent)
	}
	if len(state.Transactions) != 1 {
		t.Errorf("transactions = %d, want 1", len(state.Transactions))
	}
}
