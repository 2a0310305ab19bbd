package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "okozukai.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()

	if state, err := s.Load(ctx); err != nil || state != nil {
		t.Fatalf("empty database: state = %v, err = %v", state, err)
	}

	want := sampleState()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertStatesEqual(t, got, want)
}

func TestSQLiteStoreSaveReplacesPrevious(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "okozukai.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()

	if err := s.Save(ctx, sampleState()); err != nil {
		t.Fatal(err)
	}

	// A reset ledger: no transactions left.
	reset := &ledger.State{Budget: 10000}
	if err := s.Save(ctx, reset); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Transactions) != 0 {
		t.Errorf("transactions = %d, want 0 after saving reset state", len(got.Transactions))
	}
	if got.Budget != 10000 {
		t.Errorf("budget = %v, want 10000", got.Budget)
	}
	if got.TotalSpent != 0 {
		t.Errorf("total_spent = %v, want 0", got.TotalSpent)
	}
}
