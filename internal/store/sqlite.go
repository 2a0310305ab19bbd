package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    budget      REAL NOT NULL DEFAULT 0,
    total_spent REAL NOT NULL DEFAULT 0,
    updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transactions (
    transaction_id TEXT PRIMARY KEY,
    seq            INTEGER NOT NULL,     -- commit order
    committed_at   TEXT NOT NULL,        -- RFC 3339
    total_amount   REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_seq ON transactions(seq);

CREATE TABLE IF NOT EXISTS line_items (
    transaction_id TEXT NOT NULL REFERENCES transactions(transaction_id) ON DELETE CASCADE,
    line_index     INTEGER NOT NULL,
    name           TEXT NOT NULL,
    price          REAL NOT NULL,
    PRIMARY KEY (transaction_id, line_index)
);
`

// SQLiteStore persists ledger state in a local SQLite database. Each
// Save rewrites the whole ledger inside one transaction, which gives
// the same all-or-nothing guarantee as the single-document backends.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if necessary creates) the database at dbPath
// and initializes the schema. WAL mode keeps concurrent readers cheap.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements ledger.Store.
func (s *SQLiteStore) Load(ctx context.Context) (*ledger.State, error) {
	state := &ledger.State{}

	err := s.db.QueryRowContext(ctx,
		`SELECT budget, total_spent FROM ledger WHERE id = 1`,
	).Scan(&state.Budget, &state.TotalSpent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Backend: "sqlite", Op: "select ledger", Err: err}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT transaction_id, committed_at, total_amount FROM transactions ORDER BY seq`)
	if err != nil {
		return nil, &Error{Backend: "sqlite", Op: "select transactions", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var tx ledger.Transaction
		var committedAt string
		if err := rows.Scan(&tx.ID, &committedAt, &tx.TotalAmount); err != nil {
			return nil, &Error{Backend: "sqlite", Op: "scan transaction", Err: err}
		}
		ts, err := time.Parse(time.RFC3339Nano, committedAt)
		if err != nil {
			return nil, &Error{Backend: "sqlite", Op: "parse timestamp", Err: err}
		}
		tx.Timestamp = ts
		tx.LineItems = []ledger.LineItem{}
		state.Transactions = append(state.Transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Backend: "sqlite", Op: "iterate transactions", Err: err}
	}

	if err := s.loadLineItems(ctx, state); err != nil {
		return nil, err
	}
	return normalize(state), nil
}

func (s *SQLiteStore) loadLineItems(ctx context.Context, state *ledger.State) error {
	byID := make(map[string]*ledger.Transaction, len(state.Transactions))
	for i := range state.Transactions {
		byID[state.Transactions[i].ID] = &state.Transactions[i]
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT transaction_id, name, price FROM line_items ORDER BY transaction_id, line_index`)
	if err != nil {
		return &Error{Backend: "sqlite", Op: "select line items", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var txID string
		var item ledger.LineItem
		if err := rows.Scan(&txID, &item.Name, &item.Price); err != nil {
			return &Error{Backend: "sqlite", Op: "scan line item", Err: err}
		}
		if tx, ok := byID[txID]; ok {
			tx.LineItems = append(tx.LineItems, item)
		}
	}
	if err := rows.Err(); err != nil {
		return &Error{Backend: "sqlite", Op: "iterate line items", Err: err}
	}
	return nil
}

// Save implements ledger.Store.
func (s *SQLiteStore) Save(ctx context.Context, state *ledger.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Backend: "sqlite", Op: "begin", Err: err}
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM line_items`,
		`DELETE FROM transactions`,
		`DELETE FROM ledger`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &Error{Backend: "sqlite", Op: "clear", Err: err}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger (id, budget, total_spent) VALUES (1, ?, ?)`,
		state.Budget, state.TotalSpent,
	); err != nil {
		return &Error{Backend: "sqlite", Op: "insert ledger", Err: err}
	}

	for seq, t := range state.Transactions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (transaction_id, seq, committed_at, total_amount) VALUES (?, ?, ?, ?)`,
			t.ID, seq, t.Timestamp.Format(time.RFC3339Nano), t.TotalAmount,
		); err != nil {
			return &Error{Backend: "sqlite", Op: "insert transaction", Err: err}
		}
		for i, item := range t.LineItems {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO line_items (transaction_id, line_index, name, price) VALUES (?, ?, ?, ?)`,
				t.ID, i, item.Name, item.Price,
			); err != nil {
				return &Error{Backend: "sqlite", Op: "insert line item", Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Backend: "sqlite", Op: "commit", Err: err}
	}
	return nil
}

var _ ledger.Store = (*SQLiteStore)(nil)
