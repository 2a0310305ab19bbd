package archive

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
)

// ExpenseRow mirrors one confirmed transaction into the warehouse.
type ExpenseRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	ExpenseDate civil.Date `bigquery:"expense_date"` // REQUIRED DATE
	TotalAmount float64    `bigquery:"total_amount"` // REQUIRED FLOAT64
	ItemCount   int64      `bigquery:"item_count"`   // REQUIRED INT64

	BudgetAtCommit bigquery.NullFloat64 `bigquery:"budget_at_commit"` // NULLABLE

	CommittedTS time.Time `bigquery:"committed_ts"` // REQUIRED TIMESTAMP
	ArchivedTS  time.Time `bigquery:"archived_ts"`  // REQUIRED TIMESTAMP
}

// LineItemRow mirrors one purchased item of a confirmed transaction.
type LineItemRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	LineNo   int64   `bigquery:"line_no"`   // REQUIRED, 0-based position on the receipt
	ItemName string  `bigquery:"item_name"` // REQUIRED
	Price    float64 `bigquery:"price"`     // REQUIRED

	ArchivedTS time.Time `bigquery:"archived_ts"` // REQUIRED TIMESTAMP
}

// rowsForTransaction converts a committed transaction into warehouse rows.
// budget carries the ledger budget at commit time; pass a negative value
// to archive it as NULL.
func rowsForTransaction(tx *ledger.Transaction, budget float64, archivedAt time.Time) (*ExpenseRow, []*LineItemRow) {
	expense := &ExpenseRow{
		TransactionID: tx.ID,
		ExpenseDate:   civil.DateOf(tx.Timestamp),
		TotalAmount:   tx.TotalAmount,
		ItemCount:     int64(len(tx.LineItems)),
		CommittedTS:   tx.Timestamp,
		ArchivedTS:    archivedAt,
	}
	if budget >= 0 {
		expense.BudgetAtCommit = bigquery.NullFloat64{Float64: budget, Valid: true}
	}

	items := make([]*LineItemRow, 0, len(tx.LineItems))
	for i, item := range tx.LineItems {
		items = append(items, &LineItemRow{
			TransactionID: tx.ID,
			LineNo:        int64(i),
			ItemName:      item.Name,
			Price:         item.Price,
			ArchivedTS:    archivedAt,
		})
	}

	return expense, items
}
