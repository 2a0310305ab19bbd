// Package archive mirrors confirmed transactions into BigQuery for
// long-term analysis. The warehouse is write-behind with the JSON
// ledger as the source of truth: an archive failure never blocks or
// unwinds a commit.
package archive

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
)

const (
	expensesTable  = "expenses"
	lineItemsTable = "expense_line_items"
)

// Archiver writes confirmed transactions to a BigQuery dataset.
type Archiver struct {
	projectID string
	datasetID string
}

// New creates an Archiver for the given project and dataset.
func New(projectID, datasetID string) (*Archiver, error) {
	if projectID == "" {
		return nil, fmt.Errorf("archive: project ID is required")
	}
	if datasetID == "" {
		return nil, fmt.Errorf("archive: dataset ID is required")
	}
	return &Archiver{projectID: projectID, datasetID: datasetID}, nil
}

// ArchiveTransaction mirrors one confirmed transaction. budget is the
// ledger budget at commit time; pass a negative value when unknown.
func (a *Archiver) ArchiveTransaction(ctx context.Context, tx *ledger.Transaction, budget float64) error {
	client, err := bigquery.NewClient(ctx, a.projectID)
	if err != nil {
		return fmt.Errorf("ArchiveTransaction: bigquery client: %w", err)
	}
	defer client.Close()

	return a.archiveWithClient(ctx, client, []ledger.Transaction{*tx}, budget)
}

// ArchiveHistory mirrors every transaction in the slice, typically the
// full ledger history before a reset.
func (a *Archiver) ArchiveHistory(ctx context.Context, txs []ledger.Transaction, budget float64) error {
	if len(txs) == 0 {
		return nil
	}

	client, err := bigquery.NewClient(ctx, a.projectID)
	if err != nil {
		return fmt.Errorf("ArchiveHistory: bigquery client: %w", err)
	}
	defer client.Close()

	return a.archiveWithClient(ctx, client, txs, budget)
}

func (a *Archiver) archiveWithClient(ctx context.Context, client *bigquery.Client, txs []ledger.Transaction, budget float64) error {
	archivedAt := time.Now().UTC()

	var expenses []*ExpenseRow
	var items []*LineItemRow
	for i := range txs {
		expense, txItems := rowsForTransaction(&txs[i], budget, archivedAt)
		expenses = append(expenses, expense)
		items = append(items, txItems...)
	}

	dataset := client.DatasetInProject(a.projectID, a.datasetID)
	if err := dataset.Table(expensesTable).Inserter().Put(ctx, expenses); err != nil {
		return fmt.Errorf("archive: inserting expenses: %w", err)
	}
	if len(items) > 0 {
		if err := dataset.Table(lineItemsTable).Inserter().Put(ctx, items); err != nil {
			return fmt.Errorf("archive: inserting line items: %w", err)
		}
	}

	return nil
}

// MonthlyTotal is one calendar month of archived spending.
type MonthlyTotal struct {
	Month      string  `bigquery:"month"`
	TotalSpent float64 `bigquery:"total_spent"`
	TxCount    int64   `bigquery:"tx_count"`
}

// MonthlyTotals returns per-month spending totals across the whole
// archive, newest month first.
func (a *Archiver) MonthlyTotals(ctx context.Context) ([]*MonthlyTotal, error) {
	client, err := bigquery.NewClient(ctx, a.projectID)
	if err != nil {
		return nil, fmt.Errorf("MonthlyTotals: bigquery client: %w", err)
	}
	defer client.Close()

	q := client.Query(fmt.Sprintf(`
		SELECT
			FORMAT_DATE('%%Y-%%m', expense_date) AS month,
			SUM(total_amount) AS total_spent,
			COUNT(*) AS tx_count
		FROM `+"`%s.%s.%s`"+`
		GROUP BY month
		ORDER BY month DESC
	`, a.projectID, a.datasetID, expensesTable))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("MonthlyTotals: query read: %w", err)
	}

	var totals []*MonthlyTotal
	for {
		var row MonthlyTotal
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("MonthlyTotals: iter next: %w", err)
		}
		totals = append(totals, &row)
	}

	return totals, nil
}
