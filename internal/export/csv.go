// Package export renders read-only views over committed transactions.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
)

const dateFormat = "2006-01-02"

// WriteCSV writes the flattened line-item view: one row per line item
// with the parent receipt total repeated. A transaction without line
// items still gets one row (empty item columns) so its total is never
// dropped from the export. This is a derived view over the transaction
// history, not a second source of truth.
func WriteCSV(w io.Writer, transactions []ledger.Transaction) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"date", "item_name", "item_price", "receipt_total"}); err != nil {
		return fmt.Errorf("export: writing header: %w", err)
	}

	for _, tx := range transactions {
		date := tx.Timestamp.Format(dateFormat)
		total := formatAmount(tx.TotalAmount)

		if len(tx.LineItems) == 0 {
			if err := cw.Write([]string{date, "", "", total}); err != nil {
				return fmt.Errorf("export: writing row: %w", err)
			}
			continue
		}
		for _, item := range tx.LineItems {
			row := []string{date, item.Name, formatAmount(item.Price), total}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("export: writing row: %w", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flushing: %w", err)
	}
	return nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
