package notionsync

import (
	"fmt"
	"strings"

	"github.com/jomei/notionapi"

	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
)

// maxItemSummaryLen keeps the item summary within Notion's rich text
// limits for very long receipts.
const maxItemSummaryLen = 1800

// TransactionToNotionProperties converts a confirmed transaction to
// Notion page properties for the expenses database.
func TransactionToNotionProperties(tx *ledger.Transaction) notionapi.Properties {
	props := notionapi.Properties{
		"Transaction ID": notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: tx.ID,
					},
				},
			},
		},
		"Amount": notionapi.NumberProperty{
			Number: tx.TotalAmount,
		},
		"Item Count": notionapi.NumberProperty{
			Number: float64(len(tx.LineItems)),
		},
	}

	if !tx.Timestamp.IsZero() {
		date := notionapi.Date(tx.Timestamp)
		props["Date"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: &date,
			},
		}
	}

	if summary := itemSummary(tx.LineItems); summary != "" {
		props["Items"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: summary,
					},
				},
			},
		}
	}

	return props
}

// itemSummary renders line items as a single "name (price)" list.
func itemSummary(items []ledger.LineItem) string {
	if len(items) == 0 {
		return ""
	}

	parts := make([]string, 0, len(items))
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = "(unnamed)"
		}
		parts = append(parts, fmt.Sprintf("%s (%g)", name, item.Price))
	}

	summary := strings.Join(parts, ", ")
	if len(summary) > maxItemSummaryLen {
		summary = summary[:maxItemSummaryLen] + "…"
	}
	return summary
}
