package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
)

// amountReplacer strips currency symbols and separators the extractor
// tends to leave in ("¥1,234", "$ 12.50", "450円").
var amountReplacer = strings.NewReplacer(
	"¥", "", "￥", "", "$", "", "£", "", "€", "", "円", "",
	",", "", " ", "", " ", "",
)

// parseAmount coerces a string-or-number value into a non-negative
// float. The extractor contract allows both encodings, so both are
// handled here and nowhere else.
func parseAmount(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		if val < 0 {
			return 0, fmt.Errorf("negative amount %v", val)
		}
		return val, nil
	case string:
		cleaned := amountReplacer.Replace(strings.TrimSpace(val))
		if cleaned == "" {
			return 0, fmt.Errorf("empty amount %q", val)
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric amount %q", val)
		}
		if f < 0 {
			return 0, fmt.Errorf("negative amount %q", val)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("missing amount")
	default:
		return 0, fmt.Errorf("amount has type %T, want string or number", v)
	}
}

// CoerceFields converts raw extractor output into a staging candidate.
// It never fails: unusable values are defaulted per the data model
// (total 0, items empty) and each defaulted field is recorded as a
// review reason so the confirmation step can ask the user to check it.
func CoerceFields(raw map[string]interface{}) ledger.PendingExtraction {
	pending := ledger.PendingExtraction{
		LineItems: []ledger.LineItem{},
	}

	total, err := parseAmount(raw["total_amount"])
	if err != nil {
		pending.ReviewReasons = append(pending.ReviewReasons,
			fmt.Sprintf("total amount defaulted to 0: %v", err))
	} else {
		pending.TotalAmount = total
	}

	itemsAny, ok := raw["items"]
	if !ok || itemsAny == nil {
		return pending
	}
	itemsSlice, ok := itemsAny.([]interface{})
	if !ok {
		pending.ReviewReasons = append(pending.ReviewReasons,
			fmt.Sprintf("item list unreadable (%T); defaulted to empty", itemsAny))
		return pending
	}

	for i, itemAny := range itemsSlice {
		obj, ok := itemAny.(map[string]interface{})
		if !ok {
			pending.ReviewReasons = append(pending.ReviewReasons,
				fmt.Sprintf("item %d unreadable; skipped", i))
			continue
		}

		item := ledger.LineItem{}
		if name, ok := obj["name"].(string); ok {
			item.Name = strings.TrimSpace(name)
		}

		price, err := parseAmount(obj["price"])
		if err != nil {
			pending.ReviewReasons = append(pending.ReviewReasons,
				fmt.Sprintf("item %d (%q) price defaulted to 0: %v", i, item.Name, err))
		} else {
			item.Price = price
		}
		pending.LineItems = append(pending.LineItems, item)
	}

	return pending
}
