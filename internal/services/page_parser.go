package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"order_packer/internal/sku"
)

// ParsedItem is one SKU line recognized on an order page.
type ParsedItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
}

// ParsedOrder is the order envelope extracted from one page of text.
type ParsedOrder struct {
	OrderID       string       `json:"order_id"`
	InvoiceNumber string       `json:"invoice_number"`
	CustomerName  string       `json:"name"`
	Date          string       `json:"date"`
	Items         []ParsedItem `json:"items"`
}

var (
	orderIDRegex  = regexp.MustCompile(`(?i)order\s*(?:number|no\.?|id|#)\s*[:#\-]?\s*([A-Z0-9][A-Z0-9\-_/]{3,})`)
	invoiceRegex  = regexp.MustCompile(`(?i)invoice\s*(?:number|no\.?|#)\s*[:#\-]?\s*([A-Z0-9][A-Z0-9\-_/]{2,})`)
	customerRegex = regexp.MustCompile(`(?im)^\s*(?:ship\s*to|deliver\s*to|customer(?:\s*name)?|name)\s*[:\-]\s*(\S.*)$`)
	dateRegex     = regexp.MustCompile(`(?i)date\s*[:\-]?\s*(\d{1,4}[./\-]\d{1,2}[./\-]\d{1,4}|\d{1,2}\s+[A-Za-z]{3,9},?\s+\d{4}|[A-Za-z]{3,9}\s+\d{1,2},?\s+\d{4})`)
	skuRegex      = regexp.MustCompile(`(?i)\b([A-Z]{2}\d{4})\b`)
	qtyRegex      = regexp.MustCompile(`(?i)\bqty\.?\s*[:x\-]?\s*(\d{1,4})\b`)
	trailingQty   = regexp.MustCompile(`(?:^|\s)(\d{1,3})\s*$`)
)

var dateLayouts = []string{
	"02-01-2006", "2-1-2006", "02/01/2006", "2/1/2006", "02.01.2006", "2.1.2006",
	"2006-01-02", "2006/01/02",
	"2 Jan 2006", "2 January 2006", "2 Jan, 2006",
	"Jan 2, 2006", "January 2, 2006", "Jan 2 2006", "January 2 2006",
}

// ParseOrderPage extracts an order envelope from the text of one page. It
// reports false when the page carries no order id or no item lines.
func ParseOrderPage(text string) (*ParsedOrder, bool) {
	m := orderIDRegex.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	order := &ParsedOrder{OrderID: strings.ToUpper(m[1])}

	if m := invoiceRegex.FindStringSubmatch(text); m != nil {
		order.InvoiceNumber = strings.ToUpper(m[1])
	}
	if m := customerRegex.FindStringSubmatch(text); m != nil {
		order.CustomerName = strings.TrimSpace(m[1])
	}
	if m := dateRegex.FindStringSubmatch(text); m != nil {
		order.Date = NormalizeDate(m[1])
	}

	order.Items = extractItems(text)
	if len(order.Items) == 0 {
		return nil, false
	}
	return order, true
}

// extractItems reads one SKU per line. The quantity is taken from a "Qty"
// marker, else from a trailing integer, else 1. Repeated SKUs are summed.
func extractItems(text string) []ParsedItem {
	var items []ParsedItem
	index := map[string]int{}

	for _, line := range strings.Split(text, "\n") {
		m := skuRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		code := sku.Normalize(m[1])

		qty := 1
		rest := strings.Replace(line, m[1], "", 1)
		if q := qtyRegex.FindStringSubmatch(rest); q != nil {
			qty, _ = strconv.Atoi(q[1])
		} else if q := trailingQty.FindStringSubmatch(rest); q != nil {
			qty, _ = strconv.Atoi(q[1])
		}
		if qty < 1 {
			continue
		}

		if i, ok := index[code]; ok {
			items[i].Quantity += qty
			continue
		}
		index[code] = len(items)
		items = append(items, ParsedItem{SKU: code, Quantity: qty})
	}
	return items
}

// NormalizeDate rewrites a recognizable date as dd-mm-yyyy and returns
// anything else trimmed but unchanged.
func NormalizeDate(value string) string {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("02-01-2006")
		}
	}
	return value
}
