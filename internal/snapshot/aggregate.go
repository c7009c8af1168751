package snapshot

import (
	"time"

	"engiero/internal/normalize"
)

// UnpaidTotal sums the positive outstanding amounts of the invoice-details
// response. Each object contributes its first unpaid-synonym field, and an
// object whose nested records carry amounts contributes only theirs, so a
// summary total never adds to the invoices it summarizes. When details carry
// no such field the balance response is searched instead.
func UnpaidTotal(details, balance any) float64 {
	if total, found := sumUnpaid(details); found {
		return total
	}
	total, _ := sumUnpaid(balance)
	return total
}

func sumUnpaid(raw any) (float64, bool) {
	switch t := raw.(type) {
	case map[string]any:
		var (
			nested float64
			found  bool
		)
		for _, child := range t {
			switch child.(type) {
			case map[string]any, []any:
				if n, ok := sumUnpaid(child); ok {
					nested += n
					found = true
				}
			}
		}
		if found {
			return nested, true
		}
		return ownUnpaid(t)
	case []any:
		var (
			total float64
			found bool
		)
		for _, child := range t {
			if n, ok := sumUnpaid(child); ok {
				total += n
				found = true
			}
		}
		return total, found
	}
	return 0, false
}

// ownUnpaid reads the first unpaid synonym of obj that holds a number.
func ownUnpaid(obj map[string]any) (float64, bool) {
	for _, key := range normalize.UnpaidKeys {
		val, ok := obj[key]
		if !ok {
			continue
		}
		if n, ok := normalize.ParseNumber(val); ok {
			return max(n, 0), true
		}
	}
	return 0, false
}

// SplitByYear partitions invoices into the current and prior calendar year
// using the year found in each month label (issue date as fallback).
// Invoices from other years are dropped.
func SplitByYear(invoices []normalize.Record, now time.Time) (current, prior []normalize.Record) {
	current = []normalize.Record{}
	prior = []normalize.Record{}
	year := now.Year()
	for _, inv := range invoices {
		y := normalize.YearOf(normalize.Text(inv["month"]))
		if y == 0 {
			y = normalize.YearOf(normalize.Text(inv["issue_date"]))
		}
		switch y {
		case year:
			current = append(current, inv)
		case year - 1:
			prior = append(prior, inv)
		}
	}
	return current, prior
}

// Latest returns the record with the greatest parsed date in field. Records
// with unparseable dates rank oldest; ties keep the earliest record. It
// returns nil for an empty list.
func Latest(records []normalize.Record, field string) normalize.Record {
	var (
		best     normalize.Record
		bestTime time.Time
		bestOK   bool
	)
	for _, r := range records {
		t, ok := normalize.ParseDate(r[field])
		switch {
		case best == nil:
		case ok && (!bestOK || t.After(bestTime)):
		default:
			continue
		}
		best, bestTime, bestOK = r, t, ok
	}
	return best
}

// LatestIndex picks the newest meter reading.
func LatestIndex(readings []normalize.Record) normalize.Record {
	if r := Latest(readings, "date"); r != nil {
		return r
	}
	return normalize.IndexReadingSchema.Empty()
}

// LatestInvoice picks the most recently issued invoice.
func LatestInvoice(invoices []normalize.Record) normalize.Record {
	if r := Latest(invoices, "issue_date"); r != nil {
		return r
	}
	return normalize.InvoiceSchema.Empty()
}
