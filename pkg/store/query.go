package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"safestreets/pkg/domain"
)

const (
	// OrderNewestFirst is the conventional "most recent first" order. A
	// leading "-" means descending.
	OrderNewestFirst = "-created_date"

	// FilterScanLimit bounds how many records Filter considers before
	// matching. Older records beyond it are never returned by Filter.
	FilterScanLimit = 1000

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ListOptions controls ordering and truncation of List and Filter results.
type ListOptions struct {
	// Order is a field name, optionally prefixed with "-" for descending.
	// created_date is compared as a timestamp.
	Order string
	// Limit truncates the result after ordering; <= 0 means no limit.
	Limit int
}

func sortRecords(items []domain.Record, order string) {
	order = strings.TrimSpace(order)
	if order == "" {
		return
	}
	desc := strings.HasPrefix(order, "-")
	field := strings.TrimPrefix(strings.TrimPrefix(order, "-"), "+")
	if field == "" {
		return
	}
	less := func(a, b domain.Record) bool { return compareField(field, a, b) < 0 }
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

func compareField(field string, a, b domain.Record) int {
	av, bv := a[field], b[field]
	if field == "created_date" || strings.HasSuffix(field, "_at") {
		return parseTimestamp(av).Compare(parseTimestamp(bv))
	}
	switch x := av.(type) {
	case float64:
		y, ok := bv.(float64)
		if !ok {
			return 1
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case nil:
		if bv == nil {
			return 0
		}
		return -1
	}
	if bv == nil {
		return 1
	}
	return strings.Compare(fmt.Sprint(av), fmt.Sprint(bv))
}

// parseTimestamp accepts RFC 3339 timestamps and plain dates; anything else
// is the zero time and sorts as the oldest.
func parseTimestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func truncate(items []domain.Record, limit int) []domain.Record {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// matches reports whether every query field strictly equals the record's.
// Arrays and objects never match, mirroring reference equality on decoded
// JSON values.
func matches(r domain.Record, query domain.Record) bool {
	for k, want := range query {
		got, ok := r[k]
		if !ok || !scalarEqual(got, want) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	switch a.(type) {
	case []any, map[string]any:
		return false
	}
	switch b.(type) {
	case []any, map[string]any:
		return false
	}
	return a == b
}
