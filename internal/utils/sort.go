package utils

import (
	"sort"
	"time"
)

// SortByDate orders items by the date returned for each of them. Items with
// equal dates keep their relative order.
func SortByDate[T any](items []T, date func(T) time.Time, asc bool) []T {
	sort.SliceStable(items, func(i, j int) bool {
		if asc {
			return date(items[i]).Before(date(items[j]))
		}
		return date(items[i]).After(date(items[j]))
	})
	return items
}
