package view

import "telar/api/internal/record"

// DefaultPageSize is the fixed page size used by the record list view.
const DefaultPageSize = 10

// PageCount returns ceil(n/size). An empty set still displays as one page.
func PageCount(n, size int) int {
	if size <= 0 {
		size = DefaultPageSize
	}
	if n <= 0 {
		return 1
	}
	return (n + size - 1) / size
}

// Page returns the 1-based page of the given size. Pages outside the valid
// range clamp: below 1 to the first page, past the end to the last.
func Page(records []record.Record, page, size int) []record.Record {
	if size <= 0 {
		size = DefaultPageSize
	}
	last := PageCount(len(records), size)
	if page < 1 {
		page = 1
	}
	if page > last {
		page = last
	}

	start := (page - 1) * size
	if start >= len(records) {
		return []record.Record{}
	}
	end := start + size
	if end > len(records) {
		end = len(records)
	}
	out := make([]record.Record, end-start)
	copy(out, records[start:end])
	return out
}
