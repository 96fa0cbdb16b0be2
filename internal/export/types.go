// Package export produces the files handed to the user before or instead of
// a destructive operation: a CSV spreadsheet of the record list and a PDF
// report rendered from the same list. Both are pure functions of the records
// they are given and have no bearing on the sync core.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat indicates an unknown export format was requested.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
