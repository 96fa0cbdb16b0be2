package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"telar/api/internal/record"
)

var csvHeader = []string{"Date", "Machine", "Shift", "Boss", "Operator", "Meters", "Changes", "Comment"}

// exportCSV writes the record list as a spreadsheet-compatible CSV, one row
// per record in the order given.
func exportCSV(records []record.Record, title string) (*Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.Date,
			r.Machine,
			string(r.Shift),
			r.Boss,
			r.Operator,
			strconv.Itoa(r.Meters),
			strconv.Itoa(r.Changes),
			r.ChangesComment,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", r.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(title) + ".csv",
		MimeType: "text/csv",
	}, nil
}
