package export

import (
	"fmt"
	"time"

	"telar/api/internal/record"
)

// Export generates the requested format for a record list. title feeds the
// report heading and the filename.
func Export(records []record.Record, format Format, title string) (*Result, error) {
	switch format {
	case FormatCSV:
		return exportCSV(records, title)
	case FormatPDF:
		html, err := RenderReportHTML(buildTemplateData(records, title))
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportPDF(html, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func buildTemplateData(records []record.Record, title string) TemplateData {
	data := TemplateData{
		Title:       title,
		GeneratedAt: time.Now(),
		Rows:        make([]TemplateRow, 0, len(records)),
	}
	for _, r := range records {
		data.TotalMeters += r.Meters
		data.TotalChanges += r.Changes
		data.Rows = append(data.Rows, TemplateRow{
			Date:     r.Date,
			Machine:  r.Machine,
			Shift:    string(r.Shift),
			Boss:     r.Boss,
			Operator: r.Operator,
			Meters:   r.Meters,
			Changes:  r.Changes,
			Comment:  r.ChangesComment,
		})
	}
	return data
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	result := ""
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result += string(r)
		case r == ' ':
			result += "-"
		case r == '-', r == '_':
			result += string(r)
		default:
			// Skip other characters
		}
	}

	if len(result) > 50 {
		result = result[:50]
	}

	if result == "" {
		result = "records"
	}

	return result
}
