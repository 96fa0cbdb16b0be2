package export

import (
	"bytes"
	"html/template"
	"time"
)

var reportTemplate = template.Must(template.New("report").Parse(reportTemplateHTML))

// TemplateData holds data for report template rendering
type TemplateData struct {
	Title        string
	GeneratedAt  time.Time
	TotalMeters  int
	TotalChanges int
	Rows         []TemplateRow
}

// TemplateRow holds one record row for the template
type TemplateRow struct {
	Date     string
	Machine  string
	Shift    string
	Boss     string
	Operator string
	Meters   int
	Changes  int
	Comment  string
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.4; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    table { width: 100%; border-collapse: collapse; font-size: 0.85em; }
    th, td { border: 1px solid #ccc; padding: 4px 6px; text-align: left; }
    th { background: #f5f5f5; }
    td.num { text-align: right; }
    tfoot td { font-weight: bold; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.GeneratedAt.Format "Jan 2, 2006 15:04"}} | {{len .Rows}} records</div>
  <table>
    <thead>
      <tr><th>Date</th><th>Machine</th><th>Shift</th><th>Boss</th><th>Operator</th><th>Meters</th><th>Changes</th><th>Comment</th></tr>
    </thead>
    <tbody>
      {{range .Rows}}<tr><td>{{.Date}}</td><td>{{.Machine}}</td><td>{{.Shift}}</td><td>{{.Boss}}</td><td>{{.Operator}}</td><td class="num">{{.Meters}}</td><td class="num">{{.Changes}}</td><td>{{.Comment}}</td></tr>
      {{end}}
    </tbody>
    <tfoot>
      <tr><td colspan="5">Total</td><td class="num">{{.TotalMeters}}</td><td class="num">{{.TotalChanges}}</td><td></td></tr>
    </tfoot>
  </table>
</body>
</html>`
