package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDate": formatDate,
	"formatTime": func(t time.Time) string { return t.UTC().Format("January 2, 2006 15:04 MST") },
	"metricKey": func(m MetricRow) string {
		if m.KeyResultID != "" {
			return m.KeyResultID + "/" + m.ID
		}
		return m.ID
	},
}).Parse(reportHTML))

const reportHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        @page { size: letter; margin: 0.75in; }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; font-size: 11pt; line-height: 1.5; color: #1a1a1a; }
        h1 { font-size: 20pt; margin: 0 0 4pt; }
        .meta { color: #666; font-size: 10pt; margin-bottom: 18pt; }
        .goal { border-top: 1px solid #ddd; padding: 10pt 0; page-break-inside: avoid; }
        .goal h2 { font-size: 13pt; margin: 0 0 4pt; }
        .status { display: inline-block; padding: 1pt 6pt; border-radius: 3pt; font-size: 9pt; background: #eef; }
        .status-completed { background: #e6f4ea; }
        .status-at_risk { background: #fdecea; }
        .bar { height: 6pt; background: #eee; border-radius: 3pt; margin: 4pt 0; }
        .bar span { display: block; height: 6pt; background: #3b82f6; border-radius: 3pt; }
        table { border-collapse: collapse; width: 100%; font-size: 9.5pt; margin-top: 4pt; }
        th, td { text-align: left; padding: 2pt 6pt; border-bottom: 1px solid #f0f0f0; }
        .empty { color: #888; font-style: italic; }
    </style>
</head>
<body>
    <h1>{{.Title}}</h1>
    <div class="meta">{{len .Rows}} goals &middot; generated {{formatTime .GeneratedAt}}</div>
    {{range .Rows}}
    <div class="goal">
        <h2>{{.Title}}</h2>
        <div><span class="status status-{{.Status}}">{{.Status}}</span> {{.Timeframe}} &middot; {{.Type}} &middot; {{.Priority}} priority &middot; {{formatDate .StartDate}} to {{formatDate .EndDate}}</div>
        <div class="bar"><span style="width: {{.Progress}}%"></span></div>
        <div>{{.Progress}}% complete</div>
        {{if .Metrics}}
        <table>
            <tr><th>Metric</th><th>Current</th><th>Target</th><th>Percent</th></tr>
            {{range .Metrics}}<tr><td title="{{metricKey .}}">{{.Name}}</td><td>{{.Current}} {{.Unit}}</td><td>{{.Target}} {{.Unit}}</td><td>{{.Percent}}%</td></tr>
            {{end}}
        </table>
        {{end}}
    </div>
    {{else}}
    <p class="empty">No goals match this selection.</p>
    {{end}}
</body>
</html>`

type reportData struct {
	Title       string
	GeneratedAt time.Time
	Rows        []Row
}

// RenderReportHTML renders rows as a standalone HTML page.
func RenderReportHTML(title string, rows []Row, generatedAt time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, reportData{Title: title, GeneratedAt: generatedAt, Rows: rows}); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}
