// Package export renders resolved goal sets as downloadable documents.
package export

import (
	"errors"
	"time"

	"goalsync/api/internal/goals"
	"goalsync/api/internal/store"
)

// Format represents the export output format
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts a format name case-sensitively. An empty name means JSON.
func ParseFormat(name string) (Format, error) {
	switch f := Format(name); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatYAML, FormatHTML, FormatPDF:
		return f, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

func (f Format) extension() string { return string(f) }

func (f Format) mimeType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatYAML:
		return "application/yaml"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/json"
	}
}

// Request contains parameters for an export operation
type Request struct {
	Selector goals.Selector
	Format   Format
	// Upload stores the rendered document in object storage as well.
	Upload bool
}

// Row is one exported goal.
type Row struct {
	ID             string      `json:"id" yaml:"id"`
	OrganizationID string      `json:"organizationId" yaml:"organizationId"`
	Title          string      `json:"title" yaml:"title"`
	Timeframe      string      `json:"timeframe" yaml:"timeframe"`
	Type           string      `json:"type" yaml:"type"`
	Priority       string      `json:"priority" yaml:"priority"`
	Status         string      `json:"status" yaml:"status"`
	Progress       int         `json:"progress" yaml:"progress"`
	MetricRollup   int         `json:"metricRollup" yaml:"metricRollup"`
	StartDate      time.Time   `json:"startDate" yaml:"startDate"`
	EndDate        time.Time   `json:"endDate" yaml:"endDate"`
	CalendarWeek   *int        `json:"calendarWeek,omitempty" yaml:"calendarWeek,omitempty"`
	Year           *int        `json:"year,omitempty" yaml:"year,omitempty"`
	ParentGoalID   string      `json:"parentGoalId,omitempty" yaml:"parentGoalId,omitempty"`
	OwnerID        string      `json:"ownerId,omitempty" yaml:"ownerId,omitempty"`
	Tags           []string    `json:"tags" yaml:"tags"`
	Metrics        []MetricRow `json:"metrics" yaml:"metrics"`
}

// MetricRow carries a metric with its computed percent. KeyResultID is empty for goal-level metrics.
type MetricRow struct {
	KeyResultID string  `json:"keyResultId,omitempty" yaml:"keyResultId,omitempty"`
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Unit        string  `json:"unit" yaml:"unit"`
	Target      float64 `json:"target" yaml:"target"`
	Current     float64 `json:"current" yaml:"current"`
	Percent     int     `json:"percent" yaml:"percent"`
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// ObjectKey is set when the export was uploaded.
	ObjectKey string
}

var (
	// ErrUnsupportedFormat indicates the requested format is not known.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUploadUnavailable indicates an upload was requested without object storage configured.
	ErrUploadUnavailable = errors.New("export upload unavailable")
)

// RowFromGoal flattens a goal and computes its metric percents.
func RowFromGoal(g store.Goal) Row {
	row := Row{
		ID:             g.ID,
		OrganizationID: g.OrganizationID,
		Title:          g.Title,
		Timeframe:      string(g.Timeframe),
		Type:           string(g.Type),
		Priority:       string(g.Priority),
		Status:         string(g.Status),
		Progress:       g.Progress,
		MetricRollup:   goals.MetricRollup(g),
		StartDate:      g.StartDate,
		EndDate:        g.EndDate,
		CalendarWeek:   g.CalendarWeek,
		Year:           g.Year,
		ParentGoalID:   g.ParentGoalID,
		OwnerID:        g.OwnerID,
		Tags:           append([]string{}, g.Tags...),
		Metrics:        []MetricRow{},
	}
	for _, m := range g.Metrics {
		row.Metrics = append(row.Metrics, metricRow("", m))
	}
	for _, kr := range g.KeyResults {
		for _, m := range kr.Metrics {
			row.Metrics = append(row.Metrics, metricRow(kr.ID, m))
		}
	}
	return row
}

func metricRow(krID string, m store.Metric) MetricRow {
	return MetricRow{
		KeyResultID: krID,
		ID:          m.ID,
		Name:        m.Name,
		Unit:        m.Unit,
		Target:      m.Target,
		Current:     m.Current,
		Percent:     goals.MetricPercent(m),
	}
}
