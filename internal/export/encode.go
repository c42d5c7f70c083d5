package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var csvHeader = []string{
	"id", "organizationId", "title", "timeframe", "type", "priority", "status",
	"progress", "metricRollup", "startDate", "endDate", "calendarWeek", "year",
	"parentGoalId", "ownerId", "tags", "metrics",
}

func encodeJSON(rows []Row) ([]byte, error) {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}

func encodeYAML(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(rows); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeCSV writes one line per goal. Metrics are flattened to "key=percent" pairs where
// key results contribute "keyResultId/metricId".
func encodeCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.ID, r.OrganizationID, csvText(r.Title), r.Timeframe, r.Type, r.Priority, r.Status,
			strconv.Itoa(r.Progress), strconv.Itoa(r.MetricRollup),
			formatDate(r.StartDate), formatDate(r.EndDate),
			optionalInt(r.CalendarWeek), optionalInt(r.Year),
			csvText(r.ParentGoalID), csvText(r.OwnerID),
			csvText(strings.Join(r.Tags, ";")),
			metricSummary(r.Metrics),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("encode csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

// csvText keeps user text from being read as a formula by spreadsheet tools.
func csvText(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

func metricSummary(metrics []MetricRow) string {
	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		key := m.ID
		if m.KeyResultID != "" {
			key = m.KeyResultID + "/" + m.ID
		}
		parts = append(parts, key+"="+strconv.Itoa(m.Percent))
	}
	return strings.Join(parts, ";")
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
