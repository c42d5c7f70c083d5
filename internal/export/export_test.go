package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"goalsync/api/internal/goals"
	"goalsync/api/internal/store"
)

type staticResolver struct {
	goals []store.Goal
	err   error
	got   goals.Selector
}

func (r *staticResolver) Resolve(_ context.Context, sel goals.Selector) ([]store.Goal, error) {
	r.got = sel
	return r.goals, r.err
}

type recordingUploader struct {
	key         string
	data        []byte
	contentType string
	err         error
}

func (u *recordingUploader) Upload(_ context.Context, key string, data []byte, contentType string) error {
	u.key, u.data, u.contentType = key, data, contentType
	return u.err
}

var exportTime = time.Date(2025, 3, 18, 9, 30, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func sampleGoals() []store.Goal {
	return []store.Goal{
		{
			ID:             "goal-1",
			OrganizationID: "org-1",
			Title:          "Ship onboarding, v2",
			Timeframe:      store.TimeframeWeekly,
			Type:           store.GoalTypeTeam,
			Priority:       store.PriorityHigh,
			Status:         store.StatusInProgress,
			Progress:       40,
			StartDate:      time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
			EndDate:        time.Date(2025, 3, 23, 0, 0, 0, 0, time.UTC),
			CalendarWeek:   intPtr(12),
			Year:           intPtr(2025),
			Tags:           []string{"growth", "ux"},
			Metrics: []store.Metric{
				{ID: "m1", Name: "Signups", Unit: "users", Target: 200, Current: 50, Frequency: store.FrequencyWeekly},
			},
			KeyResults: []store.KeyResult{{
				ID:      "kr1",
				Metrics: []store.Metric{{ID: "m2", Name: "NPS", Target: 10, Current: 10, Frequency: store.FrequencyWeekly}},
			}},
		},
		{
			ID:             "goal-2",
			OrganizationID: "org-1",
			Title:          "Reduce churn",
			Timeframe:      store.TimeframeWeekly,
			Type:           store.GoalTypeTeam,
			Priority:       store.PriorityLow,
			Status:         store.StatusCompleted,
			Progress:       100,
		},
	}
}

func weeklySelector() goals.Selector {
	return goals.Selector{OrganizationID: "org-1", Timeframe: store.TimeframeWeekly, CalendarWeek: intPtr(12), Year: intPtr(2025)}
}

func newTestService(r goals.GoalResolver, opts ...Option) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time { return exportTime })}, opts...)
	return NewService(r, logger, opts...)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	for _, name := range []string{"json", "csv", "yaml", "html", "pdf"} {
		f, err := ParseFormat(name)
		require.NoError(t, err)
		assert.Equal(t, Format(name), f)
	}

	_, err = ParseFormat("docx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRowFromGoalComputesMetricPercents(t *testing.T) {
	row := RowFromGoal(sampleGoals()[0])

	assert.Equal(t, 25, row.MetricRollup)
	require.Len(t, row.Metrics, 2)
	assert.Equal(t, MetricRow{ID: "m1", Name: "Signups", Unit: "users", Target: 200, Current: 50, Percent: 25}, row.Metrics[0])
	assert.Equal(t, "kr1", row.Metrics[1].KeyResultID)
	assert.Equal(t, 100, row.Metrics[1].Percent)
}

func TestExportJSON(t *testing.T) {
	resolver := &staticResolver{goals: sampleGoals()}
	svc := newTestService(resolver)

	result, err := svc.Export(context.Background(), Request{Selector: weeklySelector(), Format: FormatJSON})
	require.NoError(t, err)
	assert.Equal(t, "application/json", result.MimeType)
	assert.Equal(t, "org-1-weekly-goals-week-12-2025-20250318.json", result.Filename)
	assert.Empty(t, result.ObjectKey)
	assert.Equal(t, weeklySelector(), resolver.got)

	var rows []Row
	require.NoError(t, json.Unmarshal(result.Data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "goal-1", rows[0].ID)
	assert.Equal(t, 40, rows[0].Progress)
	assert.Empty(t, rows[1].Metrics)
}

func TestExportCSV(t *testing.T) {
	svc := newTestService(&staticResolver{goals: sampleGoals()})

	result, err := svc.Export(context.Background(), Request{Selector: weeklySelector(), Format: FormatCSV})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.MimeType, "text/csv"))

	records, err := csv.NewReader(bytes.NewReader(result.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])

	first := records[1]
	assert.Equal(t, "Ship onboarding, v2", first[2])
	assert.Equal(t, "2025-03-17", first[9])
	assert.Equal(t, "12", first[11])
	assert.Equal(t, "growth;ux", first[15])
	assert.Equal(t, "m1=25;kr1/m2=100", first[16])

	second := records[2]
	assert.Equal(t, "", second[9])
	assert.Equal(t, "", second[11])
}

func TestExportCSVNeutralizesFormulas(t *testing.T) {
	goals := sampleGoals()[:1]
	goals[0].Title = "=HYPERLINK(\"http://evil\")"
	goals[0].Tags = []string{"+cmd", "ux"}
	goals[0].OwnerID = "@owner"
	svc := newTestService(&staticResolver{goals: goals})

	result, err := svc.Export(context.Background(), Request{Selector: weeklySelector(), Format: FormatCSV})
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(result.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "'=HYPERLINK(\"http://evil\")", records[1][2])
	assert.Equal(t, "'@owner", records[1][14])
	assert.Equal(t, "'+cmd;ux", records[1][15])
	assert.Equal(t, "Ship onboarding", csvText("Ship onboarding"))
}

func TestExportYAML(t *testing.T) {
	svc := newTestService(&staticResolver{goals: sampleGoals()})

	result, err := svc.Export(context.Background(), Request{Selector: weeklySelector(), Format: FormatYAML})
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, yaml.Unmarshal(result.Data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "goal-1", rows[0]["id"])
	assert.Equal(t, "completed", rows[1]["status"])
}

func TestExportHTMLEscapesContent(t *testing.T) {
	goal := sampleGoals()[1]
	goal.Title = "<script>alert(1)</script>"
	svc := newTestService(&staticResolver{goals: []store.Goal{goal}})

	result, err := svc.Export(context.Background(), Request{Selector: weeklySelector(), Format: FormatHTML})
	require.NoError(t, err)

	html := string(result.Data)
	assert.Contains(t, html, "1 goals")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.NotContains(t, html, "<script>alert")
	assert.Contains(t, html, "status-completed")
}

func TestExportHTMLEmpty(t *testing.T) {
	svc := newTestService(&staticResolver{})

	result, err := svc.Export(context.Background(), Request{Selector: weeklySelector(), Format: FormatHTML})
	require.NoError(t, err)
	assert.Contains(t, string(result.Data), "No goals match this selection.")
}

func TestExportPDFUsesRenderer(t *testing.T) {
	var gotHTML []byte
	renderer := func(_ context.Context, html []byte) ([]byte, error) {
		gotHTML = html
		return []byte("%PDF-1.7"), nil
	}
	svc := newTestService(&staticResolver{goals: sampleGoals()}, WithPDFRenderer(renderer))

	result, err := svc.Export(context.Background(), Request{Selector: weeklySelector(), Format: FormatPDF})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.MimeType)
	assert.Equal(t, []byte("%PDF-1.7"), result.Data)
	assert.Contains(t, string(gotHTML), "Ship onboarding, v2")
}

func TestExportPDFMissingDependency(t *testing.T) {
	renderer := func(context.Context, []byte) ([]byte, error) {
		return nil, ErrPDFDependencyMissing
	}
	svc := newTestService(&staticResolver{}, WithPDFRenderer(renderer))

	_, err := svc.Export(context.Background(), Request{Selector: weeklySelector(), Format: FormatPDF})
	assert.ErrorIs(t, err, ErrPDFDependencyMissing)
}

func TestExportUpload(t *testing.T) {
	uploader := &recordingUploader{}
	svc := newTestService(&staticResolver{goals: sampleGoals()}, WithUploader(uploader))

	result, err := svc.Export(context.Background(), Request{Selector: weeklySelector(), Format: FormatCSV, Upload: true})
	require.NoError(t, err)
	assert.Equal(t, "exports/org-1/weekly/20250318T093000Z.csv", result.ObjectKey)
	assert.Equal(t, result.ObjectKey, uploader.key)
	assert.Equal(t, result.Data, uploader.data)
	assert.Equal(t, result.MimeType, uploader.contentType)
}

func TestExportUploadFailure(t *testing.T) {
	uploader := &recordingUploader{err: errors.New("bucket gone")}
	svc := newTestService(&staticResolver{goals: sampleGoals()}, WithUploader(uploader))

	_, err := svc.Export(context.Background(), Request{Selector: weeklySelector(), Format: FormatJSON, Upload: true})
	assert.ErrorContains(t, err, "bucket gone")
}

func TestExportUploadWithoutStorage(t *testing.T) {
	resolver := &staticResolver{}
	svc := newTestService(resolver)

	_, err := svc.Export(context.Background(), Request{Selector: weeklySelector(), Upload: true})
	assert.ErrorIs(t, err, ErrUploadUnavailable)
	assert.Empty(t, resolver.got.OrganizationID)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := newTestService(&staticResolver{})

	_, err := svc.Export(context.Background(), Request{Selector: weeklySelector(), Format: "docx"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExportPropagatesSelectorValidation(t *testing.T) {
	svc := newTestService(goals.NewResolver(store.NewMemoryStore()))

	_, err := svc.Export(context.Background(), Request{Selector: goals.Selector{Timeframe: store.TimeframeWeekly}})
	assert.ErrorIs(t, err, goals.ErrValidation)
}

func TestPercentEncodeForDataURL(t *testing.T) {
	assert.Equal(t, "a%20b", percentEncodeForDataURL("a b"))
	assert.Equal(t, "%3Cp%3E", percentEncodeForDataURL("<p>"))
	assert.Equal(t, "%C3%A9", percentEncodeForDataURL("é"))
	assert.Equal(t, "A-z_0.~", percentEncodeForDataURL("A-z_0.~"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		title    string
		expected string
	}{
		{"Simple Title", "Simple-Title"},
		{"Title: With/Special*Chars", "TitleWithSpecialChars"},
		{"", "goals"},
		{"!!!", "goals"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeFilename(tt.title))
		})
	}
}
