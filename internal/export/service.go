package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"goalsync/api/internal/goals"
)

const keyTimestamp = "20060102T150405Z"

// Service resolves a selector and renders the matching goals.
type Service struct {
	resolver goals.GoalResolver
	uploader Uploader
	pdf      PDFRenderer
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithUploader enables Request.Upload.
func WithUploader(u Uploader) Option {
	return func(s *Service) { s.uploader = u }
}

func WithPDFRenderer(r PDFRenderer) Option {
	return func(s *Service) { s.pdf = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(resolver goals.GoalResolver, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{resolver: resolver, pdf: ChromePDF, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	format, err := ParseFormat(string(req.Format))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, req.Format)
	}
	if req.Upload && s.uploader == nil {
		return nil, ErrUploadUnavailable
	}

	resolved, err := s.resolver.Resolve(ctx, req.Selector)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(resolved))
	for _, g := range resolved {
		rows = append(rows, RowFromGoal(g))
	}

	now := s.now().UTC()
	title := reportTitle(req.Selector)
	data, err := s.render(ctx, format, title, rows, now)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Data:     data,
		Filename: sanitizeFilename(title) + "-" + now.Format("20060102") + "." + format.extension(),
		MimeType: format.mimeType(),
	}
	if req.Upload {
		key := ObjectKey(req.Selector, now, format)
		if err := s.uploader.Upload(ctx, key, data, result.MimeType); err != nil {
			return nil, err
		}
		result.ObjectKey = key
		s.logger.Info("export uploaded", "key", key, "bytes", len(data))
	}
	return result, nil
}

func (s *Service) render(ctx context.Context, format Format, title string, rows []Row, now time.Time) ([]byte, error) {
	switch format {
	case FormatCSV:
		return encodeCSV(rows)
	case FormatYAML:
		return encodeYAML(rows)
	case FormatHTML:
		return RenderReportHTML(title, rows, now)
	case FormatPDF:
		html, err := RenderReportHTML(title, rows, now)
		if err != nil {
			return nil, err
		}
		return s.pdf(ctx, html)
	default:
		return encodeJSON(rows)
	}
}

// ObjectKey is the storage key for an uploaded export: exports/<org>/<timeframe>/<timestamp>.<ext>.
func ObjectKey(sel goals.Selector, at time.Time, format Format) string {
	return fmt.Sprintf("exports/%s/%s/%s.%s", sel.OrganizationID, sel.Timeframe, at.UTC().Format(keyTimestamp), format.extension())
}

func reportTitle(sel goals.Selector) string {
	title := fmt.Sprintf("%s %s goals", sel.OrganizationID, sel.Timeframe)
	if sel.CalendarWeek != nil && sel.Year != nil {
		title += fmt.Sprintf(" week %d %d", *sel.CalendarWeek, *sel.Year)
	}
	return title
}
