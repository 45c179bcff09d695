package app

import (
	"context"
	"net/http"

	"questive/api/internal/export"
	"questive/api/internal/search"
)

// SearchContent runs a full-text search over the caller's goals,
// milestones, and tasks.
func (s *Service) SearchContent(session Session, text, filterType string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(search.Query{
		Text:       text,
		UserID:     session.UserID,
		FilterType: search.ResultType(filterType),
		Limit:      limit,
		Offset:     offset,
	})
}

// ExportProgressReport renders the caller's progress report as a PDF.
func (s *Service) ExportProgressReport(ctx context.Context, session Session) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusNotImplemented, "EXPORT_UNAVAILABLE", "Report export is not configured", nil)
	}
	return s.export.ExportReport(ctx, session.UserID)
}
