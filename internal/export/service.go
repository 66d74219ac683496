package export

import (
	"fmt"

	"waypoint/api/internal/journal"
	"waypoint/api/internal/review"
)

// Service renders a submitted review in the requested format.
type Service struct{}

// NewService creates an export service.
func NewService() *Service {
	return &Service{}
}

// Export generates a download for one submitted weekly review.
func (s *Service) Export(p review.SubmitPayload, author string, format Format) (*Result, error) {
	data := NewTemplateData(p, author)

	if format == FormatMarkdown {
		return &Result{
			Data:     []byte(journal.RenderMarkdown(p)),
			Filename: sanitizeFilename(data.Title) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	}

	html, err := RenderReviewHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatPDF:
		return exportPDF(html, data.Title)
	case FormatDOCX:
		return exportDOCX(html, data.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
