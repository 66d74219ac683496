// Package export renders submitted weekly reviews as Markdown, PDF, and
// DOCX downloads.
package export

import "errors"

// Format represents the export output format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
)

// ParseFormat validates a format string from a request.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatMarkdown, FormatPDF, FormatDOCX:
		return Format(s), true
	default:
		return "", false
	}
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
