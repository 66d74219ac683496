package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"waypoint/api/internal/review"
)

//go:embed templates/*.html
var templateFS embed.FS

var reviewTemplate = template.Must(
	template.New("review.html").ParseFS(templateFS, "templates/review.html"),
)

// TemplateData holds data for review template rendering.
type TemplateData struct {
	Title               string
	Period              string
	Author              string
	MoodLabel           string
	Wins                []string
	Challenges          []string
	Learnings           string
	AlignmentReflection string
	Priorities          []string
}

// NewTemplateData maps a submitted review onto the template fields.
func NewTemplateData(p review.SubmitPayload, author string) TemplateData {
	return TemplateData{
		Title:               fmt.Sprintf("Weekly review: Week %d, %d", p.Week, p.WeekYear),
		Period:              fmt.Sprintf("%s to %s", p.WeekStart, p.WeekEnd),
		Author:              author,
		MoodLabel:           review.MoodLabels[p.Mood],
		Wins:                p.Wins,
		Challenges:          p.Challenges,
		Learnings:           p.Learnings,
		AlignmentReflection: p.AlignmentReflection,
		Priorities:          p.NextWeekPriorities,
	}
}

// RenderReviewHTML renders the review template with provided data.
func RenderReviewHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reviewTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
