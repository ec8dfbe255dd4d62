package domain

import (
	"fmt"
	"strings"
	"time"
)

// HandSide tells which hand was captured.
type HandSide string

const (
	HandLeft  HandSide = "left"
	HandRight HandSide = "right"
)

func ParseHandSide(raw string) (HandSide, error) {
	switch HandSide(strings.ToLower(strings.TrimSpace(raw))) {
	case HandLeft:
		return HandLeft, nil
	case HandRight:
		return HandRight, nil
	default:
		return "", fmt.Errorf("unsupported hand side: %q", raw)
	}
}

// ReadingSection is one labeled finding within a reading. Section ids are stable
// short names ("life_line", "heart_line", ...); order is display order.
type ReadingSection struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// FallbackSectionID marks the single section synthesized when the model output
// could not be parsed into the requested shape.
const FallbackSectionID = "general"

// Reading is one completed palm analysis. Once persisted it is never edited;
// the only mutation is whole-record deletion.
type Reading struct {
	ID         string           `json:"id"`
	HandSide   HandSide         `json:"handSide"`
	IsDominant bool             `json:"isDominant"`
	CreatedAt  time.Time        `json:"createdAt"`
	Sections   []ReadingSection `json:"sections"`
	ImageURI   string           `json:"imageUri"`
}

// RenderSummary flattens the sections into the "Title: content" text used to
// seed chat sessions and comparison prompts.
func (r Reading) RenderSummary() string {
	parts := make([]string, 0, len(r.Sections))
	for _, s := range r.Sections {
		parts = append(parts, fmt.Sprintf("%s: %s", s.Title, s.Content))
	}
	return strings.Join(parts, "\n\n")
}

// AnalyzeRequest is the value object consumed once by the analysis pipeline.
type AnalyzeRequest struct {
	ImageURI   string   `json:"imageUri"`
	HandSide   HandSide `json:"handSide"`
	IsDominant bool     `json:"isDominant"`
}

func (r AnalyzeRequest) Validate() error {
	if strings.TrimSpace(r.ImageURI) == "" {
		return fmt.Errorf("image uri is required")
	}
	if r.HandSide != HandLeft && r.HandSide != HandRight {
		return fmt.Errorf("unsupported hand side: %q", r.HandSide)
	}
	return nil
}

// AnalyzeResponse carries the persisted reading id, or the job id when the
// analysis was submitted asynchronously.
type AnalyzeResponse struct {
	ReadingID string `json:"readingId,omitempty"`
	JobID     string `json:"jobId,omitempty"`
}

// ImagePayload is image content already read into memory, ready for transport
// encoding toward the model.
type ImagePayload struct {
	Data     []byte
	MIMEType string
}
