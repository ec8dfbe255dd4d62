package usecase

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mkotova/lifeline/internal/core/domain"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// SectionParse is the outcome of shaping raw model output. Exactly one of the
// two variants holds: Parsed carries the model-provided sections, otherwise
// Raw carries the full response text for the fallback section.
type SectionParse struct {
	Parsed   bool
	Sections []domain.ReadingSection
	Raw      string
}

// ParseSections extracts the requested `{"sections": [...]}` shape from raw
// model output. The primary path looks inside a fenced code block, then at the
// first-to-last object literal in the text. Any failure degrades to the
// unparsed variant; this function never errors.
func ParseSections(raw string) SectionParse {
	candidate := raw
	if m := fencedJSONRe.FindStringSubmatch(raw); len(m) == 2 && strings.TrimSpace(m[1]) != "" {
		candidate = m[1]
	} else if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		candidate = raw[start : end+1]
	}

	var payload struct {
		Sections []domain.ReadingSection `json:"sections"`
	}
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil || len(payload.Sections) == 0 {
		return SectionParse{Raw: raw}
	}
	for _, s := range payload.Sections {
		if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Content) == "" {
			return SectionParse{Raw: raw}
		}
	}
	return SectionParse{Parsed: true, Sections: payload.Sections}
}

// Collapse resolves the variant into the sections stored on the reading: the
// parsed list as-is, or the single fallback section wrapping the raw text.
func (p SectionParse) Collapse() []domain.ReadingSection {
	if p.Parsed {
		return p.Sections
	}
	return []domain.ReadingSection{{
		ID:      domain.FallbackSectionID,
		Title:   "Palm Reading",
		Content: p.Raw,
	}}
}

// IsFallback reports whether a stored section list is the degraded
// single-section shape produced when parsing failed.
func IsFallback(sections []domain.ReadingSection) bool {
	return len(sections) == 1 && sections[0].ID == domain.FallbackSectionID
}
