package analysis

import (
	"regexp"
	"strings"
)

const reasoningMarker = "thought"

var sectionHeading = regexp.MustCompile(`(?m)^(#+\s|[A-Z]:)`)

// CleanNote removes leaked model reasoning from a generated note. When the
// text mentions the reasoning marker, everything before the first section
// heading ("# ..." or "S:") is dropped. Text without the marker is only
// trimmed.
func CleanNote(raw string) string {
	if !strings.Contains(raw, reasoningMarker) {
		return strings.TrimSpace(raw)
	}
	loc := sectionHeading.FindStringIndex(raw)
	if loc == nil {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(raw[loc[0]:])
}

// noteClinicalData combines captured notes with the analysis output.
func noteClinicalData(notes string, a *Analysis) string {
	data := a.ClinicalData()
	if strings.TrimSpace(notes) == "" {
		return data
	}
	return "Captured Notes: " + notes + "\nAI Clinical Analysis: " + data
}
