package engine

import "strings"

const blankAudioMarker = "[BLANK_AUDIO]"

// cleanSegmentText trims whitespace and drops Whisper's blank-audio marker.
func cleanSegmentText(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.EqualFold(trimmed, blankAudioMarker) {
		return ""
	}
	return trimmed
}

// spaceSegments prefixes every segment after the first with a space so Join
// yields readable text. Empty segments are dropped.
func spaceSegments(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		text := cleanSegmentText(seg.Text)
		if text == "" {
			continue
		}
		if len(out) > 0 {
			text = " " + text
		}
		out = append(out, Segment{Text: text, Confidence: seg.Confidence})
	}
	return out
}

func normaliseLanguage(candidate, fallback string) string {
	if trimmed := strings.TrimSpace(candidate); trimmed != "" {
		return trimmed
	}
	if trimmed := strings.TrimSpace(fallback); trimmed != "" {
		return trimmed
	}
	return "auto"
}
