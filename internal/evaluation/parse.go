package evaluation

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	enumMarker  = regexp.MustCompile(`^(?:(?i:q(?:uestion)?)\s*)?\d+\s*[.):\-]\s*|^[-*•]\s+`)
	scoreMarker = regexp.MustCompile(`(?i)\**\s*(?:overall\s+)?score\s*\**\s*[:=\-]?\s*\**\s*(\d{1,3}(?:\.\d+)?)\s*(?:/\s*(\d{1,3}))?\s*\**`)
)

// splitQuestions turns a model reply into an ordered list of questions.
func splitQuestions(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(line, "* \t\r")
		line = enumMarker.ReplaceAllString(line, "")
		line = strings.Trim(line, "* \t")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// parseScore finds the last score marker, normalizes it to [0,100] and
// returns the text with the marker removed. ok is false when no marker parses.
func parseScore(text string) (score float64, rest string, ok bool) {
	locs := scoreMarker.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return 0, strings.TrimSpace(text), false
	}
	loc := locs[len(locs)-1]

	v, err := strconv.ParseFloat(text[loc[2]:loc[3]], 64)
	if err != nil {
		return 0, strings.TrimSpace(text), false
	}
	if loc[4] >= 0 {
		if den, err := strconv.ParseFloat(text[loc[4]:loc[5]], 64); err == nil && den > 0 && den != 100 {
			v = v / den * 100
		}
	}

	rest = strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
	return clamp(v, 0, 100), rest, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
