package emotion

import (
	"sort"
	"strings"

	"github.com/yoockh/mockmate/internal/models"
)

// AbsenceWarning is shown instead of metrics when the candidate was never seen.
const AbsenceWarning = "The candidate was not consistently visible in the camera. Please ensure a stable setup next time."

// Describe renders a one-paragraph demeanour summary for the feedback view.
func Describe(s models.EmotionSnapshot) string {
	if !s.CandidatePresent {
		return AbsenceWarning
	}

	var b strings.Builder
	b.WriteString("The candidate maintained a ")
	if s.IsConfident {
		b.WriteString("confident")
	} else {
		b.WriteString("less confident")
	}
	b.WriteString(", ")
	if s.StressLevel > 0.5 {
		b.WriteString("highly stressed")
	} else {
		b.WriteString("calm")
	}
	b.WriteString(", and ")
	if s.IsConfused {
		b.WriteString("confused")
	} else {
		b.WriteString("clear")
	}
	b.WriteString(" demeanor. Focus levels were ")
	switch {
	case s.FocusScore > 0.75:
		b.WriteString("excellent.")
	case s.FocusScore > 0.5:
		b.WriteString("moderate.")
	default:
		b.WriteString("low.")
	}
	return b.String()
}

// Dominant returns the highest scoring emotion label, "" when there are none.
// Ties resolve alphabetically.
func Dominant(s models.EmotionSnapshot) string {
	labels := make([]string, 0, len(s.EmotionScores))
	for k := range s.EmotionScores {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	best, bestScore := "", -1.0
	for _, l := range labels {
		if v := s.EmotionScores[l]; v > bestScore {
			best, bestScore = l, v
		}
	}
	return best
}
