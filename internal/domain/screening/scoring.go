package screening

import (
	"strconv"
	"strings"
)

const unbounded = -1

// band maps scores in [lower, upper) to a level. upper == unbounded has no
// ceiling.
type band struct {
	lower int
	upper int
	level RecommendationLevel
}

func (b band) contains(score int) bool {
	return score >= b.lower && (b.upper == unbounded || score < b.upper)
}

// classification holds the validated cut-offs for each depth instrument.
var classification = map[InstrumentID][]band{
	InstrumentDepthDepression: {
		{0, 5, LevelPeerCoach},
		{5, 10, LevelCoach},
		{10, 20, LevelClinician},
		{20, unbounded, LevelPsychiatrist},
	},
	InstrumentDepthAnxiety: {
		{0, 5, LevelPeerCoach},
		{5, 10, LevelCoachClinician},
		{10, 20, LevelClinician},
		{20, unbounded, LevelPsychiatrist},
	},
	InstrumentTrauma: {
		{0, 3, LevelCoachClinician},
		{3, unbounded, LevelClinicianPsychiatrist},
	},
}

// Score sums the points of the given answers.
func Score(answers []*Answer) int {
	total := 0
	for _, a := range answers {
		total += a.Points
	}
	return total
}

// Classify maps a score to a recommendation level. An instrument with a
// threshold only classifies at or below it, as PEER_COACH; above it ok is
// false and the cascade continues. ok is also false for a score outside
// every band.
func Classify(inst *Instrument, score int) (level RecommendationLevel, ok bool) {
	bands := classification[inst.ID]
	if inst.Threshold != nil {
		bands = []band{{0, *inst.Threshold + 1, LevelPeerCoach}}
	}
	for _, b := range bands {
		if b.contains(score) {
			return b.level, true
		}
	}
	return LevelUnknown, false
}

// DetectCrisis reports whether any answer carries the crisis flag.
func DetectCrisis(answers []*Answer) bool {
	for _, a := range answers {
		if a.Crisis {
			return true
		}
	}
	return false
}

// AnswerSummary renders the points of each answer, in order, joined by
// hyphens. It is stable for a given answer sequence.
func AnswerSummary(answers []*Answer) string {
	parts := make([]string, len(answers))
	for i, a := range answers {
		parts[i] = strconv.Itoa(a.Points)
	}
	return strings.Join(parts, "-")
}

// Max returns the most intensive of the given levels.
func Max(levels ...RecommendationLevel) RecommendationLevel {
	best := LevelUnknown
	for _, l := range levels {
		if l > best {
			best = l
		}
	}
	return best
}
