package screening

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InstrumentID names one of the validated instruments in the cascade.
type InstrumentID string

const (
	InstrumentScreener        InstrumentID = "SCREENER"         // PHQ-4
	InstrumentDepthAnxiety    InstrumentID = "DEPTH_ANXIETY"    // GAD-7
	InstrumentDepthDepression InstrumentID = "DEPTH_DEPRESSION" // PHQ-9
	InstrumentTrauma          InstrumentID = "TRAUMA"           // PC-PTSD-5
)

// CascadeOrder is the order instruments are resolved in. Locks on several
// instruments are always taken in this order.
var CascadeOrder = []InstrumentID{
	InstrumentScreener,
	InstrumentDepthDepression,
	InstrumentDepthAnxiety,
	InstrumentTrauma,
}

// DepthInstruments are required only when the screener score is above its
// threshold.
var DepthInstruments = []InstrumentID{
	InstrumentDepthDepression,
	InstrumentDepthAnxiety,
	InstrumentTrauma,
}

func (id InstrumentID) Valid() bool {
	switch id {
	case InstrumentScreener, InstrumentDepthAnxiety, InstrumentDepthDepression, InstrumentTrauma:
		return true
	}
	return false
}

// RecommendationLevel is an ordered category of care intensity.
type RecommendationLevel int

const (
	LevelUnknown RecommendationLevel = iota
	LevelPeerCoach
	LevelCoach
	LevelCoachClinician
	LevelClinician
	LevelClinicianPsychiatrist
	LevelPsychiatrist
)

var levelNames = map[RecommendationLevel]string{
	LevelPeerCoach:             "PEER_COACH",
	LevelCoach:                 "COACH",
	LevelCoachClinician:        "COACH_CLINICIAN",
	LevelClinician:             "CLINICIAN",
	LevelClinicianPsychiatrist: "CLINICIAN_PSYCHIATRIST",
	LevelPsychiatrist:          "PSYCHIATRIST",
}

func (l RecommendationLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

func (l RecommendationLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *RecommendationLevel) UnmarshalText(text []byte) error {
	for level, name := range levelNames {
		if name == string(text) {
			*l = level
			return nil
		}
	}
	return fmt.Errorf("unknown recommendation level %q", text)
}

// Answer is one selectable option of a Question. Reference data, never
// mutated after the catalog is loaded.
type Answer struct {
	ID           uuid.UUID `json:"id"`
	QuestionID   uuid.UUID `json:"question_id"`
	Code         string    `json:"code"`
	Label        string    `json:"label"`
	Points       int       `json:"points"`
	Crisis       bool      `json:"crisis"`
	DisplayOrder int       `json:"display_order"`
}

type Question struct {
	ID           uuid.UUID    `json:"id"`
	InstrumentID InstrumentID `json:"instrument_id"`
	Code         string       `json:"code"`
	Text         string       `json:"text"`
	DisplayOrder int          `json:"display_order"`
	Answers      []*Answer    `json:"answers"`
}

// CarryOver feeds a screener answer into a slot ahead of a depth
// instrument's own answers when that instrument is scored.
type CarryOver struct {
	ScreenerQuestion *Question `json:"-"`
	QuestionCode     string    `json:"screener_question"`
	Slot             int       `json:"slot"`
}

type Instrument struct {
	ID      InstrumentID `json:"id"`
	URLName string       `json:"url_name"`
	Name    string       `json:"name"`
	// Threshold is the score at or below which the cascade ends after this
	// instrument. Only the screener has one.
	Threshold *int        `json:"threshold,omitempty"`
	CarryOver []CarryOver `json:"carry_over,omitempty"`
	Questions []*Question `json:"questions"`
}

// Session is one attempt at one instrument by one account.
type Session struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	AccountID    uuid.UUID    `db:"account_id" json:"account_id"`
	InstrumentID InstrumentID `db:"instrument_id" json:"instrument_id"`
	Current      bool         `db:"current" json:"current"`
	Complete     bool         `db:"complete" json:"complete"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
}

// SessionAnswer is the stored choice for one question within a session.
type SessionAnswer struct {
	SessionID  uuid.UUID `db:"session_id" json:"session_id"`
	QuestionID uuid.UUID `db:"question_id" json:"question_id"`
	AnswerID   uuid.UUID `db:"answer_id" json:"answer_id"`
	AnsweredAt time.Time `db:"answered_at" json:"answered_at"`
}

// AnsweredQuestion pairs a stored answer with its catalog entries.
type AnsweredQuestion struct {
	Question *Question
	Answer   *Answer
}

// CascadeState is where an account stands in the instrument sequence.
type CascadeState string

const (
	StateNotStarted                     CascadeState = "NOT_STARTED"
	StateScreenerInProgress             CascadeState = "SCREENER_IN_PROGRESS"
	StateScreenerCompleteBelowThreshold CascadeState = "SCREENER_COMPLETE_BELOW_THRESHOLD"
	StateDepthInProgress                CascadeState = "DEPTH_IN_PROGRESS"
	StateDepthComplete                  CascadeState = "DEPTH_COMPLETE"
	StateAborted                        CascadeState = "ABORTED"
)

// Terminal reports whether the cascade can produce a result in this state.
func (s CascadeState) Terminal() bool {
	return s == StateScreenerCompleteBelowThreshold || s == StateDepthComplete
}

// InstrumentResult is the scored outcome of one completed instrument.
type InstrumentResult struct {
	Instrument    InstrumentID        `json:"instrument"`
	SessionID     uuid.UUID           `json:"session_id"`
	Score         int                 `json:"score"`
	Level         RecommendationLevel `json:"level,omitempty"`
	Crisis        bool                `json:"crisis"`
	AnswerSummary string              `json:"answer_summary"`
}

// CascadeResult is derived on demand from an account's current completed
// sessions. Depth entries are nil when the screener ended the cascade; nil
// means "not applicable", never "scored zero".
type CascadeResult struct {
	AccountID      uuid.UUID           `json:"account_id"`
	State          CascadeState        `json:"state"`
	Recommendation RecommendationLevel `json:"recommendation"`
	Screener       InstrumentResult    `json:"screener"`
	Depression     *InstrumentResult   `json:"depression,omitempty"`
	Anxiety        *InstrumentResult   `json:"anxiety,omitempty"`
	Trauma         *InstrumentResult   `json:"trauma,omitempty"`
	Crisis         bool                `json:"crisis"`
}

// DepthResults returns the depth entries that are present, in cascade order.
func (r *CascadeResult) DepthResults() []*InstrumentResult {
	var out []*InstrumentResult
	for _, ir := range []*InstrumentResult{r.Depression, r.Anxiety, r.Trauma} {
		if ir != nil {
			out = append(out, ir)
		}
	}
	return out
}

// CascadeProgress tells a client which instrument to present next.
type CascadeProgress struct {
	AccountID   uuid.UUID                  `json:"account_id"`
	State       CascadeState               `json:"state"`
	Outstanding []InstrumentID             `json:"outstanding"`
	Sessions    map[InstrumentID]uuid.UUID `json:"sessions,omitempty"`
	Resolvable  bool                       `json:"resolvable"`
}

// Next returns the first outstanding instrument, if any.
func (p *CascadeProgress) Next() (InstrumentID, bool) {
	if len(p.Outstanding) == 0 {
		return "", false
	}
	return p.Outstanding[0], true
}
