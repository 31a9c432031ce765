package screening

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// loadedSession is a session with its answers mapped
// onto the catalog and sorted by question display order.
type loadedSession struct {
	Session *Session
	Answers []*AnsweredQuestion
}

// sessionLoader returns the current session for one instrument, or nil when
// there is none. resolveCascade expects it to return complete sessions only.
type sessionLoader func(ctx context.Context, instrument InstrumentID) (*loadedSession, error)

// resolveCascade walks the instrument sequence for one account. It only
// loads depth sessions when the screener score requires them.
func resolveCascade(ctx context.Context, catalog *Catalog, accountID uuid.UUID, load sessionLoader) (*CascadeResult, error) {
	screenerInst, _ := catalog.Instrument(InstrumentScreener)

	screener, err := load(ctx, InstrumentScreener)
	if err != nil {
		return nil, err
	}
	if screener == nil {
		return nil, &NotResolvableError{
			AccountID:   accountID,
			State:       StateAborted,
			Outstanding: []InstrumentID{InstrumentScreener},
		}
	}

	screenerAnswers := answersOf(screener.Answers)
	screenerScore := Score(screenerAnswers)
	result := &CascadeResult{
		AccountID: accountID,
		Screener: InstrumentResult{
			Instrument:    InstrumentScreener,
			SessionID:     screener.Session.ID,
			Score:         screenerScore,
			Crisis:        DetectCrisis(screenerAnswers),
			AnswerSummary: AnswerSummary(screenerAnswers),
		},
	}

	if screenerScore <= *screenerInst.Threshold {
		level, _ := Classify(screenerInst, screenerScore)
		result.State = StateScreenerCompleteBelowThreshold
		result.Recommendation = level
		result.Screener.Level = level
		result.Crisis = result.Screener.Crisis
		return result, nil
	}

	var outstanding []InstrumentID
	depth := make(map[InstrumentID]*InstrumentResult, len(DepthInstruments))
	for _, id := range DepthInstruments {
		cs, err := load(ctx, id)
		if err != nil {
			return nil, err
		}
		if cs == nil {
			outstanding = append(outstanding, id)
			continue
		}
		inst, _ := catalog.Instrument(id)
		ir, err := scoreDepth(inst, screener, cs)
		if err != nil {
			return nil, &IntegrationFatalError{AccountID: accountID, Reason: "score " + string(id), Err: err}
		}
		depth[id] = ir
	}
	if len(outstanding) > 0 {
		return nil, &NotResolvableError{AccountID: accountID, State: StateAborted, Outstanding: outstanding}
	}

	result.State = StateDepthComplete
	result.Crisis = result.Screener.Crisis
	result.Depression = depth[InstrumentDepthDepression]
	result.Anxiety = depth[InstrumentDepthAnxiety]
	result.Trauma = depth[InstrumentTrauma]
	for _, ir := range result.DepthResults() {
		result.Recommendation = Max(result.Recommendation, ir.Level)
		result.Crisis = result.Crisis || ir.Crisis
	}
	return result, nil
}

// scoreDepth scores a depth instrument over its carried screener answers
// followed by its own answers.
func scoreDepth(inst *Instrument, screener, cs *loadedSession) (*InstrumentResult, error) {
	carried := make([]*Answer, 0, len(inst.CarryOver))
	for _, co := range inst.CarryOver {
		a := findAnswer(screener.Answers, co.ScreenerQuestion.ID)
		if a == nil {
			return nil, fmt.Errorf("screener session %s has no answer for %s", screener.Session.ID, co.ScreenerQuestion.Code)
		}
		carried = append(carried, a)
	}
	answers := append(carried, answersOf(cs.Answers)...)

	score := Score(answers)
	level, ok := Classify(inst, score)
	if !ok {
		return nil, fmt.Errorf("score %d outside classification bands", score)
	}
	return &InstrumentResult{
		Instrument:    inst.ID,
		SessionID:     cs.Session.ID,
		Score:         score,
		Level:         level,
		Crisis:        DetectCrisis(answers),
		AnswerSummary: AnswerSummary(answers),
	}, nil
}

func answersOf(aqs []*AnsweredQuestion) []*Answer {
	out := make([]*Answer, len(aqs))
	for i, aq := range aqs {
		out[i] = aq.Answer
	}
	return out
}

func findAnswer(aqs []*AnsweredQuestion, questionID uuid.UUID) *Answer {
	for _, aq := range aqs {
		if aq.Question.ID == questionID {
			return aq.Answer
		}
	}
	return nil
}

// cascadeProgress reports where an account stands without requiring the
// cascade to be resolvable.
func cascadeProgress(ctx context.Context, catalog *Catalog, accountID uuid.UUID, load sessionLoader) (*CascadeProgress, error) {
	p, err := progressOf(ctx, catalog, accountID, load)
	if err != nil {
		return nil, err
	}
	p.Resolvable = p.State.Terminal()
	return p, nil
}

func progressOf(ctx context.Context, catalog *Catalog, accountID uuid.UUID, load sessionLoader) (*CascadeProgress, error) {
	p := &CascadeProgress{AccountID: accountID, Sessions: make(map[InstrumentID]uuid.UUID)}

	screener, err := load(ctx, InstrumentScreener)
	if err != nil {
		return nil, err
	}
	if screener == nil {
		p.State = StateNotStarted
		p.Outstanding = []InstrumentID{InstrumentScreener}
		return p, nil
	}
	p.Sessions[InstrumentScreener] = screener.Session.ID
	if !screener.Session.Complete {
		p.State = StateScreenerInProgress
		p.Outstanding = []InstrumentID{InstrumentScreener}
		return p, nil
	}

	inst, _ := catalog.Instrument(InstrumentScreener)
	if Score(answersOf(screener.Answers)) <= *inst.Threshold {
		p.State = StateScreenerCompleteBelowThreshold
		p.Outstanding = []InstrumentID{}
		return p, nil
	}

	p.Outstanding = []InstrumentID{}
	for _, id := range DepthInstruments {
		cs, err := load(ctx, id)
		if err != nil {
			return nil, err
		}
		if cs != nil {
			p.Sessions[id] = cs.Session.ID
		}
		if cs == nil || !cs.Session.Complete {
			p.Outstanding = append(p.Outstanding, id)
		}
	}
	if len(p.Outstanding) == 0 {
		p.State = StateDepthComplete
	} else {
		p.State = StateDepthInProgress
	}
	return p, nil
}
