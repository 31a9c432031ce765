package screening

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/domain/directory"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/alert"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/db"
)

// Service runs the session store operations and the cascade on top of a
// SessionRepository. Every mutation runs in its own transaction holding the
// (account, instrument) lock.
type Service struct {
	catalog  *Catalog
	sessions SessionRepository
	tx       db.Transactor
	accounts AccountDirectory
	notifier Notifier
	alerts   alert.Reporter
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(
	catalog *Catalog,
	sessions SessionRepository,
	tx db.Transactor,
	accounts AccountDirectory,
	notifier Notifier,
	alerts alert.Reporter,
	logger zerolog.Logger,
) *Service {
	return &Service{
		catalog:  catalog,
		sessions: sessions,
		tx:       tx,
		accounts: accounts,
		notifier: notifier,
		alerts:   alerts,
		logger:   logger.With().Str("component", "screening").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Catalog() *Catalog { return s.catalog }

// StartSession creates a new current session and clears the previous
// current one. Starting the screener restarts the whole cascade: the
// current flag is cleared on all four instruments. Complete flags are
// never touched.
func (s *Service) StartSession(ctx context.Context, accountID uuid.UUID, ref Identifier) (*Session, error) {
	if accountID == uuid.Nil {
		return nil, newValidationError("account_id", "is required")
	}
	inst, err := s.catalog.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if _, err := s.accounts.FindAccount(ctx, accountID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, newValidationError("account_id", "unknown account")
		}
		return nil, fmt.Errorf("find account: %w", err)
	}

	reset := []InstrumentID{inst.ID}
	if inst.ID == InstrumentScreener {
		reset = CascadeOrder
	}

	session := &Session{
		ID:           uuid.New(),
		AccountID:    accountID,
		InstrumentID: inst.ID,
		Current:      true,
		CreatedAt:    s.now(),
	}
	err = s.tx.WithinTx(ctx, db.TxOptions{}, func(ctx context.Context) error {
		for _, id := range reset {
			if err := s.sessions.Lock(ctx, accountID, id); err != nil {
				return err
			}
		}
		if err := s.sessions.ClearCurrent(ctx, accountID, reset); err != nil {
			return err
		}
		return s.sessions.Create(ctx, session)
	})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	s.logger.Info().
		Str("account_id", accountID.String()).
		Str("instrument", string(inst.ID)).
		Str("session_id", session.ID.String()).
		Msg("screening session started")
	return session, nil
}

// RecordAnswer stores the answer for one question of an incomplete
// session, replacing any earlier answer to the same question.
func (s *Service) RecordAnswer(ctx context.Context, sessionID, questionID, answerID uuid.UUID) (*SessionAnswer, error) {
	verr := &ValidationError{}
	if sessionID == uuid.Nil {
		verr.Add("session_id", "is required")
	}
	if questionID == uuid.Nil {
		verr.Add("question_id", "is required")
	}
	if answerID == uuid.Nil {
		verr.Add("answer_id", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	question, ok := s.catalog.Question(questionID)
	if !ok {
		return nil, newValidationError("question_id", "unknown question")
	}
	answer, ok := s.catalog.Answer(answerID)
	if !ok {
		return nil, newValidationError("answer_id", "unknown answer")
	}
	if answer.QuestionID != question.ID {
		return nil, newValidationError("answer_id", "does not belong to question "+question.Code)
	}

	record := &SessionAnswer{
		SessionID:  sessionID,
		QuestionID: question.ID,
		AnswerID:   answer.ID,
		AnsweredAt: s.now(),
	}
	err := s.tx.WithinTx(ctx, db.TxOptions{}, func(ctx context.Context) error {
		session, err := s.lockedSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if question.InstrumentID != session.InstrumentID {
			return newValidationError("question_id", fmt.Sprintf("question %s is not part of %s", question.Code, session.InstrumentID))
		}
		if session.Complete {
			return &InvalidStateError{SessionID: sessionID, Reason: "session is complete; answers are frozen"}
		}
		return s.sessions.SaveAnswer(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// CompleteSession marks a fully answered session complete. Completing it a
// second time is an InvalidStateError.
func (s *Service) CompleteSession(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	if sessionID == uuid.Nil {
		return nil, newValidationError("session_id", "is required")
	}

	var session *Session
	err := s.tx.WithinTx(ctx, db.TxOptions{}, func(ctx context.Context) error {
		var err error
		session, err = s.lockedSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Complete {
			return &InvalidStateError{SessionID: sessionID, Reason: "session is already complete"}
		}

		inst, _ := s.catalog.Instrument(session.InstrumentID)
		answers, err := s.sessions.ListAnswers(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(answers) < len(inst.Questions) {
			return newValidationError("session_id",
				fmt.Sprintf("%d of %d questions answered", len(answers), len(inst.Questions)))
		}

		at := s.now()
		changed, err := s.sessions.MarkComplete(ctx, sessionID, at)
		if err != nil {
			return err
		}
		if !changed {
			return &InvalidStateError{SessionID: sessionID, Reason: "session is already complete"}
		}
		session.Complete = true
		session.CompletedAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("account_id", session.AccountID.String()).
		Str("instrument", string(session.InstrumentID)).
		Str("session_id", sessionID.String()).
		Msg("screening session completed")
	return session, nil
}

// lockedSession loads a session, takes its key lock, and reloads it so the
// returned state cannot change until the transaction ends.
func (s *Service) lockedSession(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, newValidationError("session_id", "unknown session")
	}
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Lock(ctx, session.AccountID, session.InstrumentID); err != nil {
		return nil, err
	}
	return s.sessions.GetByID(ctx, sessionID)
}

func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, newValidationError("session_id", "unknown session")
	}
	return session, err
}

func (s *Service) ListSessions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	if accountID == uuid.Nil {
		return nil, 0, newValidationError("account_id", "is required")
	}
	return s.sessions.ListByAccount(ctx, accountID, limit, offset)
}

// FindCurrentSession returns the account's current session for an
// instrument, complete or not. found is false when there is none.
func (s *Service) FindCurrentSession(ctx context.Context, accountID uuid.UUID, ref Identifier) (*Session, bool, error) {
	return s.findCurrent(ctx, accountID, ref, s.sessions.FindCurrent)
}

// FindCurrentCompletedSession returns the account's current session for an
// instrument only if it is complete.
func (s *Service) FindCurrentCompletedSession(ctx context.Context, accountID uuid.UUID, ref Identifier) (*Session, bool, error) {
	return s.findCurrent(ctx, accountID, ref, s.sessions.FindCurrentCompleted)
}

func (s *Service) findCurrent(
	ctx context.Context,
	accountID uuid.UUID,
	ref Identifier,
	find func(context.Context, uuid.UUID, InstrumentID) (*Session, error),
) (*Session, bool, error) {
	if accountID == uuid.Nil {
		return nil, false, newValidationError("account_id", "is required")
	}
	inst, err := s.catalog.Resolve(ref)
	if err != nil {
		return nil, false, err
	}
	session, err := find(ctx, accountID, inst.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// FindAnswers returns a session's answers in question display order.
func (s *Service) FindAnswers(ctx context.Context, sessionID uuid.UUID) ([]*AnsweredQuestion, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	answers, err := s.answersFor(ctx, session)
	if err != nil {
		return nil, s.reportFatal(ctx, "find answers", err)
	}
	return answers, nil
}

func (s *Service) answersFor(ctx context.Context, session *Session) ([]*AnsweredQuestion, error) {
	rows, err := s.sessions.ListAnswers(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*AnsweredQuestion, 0, len(rows))
	for _, row := range rows {
		q, okQ := s.catalog.Question(row.QuestionID)
		a, okA := s.catalog.Answer(row.AnswerID)
		if !okQ || !okA || a.QuestionID != q.ID || q.InstrumentID != session.InstrumentID {
			return nil, &IntegrationFatalError{
				AccountID: session.AccountID,
				Reason:    fmt.Sprintf("session %s holds answer %s that is not in the %s catalog", session.ID, row.AnswerID, session.InstrumentID),
			}
		}
		out = append(out, &AnsweredQuestion{Question: q, Answer: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Question.DisplayOrder < out[j].Question.DisplayOrder })
	return out, nil
}

func (s *Service) loader(find func(context.Context, uuid.UUID, InstrumentID) (*Session, error), accountID uuid.UUID) sessionLoader {
	return func(ctx context.Context, instrument InstrumentID) (*loadedSession, error) {
		session, err := find(ctx, accountID, instrument)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		answers, err := s.answersFor(ctx, session)
		if err != nil {
			return nil, err
		}
		return &loadedSession{Session: session, Answers: answers}, nil
	}
}

// Resolve computes the account's cascade result from its current completed
// sessions, read from a single snapshot. A *NotResolvableError means the
// account still has instruments to complete.
func (s *Service) Resolve(ctx context.Context, accountID uuid.UUID) (*CascadeResult, error) {
	if accountID == uuid.Nil {
		return nil, newValidationError("account_id", "is required")
	}
	var result *CascadeResult
	err := s.tx.WithinTx(ctx, db.TxOptions{Snapshot: true, ReadOnly: true}, func(ctx context.Context) error {
		var err error
		result, err = resolveCascade(ctx, s.catalog, accountID, s.loader(s.sessions.FindCurrentCompleted, accountID))
		return err
	})
	if err != nil {
		return nil, s.reportFatal(ctx, "resolve", err)
	}
	return result, nil
}

// Progress reports where the account stands and which instruments are
// still outstanding.
func (s *Service) Progress(ctx context.Context, accountID uuid.UUID) (*CascadeProgress, error) {
	if accountID == uuid.Nil {
		return nil, newValidationError("account_id", "is required")
	}
	var progress *CascadeProgress
	err := s.tx.WithinTx(ctx, db.TxOptions{Snapshot: true, ReadOnly: true}, func(ctx context.Context) error {
		var err error
		progress, err = cascadeProgress(ctx, s.catalog, accountID, s.loader(s.sessions.FindCurrent, accountID))
		return err
	})
	if err != nil {
		return nil, s.reportFatal(ctx, "cascade progress", err)
	}
	return progress, nil
}

// FinishCascade completes every fully answered current session of the
// account, resolves the cascade, and commits. Only then, outside the
// transaction, does it notify crisis contacts if the result calls for it.
//
// A cascade that is still not resolvable after completion is an
// *IntegrationFatalError and nothing is committed. A failed notification
// returns the committed result together with a *NotificationDeliveryError.
func (s *Service) FinishCascade(ctx context.Context, accountID uuid.UUID) (*CascadeResult, error) {
	if accountID == uuid.Nil {
		return nil, newValidationError("account_id", "is required")
	}

	var result *CascadeResult
	err := s.tx.WithinTx(ctx, db.TxOptions{}, func(ctx context.Context) error {
		for _, id := range CascadeOrder {
			if err := s.sessions.Lock(ctx, accountID, id); err != nil {
				return err
			}
		}
		for _, id := range CascadeOrder {
			if err := s.completeIfAnswered(ctx, accountID, id); err != nil {
				return err
			}
		}

		var err error
		result, err = resolveCascade(ctx, s.catalog, accountID, s.loader(s.sessions.FindCurrentCompleted, accountID))
		var notResolvable *NotResolvableError
		if errors.As(err, &notResolvable) {
			return &IntegrationFatalError{
				AccountID: accountID,
				Reason:    "cascade finished before all required instruments were answered",
				Err:       err,
			}
		}
		return err
	})
	if err != nil {
		return nil, s.reportFatal(ctx, "finish cascade", err)
	}

	s.logger.Info().
		Str("account_id", accountID.String()).
		Str("state", string(result.State)).
		Str("recommendation", result.Recommendation.String()).
		Bool("crisis", result.Crisis).
		Msg("screening cascade finished")

	if !result.Crisis {
		return result, nil
	}
	if err := s.notifier.NotifyCrisis(ctx, accountID, result); err != nil {
		var delivery *NotificationDeliveryError
		if !errors.As(err, &delivery) {
			delivery = &NotificationDeliveryError{AccountID: accountID, Err: err}
		}
		s.logger.Error().Err(delivery).Str("account_id", accountID.String()).Msg("crisis notification failed")
		s.alerts.Report(ctx, alert.Alert{
			Kind:    alert.KindNotificationDelivery,
			Message: "crisis notification failed",
			Fields:  map[string]string{"account_id": accountID.String()},
			Err:     delivery,
		})
		return result, delivery
	}
	return result, nil
}

// reportFatal sends an *IntegrationFatalError found in err to operational
// alerting. err is returned unchanged.
func (s *Service) reportFatal(ctx context.Context, op string, err error) error {
	var fatal *IntegrationFatalError
	if !errors.As(err, &fatal) {
		return err
	}
	s.logger.Error().Err(err).
		Str("account_id", fatal.AccountID.String()).
		Str("operation", op).
		Msg("integration contract violated")
	s.alerts.Report(ctx, alert.Alert{
		Kind:    alert.KindIntegrationFatal,
		Message: op + " violated integration contract",
		Fields:  map[string]string{"account_id": fatal.AccountID.String(), "operation": op},
		Err:     err,
	})
	return err
}

// completeIfAnswered marks the current session complete when every
// question has an answer. Sessions that are missing or partly answered are
// left as they are.
func (s *Service) completeIfAnswered(ctx context.Context, accountID uuid.UUID, instrument InstrumentID) error {
	session, err := s.sessions.FindCurrent(ctx, accountID, instrument)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if session.Complete {
		return nil
	}
	inst, _ := s.catalog.Instrument(instrument)
	answers, err := s.sessions.ListAnswers(ctx, session.ID)
	if err != nil {
		return err
	}
	if len(answers) < len(inst.Questions) {
		return nil
	}
	_, err = s.sessions.MarkComplete(ctx, session.ID, s.now())
	return err
}
