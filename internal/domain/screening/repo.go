package screening

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionRepository persists sessions and their answers. Lookups return
// ErrNotFound when nothing matches. Mutations are expected to run inside a
// transaction that already holds Lock for the session's key.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Session, int, error)

	// ClearCurrent drops the current flag on the account's sessions for the
	// given instruments. Complete flags are left alone.
	ClearCurrent(ctx context.Context, accountID uuid.UUID, instruments []InstrumentID) error
	// MarkComplete reports false when the session was already complete.
	MarkComplete(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	FindCurrent(ctx context.Context, accountID uuid.UUID, instrument InstrumentID) (*Session, error)
	FindCurrentCompleted(ctx context.Context, accountID uuid.UUID, instrument InstrumentID) (*Session, error)

	// SaveAnswer keeps one answer per (session, question); a second call
	// for the same question replaces the first.
	SaveAnswer(ctx context.Context, a *SessionAnswer) error
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]*SessionAnswer, error)

	// Lock serializes mutations for one (account, instrument) key until the
	// enclosing transaction ends.
	Lock(ctx context.Context, accountID uuid.UUID, instrument InstrumentID) error
}

func lockKey(accountID uuid.UUID, instrument InstrumentID) string {
	return "screening:" + accountID.String() + ":" + string(instrument)
}
