package screening

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/db"
)

type sessionRepoPG struct {
	pool *pgxpool.Pool
}

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepoPG{pool: pool}
}

func (r *sessionRepoPG) conn(ctx context.Context) db.Querier {
	return db.PGConn(ctx, r.pool)
}

const sessionCols = `id, account_id, instrument_id, current, complete, created_at, completed_at`

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO screening_session (`+sessionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.AccountID, string(s.InstrumentID), s.Current, s.Complete, s.CreatedAt, s.CompletedAt)
	if err != nil {
		return fmt.Errorf("create screening session: %w", err)
	}
	return nil
}

func (r *sessionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return scanSessionPG(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sessionCols+` FROM screening_session WHERE id = $1`, id))
}

func (r *sessionRepoPG) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM screening_session WHERE account_id = $1`, accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count screening sessions: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+sessionCols+` FROM screening_session
		WHERE account_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list screening sessions: %w", err)
	}
	defer rows.Close()

	var items []*Session
	for rows.Next() {
		s, err := scanSessionPG(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *sessionRepoPG) ClearCurrent(ctx context.Context, accountID uuid.UUID, instruments []InstrumentID) error {
	ids := make([]string, len(instruments))
	for i, id := range instruments {
		ids[i] = string(id)
	}
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE screening_session SET current = FALSE
		WHERE account_id = $1 AND instrument_id = ANY($2) AND current`, accountID, ids)
	if err != nil {
		return fmt.Errorf("clear current screening sessions: %w", err)
	}
	return nil
}

func (r *sessionRepoPG) MarkComplete(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE screening_session SET complete = TRUE, completed_at = $2
		WHERE id = $1 AND NOT complete`, id, at)
	if err != nil {
		return false, fmt.Errorf("complete screening session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *sessionRepoPG) FindCurrent(ctx context.Context, accountID uuid.UUID, instrument InstrumentID) (*Session, error) {
	return scanSessionPG(r.conn(ctx).QueryRow(ctx, `
		SELECT `+sessionCols+` FROM screening_session
		WHERE account_id = $1 AND instrument_id = $2 AND current`, accountID, string(instrument)))
}

func (r *sessionRepoPG) FindCurrentCompleted(ctx context.Context, accountID uuid.UUID, instrument InstrumentID) (*Session, error) {
	return scanSessionPG(r.conn(ctx).QueryRow(ctx, `
		SELECT `+sessionCols+` FROM screening_session
		WHERE account_id = $1 AND instrument_id = $2 AND current AND complete`, accountID, string(instrument)))
}

func (r *sessionRepoPG) SaveAnswer(ctx context.Context, a *SessionAnswer) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO screening_session_answer (session_id, question_id, answer_id, answered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, question_id)
		DO UPDATE SET answer_id = EXCLUDED.answer_id, answered_at = EXCLUDED.answered_at`,
		a.SessionID, a.QuestionID, a.AnswerID, a.AnsweredAt)
	if err != nil {
		return fmt.Errorf("save screening answer: %w", err)
	}
	return nil
}

func (r *sessionRepoPG) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]*SessionAnswer, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT session_id, question_id, answer_id, answered_at
		FROM screening_session_answer WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list screening answers: %w", err)
	}
	defer rows.Close()

	var items []*SessionAnswer
	for rows.Next() {
		var a SessionAnswer
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.AnswerID, &a.AnsweredAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}

func (r *sessionRepoPG) Lock(ctx context.Context, accountID uuid.UUID, instrument InstrumentID) error {
	return db.AdvisoryXactLock(ctx, lockKey(accountID, instrument))
}

func scanSessionPG(row pgx.Row) (*Session, error) {
	var (
		s          Session
		instrument string
	)
	err := row.Scan(&s.ID, &s.AccountID, &instrument, &s.Current, &s.Complete, &s.CreatedAt, &s.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.InstrumentID = InstrumentID(instrument)
	return &s, nil
}
