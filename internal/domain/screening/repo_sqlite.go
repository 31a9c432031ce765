package screening

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/db"
)

type sessionRepoSQLite struct {
	db *sql.DB
}

// NewSessionRepoSQLite stores sessions in a local SQLite database opened
// with db.OpenSQLite. SQLite allows a single writer, so Lock only checks
// that a transaction is open.
func NewSessionRepoSQLite(sqlDB *sql.DB) SessionRepository {
	return &sessionRepoSQLite{db: sqlDB}
}

func (r *sessionRepoSQLite) conn(ctx context.Context) db.SQLQuerier {
	return db.SQLConn(ctx, r.db)
}

func (r *sessionRepoSQLite) Create(ctx context.Context, s *Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO screening_session (`+sessionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.AccountID.String(), string(s.InstrumentID), s.Current, s.Complete,
		s.CreatedAt.UTC(), utcOrNil(s.CompletedAt))
	if err != nil {
		return fmt.Errorf("create screening session: %w", err)
	}
	return nil
}

func (r *sessionRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return scanSessionSQL(r.conn(ctx).QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM screening_session WHERE id = ?`, id.String()))
}

func (r *sessionRepoSQLite) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	var total int
	if err := r.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM screening_session WHERE account_id = ?`, accountID.String()).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count screening sessions: %w", err)
	}

	rows, err := r.conn(ctx).QueryContext(ctx, `
		SELECT `+sessionCols+` FROM screening_session
		WHERE account_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`, accountID.String(), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list screening sessions: %w", err)
	}
	defer rows.Close()

	var items []*Session
	for rows.Next() {
		s, err := scanSessionSQL(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *sessionRepoSQLite) ClearCurrent(ctx context.Context, accountID uuid.UUID, instruments []InstrumentID) error {
	if len(instruments) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(instruments)+1)
	args = append(args, accountID.String())
	for _, id := range instruments {
		args = append(args, string(id))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(instruments)), ", ")
	_, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE screening_session SET current = 0
		WHERE account_id = ? AND instrument_id IN (`+placeholders+`) AND current = 1`, args...)
	if err != nil {
		return fmt.Errorf("clear current screening sessions: %w", err)
	}
	return nil
}

func (r *sessionRepoSQLite) MarkComplete(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE screening_session SET complete = 1, completed_at = ?
		WHERE id = ? AND complete = 0`, at.UTC(), id.String())
	if err != nil {
		return false, fmt.Errorf("complete screening session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *sessionRepoSQLite) FindCurrent(ctx context.Context, accountID uuid.UUID, instrument InstrumentID) (*Session, error) {
	return scanSessionSQL(r.conn(ctx).QueryRowContext(ctx, `
		SELECT `+sessionCols+` FROM screening_session
		WHERE account_id = ? AND instrument_id = ? AND current = 1`, accountID.String(), string(instrument)))
}

func (r *sessionRepoSQLite) FindCurrentCompleted(ctx context.Context, accountID uuid.UUID, instrument InstrumentID) (*Session, error) {
	return scanSessionSQL(r.conn(ctx).QueryRowContext(ctx, `
		SELECT `+sessionCols+` FROM screening_session
		WHERE account_id = ? AND instrument_id = ? AND current = 1 AND complete = 1`, accountID.String(), string(instrument)))
}

func (r *sessionRepoSQLite) SaveAnswer(ctx context.Context, a *SessionAnswer) error {
	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO screening_session_answer (session_id, question_id, answer_id, answered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, question_id)
		DO UPDATE SET answer_id = excluded.answer_id, answered_at = excluded.answered_at`,
		a.SessionID.String(), a.QuestionID.String(), a.AnswerID.String(), a.AnsweredAt.UTC())
	if err != nil {
		return fmt.Errorf("save screening answer: %w", err)
	}
	return nil
}

func (r *sessionRepoSQLite) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]*SessionAnswer, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, `
		SELECT session_id, question_id, answer_id, answered_at
		FROM screening_session_answer WHERE session_id = ?`, sessionID.String())
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

func (r *sessionRepoSQLite) Lock(ctx context.Context, _ uuid.UUID, _ InstrumentID) error {
	if db.SQLTxFromContext(ctx) == nil {
		return errors.New("screening lock requires a transaction")
	}
	return nil
}

func scanSessionSQL(row interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		s          Session
		instrument string
	)
	err := row.Scan(&s.ID, &s.AccountID, &instrument, &s.Current, &s.Complete, &s.CreatedAt, &s.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.InstrumentID = InstrumentID(instrument)
	return &s, nil
}

func utcOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
