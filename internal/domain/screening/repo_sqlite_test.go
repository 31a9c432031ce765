package screening

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/domain/directory"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/alert"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/db"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/phone"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/migrations"
)

type sqliteFixture struct {
	svc       *Service
	repo      SessionRepository
	notifier  *fakeNotifier
	alerts    *recordingReporter
	accountID uuid.UUID
}

func newSQLiteFixture(t *testing.T) *sqliteFixture {
	t.Helper()
	ctx := context.Background()

	sqlDB, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "screening.db"), migrations.SQLiteSchema)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	dir := directory.NewService(directory.NewRepoSQLite(sqlDB), phone.NewFormatter("US"))
	inst := &directory.Institution{Name: "Penn"}
	require.NoError(t, dir.CreateInstitution(ctx, inst))
	acct := &directory.Account{InstitutionID: inst.ID}
	require.NoError(t, dir.CreateAccount(ctx, acct))

	f := &sqliteFixture{
		repo:      NewSessionRepoSQLite(sqlDB),
		notifier:  &fakeNotifier{},
		alerts:    &recordingReporter{},
		accountID: acct.ID,
	}
	f.svc = NewService(testCatalog(t), f.repo, db.NewSQLTransactor(sqlDB), dir, f.notifier, f.alerts, zerolog.Nop())
	return f
}

func (f *sqliteFixture) answer(t *testing.T, instrument InstrumentID, points ...int) *Session {
	t.Helper()
	ctx := context.Background()
	s, err := f.svc.StartSession(ctx, f.accountID, ByID(instrument))
	require.NoError(t, err)
	inst, _ := f.svc.Catalog().Instrument(instrument)
	for i, p := range points {
		q := inst.Questions[i]
		_, err := f.svc.RecordAnswer(ctx, s.ID, q.ID, answerWithPoints(t, q, p).ID)
		require.NoError(t, err)
	}
	return s
}

func TestSessionRepoSQLite_RoundTrip(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()

	s := f.answer(t, InstrumentScreener, 1, 2)
	got, err := f.repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, f.accountID, got.AccountID)
	assert.Equal(t, InstrumentScreener, got.InstrumentID)
	assert.True(t, got.Current)
	assert.False(t, got.Complete)
	assert.Nil(t, got.CompletedAt)
	assert.WithinDuration(t, s.CreatedAt, got.CreatedAt, time.Second)

	answers, err := f.svc.FindAnswers(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, "phq4.q1", answers[0].Question.Code)
	assert.Equal(t, 2, answers[1].Answer.Points)

	_, err = f.repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionRepoSQLite_UpsertAndFreeze(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()

	s := f.answer(t, InstrumentTrauma, 0, 0, 0, 0, 0)
	q, _ := f.svc.Catalog().QuestionByCode("pcptsd.q1")
	_, err := f.svc.RecordAnswer(ctx, s.ID, q.ID, answerWithPoints(t, q, 1).ID)
	require.NoError(t, err)

	rows, err := f.repo.ListAnswers(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 5, "re-answering must replace, not add")

	_, err = f.svc.CompleteSession(ctx, s.ID)
	require.NoError(t, err)

	_, err = f.svc.CompleteSession(ctx, s.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	// The schema refuses writes to a complete session even if the service
	// check is bypassed.
	err = f.svc.tx.WithinTx(ctx, db.TxOptions{}, func(ctx context.Context) error {
		return f.repo.SaveAnswer(ctx, &SessionAnswer{SessionID: s.ID, QuestionID: q.ID, AnswerID: q.Answers[0].ID, AnsweredAt: time.Now()})
	})
	assert.Error(t, err)

	done, found, err := f.svc.FindCurrentCompletedSession(ctx, f.accountID, ByID(InstrumentTrauma))
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, done.CompletedAt)
}

func TestSessionRepoSQLite_LockNeedsTransaction(t *testing.T) {
	f := newSQLiteFixture(t)
	assert.Error(t, f.repo.Lock(context.Background(), f.accountID, InstrumentScreener))
}

func TestSessionRepoSQLite_RestartKeepsOneCurrent(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()

	first := f.answer(t, InstrumentScreener)
	f.answer(t, InstrumentDepthAnxiety)
	second := f.answer(t, InstrumentScreener)

	current, found, err := f.svc.FindCurrentSession(ctx, f.accountID, ByID(InstrumentScreener))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second.ID, current.ID)

	_, found, err = f.svc.FindCurrentSession(ctx, f.accountID, ByID(InstrumentDepthAnxiety))
	require.NoError(t, err)
	assert.False(t, found, "restarting the screener clears depth sessions")

	old, err := f.repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.Current)

	items, total, err := f.svc.ListSessions(ctx, f.accountID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 3)
}

func TestSessionRepoSQLite_FinishCascade(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()

	f.answer(t, InstrumentScreener, 1, 1, 2, 2)
	f.answer(t, InstrumentDepthDepression, 2, 2, 1, 1, 1, 1, 0)
	f.answer(t, InstrumentDepthAnxiety, 1, 1, 0, 0, 0)
	f.answer(t, InstrumentTrauma, 1, 0, 0, 0, 0)

	result, err := f.svc.FinishCascade(ctx, f.accountID)
	require.NoError(t, err)
	assert.Equal(t, StateDepthComplete, result.State)
	assert.Equal(t, LevelClinician, result.Recommendation)
	assert.Equal(t, "2-2-2-2-1-1-1-1-0", result.Depression.AnswerSummary)
	assert.False(t, result.Crisis)

	resolved, err := f.svc.Resolve(ctx, f.accountID)
	require.NoError(t, err)
	assert.Equal(t, result, resolved)
}

func TestSessionRepoSQLite_FinishCascadeRollsBack(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()

	screener := f.answer(t, InstrumentScreener, 3, 3, 3, 2)

	_, err := f.svc.FinishCascade(ctx, f.accountID)
	require.ErrorIs(t, err, ErrIntegrationFatal)
	assert.Equal(t, []alert.Kind{alert.KindIntegrationFatal}, f.alerts.kinds())

	got, err := f.repo.GetByID(ctx, screener.ID)
	require.NoError(t, err)
	assert.False(t, got.Complete, "screener completion must roll back with the failed finish")

	p, err := f.svc.Progress(ctx, f.accountID)
	require.NoError(t, err)
	assert.Equal(t, StateScreenerInProgress, p.State)
}
