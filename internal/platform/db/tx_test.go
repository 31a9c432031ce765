package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `CREATE TABLE item (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`

func countItems(t *testing.T, ctx context.Context, q SQLQuerier) int {
	t.Helper()
	var n int
	require.NoError(t, q.QueryRowContext(ctx, `SELECT COUNT(*) FROM item`).Scan(&n))
	return n
}

func TestSQLTransactor_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := OpenSQLite(ctx, ":memory:", testSchema)
	require.NoError(t, err)
	defer sqlDB.Close()

	tr := NewSQLTransactor(sqlDB)
	err = tr.WithinTx(ctx, TxOptions{}, func(ctx context.Context) error {
		require.NotNil(t, SQLTxFromContext(ctx))
		_, err := SQLConn(ctx, sqlDB).ExecContext(ctx, `INSERT INTO item (name) VALUES ('a')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countItems(t, ctx, sqlDB))
}

func TestSQLTransactor_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := OpenSQLite(ctx, ":memory:", testSchema)
	require.NoError(t, err)
	defer sqlDB.Close()

	boom := errors.New("boom")
	err = NewSQLTransactor(sqlDB).WithinTx(ctx, TxOptions{}, func(ctx context.Context) error {
		if _, err := SQLConn(ctx, sqlDB).ExecContext(ctx, `INSERT INTO item (name) VALUES ('a')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countItems(t, ctx, sqlDB))
}

func TestSQLTransactor_NestedCallsJoinOuterTx(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := OpenSQLite(ctx, ":memory:", testSchema)
	require.NoError(t, err)
	defer sqlDB.Close()

	tr := NewSQLTransactor(sqlDB)
	err = tr.WithinTx(ctx, TxOptions{}, func(outer context.Context) error {
		return tr.WithinTx(outer, TxOptions{Snapshot: true}, func(inner context.Context) error {
			assert.Same(t, SQLTxFromContext(outer), SQLTxFromContext(inner))
			_, err := SQLConn(inner, sqlDB).ExecContext(inner, `INSERT INTO item (name) VALUES ('b')`)
			return err
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countItems(t, ctx, sqlDB))
}

func TestAdvisoryXactLock_RequiresTx(t *testing.T) {
	err := AdvisoryXactLock(context.Background(), "account:instrument")
	assert.Error(t, err)
}

func TestTxFromContext_Empty(t *testing.T) {
	assert.Nil(t, TxFromContext(context.Background()))
	assert.Nil(t, SQLTxFromContext(context.Background()))
}
