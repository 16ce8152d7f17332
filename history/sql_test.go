package history

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scribetest "github.com/teranos/scribe/internal/testing"
)

func TestSQLRepository_AppendPruneList(t *testing.T) {
	repo := NewSQLRepository(scribetest.CreateTestDB(t), nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Append(ctx, sampleRecord(id, "completed")))
	}
	require.NoError(t, repo.Append(ctx, sampleRecord("d", "failed")))

	records, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "a", records[0].ID)
	require.NotNil(t, records[0].ResultPath)
	assert.Nil(t, records[3].ResultPath)
	assert.Equal(t, sampleRecord("a", "completed").CreatedAt.String(), records[0].CreatedAt.String())

	require.NoError(t, repo.Prune(ctx, []string{"c", "d"}))
	records, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "d", records[1].ID)

	require.NoError(t, repo.Prune(ctx, nil))
	records, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	// Borrowed connection stays open.
	require.NoError(t, repo.Close())
	require.NoError(t, repo.Append(ctx, sampleRecord("e", "completed")))
}

func TestSQLRepository_AppendError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("INSERT INTO job_history").
		WithArgs("a", "completed", 1.0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))

	repo := NewSQLRepository(conn, nil)
	err = repo.Append(context.Background(), sampleRecord("a", "completed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert history record a")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_PruneRollsBackOnError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM job_history WHERE id NOT IN").
		WithArgs("keep").
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	repo := NewSQLRepository(conn, nil)
	err = repo.Prune(context.Background(), []string{"keep"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to prune history")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_ListBadTimestamp(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	rows := sqlmock.NewRows([]string{"id", "status", "progress", "result_path", "created_at", "updated_at"}).
		AddRow("a", "completed", 1.0, nil, "not-a-time", "2026-03-14T09:26:53.000000Z")
	mock.ExpectQuery("SELECT id, status, progress").WillReturnRows(rows)

	repo := NewSQLRepository(conn, nil)
	_, err = repo.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid history timestamp")
}
