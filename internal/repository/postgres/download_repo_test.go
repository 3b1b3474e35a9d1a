package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/model"
)

var downloadCols = []string{"file_name", "file_path", "app_id", "user_id", "device_id", "created_at", "expires_at"}

func sampleDownload() *model.Download {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &model.Download{
		FileName:  "0123456789abcdef0123456789abcdef.appkg",
		FilePath:  "0123456789abcdef0123456789abcdef.gen2.appkg",
		AppID:     uuid.Must(uuid.NewV4()),
		UserID:    uuid.Must(uuid.NewV4()),
		DeviceID:  "dev-1",
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Minute),
	}
}

func expectUpsert(mock pgxmock.PgxPoolIface, d *model.Download) {
	mock.ExpectExec(sqlRe(upsertDownloadSQL)).
		WithArgs(d.FileName, d.FilePath, d.AppID, d.UserID, d.DeviceID, d.CreatedAt, d.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestDownloadRepo_Upsert_New(t *testing.T) {
	db, mock := newDB(t)
	r := NewDownloadRepo(db)
	d := sampleDownload()

	mock.ExpectBegin()
	mock.ExpectQuery(sqlRe(lockDownloadSQL)).WithArgs(d.FileName).WillReturnError(pgx.ErrNoRows)
	expectUpsert(mock, d)
	mock.ExpectCommit()

	prev, err := r.Upsert(context.Background(), d)
	require.NoError(t, err)
	require.Empty(t, prev)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownloadRepo_Upsert_ReturnsSuperseded(t *testing.T) {
	db, mock := newDB(t)
	r := NewDownloadRepo(db)
	d := sampleDownload()

	mock.ExpectBegin()
	mock.ExpectQuery(sqlRe(lockDownloadSQL)).WithArgs(d.FileName).
		WillReturnRows(pgxmock.NewRows([]string{"file_path"}).AddRow("old.gen1.appkg"))
	expectUpsert(mock, d)
	mock.ExpectCommit()

	prev, err := r.Upsert(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, "old.gen1.appkg", prev)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownloadRepo_GetTake(t *testing.T) {
	db, mock := newDB(t)
	r := NewDownloadRepo(db)
	d := sampleDownload()
	ctx := context.Background()
	row := []any{d.FileName, d.FilePath, d.AppID, d.UserID, d.DeviceID, d.CreatedAt, d.ExpiresAt}

	mock.ExpectQuery(sqlRe(getDownloadSQL)).WithArgs(d.FileName).
		WillReturnRows(pgxmock.NewRows(downloadCols).AddRow(row...))
	got, err := r.Get(ctx, d.FileName)
	require.NoError(t, err)
	require.Equal(t, *d, *got)

	now := d.CreatedAt.Add(time.Minute)
	mock.ExpectQuery(sqlRe(takeDownloadSQL)).WithArgs(d.FileName, now).
		WillReturnRows(pgxmock.NewRows(downloadCols).AddRow(row...))
	got, err = r.Take(ctx, d.FileName, now)
	require.NoError(t, err)
	require.Equal(t, d.FilePath, got.FilePath)

	mock.ExpectQuery(sqlRe(takeDownloadSQL)).WithArgs(d.FileName, now).WillReturnError(pgx.ErrNoRows)
	_, err = r.Take(ctx, d.FileName, now)
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownloadRepo_DeleteExpiredAndPaths(t *testing.T) {
	db, mock := newDB(t)
	r := NewDownloadRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(sqlRe(deleteExpiredSQL)).WithArgs(now).
		WillReturnRows(pgxmock.NewRows([]string{"file_path"}).AddRow("a.appkg").AddRow("b.appkg"))
	paths, err := r.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, []string{"a.appkg", "b.appkg"}, paths)

	mock.ExpectQuery(sqlRe(downloadPathsSQL)).
		WillReturnRows(pgxmock.NewRows([]string{"file_path"}).AddRow("c.appkg"))
	paths, err = r.Paths(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"c.appkg"}, paths)

	require.NoError(t, mock.ExpectationsWereMet())
}
