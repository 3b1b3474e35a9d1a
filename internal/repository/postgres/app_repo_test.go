package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &DB{Pool: mock}, mock
}

func sqlRe(q string) string { return regexp.QuoteMeta(q) }

var appCols = []string{"id", "app_id", "architecture", "version", "name", "vendor", "category_id",
	"is_top_app", "description", "tags", "digest", "package_file", "icon_file", "created_at", "updated_at"}

func sampleApp() *model.App {
	return &model.App{
		ID:           uuid.Must(uuid.NewV4()),
		AppID:        "com.acme.app",
		Architecture: "arm64",
		Version:      "1.0",
		Name:         "Acme App",
		Vendor:       "Acme",
		CategoryID:   3,
		Tags:         []string{"acme", "app"},
		Digest:       []byte{1, 2, 3},
		PackageFile:  "com.acme.app+arm64.0102030405060708.appkg",
		IconFile:     "com.acme.app+arm64.0102030405060708.png",
	}
}

func appRow(a *model.App, ts time.Time) []any {
	return []any{a.ID, a.AppID, a.Architecture, a.Version, a.Name, a.Vendor, a.CategoryID,
		a.IsTopApp, a.Description, a.Tags, a.Digest, a.PackageFile, a.IconFile, ts, ts}
}

func TestAppRepo_Create_RunsHookInsideTx(t *testing.T) {
	db, mock := newDB(t)
	r := NewAppRepo(db)
	a := sampleApp()
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(sqlRe(insertAppSQL)).
		WithArgs(appArgs(a)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(ts, ts))
	mock.ExpectCommit()

	called := false
	require.NoError(t, r.Create(context.Background(), a, func() error { called = true; return nil }))
	require.True(t, called)
	require.Equal(t, ts, a.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppRepo_Create_HookFailureRollsBack(t *testing.T) {
	db, mock := newDB(t)
	r := NewAppRepo(db)
	a := sampleApp()
	ts := time.Now()
	hookErr := errors.New("icon write failed")

	mock.ExpectBegin()
	mock.ExpectQuery(sqlRe(insertAppSQL)).
		WithArgs(appArgs(a)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(ts, ts))
	mock.ExpectRollback()

	err := r.Create(context.Background(), a, func() error { return hookErr })
	require.ErrorIs(t, err, hookErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppRepo_Create_Duplicate(t *testing.T) {
	db, mock := newDB(t)
	r := NewAppRepo(db)
	a := sampleApp()

	mock.ExpectBegin()
	mock.ExpectQuery(sqlRe(insertAppSQL)).
		WithArgs(appArgs(a)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "apps_identity_key"})
	mock.ExpectRollback()

	hookCalled := false
	err := r.Create(context.Background(), a, func() error { hookCalled = true; return nil })
	require.ErrorIs(t, err, errs.ErrDuplicateIdentity)
	require.False(t, hookCalled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppRepo_Update_NotFound(t *testing.T) {
	db, mock := newDB(t)
	r := NewAppRepo(db)
	a := sampleApp()

	mock.ExpectBegin()
	mock.ExpectQuery(sqlRe(updateAppSQL)).
		WithArgs(appArgs(a)...).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	require.ErrorIs(t, r.Update(context.Background(), a, nil), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppRepo_Update_OK(t *testing.T) {
	db, mock := newDB(t)
	r := NewAppRepo(db)
	a := sampleApp()
	a.Version = "2.0"
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(sqlRe(updateAppSQL)).
		WithArgs(appArgs(a)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, updated))
	mock.ExpectCommit()

	require.NoError(t, r.Update(context.Background(), a, nil))
	require.Equal(t, updated, a.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppRepo_GetAndFind(t *testing.T) {
	db, mock := newDB(t)
	r := NewAppRepo(db)
	a := sampleApp()
	ts := time.Now().UTC()
	ctx := context.Background()

	mock.ExpectQuery(sqlRe(getAppSQL)).WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows(appCols).AddRow(appRow(a, ts)...))
	got, err := r.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.AppID, got.AppID)
	require.Equal(t, a.Tags, got.Tags)
	require.Equal(t, int64(3), got.CategoryID)

	mock.ExpectQuery(sqlRe(getAppByIdentSQL)).WithArgs("com.acme.app", "x86_64").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.FindByIdentity(ctx, "com.acme.app", "x86_64")
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(sqlRe(deleteAppSQL)).WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows(appCols).AddRow(appRow(a, ts)...))
	del, err := r.Delete(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.PackageFile, del.PackageFile)

	mock.ExpectQuery(sqlRe(latestInCategorySQL)).WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.LatestInCategory(ctx, 9)
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppRepo_List(t *testing.T) {
	db, mock := newDB(t)
	r := NewAppRepo(db)
	a, b := sampleApp(), sampleApp()
	b.Architecture = "x86_64"
	ts := time.Now().UTC()

	mock.ExpectQuery(sqlRe(listAppsSQL)).
		WithArgs(int64(0), true, `%50\%\_off%`).
		WillReturnRows(pgxmock.NewRows(appCols).AddRow(appRow(a, ts)...).AddRow(appRow(b, ts)...))

	got, err := r.List(context.Background(), model.AppFilter{TopOnly: true, Name: "50%_off"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "x86_64", got[1].Architecture)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLikePattern(t *testing.T) {
	require.Equal(t, "", likePattern(""))
	require.Equal(t, "%acme%", likePattern("acme"))
	require.Equal(t, `%a\\b%`, likePattern(`a\b`))
}
