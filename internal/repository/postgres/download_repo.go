package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/model"
)

// DownloadRepo implements DownloadRepository using PostgreSQL.
type DownloadRepo struct{ db *DB }

// NewDownloadRepo constructs a download repository.
func NewDownloadRepo(db *DB) *DownloadRepo { return &DownloadRepo{db: db} }

const downloadColumns = `file_name, file_path, app_id, user_id, device_id, created_at, expires_at`

const (
	lockDownloadSQL   = `SELECT file_path FROM downloads WHERE file_name=$1 FOR UPDATE`
	upsertDownloadSQL = `
INSERT INTO downloads (` + downloadColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (file_name) DO UPDATE SET
    file_path=EXCLUDED.file_path, app_id=EXCLUDED.app_id, user_id=EXCLUDED.user_id,
    device_id=EXCLUDED.device_id, created_at=EXCLUDED.created_at, expires_at=EXCLUDED.expires_at`
	getDownloadSQL   = `SELECT ` + downloadColumns + ` FROM downloads WHERE file_name=$1`
	takeDownloadSQL  = `DELETE FROM downloads WHERE file_name=$1 AND expires_at > $2 RETURNING ` + downloadColumns
	deleteExpiredSQL = `DELETE FROM downloads WHERE expires_at <= $1 RETURNING file_path`
	downloadPathsSQL = `SELECT file_path FROM downloads`
)

// Upsert records the current generation of a download. The existing row is locked first so
// that the superseded path returned belongs to exactly one caller.
func (r *DownloadRepo) Upsert(ctx context.Context, d *model.Download) (prev string, err error) {
	err = r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, lockDownloadSQL, d.FileName).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		_, err = tx.Exec(ctx, upsertDownloadSQL,
			d.FileName, d.FilePath, d.AppID, d.UserID, d.DeviceID, d.CreatedAt, d.ExpiresAt)
		return err
	})
	if err != nil {
		return "", err
	}
	if prev == d.FilePath {
		prev = ""
	}
	return prev, nil
}

// Get selects a download by file name regardless of expiry.
func (r *DownloadRepo) Get(ctx context.Context, fileName string) (*model.Download, error) {
	return scanDownload(r.db.Pool.QueryRow(ctx, getDownloadSQL, fileName))
}

// Take atomically removes a live download so it can be served exactly once.
func (r *DownloadRepo) Take(ctx context.Context, fileName string, now time.Time) (*model.Download, error) {
	return scanDownload(r.db.Pool.QueryRow(ctx, takeDownloadSQL, fileName, now))
}

// DeleteExpired removes expired rows and returns the files they referenced.
func (r *DownloadRepo) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	return r.paths(ctx, deleteExpiredSQL, now)
}

// Paths returns every referenced file path.
func (r *DownloadRepo) Paths(ctx context.Context) ([]string, error) {
	return r.paths(ctx, downloadPathsSQL)
}

func (r *DownloadRepo) paths(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanDownload(row pgx.Row) (*model.Download, error) {
	var d model.Download
	err := row.Scan(&d.FileName, &d.FilePath, &d.AppID, &d.UserID, &d.DeviceID, &d.CreatedAt, &d.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
