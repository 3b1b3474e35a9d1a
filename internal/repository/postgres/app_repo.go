package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/model"
)

// AppRepo implements AppRepository using PostgreSQL.
type AppRepo struct{ db *DB }

// NewAppRepo constructs a catalog repository.
func NewAppRepo(db *DB) *AppRepo { return &AppRepo{db: db} }

const appColumns = `id, app_id, architecture, version, name, vendor, COALESCE(category_id, 0),
is_top_app, description, tags, digest, package_file, icon_file, created_at, updated_at`

const (
	insertAppSQL = `
INSERT INTO apps (id, app_id, architecture, version, name, vendor, category_id,
                  is_top_app, description, tags, digest, package_file, icon_file)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7::bigint, 0), $8, $9, $10, $11, $12, $13)
RETURNING created_at, updated_at`

	updateAppSQL = `
UPDATE apps SET version=$4, name=$5, vendor=$6, category_id=NULLIF($7::bigint, 0),
       is_top_app=$8, description=$9, tags=$10, digest=$11, package_file=$12, icon_file=$13,
       updated_at=now()
WHERE id=$1 AND app_id=$2 AND architecture=$3
RETURNING created_at, updated_at`

	getAppSQL        = `SELECT ` + appColumns + ` FROM apps WHERE id=$1`
	getAppByIdentSQL = `SELECT ` + appColumns + ` FROM apps WHERE app_id=$1 AND architecture=$2`
	listAppsSQL      = `SELECT ` + appColumns + ` FROM apps
WHERE ($1::bigint = 0 OR category_id = $1)
  AND (NOT $2::boolean OR is_top_app)
  AND ($3::text = '' OR name ILIKE $3)
ORDER BY name, architecture`
	latestInCategorySQL = `SELECT ` + appColumns + ` FROM apps
WHERE category_id=$1 ORDER BY updated_at DESC LIMIT 1`
	deleteAppSQL = `DELETE FROM apps WHERE id=$1 RETURNING ` + appColumns
)

func appArgs(a *model.App) []any {
	return []any{
		a.ID, a.AppID, a.Architecture, a.Version, a.Name, a.Vendor, a.CategoryID,
		a.IsTopApp, a.Description, a.Tags, a.Digest, a.PackageFile, a.IconFile,
	}
}

// Create inserts a catalog entry; beforeCommit runs after the insert inside the transaction.
func (r *AppRepo) Create(ctx context.Context, a *model.App, beforeCommit func() error) error {
	err := r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, insertAppSQL, appArgs(a)...).Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
			return err
		}
		if beforeCommit != nil {
			return beforeCommit()
		}
		return nil
	})
	if isUniqueViolation(err) {
		return errs.ErrDuplicateIdentity
	}
	return err
}

// Update rewrites the mutable columns of an entry. Identity columns are matched, never written.
func (r *AppRepo) Update(ctx context.Context, a *model.App, beforeCommit func() error) error {
	return r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, updateAppSQL, appArgs(a)...).Scan(&a.CreatedAt, &a.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		if err != nil {
			return err
		}
		if beforeCommit != nil {
			return beforeCommit()
		}
		return nil
	})
}

// Get selects an entry by catalog id.
func (r *AppRepo) Get(ctx context.Context, id uuid.UUID) (*model.App, error) {
	return scanOneApp(r.db.Pool.QueryRow(ctx, getAppSQL, id))
}

// FindByIdentity selects the entry owning (appID, arch).
func (r *AppRepo) FindByIdentity(ctx context.Context, appID, arch string) (*model.App, error) {
	return scanOneApp(r.db.Pool.QueryRow(ctx, getAppByIdentSQL, appID, arch))
}

// LatestInCategory selects the most recently updated entry in a category.
func (r *AppRepo) LatestInCategory(ctx context.Context, categoryID int64) (*model.App, error) {
	return scanOneApp(r.db.Pool.QueryRow(ctx, latestInCategorySQL, categoryID))
}

// Delete removes an entry and returns the deleted row.
func (r *AppRepo) Delete(ctx context.Context, id uuid.UUID) (*model.App, error) {
	return scanOneApp(r.db.Pool.QueryRow(ctx, deleteAppSQL, id))
}

// List returns entries matching the filter.
func (r *AppRepo) List(ctx context.Context, f model.AppFilter) ([]model.App, error) {
	rows, err := r.db.Pool.Query(ctx, listAppsSQL, f.CategoryID, f.TopOnly, likePattern(f.Name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.App
	for rows.Next() {
		var a model.App
		if err := scanApp(rows, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApp(row pgx.Row, a *model.App) error {
	return row.Scan(&a.ID, &a.AppID, &a.Architecture, &a.Version, &a.Name, &a.Vendor, &a.CategoryID,
		&a.IsTopApp, &a.Description, &a.Tags, &a.Digest, &a.PackageFile, &a.IconFile,
		&a.CreatedAt, &a.UpdatedAt)
}

func scanOneApp(row pgx.Row) (*model.App, error) {
	var a model.App
	if err := scanApp(row, &a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// likePattern turns a substring into an ILIKE pattern; empty stays empty.
func likePattern(s string) string {
	if s == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
