package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"

	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/model"
)

// CategoryRepo implements CategoryRepository using PostgreSQL. Ranks stay dense and unique:
// appends race on the deferred unique rank constraint and moves run serializable; both retry.
type CategoryRepo struct {
	db      *DB
	backoff func() retry.Backoff
}

// NewCategoryRepo constructs a category repository.
func NewCategoryRepo(db *DB) *CategoryRepo {
	return &CategoryRepo{db: db, backoff: defaultBackoff}
}

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(8, retry.WithCappedDuration(200*time.Millisecond,
		retry.NewExponential(5*time.Millisecond)))
}

const (
	appendCategorySQL = `
INSERT INTO categories (name, rank)
SELECT $1, COALESCE(MAX(rank) + 1, 0) FROM categories
RETURNING id, name, rank`

	lockCategorySQL = `SELECT rank FROM categories WHERE id=$1 FOR UPDATE`
	prevCategorySQL = `SELECT id, rank FROM categories WHERE rank < $1 ORDER BY rank DESC LIMIT 1 FOR UPDATE`
	nextCategorySQL = `SELECT id, rank FROM categories WHERE rank > $1 ORDER BY rank ASC LIMIT 1 FOR UPDATE`
	swapRanksSQL    = `UPDATE categories SET rank = CASE WHEN id=$1 THEN $2::bigint ELSE $3::bigint END WHERE id IN ($1, $4)`

	getCategorySQL  = `SELECT id, name, rank FROM categories WHERE id=$1`
	listCategorySQL = `SELECT id, name, rank FROM categories ORDER BY rank`
	categoryNameKey = "categories_name_key"
)

// Append inserts a category at the end of the rank order.
func (r *CategoryRepo) Append(ctx context.Context, name string) (*model.Category, error) {
	var c model.Category
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		err := r.db.Pool.QueryRow(ctx, appendCategorySQL, name).Scan(&c.ID, &c.Name, &c.Rank)
		switch {
		case err == nil:
			return nil
		case violates(err, categoryNameKey):
			return errs.ErrAlreadyExists
		case isUniqueViolation(err), isSerializationFailure(err):
			// another append took the same rank
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Move swaps the category with its neighbour in a serializable transaction.
func (r *CategoryRepo) Move(ctx context.Context, id int64, dir model.Direction) (moved bool, err error) {
	err = retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		m, err := r.move(ctx, id, dir)
		if isSerializationFailure(err) || isUniqueViolation(err) {
			return retry.RetryableError(err)
		}
		moved = m
		return err
	})
	return moved, err
}

func (r *CategoryRepo) move(ctx context.Context, id int64, dir model.Direction) (moved bool, err error) {
	neighbour := nextCategorySQL
	if dir == model.Up {
		neighbour = prevCategorySQL
	}
	err = r.db.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		var rank int64
		if err := tx.QueryRow(ctx, lockCategorySQL, id).Scan(&rank); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.ErrNotFound
			}
			return err
		}
		var nID, nRank int64
		err := tx.QueryRow(ctx, neighbour, rank).Scan(&nID, &nRank)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, swapRanksSQL, id, nRank, rank, nID); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}

// Get selects a category by id.
func (r *CategoryRepo) Get(ctx context.Context, id int64) (*model.Category, error) {
	var c model.Category
	if err := r.db.Pool.QueryRow(ctx, getCategorySQL, id).Scan(&c.ID, &c.Name, &c.Rank); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// List returns every category in rank order.
func (r *CategoryRepo) List(ctx context.Context) ([]model.Category, error) {
	rows, err := r.db.Pool.Query(ctx, listCategorySQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Rank); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
