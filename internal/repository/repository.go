// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/appstore/internal/model"
)

// AppRepository stores catalog entries.
type AppRepository interface {
	// Create inserts a new entry. beforeCommit runs inside the transaction after the row is
	// written; if it fails nothing is committed. A taken identity yields ErrDuplicateIdentity.
	Create(ctx context.Context, a *model.App, beforeCommit func() error) error
	// Update replaces version, metadata and files of an existing entry.
	Update(ctx context.Context, a *model.App, beforeCommit func() error) error
	// Get loads an entry by catalog id.
	Get(ctx context.Context, id uuid.UUID) (*model.App, error)
	// FindByIdentity loads the entry owning (appID, arch).
	FindByIdentity(ctx context.Context, appID, arch string) (*model.App, error)
	// List returns entries matching f ordered by name.
	List(ctx context.Context, f model.AppFilter) ([]model.App, error)
	// LatestInCategory returns the most recently updated entry of a category.
	LatestInCategory(ctx context.Context, categoryID int64) (*model.App, error)
	// Delete removes an entry and returns it.
	Delete(ctx context.Context, id uuid.UUID) (*model.App, error)
}

// CategoryRepository stores categories and their dense rank order.
type CategoryRepository interface {
	// Append creates a category at rank max+1 (0 for the first one).
	Append(ctx context.Context, name string) (*model.Category, error)
	// Move swaps the category with its neighbour in direction dir. moved is false when the
	// category is already first (Up) or last (Down).
	Move(ctx context.Context, id int64, dir model.Direction) (moved bool, err error)
	// Get loads a category by id.
	Get(ctx context.Context, id int64) (*model.Category, error)
	// List returns all categories in rank order.
	List(ctx context.Context) ([]model.Category, error)
}

// DownloadRepository tracks issued downloads.
type DownloadRepository interface {
	// Upsert records d under d.FileName and returns the file path it superseded, if any.
	Upsert(ctx context.Context, d *model.Download) (previousPath string, err error)
	// Get loads a download by its public file name.
	Get(ctx context.Context, fileName string) (*model.Download, error)
	// Take deletes and returns a download that has not expired at now.
	Take(ctx context.Context, fileName string, now time.Time) (*model.Download, error)
	// DeleteExpired removes every download with expires_at <= now and returns their paths.
	DeleteExpired(ctx context.Context, now time.Time) ([]string, error)
	// Paths returns the file paths of all live rows.
	Paths(ctx context.Context) ([]string, error)
}
