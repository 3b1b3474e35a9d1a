// Package service implements the store's use cases on top of repositories and blob stores.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/appstore/internal/appkg"
	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/metrics"
	"github.com/and161185/appstore/internal/model"
	"github.com/and161185/appstore/internal/repository"
	"github.com/and161185/appstore/internal/storage/localfs"
)

// CatalogService manages catalog entries and their package and icon files.
type CatalogService interface {
	// Submit validates an upload and creates or updates the catalog entry it describes.
	Submit(ctx context.Context, sub model.Submission) (*model.App, error)
	// Remove deletes an entry together with its files.
	Remove(ctx context.Context, id uuid.UUID) error
	// Get returns one entry.
	Get(ctx context.Context, id uuid.UUID) (*model.App, error)
	// List returns entries matching the filter.
	List(ctx context.Context, f model.AppFilter) ([]model.App, error)
	// Icon opens the stored icon of an entry.
	Icon(ctx context.Context, id uuid.UUID) (*os.File, error)
	// CategoryIcon returns the icon of the latest entry in a category, or a transparent pixel.
	CategoryIcon(ctx context.Context, categoryID int64) ([]byte, error)
}

// CatalogServiceImpl is the default CatalogService.
type CatalogServiceImpl struct {
	apps       repository.AppRepository
	categories repository.CategoryRepository
	packages   *localfs.Store
	icons      *localfs.Store
	maxSize    int64
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// DefaultMaxPackageSize bounds uploads when no limit is configured.
const DefaultMaxPackageSize = 512 << 20

// NewCatalogService wires the catalog use cases.
func NewCatalogService(
	apps repository.AppRepository, categories repository.CategoryRepository,
	packages, icons *localfs.Store, maxSize int64, log *zap.Logger, m *metrics.Metrics,
) *CatalogServiceImpl {
	if maxSize <= 0 {
		maxSize = DefaultMaxPackageSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogServiceImpl{
		apps: apps, categories: categories, packages: packages, icons: icons,
		maxSize: maxSize, log: log, metrics: m,
	}
}

func submissionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errs.IsValidation(err):
		return "invalid"
	case errs.IsConflict(err):
		return "conflict"
	}
	return "error"
}

// Submit runs the submission pipeline: stage the upload, parse and validate it once, check
// the identity, derive tags, stage the icon and store the entry. Package and icon become
// visible only from inside the catalog transaction, after the row has been written. Both carry
// revision names: a failed store removes what it published, a committed update removes the
// superseded revision. Staged files are discarded on every path.
func (s *CatalogServiceImpl) Submit(ctx context.Context, sub model.Submission) (app *model.App, err error) {
	defer func() { s.metrics.Submission(submissionResult(err)) }()

	if sub.Package == nil {
		return nil, fmt.Errorf("%w: empty upload", errs.ErrMalformedPackage)
	}
	staged, err := s.packages.Stage(sub.Package, s.maxSize)
	if errors.Is(err, localfs.ErrTooLarge) {
		return nil, fmt.Errorf("%w: larger than %d bytes", errs.ErrMalformedPackage, s.maxSize)
	}
	if err != nil {
		s.log.Error("stage upload", zap.Error(err))
		return nil, err
	}
	defer staged.Discard()

	pkg, err := appkg.Parse(staged, staged.Size())
	if err != nil {
		return nil, err
	}
	if pkg.StoreSigned() {
		return nil, fmt.Errorf("%w: upload already carries a store signature", errs.ErrMalformedPackage)
	}
	meta := pkg.Metadata()

	var existing *model.App
	if sub.UpdateOf != nil {
		if existing, err = s.apps.Get(ctx, *sub.UpdateOf); err != nil {
			return nil, err
		}
	}
	if err := CheckIdentity(meta, existing); err != nil {
		return nil, err
	}
	if existing == nil {
		_, err := s.apps.FindByIdentity(ctx, meta.ApplicationID, meta.Architecture)
		if err == nil {
			return nil, fmt.Errorf("%w: %s/%s", errs.ErrDuplicateIdentity, meta.ApplicationID, meta.Architecture)
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
	}

	var categoryName string
	if sub.CategoryID != 0 {
		c, err := s.categories.Get(ctx, sub.CategoryID)
		if err != nil {
			return nil, fmt.Errorf("category %d: %w", sub.CategoryID, err)
		}
		categoryName = c.Name
	}

	icon, err := s.icons.Stage(bytes.NewReader(meta.IconBytes), 0)
	if err != nil {
		s.log.Error("stage icon", zap.String("appId", meta.ApplicationID), zap.Error(err))
		return nil, err
	}
	defer icon.Discard()

	app = &model.App{
		AppID:        meta.ApplicationID,
		Architecture: meta.Architecture,
		Version:      meta.Version,
		Name:         meta.DisplayName,
		Vendor:       sub.Vendor,
		CategoryID:   sub.CategoryID,
		IsTopApp:     sub.IsTopApp,
		Description:  sub.Description,
		Tags:         DeriveTags(meta.DisplayName, sub.Vendor, categoryName, meta.Categories...),
		Digest:       append([]byte(nil), meta.ContentDigest[:]...),
		PackageFile:  PackageFileName(meta.ApplicationID, meta.Architecture, meta.ContentDigest[:]),
		IconFile:     IconFileName(meta.ApplicationID, meta.Architecture, meta.ContentDigest[:]),
	}
	if app.Name == "" {
		app.Name = app.AppID
	}

	var iconPublished, pkgPublished bool
	materialize := func() error {
		if _, err := icon.Commit(app.IconFile); err != nil {
			return err
		}
		iconPublished = true
		if _, err := staged.Commit(app.PackageFile); err != nil {
			return err
		}
		pkgPublished = true
		return nil
	}

	if existing == nil {
		if app.ID, err = uuid.NewV4(); err != nil {
			return nil, err
		}
		err = s.apps.Create(ctx, app, materialize)
	} else {
		app.ID = existing.ID
		err = s.apps.Update(ctx, app, materialize)
	}
	if err != nil {
		if errs.IsResource(err) {
			s.log.Error("store entry", zap.String("appId", app.AppID), zap.Error(err))
		}
		// the row was not written, so nothing may reference what the hook published
		if iconPublished && (existing == nil || existing.IconFile != app.IconFile) {
			s.removeFile(s.icons, "unpublish icon", app.IconFile)
		}
		if pkgPublished && (existing == nil || existing.PackageFile != app.PackageFile) {
			s.removeFile(s.packages, "unpublish package", app.PackageFile)
		}
		return nil, err
	}

	if existing != nil && existing.PackageFile != app.PackageFile {
		s.removeFile(s.packages, "remove superseded package", existing.PackageFile)
	}
	if existing != nil && existing.IconFile != app.IconFile {
		s.removeFile(s.icons, "remove superseded icon", existing.IconFile)
	}
	s.log.Info("package stored",
		zap.String("id", app.ID.String()),
		zap.String("appId", app.AppID),
		zap.String("arch", app.Architecture),
		zap.String("version", app.Version),
		zap.Bool("update", existing != nil),
	)
	return app, nil
}

// Remove deletes the catalog row first, then the files it referenced.
func (s *CatalogServiceImpl) Remove(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return errors.New("validation: empty id")
	}
	app, err := s.apps.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.removeFile(s.packages, "remove package", app.PackageFile)
	s.removeFile(s.icons, "remove icon", app.IconFile)
	return nil
}

func (s *CatalogServiceImpl) removeFile(store *localfs.Store, msg, name string) {
	if err := store.Remove(name); err != nil {
		s.log.Warn(msg, zap.String("file", name), zap.Error(err))
	}
}

// Get returns one entry.
func (s *CatalogServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.App, error) {
	return s.apps.Get(ctx, id)
}

// List returns entries matching f.
func (s *CatalogServiceImpl) List(ctx context.Context, f model.AppFilter) ([]model.App, error) {
	f.Name = strings.TrimSpace(f.Name)
	return s.apps.List(ctx, f)
}

// Icon opens the icon file of an entry.
func (s *CatalogServiceImpl) Icon(ctx context.Context, id uuid.UUID) (*os.File, error) {
	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.icons.Open(app.IconFile)
}

// CategoryIcon returns the icon of the most recently updated entry of a category.
func (s *CatalogServiceImpl) CategoryIcon(ctx context.Context, categoryID int64) ([]byte, error) {
	app, err := s.apps.LatestInCategory(ctx, categoryID)
	if errors.Is(err, errs.ErrNotFound) {
		return TransparentPNG(), nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.icons.Path(app.IconFile))
	if err != nil {
		s.log.Warn("category icon", zap.Int64("category", categoryID), zap.Error(err))
		return TransparentPNG(), nil
	}
	return raw, nil
}

// StaleTempAge is how long a staged upload or icon may sit untouched before SweepTemps
// treats it as abandoned.
const StaleTempAge = time.Hour

// SweepTemps removes staged uploads and icons abandoned by submissions that never finished.
func (s *CatalogServiceImpl) SweepTemps(_ context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-StaleTempAge)
	n := 0
	for _, store := range []*localfs.Store{s.packages, s.icons} {
		k, err := store.SweepTemps(cutoff)
		n += k
		if err != nil {
			return n, err
		}
	}
	if n > 0 {
		s.log.Info("stale uploads removed", zap.Int("count", n))
	}
	return n, nil
}

// TransparentPNG returns a 1x1 fully transparent image.
func TransparentPNG() []byte { return bytes.Clone(transparentPNG()) }

var transparentPNG = sync.OnceValue(func() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
})
