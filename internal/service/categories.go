package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/model"
	"github.com/and161185/appstore/internal/repository"
)

// MaxCategoryName bounds category names in runes.
const MaxCategoryName = 64

// CategoryService maintains the display order of categories.
type CategoryService interface {
	// Append adds a category at the end of the order.
	Append(ctx context.Context, name string) (*model.Category, error)
	// Move swaps a category with its neighbour. The caller's change permission is checked
	// before anything else.
	Move(ctx context.Context, id int64, dir model.Direction, callerHasPermission bool) (bool, error)
	// List returns categories in rank order.
	List(ctx context.Context) ([]model.Category, error)
}

// CategoryServiceImpl is the default CategoryService.
type CategoryServiceImpl struct {
	repo repository.CategoryRepository
	log  *zap.Logger
}

// NewCategoryService constructs the rank sequencer.
func NewCategoryService(repo repository.CategoryRepository, log *zap.Logger) *CategoryServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &CategoryServiceImpl{repo: repo, log: log}
}

// Append validates the name and appends the category.
func (s *CategoryServiceImpl) Append(ctx context.Context, name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("validation: empty category name")
	}
	if utf8.RuneCountInString(name) > MaxCategoryName {
		return nil, fmt.Errorf("validation: category name longer than %d", MaxCategoryName)
	}
	c, err := s.repo.Append(ctx, name)
	if err != nil {
		return nil, err
	}
	s.log.Info("category appended", zap.Int64("id", c.ID), zap.String("name", c.Name), zap.Int64("rank", c.Rank))
	return c, nil
}

// Move reports whether the order changed; moving the first category up or the last one
// down is a no-op.
func (s *CategoryServiceImpl) Move(ctx context.Context, id int64, dir model.Direction, callerHasPermission bool) (bool, error) {
	if !callerHasPermission {
		return false, errs.ErrPermissionDenied
	}
	if dir != model.Up && dir != model.Down {
		return false, fmt.Errorf("validation: unknown direction %d", dir)
	}
	moved, err := s.repo.Move(ctx, id, dir)
	if err != nil {
		return false, err
	}
	if moved {
		s.log.Info("category moved", zap.Int64("id", id), zap.Stringer("dir", dir))
	}
	return moved, nil
}

// List returns every category in rank order.
func (s *CategoryServiceImpl) List(ctx context.Context) ([]model.Category, error) {
	return s.repo.List(ctx)
}
