// Package grpcserver exposes the store administration API over gRPC.
package grpcserver

import (
	"bytes"
	"context"
	"encoding/hex"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/appstore/internal/auth"
	"github.com/and161185/appstore/internal/model"
	"github.com/and161185/appstore/internal/service"
)

// Server wires services into admin handlers.
type Server struct {
	catalog    service.CatalogService
	categories service.CategoryService
	downloads  service.DistributionService
	now        func() time.Time
	log        *zap.Logger
}

var _ AdminServer = (*Server)(nil)

// New constructs the admin server. A nil now uses time.Now.
func New(catalog service.CatalogService, categories service.CategoryService, downloads service.DistributionService,
	now func() time.Time, log *zap.Logger) *Server {
	if now == nil {
		now = time.Now
	}
	return &Server{catalog: catalog, categories: categories, downloads: downloads, now: now, log: log}
}

func requirePerm(ctx context.Context, perm string) (auth.Principal, error) {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return p, status.Error(codes.Unauthenticated, "no auth")
	}
	if !p.Has(perm) {
		return p, status.Errorf(codes.PermissionDenied, "missing permission %s", perm)
	}
	return p, nil
}

func toAppReply(a *model.App) *AppReply {
	return &AppReply{
		ID:           a.ID.String(),
		AppID:        a.AppID,
		Architecture: a.Architecture,
		Version:      a.Version,
		Name:         a.Name,
		Vendor:       a.Vendor,
		CategoryID:   a.CategoryID,
		IsTopApp:     a.IsTopApp,
		Tags:         a.Tags,
		Digest:       hex.EncodeToString(a.Digest),
	}
}

func toCategoryReply(c model.Category) CategoryReply {
	return CategoryReply{ID: c.ID, Name: c.Name, Rank: c.Rank}
}

// SubmitPackage validates an upload and creates or updates its catalog entry.
func (s *Server) SubmitPackage(ctx context.Context, req *SubmitPackageRequest) (*AppReply, error) {
	if _, err := requirePerm(ctx, auth.PermSubmit); err != nil {
		return nil, err
	}
	sub := model.Submission{
		Package:     bytes.NewReader(req.Package),
		Vendor:      req.Vendor,
		CategoryID:  req.CategoryID,
		IsTopApp:    req.IsTopApp,
		Description: req.Description,
	}
	if req.UpdateOf != "" {
		id, err := uuid.FromString(req.UpdateOf)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "bad update_of")
		}
		sub.UpdateOf = &id
	}
	app, err := s.catalog.Submit(ctx, sub)
	if err != nil {
		return nil, toStatus(s.log, "submit", err)
	}
	return toAppReply(app), nil
}

// RemoveApp deletes an entry and its files.
func (s *Server) RemoveApp(ctx context.Context, req *RemoveAppRequest) (*Empty, error) {
	if _, err := requirePerm(ctx, auth.PermSubmit); err != nil {
		return nil, err
	}
	id, err := uuid.FromString(req.ID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad id")
	}
	if err := s.catalog.Remove(ctx, id); err != nil {
		return nil, toStatus(s.log, "remove", err)
	}
	return &Empty{}, nil
}

// CreateCategory appends a category at the end of the display order.
func (s *Server) CreateCategory(ctx context.Context, req *CreateCategoryRequest) (*CategoryReply, error) {
	if _, err := requirePerm(ctx, auth.PermCategoryChange); err != nil {
		return nil, err
	}
	c, err := s.categories.Append(ctx, req.Name)
	if err != nil {
		return nil, toStatus(s.log, "create category", err)
	}
	r := toCategoryReply(*c)
	return &r, nil
}

// MoveCategory swaps a category with its neighbour.
func (s *Server) MoveCategory(ctx context.Context, req *MoveCategoryRequest) (*MoveCategoryReply, error) {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	// unknown directions are rejected by the service after its permission check
	dir := model.Direction(-1)
	switch req.Direction {
	case model.Up.String():
		dir = model.Up
	case model.Down.String():
		dir = model.Down
	}
	moved, err := s.categories.Move(ctx, req.ID, dir, p.Has(auth.PermCategoryChange))
	if err != nil {
		return nil, toStatus(s.log, "move category", err)
	}
	return &MoveCategoryReply{Moved: moved}, nil
}

// ListCategories returns categories in display order.
func (s *Server) ListCategories(ctx context.Context, _ *Empty) (*ListCategoriesReply, error) {
	cats, err := s.categories.List(ctx)
	if err != nil {
		return nil, toStatus(s.log, "list categories", err)
	}
	out := &ListCategoriesReply{Categories: make([]CategoryReply, 0, len(cats))}
	for _, c := range cats {
		out.Categories = append(out.Categories, toCategoryReply(c))
	}
	return out, nil
}

// ReapExpired runs one reaper pass immediately.
func (s *Server) ReapExpired(ctx context.Context, _ *Empty) (*ReapExpiredReply, error) {
	if _, err := requirePerm(ctx, auth.PermReap); err != nil {
		return nil, err
	}
	n, err := s.downloads.Reap(ctx, s.now())
	if err != nil {
		return nil, toStatus(s.log, "reap", err)
	}
	return &ReapExpiredReply{Removed: n}, nil
}
