package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/model"
	"github.com/and161185/appstore/internal/repository"
)

// fakeAppRepo keeps entries in memory and enforces the identity constraint the way the
// database does: the hook runs while the "transaction" holds the lock.
type fakeAppRepo struct {
	mu   sync.Mutex
	apps map[uuid.UUID]model.App

	blindLookup bool // FindByIdentity always misses, as in a lost race
	beforeHook  func()
	commitErr   error // returned after the hook ran, nothing is saved
	getCalls    atomic.Int32
}

var _ repository.AppRepository = (*fakeAppRepo)(nil)

func newFakeAppRepo() *fakeAppRepo { return &fakeAppRepo{apps: map[uuid.UUID]model.App{}} }

func (f *fakeAppRepo) Create(_ context.Context, a *model.App, beforeCommit func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.apps {
		if x.AppID == a.AppID && x.Architecture == a.Architecture {
			return errs.ErrDuplicateIdentity
		}
	}
	if f.beforeHook != nil {
		f.beforeHook()
	}
	if beforeCommit != nil {
		if err := beforeCommit(); err != nil {
			return err
		}
	}
	if f.commitErr != nil {
		return f.commitErr
	}
	a.CreatedAt, a.UpdatedAt = time.Now(), time.Now()
	f.apps[a.ID] = *a
	return nil
}

func (f *fakeAppRepo) Update(_ context.Context, a *model.App, beforeCommit func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.apps[a.ID]
	if !ok || cur.AppID != a.AppID || cur.Architecture != a.Architecture {
		return errs.ErrNotFound
	}
	if beforeCommit != nil {
		if err := beforeCommit(); err != nil {
			return err
		}
	}
	if f.commitErr != nil {
		return f.commitErr
	}
	a.CreatedAt, a.UpdatedAt = cur.CreatedAt, time.Now()
	f.apps[a.ID] = *a
	return nil
}

func (f *fakeAppRepo) Get(_ context.Context, id uuid.UUID) (*model.App, error) {
	f.getCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

func (f *fakeAppRepo) FindByIdentity(_ context.Context, appID, arch string) (*model.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.blindLookup {
		for _, a := range f.apps {
			if a.AppID == appID && a.Architecture == arch {
				return &a, nil
			}
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeAppRepo) List(_ context.Context, flt model.AppFilter) ([]model.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.App
	for _, a := range f.apps {
		if flt.CategoryID != 0 && a.CategoryID != flt.CategoryID {
			continue
		}
		if flt.TopOnly && !a.IsTopApp {
			continue
		}
		if flt.Name != "" && !strings.Contains(strings.ToLower(a.Name), strings.ToLower(flt.Name)) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Architecture < out[j].Architecture })
	return out, nil
}

func (f *fakeAppRepo) LatestInCategory(_ context.Context, categoryID int64) (*model.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *model.App
	for _, a := range f.apps {
		a := a
		if a.CategoryID == categoryID && (best == nil || a.UpdatedAt.After(best.UpdatedAt)) {
			best = &a
		}
	}
	if best == nil {
		return nil, errs.ErrNotFound
	}
	return best, nil
}

func (f *fakeAppRepo) Delete(_ context.Context, id uuid.UUID) (*model.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	delete(f.apps, id)
	return &a, nil
}

func (f *fakeAppRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.apps)
}

// fakeCategoryRepo keeps categories ordered by rank.
type fakeCategoryRepo struct {
	mu     sync.Mutex
	nextID int64
	cats   []model.Category // index == rank
	moves  int
}

var _ repository.CategoryRepository = (*fakeCategoryRepo)(nil)

func (f *fakeCategoryRepo) Append(_ context.Context, name string) (*model.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cats {
		if c.Name == name {
			return nil, errs.ErrAlreadyExists
		}
	}
	f.nextID++
	c := model.Category{ID: f.nextID, Name: name, Rank: int64(len(f.cats))}
	f.cats = append(f.cats, c)
	return &c, nil
}

func (f *fakeCategoryRepo) Move(_ context.Context, id int64, dir model.Direction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves++
	i := -1
	for k, c := range f.cats {
		if c.ID == id {
			i = k
		}
	}
	if i < 0 {
		return false, errs.ErrNotFound
	}
	j := i + 1
	if dir == model.Up {
		j = i - 1
	}
	if j < 0 || j >= len(f.cats) {
		return false, nil
	}
	f.cats[i], f.cats[j] = f.cats[j], f.cats[i]
	f.cats[i].Rank, f.cats[j].Rank = int64(i), int64(j)
	return true, nil
}

func (f *fakeCategoryRepo) Get(_ context.Context, id int64) (*model.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cats {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeCategoryRepo) List(context.Context) ([]model.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Category(nil), f.cats...), nil
}

// fakeDownloadRepo mirrors the downloads table.
type fakeDownloadRepo struct {
	mu        sync.Mutex
	rows      map[string]model.Download
	upsertErr error
}

var _ repository.DownloadRepository = (*fakeDownloadRepo)(nil)

func newFakeDownloadRepo() *fakeDownloadRepo {
	return &fakeDownloadRepo{rows: map[string]model.Download{}}
}

func (f *fakeDownloadRepo) Upsert(_ context.Context, d *model.Download) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	prev := f.rows[d.FileName].FilePath
	f.rows[d.FileName] = *d
	if prev == d.FilePath {
		prev = ""
	}
	return prev, nil
}

func (f *fakeDownloadRepo) Get(_ context.Context, name string) (*model.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.rows[name]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &d, nil
}

func (f *fakeDownloadRepo) Take(_ context.Context, name string, now time.Time) (*model.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.rows[name]
	if !ok || !d.ExpiresAt.After(now) {
		return nil, errs.ErrNotFound
	}
	delete(f.rows, name)
	return &d, nil
}

func (f *fakeDownloadRepo) DeleteExpired(_ context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k, d := range f.rows {
		if !d.ExpiresAt.After(now) {
			out = append(out, d.FilePath)
			delete(f.rows, k)
		}
	}
	return out, nil
}

func (f *fakeDownloadRepo) Paths(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, d := range f.rows {
		out = append(out, d.FilePath)
	}
	return out, nil
}

func (f *fakeDownloadRepo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
