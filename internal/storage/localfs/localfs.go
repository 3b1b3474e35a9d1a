// Package localfs is a directory-backed blob store for packages, icons and download artifacts.
package localfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/and161185/appstore/internal/errs"
)

// ErrTooLarge is returned by Stage when the source exceeds the limit.
var ErrTooLarge = errors.New("localfs: blob too large")

// Store keeps flat, named blobs in a single root directory.
type Store struct {
	root string
}

// New constructs a store rooted at root. The directory is created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", errs.ErrIO, root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Path returns the absolute location of name inside the store.
func (s *Store) Path(name string) string { return filepath.Join(s.root, name) }

// ValidName reports whether name is a plain file name usable in the store.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, TempPrefix)
}

// EnsureDir recreates the root directory if it has been removed.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}

// WriteAtomic stores the contents of r under name, replacing any previous blob atomically.
func (s *Store) WriteAtomic(name string, r io.Reader) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: invalid name %q", errs.ErrIO, name)
	}
	if err := s.EnsureDir(); err != nil {
		return "", err
	}
	p := s.Path(name)
	err := WriteFileAtomic(p, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: writing %s: %v", errs.ErrIO, name, err)
	}
	return p, nil
}

// Open opens the named blob for reading.
func (s *Store) Open(name string) (*os.File, error) {
	if !ValidName(name) {
		return nil, errs.ErrNotFound
	}
	f, err := os.Open(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return f, nil
}

// Remove deletes the named blob. Removing a missing blob is not an error.
func (s *Store) Remove(name string) error {
	if !ValidName(name) {
		return nil
	}
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}

// Entry describes a committed blob.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// List returns committed blobs, skipping directories and in-progress temporaries.
func (s *Store) List() ([]Entry, error) {
	des, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		if de.IsDir() || !ValidName(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue // removed concurrently
		}
		out = append(out, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return out, nil
}

// SweepTemps removes temporaries last modified before cutoff, left behind by writers that
// died mid-write. It returns how many were removed.
func (s *Store) SweepTemps(cutoff time.Time) (int, error) {
	des, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	n := 0
	for _, de := range des {
		if de.IsDir() || !strings.HasPrefix(de.Name(), TempPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(s.Path(de.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return n, fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
		n++
	}
	return n, nil
}

// Staged is a temporary blob that becomes visible only when committed.
type Staged struct {
	store *Store
	file  *os.File
	size  int64
	done  bool
}

// Stage copies r into a temporary file of the store. When limit > 0 and r yields more than
// limit bytes, ErrTooLarge is returned and nothing is kept.
func (s *Store) Stage(r io.Reader, limit int64) (*Staged, error) {
	if err := s.EnsureDir(); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(s.root, TempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, src)
	if err == nil && limit > 0 && n > limit {
		err = ErrTooLarge
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: staging: %v", errs.ErrIO, err)
	}
	return &Staged{store: s, file: f, size: n}, nil
}

// ReadAt implements io.ReaderAt over the staged bytes.
func (st *Staged) ReadAt(p []byte, off int64) (int, error) { return st.file.ReadAt(p, off) }

// Size returns the staged byte count.
func (st *Staged) Size() int64 { return st.size }

// Commit syncs the staged file and renames it to name.
func (st *Staged) Commit(name string) (string, error) {
	if st.done {
		return "", fmt.Errorf("%w: staged blob already finished", errs.ErrIO)
	}
	if !ValidName(name) {
		return "", fmt.Errorf("%w: invalid name %q", errs.ErrIO, name)
	}
	if err := st.file.Sync(); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := st.file.Chmod(0o644); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	dst := st.store.Path(name)
	if err := os.Rename(st.file.Name(), dst); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	st.done = true
	_ = st.file.Close()
	return dst, nil
}

// Discard removes the staged file unless it has been committed. Safe to call repeatedly.
func (st *Staged) Discard() {
	_ = st.file.Close()
	if !st.done {
		_ = os.Remove(st.file.Name())
		st.done = true
	}
}
