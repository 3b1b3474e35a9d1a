package localfs

import (
	"io"
	"os"
	"path/filepath"
)

// TempPrefix marks in-progress files. They are never served; SweepTemps removes stale ones.
const TempPrefix = ".tmp-"

// WriteFileAtomic creates path by streaming write into a temporary file in the same
// directory, syncing it and renaming it over path. Readers observe either the previous
// file, no file, or the complete new file; never a partial one. On failure the temporary
// file is removed and the error from write (or the filesystem) is returned unchanged.
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), TempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
