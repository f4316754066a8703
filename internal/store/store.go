// Package store persists canonical series as one JSON file per series and
// only rewrites a file when its content changed.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"seriesfeed/internal/fault"
	"seriesfeed/internal/series"
)

// Outcome is the result of a Write.
type Outcome string

const (
	Written   Outcome = "written"
	Unchanged Outcome = "unchanged"
)

// Writer stores series under dir as <id>.json.
type Writer struct {
	dir string
	// rename is os.Rename outside tests.
	rename func(oldpath, newpath string) error
}

// New returns a Writer rooted at dir. The directory is created on first write.
func New(dir string) *Writer {
	if dir == "" {
		dir = "data"
	}
	return &Writer{dir: dir, rename: os.Rename}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Path returns the file that holds series id.
func (w *Writer) Path(id string) string {
	return filepath.Join(w.dir, id+".json")
}

// Read loads the stored series id. A missing file yields an error matching
// fs.ErrNotExist.
func (w *Writer) Read(id string) (series.Series, error) {
	b, err := os.ReadFile(w.Path(id))
	if err != nil {
		return series.Series{}, err
	}
	s, err := series.Decode(b)
	if err != nil {
		return series.Series{}, fmt.Errorf("decoding %s: %w", w.Path(id), err)
	}
	return s, nil
}

// Write stores s unless the file on disk already holds the same content
// ignoring generated_at. A stored file that cannot be decoded is replaced.
// The file is swapped in by rename, so a failed write leaves the prior file
// untouched.
func (w *Writer) Write(s series.Series) (Outcome, error) {
	if err := s.Validate(); err != nil {
		return "", fault.New(fault.KindWrite, "store", err)
	}
	prev, err := w.Read(s.ID)
	switch {
	case err == nil:
		if series.SameContent(prev, s) {
			return Unchanged, nil
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		var pe *fs.PathError
		if errors.As(err, &pe) {
			// unreadable, not merely corrupt
			return "", fault.New(fault.KindWrite, "store", err)
		}
	}

	b, err := s.Encode()
	if err != nil {
		return "", fault.New(fault.KindWrite, "store", fmt.Errorf("encoding %s: %w", s.ID, err))
	}
	if err := w.replace(w.Path(s.ID), b); err != nil {
		return "", fault.New(fault.KindWrite, "store", err)
	}
	return Written, nil
}

func (w *Writer) replace(path string, b []byte) (err error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", w.dir, err)
	}
	f, err := os.CreateTemp(w.dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(b); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err = f.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err = w.rename(tmp, path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
