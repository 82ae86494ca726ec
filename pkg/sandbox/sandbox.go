// Package sandbox confines filesystem access to a single directory tree. Every path
// that touches the staging area is produced or checked by a Root, which canonicalizes
// the path (cleaning it and resolving symlinks on its existing prefix) and then
// verifies it is contained in the root. Violations are returned as errors wrapping
// ErrPathViolation and are never corrected silently.
package sandbox

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var ErrPathViolation = errors.New("path escapes sandbox root")

type Root struct {
	dir string
}

// New creates dir if needed and returns a Root for its canonical absolute path.
func New(dir string) (*Root, error) {
	if dir == "" {
		return nil, errors.New("sandbox root cannot be blank")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to make %s absolute", dir)
	}

	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, errors.Wrapf(err, "unable to create sandbox root %s", abs)
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to resolve sandbox root %s", abs)
	}

	return &Root{dir: canonical}, nil
}

func (r *Root) Dir() string {
	return r.dir
}

// Resolve joins elems under the root and returns the canonical path. Absolute elems,
// ".." segments that climb out of the root, and symlinks pointing outside the root
// all fail with ErrPathViolation. The root itself is not a valid result.
func (r *Root) Resolve(elems ...string) (string, error) {
	for _, elem := range elems {
		if filepath.IsAbs(elem) {
			return "", errors.Wrapf(ErrPathViolation, "absolute path element %q", elem)
		}
	}

	joined := filepath.Join(append([]string{r.dir}, elems...)...)
	return r.check(joined)
}

// Contains verifies that an already built path (for example one loaded from the
// database) canonicalizes to a location inside the root.
func (r *Root) Contains(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", errors.Wrapf(ErrPathViolation, "relative path %q", path)
	}

	return r.check(filepath.Clean(path))
}

// MkdirAll resolves elems and creates the directory.
func (r *Root) MkdirAll(elems ...string) (string, error) {
	dir, err := r.Resolve(elems...)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", errors.Wrapf(err, "unable to create %s", dir)
	}

	return dir, nil
}

// RemoveAll deletes path and everything below it after verifying containment. A path
// that does not exist is not an error.
func (r *Root) RemoveAll(path string) error {
	canonical, err := r.Contains(path)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(canonical); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "unable to remove %s", canonical)
	}

	return nil
}

// Open opens a contained path for reading.
func (r *Root) Open(path string) (*os.File, error) {
	canonical, err := r.Contains(path)
	if err != nil {
		return nil, err
	}

	return os.Open(canonical)
}

// OpenFile opens a contained path with the given flags.
func (r *Root) OpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	canonical, err := r.Contains(path)
	if err != nil {
		return nil, err
	}

	return os.OpenFile(canonical, flag, perm)
}

// Rename moves one contained path to another.
func (r *Root) Rename(from, to string) error {
	src, err := r.Contains(from)
	if err != nil {
		return err
	}

	dst, err := r.Contains(to)
	if err != nil {
		return err
	}

	return os.Rename(src, dst)
}

func (r *Root) check(path string) (string, error) {
	canonical, err := resolveExistingPrefix(path)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(r.dir, canonical)
	if err != nil {
		return "", errors.Wrapf(ErrPathViolation, "%s: %s", path, err)
	}

	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrPathViolation, "%s resolves to %s", path, canonical)
	}

	return canonical, nil
}

// resolveExistingPrefix evaluates symlinks on the longest prefix of path that exists
// and re-appends the remainder. Staging files are often resolved before they are
// created, so the full path may not exist yet.
func resolveExistingPrefix(path string) (string, error) {
	existing := path
	var rest []string

	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}

		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}

		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", errors.Wrapf(err, "unable to resolve %s", existing)
	}

	return filepath.Join(append([]string{resolved}, rest...)...), nil
}

func IsPathViolation(err error) bool {
	return errors.Is(err, ErrPathViolation)
}
