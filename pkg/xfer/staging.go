package xfer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcdrop/pkg/sandbox"
	"github.com/pkg/errors"
)

const partialSuffix = ".part"

// stagingArea lays sessions out under the sandbox root as
//
//	<root>/<session id>-<code>/<slug of file name>.part   while transferring
//	<root>/<session id>-<code>/<slug of file name>        once COMPLETED
//
// Every path it hands out has been through the sandbox.
type stagingArea struct {
	root *sandbox.Root
}

func (a *stagingArea) dirName(session *mcmodel.TransferSession) string {
	return fmt.Sprintf("%d-%s", session.ID, session.SessionCode)
}

// baseName slugifies the file name while keeping its extension readable.
func baseName(fileName string) string {
	base := filepath.Base(fileName)
	ext := strings.ToLower(filepath.Ext(base))
	name := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" {
		name = "file"
	}

	ext = slug.Make(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return name
	}

	return name + "." + ext
}

func (a *stagingArea) dir(session *mcmodel.TransferSession) (string, error) {
	return a.root.Resolve(a.dirName(session))
}

func (a *stagingArea) partialPath(session *mcmodel.TransferSession) (string, error) {
	return a.root.Resolve(a.dirName(session), baseName(session.FileName)+partialSuffix)
}

func (a *stagingArea) finalPath(session *mcmodel.TransferSession) (string, error) {
	return a.root.Resolve(a.dirName(session), baseName(session.FileName))
}

// errFinalized is returned by ensure once the session's file has its completed name.
var errFinalized = errors.New("staging file already finalized")

// ensure creates the session directory and a staging file sized to the full file.
// It is safe to call concurrently; preallocation never shrinks a file. Once the
// session has been finalized no new staging file is created.
func (a *stagingArea) ensure(session *mcmodel.TransferSession) (dir, path string, err error) {
	final, err := a.finalPath(session)
	if err != nil {
		return "", "", err
	}

	if _, err := os.Lstat(final); err == nil {
		return "", "", errFinalized
	}

	if dir, err = a.root.MkdirAll(a.dirName(session)); err != nil {
		return "", "", err
	}

	if path, err = a.partialPath(session); err != nil {
		return "", "", err
	}

	f, err := a.root.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return "", "", errors.Wrapf(err, "unable to open staging file %s", path)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", "", errors.Wrapf(err, "unable to stat staging file %s", path)
	}

	if fi.Size() < session.FileSize {
		if err := preallocate(f, session.FileSize); err != nil {
			return "", "", errors.Wrapf(err, "unable to allocate %d bytes for %s", session.FileSize, path)
		}
	}

	return dir, path, nil
}

// writeAt writes data at offset into the staging file.
func (a *stagingArea) writeAt(path string, data []byte, offset int64) error {
	f, err := a.root.OpenFile(path, os.O_WRONLY, 0600)
	if err != nil {
		return errors.Wrapf(err, "unable to open %s for writing", path)
	}

	if _, err := f.WriteAt(data, offset); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "unable to write %d bytes at %d to %s", len(data), offset, path)
	}

	return f.Close()
}

// finalize renames the staging file to its completed name.
func (a *stagingArea) finalize(session *mcmodel.TransferSession) error {
	from, err := a.partialPath(session)
	if err != nil {
		return err
	}

	to, err := a.finalPath(session)
	if err != nil {
		return err
	}

	return a.root.Rename(from, to)
}

// discardPartial removes a staging file left beside the completed file by a write
// that raced finalize.
func (a *stagingArea) discardPartial(session *mcmodel.TransferSession) error {
	final, err := a.finalPath(session)
	if err != nil {
		return err
	}

	if _, err := os.Lstat(final); err != nil {
		return nil
	}

	partial, err := a.partialPath(session)
	if err != nil {
		return err
	}

	return a.root.RemoveAll(partial)
}

// openForRead opens whichever of the completed or staging file exists, preferring
// the completed one. fs.ErrNotExist is returned when neither does.
func (a *stagingArea) openForRead(session *mcmodel.TransferSession) (*os.File, error) {
	candidates := []func(*mcmodel.TransferSession) (string, error){a.partialPath, a.finalPath}
	if session.Status == mcmodel.StatusCompleted {
		candidates = []func(*mcmodel.TransferSession) (string, error){a.finalPath, a.partialPath}
	}

	for _, candidate := range candidates {
		path, err := candidate(session)
		if err != nil {
			return nil, err
		}

		f, err := a.root.Open(path)
		switch {
		case err == nil:
			return f, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}

	return nil, fs.ErrNotExist
}

// remove deletes the session's staging directory. Missing directories are fine.
func (a *stagingArea) remove(session *mcmodel.TransferSession) error {
	dir, err := a.dir(session)
	if err != nil {
		return err
	}

	return a.root.RemoveAll(dir)
}

func extend(f *os.File, size int64) error {
	return f.Truncate(size)
}
