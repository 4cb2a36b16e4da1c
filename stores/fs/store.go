// Package fs is the Store of local tablespaces and the data directory.
package fs

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.lakehouse.dev/core/stores"
)

// FileSystem is the file system of all file:// stores. It's consulted on
// every operation, so tests may swap in an afero.MemMapFs.
var FileSystem = afero.NewOsFs()

// StoreQueryArgs are the query arguments of a file:// store URL.
type StoreQueryArgs struct {
	// Sync written files before they're renamed into place.
	Sync bool
}

type store struct {
	root string
	args StoreQueryArgs
}

// New returns a Store of the absolute directory path of |ep|.
func New(ep *url.URL) (stores.Store, error) {
	var s = &store{root: filepath.FromSlash(ep.Path)}

	if !filepath.IsAbs(s.root) {
		return nil, errors.Errorf("file store path must be absolute: %q", ep.Path)
	} else if err := stores.ParseQueryArgs(ep, &s.args); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *store) Provider() string { return "fs" }

func (s *store) Exists(_ context.Context, path string) (bool, error) {
	var _, err = FileSystem.Stat(s.abs(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *store) Get(_ context.Context, path string) (io.ReadCloser, error) {
	return FileSystem.Open(s.abs(path))
}

// Put writes a temporary sibling of |path| and renames it into place, so
// that readers never observe a partial file.
func (s *store) Put(_ context.Context, path string, content io.ReaderAt, contentLength int64, _ string) error {
	var target = s.abs(path)
	var dir = filepath.Dir(target)

	if err := FileSystem.MkdirAll(dir, 0750); err != nil {
		return err
	}
	var tmp, err = afero.TempFile(FileSystem, dir, ".partial-"+filepath.Base(target))
	if err != nil {
		return err
	}
	var tmpName = tmp.Name()

	if err = writeFile(tmp, io.NewSectionReader(content, 0, contentLength), s.args.Sync); err == nil {
		err = FileSystem.Rename(tmpName, target)
	}
	if err != nil {
		if rmErr := FileSystem.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
			log.WithFields(log.Fields{"err": rmErr, "path": tmpName}).Warn("failed to remove partial file")
		}
	}
	return err
}

func writeFile(f afero.File, r io.Reader, sync bool) error {
	var _, err = io.Copy(f, r)
	if err == nil && sync {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (s *store) List(_ context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	var root = s.abs(prefix)

	if ok, err := afero.Exists(FileSystem, root); err != nil || !ok {
		return err
	}
	return afero.Walk(FileSystem, root, func(name string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		var rel string
		if rel, err = filepath.Rel(root, name); err != nil {
			return err
		}
		return callback(filepath.ToSlash(rel), info.ModTime())
	})
}

func (s *store) Remove(_ context.Context, path string) error {
	var err = FileSystem.Remove(s.abs(path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *store) IsAuthError(err error) bool { return os.IsPermission(errors.Cause(err)) }

func (s *store) MkdirAll(_ context.Context, path string) error {
	return FileSystem.MkdirAll(s.abs(path), 0750)
}

func (s *store) RemoveAll(_ context.Context, path string) error {
	return FileSystem.RemoveAll(s.abs(path))
}

func (s *store) IsDir(_ context.Context, path string) (bool, error) {
	return afero.DirExists(FileSystem, s.abs(path))
}

func (s *store) abs(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

var _ stores.Directories = (*store)(nil)
