// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// Dir manages the on-disk layout below the metadata root. All writes
// go through a temporary sibling file and are committed by rename, so
// readers never observe a partial artifact.
type Dir struct {
	path string
}

// NewDir creates (if necessary) and returns the root directory.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, dirPermission); err != nil {
		return nil, err
	}
	return &Dir{path: path}, nil
}

// Path returns the root path of the directory.
func (dir *Dir) Path() string { return dir.path }

const (
	dirPermission  = 0o755
	blobPermission = 0o644
)

// Resolve returns the absolute path for a root-relative blob path.
func (dir *Dir) Resolve(rel string) string {
	return filepath.Join(dir.path, filepath.FromSlash(rel))
}

// Commit streams source into the target path atomically. Existing
// files are left untouched: blobs are content addressed, so an
// existing target already holds the same bytes.
func (dir *Dir) Commit(ctx context.Context, rel string, source io.Reader) (n int64, err error) {
	target := dir.Resolve(rel)
	if _, err := os.Stat(target); err == nil {
		return 0, nil
	}
	return dir.write(ctx, target, source)
}

// Replace streams source into the target path atomically, renaming
// over any previous version. Used for artifacts that are rebuilt, such
// as the merged inventory.
func (dir *Dir) Replace(ctx context.Context, rel string, source io.Reader) (n int64, err error) {
	return dir.write(ctx, dir.Resolve(rel), source)
}

func (dir *Dir) write(ctx context.Context, target string, source io.Reader) (n int64, err error) {
	if err := os.MkdirAll(filepath.Dir(target), dirPermission); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".partial.*")
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err = io.Copy(tmp, source)
	if err != nil {
		return 0, err
	}
	if err := tmp.Chmod(blobPermission); err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}

// Open opens a committed blob for reading.
func (dir *Dir) Open(ctx context.Context, rel string) (*os.File, error) {
	return os.Open(dir.Resolve(rel))
}

// Exists reports whether a committed blob is present.
func (dir *Dir) Exists(ctx context.Context, rel string) (bool, error) {
	_, err := os.Stat(dir.Resolve(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove deletes a committed blob. Missing files are not an error.
func (dir *Dir) Remove(ctx context.Context, rel string) error {
	err := os.Remove(dir.Resolve(rel))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
