// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package blobstore persists every submitted station document on disk,
// keyed by the sha-256 of its canonical form.
package blobstore

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	// Error is the default blobstore error class.
	Error = errs.Class("blobstore")

	mon = monkit.Package()
)

// Known blob extensions. A submission is stored as the source XML; the
// external converter derives the binary form next to it.
const (
	ExtSource    = ".xml"
	ExtConverted = ".converted"
	ExtPrototype = ".stationxml"
)

// extensions that Remove clears for a station artifact.
var artifactExtensions = []string{ExtSource, ExtConverted}

const (
	prototypeDir = "prototypes"
	inventoryDir = "inventory"
)

// Ref addresses one station artifact. The hash determines the file
// name; network and station determine the directory.
type Ref struct {
	Network string
	Station string
	Hash    string
}

// Path returns the root-relative, extension-less path prefix of the
// artifact, the form stored in the index.
func (ref Ref) Path() string {
	return path.Join(ref.Network, ref.Station, ref.Hash)
}

// Store is the content-addressed artifact store.
//
// architecture: Database
type Store struct {
	log *zap.Logger
	dir *Dir
}

// NewStore opens a store rooted at the given path, creating it when
// missing.
func NewStore(log *zap.Logger, root string) (*Store, error) {
	dir, err := NewDir(root)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{log: log, dir: dir}, nil
}

// Root returns the store's root directory.
func (store *Store) Root() string { return store.dir.Path() }

// Put stores the bytes for the artifact under the given extension.
// Re-writing an existing blob is a no-op.
func (store *Store) Put(ctx context.Context, ref Ref, ext string, data []byte) (err error) {
	defer mon.Task()(&ctx)(&err)
	_, err = store.dir.Commit(ctx, ref.Path()+ext, bytes.NewReader(data))
	return Error.Wrap(err)
}

// Open returns a reader over the artifact blob with the extension.
func (store *Store) Open(ctx context.Context, ref Ref, ext string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)
	file, err := store.dir.Open(ctx, ref.Path()+ext)
	return file, Error.Wrap(err)
}

// Exists reports whether the blob with the extension is on disk.
func (store *Store) Exists(ctx context.Context, ref Ref, ext string) (bool, error) {
	ok, err := store.dir.Exists(ctx, ref.Path()+ext)
	return ok, Error.Wrap(err)
}

// FilePath returns the absolute path of the blob with the extension,
// for handing to the external tool.
func (store *Store) FilePath(ref Ref, ext string) string {
	return store.dir.Resolve(ref.Path() + ext)
}

// RemoveExt deletes a single extension of the artifact, e.g. a partial
// converted form after a failed tool run.
func (store *Store) RemoveExt(ctx context.Context, ref Ref, ext string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(store.dir.Remove(ctx, ref.Path()+ext))
}

// Remove deletes every known extension of the artifact. The caller is
// responsible for checking that no live index record references the
// hash.
func (store *Store) Remove(ctx context.Context, ref Ref) (err error) {
	defer mon.Task()(&ctx)(&err)
	var group errs.Group
	for _, ext := range artifactExtensions {
		group.Add(store.dir.Remove(ctx, ref.Path()+ext))
	}
	return Error.Wrap(group.Err())
}

// PutPrototype stores a network prototype document by hash.
func (store *Store) PutPrototype(ctx context.Context, hash string, data []byte) (err error) {
	defer mon.Task()(&ctx)(&err)
	_, err = store.dir.Commit(ctx, path.Join(prototypeDir, hash+ExtPrototype), bytes.NewReader(data))
	return Error.Wrap(err)
}

// OpenPrototype returns a reader over a prototype document.
func (store *Store) OpenPrototype(ctx context.Context, hash string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)
	file, err := store.dir.Open(ctx, path.Join(prototypeDir, hash+ExtPrototype))
	return file, Error.Wrap(err)
}

// PrototypePath returns the absolute path of a prototype document.
func (store *Store) PrototypePath(hash string) string {
	return store.dir.Resolve(path.Join(prototypeDir, hash+ExtPrototype))
}

// PrototypeConvertedPath returns the absolute path of the converted
// form of a prototype.
func (store *Store) PrototypeConvertedPath(hash string) string {
	return store.dir.Resolve(path.Join(prototypeDir, hash+ExtConverted))
}

// PrototypeConvertedExists reports whether the converted form of a
// prototype is on disk.
func (store *Store) PrototypeConvertedExists(ctx context.Context, hash string) (bool, error) {
	ok, err := store.dir.Exists(ctx, path.Join(prototypeDir, hash+ExtConverted))
	return ok, Error.Wrap(err)
}

// WriteInventory writes the named inventory artifact atomically: the
// write callback streams into a temporary file which is renamed into
// place only when the callback succeeds.
func (store *Store) WriteInventory(ctx context.Context, name string, write func(io.Writer) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := write(pw)
		_ = pw.CloseWithError(err)
		done <- err
	}()

	_, commitErr := store.dir.Replace(ctx, path.Join(inventoryDir, name), pr)
	// the commit may abort before draining the pipe; closing the read
	// side unblocks the writer so it can report back.
	_ = pr.CloseWithError(commitErr)
	writeErr := <-done
	if writeErr != nil {
		return Error.Wrap(writeErr)
	}
	return Error.Wrap(commitErr)
}

// OpenInventory returns a reader over a previously written inventory
// artifact.
func (store *Store) OpenInventory(ctx context.Context, name string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)
	file, err := store.dir.Open(ctx, path.Join(inventoryDir, name))
	return file, Error.Wrap(err)
}

// InventoryPath returns the absolute path of an inventory artifact.
func (store *Store) InventoryPath(name string) string {
	return store.dir.Resolve(path.Join(inventoryDir, name))
}
