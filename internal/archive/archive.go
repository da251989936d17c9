// Package archive copies closed store files to and from object storage.
//
// A store file is uploaded as a single object. FileStore files are checked
// against their header before upload and after download, so a truncated or
// foreign object is never restored over a store path.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/freeeve/framestore/internal/store"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("archive object not found")

// Archive stores whole objects by name.
type Archive interface {
	// Put uploads size bytes from r under name, replacing any object there.
	Put(ctx context.Context, name string, r io.Reader, size int64, meta map[string]string) error
	// Get opens the object for reading, or returns ErrNotFound.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns the object names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes an object. Removing a missing object is not an error.
	Delete(ctx context.Context, name string) error
}

// Metadata keys attached to uploaded objects.
const (
	MetaKind    = "framestore-kind"
	MetaStoreID = "framestore-id"
	MetaTColumn = "framestore-tcolumn"
)

// Kinds of store files.
const (
	KindFile   = store.BackendFile
	KindSQLite = store.BackendSQLite
)

const sqliteMagic = "SQLite format 3\x00"

// Info describes an uploaded store file.
type Info struct {
	Name string
	Kind string
	Size int64
	Meta map[string]string
}

// inspect identifies a store file from its first bytes.
func inspect(r io.Reader) (string, map[string]string, error) {
	head := make([]byte, len(sqliteMagic))
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, fmt.Errorf("%w: %v", store.ErrInvalidData, err)
	}
	head = head[:n]
	if string(head) == sqliteMagic {
		return KindSQLite, map[string]string{MetaKind: KindSQLite}, nil
	}
	h, err := store.ReadFileHeader(io.MultiReader(bytes.NewReader(head), r))
	if err != nil {
		return "", nil, err
	}
	return KindFile, map[string]string{
		MetaKind:    KindFile,
		MetaStoreID: h.ID.String(),
		MetaTColumn: h.TColumn,
	}, nil
}

// Backup uploads the store file at path under name. An empty name uses the
// file's base name. The store must be closed.
func Backup(ctx context.Context, a Archive, path, name string) (Info, error) {
	if name == "" {
		name = filepath.Base(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	kind, meta, err := inspect(f)
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Info{}, err
	}
	if err := a.Put(ctx, name, f, fi.Size(), meta); err != nil {
		return Info{}, fmt.Errorf("upload %s: %w", name, err)
	}
	return Info{Name: name, Kind: kind, Size: fi.Size(), Meta: meta}, nil
}

// Restore downloads name to path. It refuses to replace an existing file.
// The download goes to a temporary file that is renamed into place only
// after its header checks out.
func Restore(ctx context.Context, a Archive, name, path string) (Info, error) {
	if _, err := os.Stat(path); err == nil {
		return Info{}, fmt.Errorf("restore %s: %w", path, os.ErrExist)
	}
	rc, err := a.Get(ctx, name)
	if err != nil {
		return Info{}, err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Info{}, err
	}
	tmp := path + ".restore.tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return Info{}, err
	}
	cleanup := func() {
		f.Close()
		os.Remove(tmp)
	}

	size, err := io.Copy(f, rc)
	if err != nil {
		cleanup()
		return Info{}, fmt.Errorf("download %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return Info{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return Info{}, err
	}
	kind, meta, err := inspect(f)
	if err != nil {
		cleanup()
		return Info{}, fmt.Errorf("%s: %w", name, err)
	}
	if want := store.BackendFor(store.Config{Path: path}); want != kind {
		cleanup()
		return Info{}, fmt.Errorf("%w: %s holds a %s store but %s selects %s", store.ErrInvalidData, name, kind, filepath.Base(path), want)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return Info{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Info{}, err
	}
	return Info{Name: name, Kind: kind, Size: size, Meta: meta}, nil
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}
