// Package storage keeps parsed originals and exported attachments in an
// object store: a local directory tree or an S3-compatible bucket.
package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = eris.New("object not found")
	// ErrInvalidKey is returned for keys that would leave the store root.
	ErrInvalidKey = eris.New("invalid object key")
)

// ObjectStore reads and writes objects by key. Keys use forward slashes,
// e.g. "messages/<id>/attachments/report.pdf".
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key under prefix, recursively, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// FSStore stores objects as files below a root directory.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at root. The directory is created on the
// first Put.
func NewFSStore(root string) *FSStore {
	return &FSStore{root: filepath.Clean(root)}
}

func (f *FSStore) path(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return "", eris.Wrapf(ErrInvalidKey, "%q", key)
	}
	return filepath.Join(f.root, rel), nil
}

func (f *FSStore) Put(_ context.Context, key string, data []byte) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "create directory for %q", key)
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "write %q", key)
}

func (f *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(ErrNotFound, "%q", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read %q", key)
	}
	return data, nil
}

func (f *FSStore) List(_ context.Context, prefix string) ([]string, error) {
	dir := filepath.Join(f.root, filepath.FromSlash(prefix))
	var keys []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return nil
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "list %q", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// New returns an S3 store when cfg carries an endpoint and credentials,
// otherwise a filesystem store rooted at dataDir.
func New(ctx context.Context, cfg S3Config, dataDir string) (ObjectStore, error) {
	if !cfg.Enabled() {
		return NewFSStore(dataDir), nil
	}
	client, err := NewS3Client(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return NewS3Store(client, cfg.Prefix), nil
}
