// Package container exposes the directory/document tree of a compound-file
// (.msg) as a small read-only interface, plus an in-memory implementation
// used for virtual entries and fixtures.
package container

import (
	"bytes"
	"io"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotDirectory is returned by AsDirectory on a document entry.
	ErrNotDirectory = eris.New("entry is not a directory")
	// ErrNotDocument is returned by Open on a directory entry.
	ErrNotDocument = eris.New("entry is not a document")
)

// Directory is a named node holding child entries in container order.
type Directory interface {
	Name() string
	Entries() ([]Entry, error)
}

// Entry is a child of a Directory: either a nested directory or a document
// (byte stream).
type Entry interface {
	Name() string
	IsDir() bool
	// Size is the document length in bytes, 0 for directories.
	Size() int64
	// Open returns a fresh reader over the document bytes. The caller closes it.
	Open() (io.ReadCloser, error)
	// AsDirectory returns the entry as a Directory when IsDir is true.
	AsDirectory() (Directory, error)
}

// Dir is an in-memory directory.
type Dir struct {
	name     string
	children []Entry
	err      error
}

// NewDir returns a directory holding entries in the given order.
func NewDir(name string, entries ...Entry) *Dir {
	return &Dir{name: name, children: entries}
}

// FailingDir returns a directory whose Entries call fails with err.
func FailingDir(name string, err error) *Dir {
	return &Dir{name: name, err: err}
}

// Add appends entries and returns d.
func (d *Dir) Add(entries ...Entry) *Dir {
	d.children = append(d.children, entries...)
	return d
}

func (d *Dir) Name() string { return d.name }

func (d *Dir) Entries() ([]Entry, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := make([]Entry, len(d.children))
	copy(out, d.children)
	return out, nil
}

func (d *Dir) IsDir() bool { return true }
func (d *Dir) Size() int64 { return 0 }

func (d *Dir) Open() (io.ReadCloser, error) {
	return nil, eris.Wrapf(ErrNotDocument, "open %q", d.name)
}

func (d *Dir) AsDirectory() (Directory, error) { return d, nil }

// Doc is an in-memory document.
type Doc struct {
	name string
	data []byte
	err  error
}

// NewDoc returns a document holding data.
func NewDoc(name string, data []byte) *Doc {
	return &Doc{name: name, data: data}
}

// FailingDoc returns a document whose Open call fails with err.
func FailingDoc(name string, size int64, err error) *Doc {
	return &Doc{name: name, data: make([]byte, size), err: err}
}

func (d *Doc) Name() string { return d.name }
func (d *Doc) IsDir() bool  { return false }
func (d *Doc) Size() int64  { return int64(len(d.data)) }

// Bytes returns the document content.
func (d *Doc) Bytes() []byte { return d.data }

func (d *Doc) Open() (io.ReadCloser, error) {
	if d.err != nil {
		return nil, d.err
	}
	return io.NopCloser(bytes.NewReader(d.data)), nil
}

func (d *Doc) AsDirectory() (Directory, error) {
	return nil, eris.Wrapf(ErrNotDirectory, "%q", d.name)
}
