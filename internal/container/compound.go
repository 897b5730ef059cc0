package container

import (
	"bytes"
	"io"
	"os"

	"github.com/richardlehane/mscfb"
	"github.com/rotisserie/eris"
)

// RootName is the name given to the top-level directory of an opened file.
const RootName = "Root Entry"

// Open reads a compound file into memory and returns its root directory.
// Stream contents are loaded eagerly so ra may be released afterwards.
func Open(ra io.ReaderAt) (*Dir, error) {
	doc, err := mscfb.New(ra)
	if err != nil {
		return nil, eris.Wrap(err, "open compound file")
	}

	root := NewDir(RootName)
	// stack[d] is the directory receiving entries whose path has length d.
	// mscfb yields every storage immediately before its children.
	stack := []*Dir{root}
	for {
		f, err := doc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "walk compound file")
		}
		depth := len(f.Path)
		if depth >= len(stack) {
			return nil, eris.Errorf("entry %q is orphaned at depth %d", f.Name, depth)
		}
		parent := stack[depth]

		if f.FileInfo().IsDir() {
			dir := NewDir(f.Name)
			parent.Add(dir)
			stack = append(stack[:depth+1], dir)
			continue
		}

		var buf bytes.Buffer
		if f.Size > 0 {
			buf.Grow(int(f.Size))
			if _, err := io.Copy(&buf, f); err != nil {
				parent.Add(FailingDoc(f.Name, f.Size, eris.Wrapf(err, "read stream %q", f.Name)))
				stack = stack[:depth+1]
				continue
			}
		}
		parent.Add(NewDoc(f.Name, buf.Bytes()))
		stack = stack[:depth+1]
	}
	return root, nil
}

// OpenFile opens a compound file from disk.
func OpenFile(path string) (*Dir, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return Open(f)
}

// ReadAll loads a compound file from r.
func ReadAll(r io.Reader) (*Dir, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "read compound file")
	}
	return Open(bytes.NewReader(data))
}
