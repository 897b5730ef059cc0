// Package ingest archives .msg files: the original goes to the object store
// with its attachments extracted next to it, and a summary row is recorded.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"path"

	"github.com/rotisserie/eris"

	"github.com/eslider/msgparse/internal/archive"
	"github.com/eslider/msgparse/internal/export"
	"github.com/eslider/msgparse/internal/message"
	"github.com/eslider/msgparse/internal/model"
	"github.com/eslider/msgparse/internal/storage"
)

// ErrInvalidMessage wraps parse failures of the submitted bytes.
var ErrInvalidMessage = eris.New("not a valid .msg file")

// Parser decodes a .msg file.
type Parser interface {
	ParseReader(r io.Reader) (*message.Message, error)
}

// Result describes one ingested file.
type Result struct {
	Record  *model.Record
	Message *message.Message // nil for duplicates
	// Attachments lists the object keys written for extracted attachments.
	Attachments []string
	Duplicate   bool
}

// Ingester archives .msg files.
type Ingester struct {
	parser  Parser
	archive *archive.Store
	store   storage.ObjectStore
	logger  *slog.Logger
}

// New returns an ingester.
func New(p Parser, arc *archive.Store, store storage.ObjectStore, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{parser: p, archive: arc, store: store, logger: logger}
}

// OriginalKey is the object key of the stored .msg of record id.
func OriginalKey(id string) string {
	return path.Join("messages", id, "original.msg")
}

// AttachmentPrefix is the key prefix of the extracted attachments of id.
func AttachmentPrefix(id string) string {
	return path.Join("messages", id, "attachments")
}

// Add parses data and archives it. Bytes that were archived before return
// the existing record with Duplicate set.
func (in *Ingester) Add(ctx context.Context, source model.Source, filename string, data []byte) (*Result, error) {
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	if rec, err := in.archive.RecordBySHA256(checksum); err == nil {
		return &Result{Record: rec, Duplicate: true}, nil
	} else if !eris.Is(err, archive.ErrNotFound) {
		return nil, err
	}

	m, err := in.parser.ParseReader(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidMessage, "%v", err)
	}

	rec := &model.Record{
		ID:          model.NewID(),
		Source:      source,
		Filename:    export.SanitizeName(filename),
		SHA256:      checksum,
		Size:        int64(len(data)),
		Subject:     m.Subject,
		FromEmail:   m.FromEmail,
		ToEmail:     m.ToEmail,
		Date:        m.Date,
		Attachments: len(m.Attachments),
	}
	rec.StoreKey = OriginalKey(rec.ID)
	if err := in.store.Put(ctx, rec.StoreKey, data); err != nil {
		return nil, err
	}
	keys, err := export.SaveAttachments(ctx, in.store, AttachmentPrefix(rec.ID), m)
	if err != nil {
		return nil, err
	}
	if err := in.archive.AddRecord(rec); err != nil {
		return nil, err
	}

	in.logger.Info("archived message", "id", rec.ID, "filename", rec.Filename, "source", source, "attachments", len(keys))
	return &Result{Record: rec, Message: m, Attachments: keys}, nil
}
