package pstsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"time"

	"github.com/rotisserie/eris"

	"github.com/eslider/msgparse/internal/archive"
	"github.com/eslider/msgparse/internal/export"
	"github.com/eslider/msgparse/internal/message"
	"github.com/eslider/msgparse/internal/model"
	"github.com/eslider/msgparse/internal/storage"
)

// Importer archives the mail items of PST files: each one is rendered as
// .eml, stored under messages/<id>/message.eml and recorded in the archive.
type Importer struct {
	source  *Source
	archive *archive.Store
	store   storage.ObjectStore
}

// NewImporter returns an importer writing through arc and store.
func NewImporter(source *Source, arc *archive.Store, store storage.ObjectStore) *Importer {
	return &Importer{source: source, archive: arc, store: store}
}

// Import walks the PST at path inside a recorded import job. Messages that
// were archived before (same Fingerprint) count as skipped.
func (im *Importer) Import(ctx context.Context, path string, onProgress ProgressFunc) (*model.ImportJob, error) {
	if onProgress == nil {
		onProgress = func(string, int) {}
	}
	job, err := im.archive.CreateJob(path)
	if err != nil {
		return nil, err
	}

	added, skipped := 0, 0
	onProgress("importing", 0)
	stats, walkErr := im.source.Walk(path, func(folder string, m *message.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := im.Add(ctx, folder, m)
		if err != nil {
			im.source.logger.Warn("archive PST message", "folder", folder, "subject", m.Subject, "error", err)
		}
		if ok {
			added++
		} else {
			skipped++
		}
		if n := added + skipped; n%100 == 0 {
			onProgress("importing", n)
		}
		return nil
	})
	job.Messages = added
	job.Skipped = stats.Skipped + skipped
	onProgress("done", job.Messages)

	if err := im.archive.FinishJob(job, walkErr); err != nil {
		return job, err
	}
	return job, walkErr
}

// Add archives one message. It reports false when the message was already
// archived or could not be stored.
func (im *Importer) Add(ctx context.Context, folder string, m *message.Message) (bool, error) {
	data, err := export.EML(m)
	if err != nil {
		return false, err
	}
	checksum := Fingerprint(m)
	if _, err := im.archive.RecordBySHA256(checksum); err == nil {
		return false, nil
	} else if !eris.Is(err, archive.ErrNotFound) {
		return false, err
	}

	rec := &model.Record{
		ID:          model.NewID(),
		Source:      model.SourcePST,
		Filename:    path.Join(SanitizeFolderName(folder), export.EmbeddedName(m, 0)),
		SHA256:      checksum,
		Size:        int64(len(data)),
		Subject:     m.Subject,
		FromEmail:   m.FromEmail,
		ToEmail:     m.ToEmail,
		Date:        m.Date,
		Attachments: len(m.Attachments),
	}
	rec.StoreKey = path.Join("messages", rec.ID, "message.eml")
	if err := im.store.Put(ctx, rec.StoreKey, data); err != nil {
		return false, err
	}
	if err := im.archive.AddRecord(rec); err != nil {
		return false, err
	}
	return true, nil
}

// Fingerprint identifies a PST message across imports. Rendered .eml bytes
// differ per run (MIME boundaries), so the identifying fields are hashed.
func Fingerprint(m *message.Message) string {
	h := sha256.New()
	field := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	field(m.MessageID)
	field(m.FromEmail)
	field(m.DisplayTo)
	field(m.Subject)
	if !m.Date.IsZero() {
		field(m.Date.UTC().Format(time.RFC3339Nano))
	}
	field(m.BodyText)
	field(m.BodyHTML)
	for _, a := range m.FileAttachments() {
		field(fmt.Sprintf("%s:%d", a.Name(), a.Size))
	}
	return hex.EncodeToString(h.Sum(nil))
}
