package ingest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"

	"github.com/eslider/msgparse/internal/archive"
	"github.com/eslider/msgparse/internal/container"
	"github.com/eslider/msgparse/internal/container/containertest"
	"github.com/eslider/msgparse/internal/mapi"
	"github.com/eslider/msgparse/internal/model"
	"github.com/eslider/msgparse/internal/parser"
	"github.com/eslider/msgparse/internal/storage"
)

func newIngester(t *testing.T) (*Ingester, *archive.Store, *storage.FSStore) {
	t.Helper()
	dir := t.TempDir()
	arc, err := archive.Open(dir)
	if err != nil {
		t.Fatalf("archive.Open: %v", err)
	}
	t.Cleanup(func() { arc.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewFSStore(filepath.Join(dir, "objects"))
	return New(parser.New(parser.WithLogger(logger)), arc, store, logger), arc, store
}

func sample() []byte {
	return containertest.MustBuild(container.NewDir(container.RootName,
		container.NewDoc(mapi.EntryPrefix+"0037001E", []byte("Invoice")),
		container.NewDir("__attach_version1.0_#00000000",
			container.NewDoc(mapi.EntryPrefix+"3704001E", []byte("INV.PDF")),
			container.NewDoc(mapi.EntryPrefix+"37010102", []byte("%PDF")),
		),
	))
}

func TestAdd(t *testing.T) {
	in, arc, store := newIngester(t)
	ctx := context.Background()

	res, err := in.Add(ctx, model.SourceCLI, "dir/invoice.msg", sample())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if res.Duplicate || res.Message == nil || res.Message.Subject != "Invoice" {
		t.Fatalf("result = %+v", res)
	}
	rec := res.Record
	if rec.Source != model.SourceCLI || rec.Filename != "invoice.msg" || rec.StoreKey != OriginalKey(rec.ID) {
		t.Errorf("record = %+v", rec)
	}
	want := AttachmentPrefix(rec.ID) + "/INV.PDF"
	if len(res.Attachments) != 1 || res.Attachments[0] != want {
		t.Errorf("attachments = %v, want [%s]", res.Attachments, want)
	}
	if data, err := store.Get(ctx, want); err != nil || string(data) != "%PDF" {
		t.Errorf("attachment = %q, %v", data, err)
	}

	again, err := in.Add(ctx, model.SourceUpload, "copy.msg", sample())
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if !again.Duplicate || again.Record.ID != rec.ID || again.Message != nil {
		t.Errorf("second result = %+v", again)
	}
	if recs, _ := arc.Records(0, 0); len(recs) != 1 {
		t.Errorf("archive holds %d records, want 1", len(recs))
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	in, arc, _ := newIngester(t)
	_, err := in.Add(context.Background(), model.SourceCLI, "x.msg", []byte("not a compound file"))
	if !eris.Is(err, ErrInvalidMessage) {
		t.Fatalf("err = %v, want ErrInvalidMessage", err)
	}
	if recs, _ := arc.Records(0, 0); len(recs) != 0 {
		t.Errorf("invalid file was archived")
	}
}
