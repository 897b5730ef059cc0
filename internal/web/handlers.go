package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/eslider/msgparse/internal/archive"
	"github.com/eslider/msgparse/internal/export"
	"github.com/eslider/msgparse/internal/ingest"
	"github.com/eslider/msgparse/internal/message"
	"github.com/eslider/msgparse/internal/model"
	"github.com/eslider/msgparse/internal/storage"
)

var errNoFile = errors.New("file is required")

// messageResponse is returned for uploads and message lookups. Message is
// nil for archived PST items, which are stored as .eml.
type messageResponse struct {
	Record      *model.Record    `json:"record"`
	Message     *message.Message `json:"message,omitempty"`
	Attachments []string         `json:"attachments,omitempty"`
	Duplicate   bool             `json:"duplicate,omitempty"`
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleParse decodes an upload without archiving it.
func handleParse(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUpload)
		_, data, err := readUpload(r)
		if err != nil {
			writeUploadError(w, err)
			return
		}
		m, err := cfg.Parser.ParseReader(bytes.NewReader(data))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "not a valid .msg file: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// handleUpload archives an uploaded .msg. Re-uploads of the same bytes
// return the existing record.
func handleUpload(cfg Config) http.HandlerFunc {
	ingester := ingest.New(cfg.Parser, cfg.Archive, cfg.Store, cfg.Logger)
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUpload)
		filename, data, err := readUpload(r)
		if err != nil {
			writeUploadError(w, err)
			return
		}

		res, err := ingester.Add(r.Context(), model.SourceUpload, filename, data)
		if eris.Is(err, ingest.ErrInvalidMessage) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err != nil {
			cfg.Logger.Error("archive upload", "filename", filename, "error", err)
			writeError(w, http.StatusInternalServerError, "archiving the upload failed")
			return
		}

		status := http.StatusCreated
		if res.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, messageResponse{
			Record:      res.Record,
			Message:     res.Message,
			Attachments: res.Attachments,
			Duplicate:   res.Duplicate,
		})
	}
}

func handleListMessages(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)
		if offset < 0 {
			offset = 0
		}
		recs, err := cfg.Archive.Records(limit, offset)
		if err != nil {
			cfg.Logger.Error("list records", "error", err)
			writeError(w, http.StatusInternalServerError, "listing messages failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": recs,
			"limit":    limit,
			"offset":   offset,
		})
	}
}

func handleMessage(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, m, err := loadMessage(r.Context(), cfg, chi.URLParam(r, "id"))
		if err != nil {
			writeLoadError(w, cfg, err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Record: rec, Message: m})
	}
}

func handleEML(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rec, m, err := loadMessage(ctx, cfg, chi.URLParam(r, "id"))
		if err != nil {
			writeLoadError(w, cfg, err)
			return
		}

		var data []byte
		if m == nil {
			data, err = cfg.Store.Get(ctx, rec.StoreKey)
		} else {
			data, err = export.EML(m)
		}
		if err != nil {
			writeLoadError(w, cfg, err)
			return
		}

		w.Header().Set("Content-Type", "message/rfc822")
		w.Header().Set("Content-Disposition", disposition("attachment", emlName(rec, m)))
		w.Write(data)
	}
}

func handleProperties(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, m, err := loadMessage(r.Context(), cfg, chi.URLParam(r, "id"))
		if err != nil {
			writeLoadError(w, cfg, err)
			return
		}
		if m == nil {
			writeError(w, http.StatusNotFound, "no MAPI properties stored for this message")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, m.PropertyListing())
	}
}

func handleAttachment(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(chi.URLParam(r, "n"))
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid attachment index")
			return
		}
		_, m, err := loadMessage(r.Context(), cfg, chi.URLParam(r, "id"))
		if err != nil {
			writeLoadError(w, cfg, err)
			return
		}
		var files []*message.FileAttachment
		if m != nil {
			files = m.FileAttachments()
		}
		if n >= len(files) {
			writeError(w, http.StatusNotFound, "attachment not found")
			return
		}

		a := files[n]
		contentType := a.MimeTag
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", disposition("attachment", export.AttachmentName(a, n)))
		w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
		w.Write(a.Data)
	}
}

// --- Helpers ---

// loadMessage returns the archived record with id and, for stored .msg
// originals, the message parsed from it.
func loadMessage(ctx context.Context, cfg Config, id string) (*model.Record, *message.Message, error) {
	rec, err := cfg.Archive.Record(id)
	if err != nil {
		return nil, nil, err
	}
	if path.Ext(rec.StoreKey) != ".msg" {
		return rec, nil, nil
	}
	data, err := cfg.Store.Get(ctx, rec.StoreKey)
	if err != nil {
		return rec, nil, err
	}
	m, err := cfg.Parser.ParseReader(bytes.NewReader(data))
	if err != nil {
		return rec, nil, eris.Wrapf(err, "parse stored %s", rec.StoreKey)
	}
	return rec, m, nil
}

func writeLoadError(w http.ResponseWriter, cfg Config, err error) {
	if eris.Is(err, archive.ErrNotFound) || eris.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	cfg.Logger.Error("load message", "error", err)
	writeError(w, http.StatusInternalServerError, "loading the message failed")
}

// readUpload returns the "file" part of a multipart form, or the raw body
// with its name taken from ?filename=.
func readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		mr, err := r.MultipartReader()
		if err != nil {
			return "", nil, err
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return "", nil, errNoFile
			}
			if err != nil {
				return "", nil, err
			}
			if part.FormName() != "file" {
				continue
			}
			data, err := io.ReadAll(part)
			if err == nil && len(data) == 0 {
				err = errNoFile
			}
			return part.FileName(), data, err
		}
	}

	data, err := io.ReadAll(r.Body)
	if err == nil && len(data) == 0 {
		err = errNoFile
	}
	return r.URL.Query().Get("filename"), data, err
}

func writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func emlName(rec *model.Record, m *message.Message) string {
	if m != nil && m.Subject != "" {
		return export.EmbeddedName(m, 0)
	}
	base := path.Base(rec.Filename)
	if name := strings.TrimSuffix(base, path.Ext(base)); name != "" && name != "." && name != "/" {
		return name + ".eml"
	}
	return rec.ID + ".eml"
}

func disposition(kind, filename string) string {
	if v := mime.FormatMediaType(kind, map[string]string{"filename": filename}); v != "" {
		return v
	}
	return kind
}

func queryInt(r *http.Request, key string, fallback int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return fallback
	}
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}
