package web

import (
	"embed"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eslider/msgparse/internal/export"
	"github.com/eslider/msgparse/internal/message"
	"github.com/eslider/msgparse/internal/model"
)

//go:embed templates
var templatesFS embed.FS

// TemplateDir overrides the embedded templates when set (e.g. for
// development). Call ReloadTemplates after changing it.
var TemplateDir string

var (
	templatesMu sync.RWMutex
	pages       *template.Template
)

var templateFuncs = template.FuncMap{
	"formatDate": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02 15:04")
	},
}

func init() {
	pages = template.Must(template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.tmpl"))
}

// ReloadTemplates loads templates from TemplateDir if set, otherwise from
// the embedded copies. A directory that fails to parse keeps the current
// templates.
func ReloadTemplates() error {
	var t *template.Template
	var err error
	if TemplateDir == "" {
		t, err = template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.tmpl")
	} else {
		t, err = template.New("").Funcs(templateFuncs).ParseFS(os.DirFS(TemplateDir), "*.tmpl")
	}
	if err != nil {
		return err
	}
	templatesMu.Lock()
	pages = t
	templatesMu.Unlock()
	return nil
}

func renderPage(w io.Writer, name string, data any) error {
	templatesMu.RLock()
	t := pages
	templatesMu.RUnlock()
	return t.ExecuteTemplate(w, name, data)
}

type fileLink struct {
	Index int
	Name  string
	Size  int64
}

type messagePage struct {
	Title   string
	From    string
	To      string
	Record  *model.Record
	Message *message.Message
	Files   []fileLink
	HTML    string
}

func handleIndexPage(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := cfg.Archive.Records(queryInt(r, "limit", 50), queryInt(r, "offset", 0))
		if err != nil {
			cfg.Logger.Error("list records", "error", err)
			http.Error(w, "listing messages failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := renderPage(w, "index", struct{ Records []*model.Record }{recs}); err != nil {
			cfg.Logger.Error("render index", "error", err)
		}
	}
}

func handleMessagePage(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, m, err := loadMessage(r.Context(), cfg, chi.URLParam(r, "id"))
		if err != nil {
			writeLoadError(w, cfg, err)
			return
		}

		page := messagePage{Title: rec.Subject, From: rec.FromEmail, To: rec.ToEmail, Record: rec, Message: m}
		if page.Title == "" {
			page.Title = filepath.Base(rec.Filename)
		}
		if m != nil {
			page.From = message.FormatAddress(m.FromEmail, m.FromName)
			page.To = message.FormatAddress(m.ToEmail, m.ToName)
			page.HTML = m.HTML()
			for i, a := range m.FileAttachments() {
				page.Files = append(page.Files, fileLink{Index: i, Name: export.AttachmentName(a, i), Size: a.Size})
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := renderPage(w, "message", page); err != nil {
			cfg.Logger.Error("render message", "id", rec.ID, "error", err)
		}
	}
}
