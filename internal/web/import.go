package web

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eslider/msgparse/internal/model"
)

// importJob tracks a running PST/OST import.
type importJob struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Phase    string `json:"phase"`   // "uploading", "importing", "done", "error"
	Current  int    `json:"current"` // messages processed so far
	Messages int    `json:"messages"`
	Skipped  int    `json:"skipped"`
	Error    string `json:"error,omitempty"`
}

var importJobRetention = 10 * time.Minute

var (
	importJobsMu  gosync.Mutex
	importJobsMap = make(map[string]*importJob)
)

func setImportJob(jobID string, job *importJob) {
	importJobsMu.Lock()
	defer importJobsMu.Unlock()
	importJobsMap[jobID] = job
}

func getImportJob(jobID string) (importJob, bool) {
	importJobsMu.Lock()
	defer importJobsMu.Unlock()
	job, ok := importJobsMap[jobID]
	if !ok {
		return importJob{}, false
	}
	return *job, true
}

func updateImportJob(jobID string, fn func(*importJob)) {
	importJobsMu.Lock()
	defer importJobsMu.Unlock()
	if job, ok := importJobsMap[jobID]; ok {
		fn(job)
	}
}

func deleteImportJob(jobID string) {
	importJobsMu.Lock()
	defer importJobsMu.Unlock()
	delete(importJobsMap, jobID)
}

// scheduleImportJobCleanup removes a finished job from importJobsMap after
// importJobRetention so completed/failed jobs don't accumulate forever.
func scheduleImportJobCleanup(jobID string) {
	time.AfterFunc(importJobRetention, func() {
		deleteImportJob(jobID)
	})
}

func handleImportPST(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Importer == nil {
			writeError(w, http.StatusNotImplemented, "PST import is not enabled")
			return
		}

		mr, err := r.MultipartReader()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}
		var filename string
		var filePart io.Reader
		for filePart == nil {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				writeError(w, http.StatusBadRequest, "multipart read error: "+err.Error())
				return
			}
			if part.FormName() == "file" {
				filename = filepath.Base(part.FileName())
				filePart = part
			}
		}
		if filePart == nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}

		jobID := model.NewID()
		setImportJob(jobID, &importJob{ID: jobID, Filename: filename, Phase: "uploading"})

		// Stream the upload to a temp file; go-pst needs random access.
		tmp, err := os.CreateTemp("", "msgparse-*.pst")
		if err == nil {
			_, err = io.Copy(tmp, filePart)
			if cerr := tmp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(tmp.Name())
			}
		}
		if err != nil {
			updateImportJob(jobID, func(j *importJob) {
				j.Phase = "error"
				j.Error = err.Error()
			})
			scheduleImportJobCleanup(jobID)
			writeError(w, http.StatusInternalServerError, "storing the upload failed")
			return
		}
		tmpPath := tmp.Name()

		// Run import in background.
		go func() {
			defer os.Remove(tmpPath)
			defer scheduleImportJobCleanup(jobID)

			onProgress := func(phase string, current int) {
				updateImportJob(jobID, func(j *importJob) {
					j.Phase = phase
					j.Current = current
				})
			}
			job, err := cfg.Importer.Import(context.Background(), tmpPath, onProgress)
			updateImportJob(jobID, func(j *importJob) {
				if job != nil {
					j.Messages = job.Messages
					j.Skipped = job.Skipped
				}
				if err != nil {
					j.Phase = "error"
					j.Error = err.Error()
				}
			})
			if err != nil {
				cfg.Logger.Error("PST import", "filename", filename, "error", err)
				return
			}
			cfg.Logger.Info("PST import", "filename", filename, "messages", job.Messages, "skipped", job.Skipped)
		}()

		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":   jobID,
			"filename": filename,
		})
	}
}

func handleImportStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := getImportJob(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "import job not found")
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}
