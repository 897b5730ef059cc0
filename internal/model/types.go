// Package model defines the records shared between the archive, the HTTP
// API and the CLI.
package model

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a UUIDv7 (time-ordered) identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Source tells where a parsed message came from.
type Source string

const (
	SourceUpload Source = "upload"
	SourceCLI    Source = "cli"
	SourcePST    Source = "pst"
)

// Record is the archived summary of one parsed message. The parsed message
// itself is rebuilt from the stored original on demand.
type Record struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	Filename    string    `json:"filename,omitempty"`
	SHA256      string    `json:"sha256"`
	Size        int64     `json:"size"`
	Subject     string    `json:"subject,omitempty"`
	FromEmail   string    `json:"from_email,omitempty"`
	ToEmail     string    `json:"to_email,omitempty"`
	Date        time.Time `json:"date,omitzero"`
	Attachments int       `json:"attachments"`
	StoreKey    string    `json:"store_key"`
	ParsedAt    time.Time `json:"parsed_at"`
}

// JobStatus is the state of a batch import.
type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// ImportJob tracks one PST conversion run.
type ImportJob struct {
	ID         string     `json:"id"`
	Path       string     `json:"path"`
	Status     JobStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Messages   int        `json:"messages"`
	Skipped    int        `json:"skipped"`
	Error      string     `json:"error,omitempty"`
}
