// Package archive records parsed messages and PST import runs in a SQLite
// database under the data directory.
package archive

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"github.com/eslider/msgparse/internal/model"
)

const dbFile = "archive.sqlite"

// ErrNotFound is returned when no record matches.
var ErrNotFound = eris.New("record not found")

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	filename    TEXT NOT NULL DEFAULT '',
	sha256      TEXT NOT NULL,
	size        INTEGER NOT NULL DEFAULT 0,
	subject     TEXT NOT NULL DEFAULT '',
	from_email  TEXT NOT NULL DEFAULT '',
	to_email    TEXT NOT NULL DEFAULT '',
	date        DATETIME,
	attachments INTEGER NOT NULL DEFAULT 0,
	store_key   TEXT NOT NULL,
	parsed_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS import_jobs (
	id          TEXT PRIMARY KEY,
	path        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	started_at  DATETIME,
	finished_at DATETIME,
	messages    INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_sha256 ON messages(sha256);
CREATE INDEX IF NOT EXISTS idx_messages_parsed_at ON messages(parsed_at);
`

// Store is the archive database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive database in dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "create %s", dataDir)
	}
	dbPath := filepath.Join(dataDir, dbFile)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, eris.Wrap(err, "open archive db")
	}
	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "init archive db")
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// AddRecord inserts rec, assigning an ID and parse time when unset.
func (s *Store) AddRecord(rec *model.Record) error {
	if rec.ID == "" {
		rec.ID = model.NewID()
	}
	if rec.ParsedAt.IsZero() {
		rec.ParsedAt = time.Now().UTC()
	}
	var date sql.NullTime
	if !rec.Date.IsZero() {
		date = sql.NullTime{Time: rec.Date, Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (id, source, filename, sha256, size, subject, from_email, to_email, date, attachments, store_key, parsed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Source, rec.Filename, rec.SHA256, rec.Size, rec.Subject, rec.FromEmail, rec.ToEmail,
		date, rec.Attachments, rec.StoreKey, rec.ParsedAt,
	)
	return eris.Wrapf(err, "insert record %s", rec.ID)
}

const recordColumns = `id, source, filename, sha256, size, subject, from_email, to_email, date, attachments, store_key, parsed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.Record, error) {
	var rec model.Record
	var date sql.NullTime
	err := row.Scan(&rec.ID, &rec.Source, &rec.Filename, &rec.SHA256, &rec.Size, &rec.Subject,
		&rec.FromEmail, &rec.ToEmail, &date, &rec.Attachments, &rec.StoreKey, &rec.ParsedAt)
	if err != nil {
		return nil, err
	}
	if date.Valid {
		rec.Date = date.Time
	}
	return &rec, nil
}

// Record returns the record with id.
func (s *Store) Record(id string) (*model.Record, error) {
	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM messages WHERE id = ?`, id)
	return oneRecord(row, id)
}

// RecordBySHA256 returns the record of a previously parsed file.
func (s *Store) RecordBySHA256(sum string) (*model.Record, error) {
	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM messages WHERE sha256 = ?`, sum)
	return oneRecord(row, sum)
}

func oneRecord(row *sql.Row, key string) (*model.Record, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "%s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "load record %s", key)
	}
	return rec, nil
}

// Records lists records newest first.
func (s *Store) Records(limit, offset int) ([]*model.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+recordColumns+` FROM messages ORDER BY parsed_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "list records")
	}
	defer rows.Close()

	recs := []*model.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan record")
		}
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "list records")
}

// CreateJob inserts a running import job for path.
func (s *Store) CreateJob(path string) (*model.ImportJob, error) {
	job := model.ImportJob{
		ID:        model.NewID(),
		Path:      path,
		Status:    model.JobStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO import_jobs (id, path, status, started_at) VALUES (?, ?, ?, ?)`,
		job.ID, job.Path, job.Status, job.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "insert import job")
	}
	return &job, nil
}

// FinishJob stores the final state of job. A non-nil runErr marks it failed.
func (s *Store) FinishJob(job *model.ImportJob, runErr error) error {
	now := time.Now().UTC()
	job.FinishedAt = &now
	job.Status = model.JobStatusDone
	if runErr != nil {
		job.Status = model.JobStatusFailed
		job.Error = runErr.Error()
	}
	_, err := s.db.Exec(
		`UPDATE import_jobs SET status = ?, finished_at = ?, messages = ?, skipped = ?, error = ? WHERE id = ?`,
		job.Status, job.FinishedAt, job.Messages, job.Skipped, job.Error, job.ID,
	)
	return eris.Wrapf(err, "update import job %s", job.ID)
}

// LastJob returns the most recent import of path.
func (s *Store) LastJob(path string) (*model.ImportJob, error) {
	row := s.db.QueryRow(
		`SELECT id, path, status, started_at, finished_at, messages, skipped, error
		 FROM import_jobs WHERE path = ? ORDER BY started_at DESC LIMIT 1`,
		path,
	)
	var job model.ImportJob
	err := row.Scan(&job.ID, &job.Path, &job.Status, &job.StartedAt,
		&job.FinishedAt, &job.Messages, &job.Skipped, &job.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "%s", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "load import job for %s", path)
	}
	return &job, nil
}
