// Package registry tracks ingested estimates in SQLite: one row per upload
// with its processing status, progress, and final manifest location.
package registry

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Estimate processing statuses.
const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

// ErrNotFound marks a lookup for an estimate id the registry does not hold.
var ErrNotFound = errors.New("estimate not found")

// Estimate is one tracked upload.
type Estimate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`

	ManifestKey     string `json:"manifestKey,omitempty"`
	TotalRows       int    `json:"totalRows"`
	TotalChunks     int    `json:"totalChunks"`
	ImagesProcessed int    `json:"imagesProcessed"`
	ImagesFailed    int    `json:"imagesFailed"`

	CreatedAt time.Time `json:"createdAt"`
}

// Registry is the SQLite-backed estimate index.
type Registry struct {
	db *sql.DB
}

// Open opens (or creates) the registry database at dbPath, enables WAL mode
// and foreign keys, and creates the schema idempotently.
func Open(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}

	ddl := `CREATE TABLE IF NOT EXISTS estimates (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		status           TEXT NOT NULL,
		error            TEXT DEFAULT '',
		progress         INTEGER DEFAULT 0,
		progress_msg     TEXT DEFAULT '',
		manifest_key     TEXT DEFAULT '',
		total_rows       INTEGER DEFAULT 0,
		total_chunks     INTEGER DEFAULT 0,
		images_processed INTEGER DEFAULT 0,
		images_failed    INTEGER DEFAULT 0,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create estimates table: %w", err)
	}

	return &Registry{db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// NewID generates a random 32-hex-char estimate id.
func NewID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Insert records a new upload in "processing" state.
func (r *Registry) Insert(id, name string) error {
	_, err := r.db.Exec(
		`INSERT INTO estimates (id, name, status) VALUES (?, ?, ?)`,
		id, name, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to insert estimate: %w", err)
	}
	return nil
}

// SetProgress updates the in-flight progress percentage and message.
func (r *Registry) SetProgress(id string, percent int, message string) {
	r.db.Exec(
		`UPDATE estimates SET progress = ?, progress_msg = ? WHERE id = ?`,
		percent, message, id,
	)
}

// MarkSuccess finalizes a completed run with its manifest key and counters.
func (r *Registry) MarkSuccess(id, manifestKey string, totalRows, totalChunks, imagesProcessed, imagesFailed int) error {
	_, err := r.db.Exec(
		`UPDATE estimates SET status = ?, progress = 100, progress_msg = '',
			manifest_key = ?, total_rows = ?, total_chunks = ?,
			images_processed = ?, images_failed = ? WHERE id = ?`,
		StatusSuccess, manifestKey, totalRows, totalChunks, imagesProcessed, imagesFailed, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark estimate success: %w", err)
	}
	return nil
}

// MarkFailed finalizes a failed run with its error message.
func (r *Registry) MarkFailed(id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := r.db.Exec(
		`UPDATE estimates SET status = ?, error = ? WHERE id = ?`,
		StatusFailed, msg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark estimate failed: %w", err)
	}
	return nil
}

// Get returns one estimate by id.
func (r *Registry) Get(id string) (*Estimate, error) {
	row := r.db.QueryRow(
		`SELECT id, name, status, error, progress, progress_msg, manifest_key,
			total_rows, total_chunks, images_processed, images_failed, created_at
		FROM estimates WHERE id = ?`, id,
	)
	est, err := scanEstimate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query estimate: %w", err)
	}
	return est, nil
}

// List returns all estimates, newest first.
func (r *Registry) List() ([]Estimate, error) {
	rows, err := r.db.Query(
		`SELECT id, name, status, error, progress, progress_msg, manifest_key,
			total_rows, total_chunks, images_processed, images_failed, created_at
		FROM estimates ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list estimates: %w", err)
	}
	defer rows.Close()

	out := []Estimate{}
	for rows.Next() {
		est, err := scanEstimate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan estimate: %w", err)
		}
		out = append(out, *est)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEstimate(s scanner) (*Estimate, error) {
	var est Estimate
	err := s.Scan(
		&est.ID, &est.Name, &est.Status, &est.Error, &est.Progress, &est.Message,
		&est.ManifestKey, &est.TotalRows, &est.TotalChunks,
		&est.ImagesProcessed, &est.ImagesFailed, &est.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &est, nil
}
