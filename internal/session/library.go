package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// LibraryRecord indexes one materialized session folder
type LibraryRecord struct {
	ID           string       `json:"id"`
	Folder       string       `json:"folder"`
	Title        string       `json:"title"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	LanguageMode LanguageMode `json:"language_mode"`
	EntryCount   int          `json:"entry_count"`
	HasAudio     bool         `json:"has_audio"`
	AudioSeconds float64      `json:"audio_seconds"`
	SavedAt      time.Time    `json:"saved_at"`
}

// ErrNotInLibrary is returned by Get for unknown session ids
var ErrNotInLibrary = errors.New("session not in library")

// Library is a SQLite index of saved sessions. Folders remain the source of
// truth; the index only speeds up listing.
type Library struct {
	db *sql.DB
}

const librarySchema = `
CREATE TABLE IF NOT EXISTS sessions (
	folder        TEXT PRIMARY KEY,
	id            TEXT NOT NULL,
	title         TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	language_mode TEXT NOT NULL,
	entry_count   INTEGER NOT NULL,
	has_audio     INTEGER NOT NULL,
	audio_seconds REAL NOT NULL,
	saved_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_id ON sessions(id);
`

// OpenLibrary opens or creates the library database at path
func OpenLibrary(path string) (*Library, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create library directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(librarySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate library: %w", err)
	}
	return &Library{db: db}, nil
}

// Close closes the database connection
func (l *Library) Close() error {
	return l.db.Close()
}

// Record inserts or replaces the entry for rec.Folder
func (l *Library) Record(ctx context.Context, rec LibraryRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sessions (folder, id, title, created_at, updated_at, language_mode,
			entry_count, has_audio, audio_seconds, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(folder) DO UPDATE SET
			id = excluded.id,
			title = excluded.title,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			language_mode = excluded.language_mode,
			entry_count = excluded.entry_count,
			has_audio = excluded.has_audio,
			audio_seconds = excluded.audio_seconds,
			saved_at = excluded.saved_at
	`, rec.Folder, rec.ID, rec.Title,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), rec.LanguageMode.String(),
		rec.EntryCount, rec.HasAudio, rec.AudioSeconds, formatTime(rec.SavedAt))
	if err != nil {
		return fmt.Errorf("record session %s: %w", rec.ID, err)
	}
	return nil
}

// List returns every indexed session, newest first
func (l *Library) List(ctx context.Context) ([]LibraryRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT folder, id, title, created_at, updated_at, language_mode,
			entry_count, has_audio, audio_seconds, saved_at
		FROM sessions
		ORDER BY created_at DESC, saved_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var records []LibraryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Get returns the most recently saved folder for a session id
func (l *Library) Get(ctx context.Context, id string) (*LibraryRecord, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT folder, id, title, created_at, updated_at, language_mode,
			entry_count, has_audio, audio_seconds, saved_at
		FROM sessions
		WHERE id = ?
		ORDER BY saved_at DESC
		LIMIT 1
	`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotInLibrary, id)
	}
	return rec, err
}

// Forget removes a folder from the index
func (l *Library) Forget(ctx context.Context, folder string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM sessions WHERE folder = ?`, folder); err != nil {
		return fmt.Errorf("forget %s: %w", folder, err)
	}
	return nil
}

// Prune forgets every indexed folder that no longer exists on disk and
// returns the folders it removed
func (l *Library) Prune(ctx context.Context) ([]string, error) {
	records, err := l.List(ctx)
	if err != nil {
		return nil, err
	}

	var pruned []string
	for _, r := range records {
		if _, err := os.Stat(filepath.Join(r.Folder, MetadataFile)); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := l.Forget(ctx, r.Folder); err != nil {
			return pruned, err
		}
		pruned = append(pruned, r.Folder)
	}
	return pruned, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*LibraryRecord, error) {
	var rec LibraryRecord
	var createdAt, updatedAt, savedAt, mode string
	if err := row.Scan(&rec.Folder, &rec.ID, &rec.Title, &createdAt, &updatedAt, &mode,
		&rec.EntryCount, &rec.HasAudio, &rec.AudioSeconds, &savedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if rec.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
		return nil, fmt.Errorf("parse saved_at: %w", err)
	}
	if rec.LanguageMode, err = ParseLanguageMode(mode); err != nil {
		return nil, err
	}
	return &rec, nil
}

// fixed width so that text ordering is chronological
const libraryTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(libraryTimeLayout)
}
