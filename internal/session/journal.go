package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	journalVersion = 1
	// JournalExt is appended to the recording path to name its journal
	JournalExt = ".journal"
)

// JournalRecord is the recovery snapshot of an in-progress session
type JournalRecord struct {
	Version    int               `cbor:"1,keyasint"`
	AudioPath  string            `cbor:"2,keyasint"`
	SampleRate int               `cbor:"3,keyasint"`
	Samples    int64             `cbor:"4,keyasint"`
	ID         string            `cbor:"5,keyasint"`
	Title      string            `cbor:"6,keyasint"`
	CreatedAt  time.Time         `cbor:"7,keyasint"`
	UpdatedAt  time.Time         `cbor:"8,keyasint"`
	Mode       string            `cbor:"9,keyasint"`
	Entries    []TranscriptEntry `cbor:"10,keyasint"`
	WrittenAt  time.Time         `cbor:"11,keyasint"`
}

// Session rebuilds the session the record was taken from
func (r *JournalRecord) Session() (*Session, error) {
	mode, err := ParseLanguageMode(r.Mode)
	if err != nil {
		return nil, err
	}
	entries := append([]TranscriptEntry{}, r.Entries...)
	return &Session{
		ID:           r.ID,
		Title:        r.Title,
		CreatedAt:    NewTimestamp(r.CreatedAt),
		UpdatedAt:    NewTimestamp(r.UpdatedAt),
		LanguageMode: mode,
		Entries:      entries,
	}, nil
}

var journalEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Journal keeps a crash-recovery snapshot next to a temporary recording.
// Every write replaces the file atomically.
type Journal struct {
	path       string
	audioPath  string
	sampleRate int
}

// JournalPath names the journal of a recording
func JournalPath(audioPath string) string {
	return audioPath + JournalExt
}

// NewJournal creates a journal for the recording at audioPath
func NewJournal(audioPath string, sampleRate int) *Journal {
	return &Journal{
		path:       JournalPath(audioPath),
		audioPath:  audioPath,
		sampleRate: sampleRate,
	}
}

// Path is the journal file location
func (j *Journal) Path() string {
	return j.path
}

// Write snapshots s and the number of samples recorded so far
func (j *Journal) Write(s *Session, samples int64) error {
	data, err := journalEncMode.Marshal(JournalRecord{
		Version:    journalVersion,
		AudioPath:  j.audioPath,
		SampleRate: j.sampleRate,
		Samples:    samples,
		ID:         s.ID,
		Title:      s.Title,
		CreatedAt:  s.CreatedAt.Time,
		UpdatedAt:  s.UpdatedAt.Time,
		Mode:       s.LanguageMode.String(),
		Entries:    s.Entries,
		WrittenAt:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode journal: %w", err)
	}
	return writeFileAtomic(j.path, data)
}

// Remove deletes the journal; a missing journal is not an error
func (j *Journal) Remove() error {
	if err := os.Remove(j.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove journal: %w", err)
	}
	return nil
}

// ReadJournal decodes a journal file
func ReadJournal(path string) (*JournalRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	var rec JournalRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode journal %s: %w", path, err)
	}
	if rec.Version != journalVersion {
		return nil, fmt.Errorf("unsupported journal version %d", rec.Version)
	}
	return &rec, nil
}

// writeFileAtomic replaces path with data via a synced temp file and rename
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set mode on %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
