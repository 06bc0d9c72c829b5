package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/trvslhlt/live-audio-translator/internal/metrics"
)

// File names within a session folder
const (
	MetadataFile   = "session.json"
	TranscriptFile = "transcript.txt"
	AudioFile      = "audio.wav"
)

// ProgressFunc receives Materialize progress as a percentage and a stage label
type ProgressFunc func(percent int, message string)

// LoadedSession is a session read back from its folder
type LoadedSession struct {
	Session       *Session      `json:"session"`
	Folder        string        `json:"folder"`
	AudioPath     string        `json:"audio_path,omitempty"`
	HasAudio      bool          `json:"has_audio"`
	AudioDuration time.Duration `json:"audio_duration"`
}

// Manager owns the current session and writes session folders
type Manager struct {
	sessionsDir string
	logger      *slog.Logger
	metrics     *metrics.Metrics
	library     *Library // optional

	current *Session
	now     func() time.Time

	mu sync.Mutex
}

// NewManager creates a manager that saves into sessionsDir by default.
// library may be nil.
func NewManager(sessionsDir string, library *Library, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		sessionsDir: sessionsDir,
		logger:      logger,
		metrics:     m,
		library:     library,
		now:         time.Now,
	}
}

// SessionsDir is the default parent for saved sessions
func (m *Manager) SessionsDir() string {
	return m.sessionsDir
}

// Library returns the session index, or nil
func (m *Manager) Library() *Library {
	return m.library
}

// NewSession replaces the current session without saving it
func (m *Manager) NewSession(mode LanguageMode, title string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && len(m.current.Entries) > 0 {
		m.logger.Warn("Replacing unsaved session",
			slog.String("session_id", m.current.ID),
			slog.Int("entries", len(m.current.Entries)),
		)
	}

	m.current = New(m.now(), mode, title)
	m.logger.Info("New session created",
		slog.String("session_id", m.current.ID),
		slog.String("title", m.current.Title),
		slog.String("mode", mode.String()),
	)
	return m.current.Clone()
}

// Current returns a copy of the current session, or nil
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	return m.current.Clone()
}

// EntryCount is the number of entries in the current session
func (m *Manager) EntryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return 0
	}
	return len(m.current.Entries)
}

// SetTitle renames the current session
func (m *Manager) SetTitle(title string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && title != "" {
		m.current.Title = title
	}
}

// AddEntry appends to the current session, creating a default session
// first if there is none
func (m *Manager) AddEntry(timestamp, sourceLang, original, translated string) TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		m.current = New(m.now(), ModeAuto, "")
		m.logger.Info("New session created", slog.String("session_id", m.current.ID))
	}

	entry := TranscriptEntry{
		Timestamp:      timestamp,
		SourceLang:     sourceLang,
		OriginalText:   original,
		TranslatedText: translated,
	}
	m.current.Add(entry, m.now())
	m.metrics.RecordEntry()
	return entry
}

// Materialize writes s into a new folder under parent (the sessions
// directory when empty) and moves the audio source into it. audioSource may
// be empty when nothing was recorded. Audio is moved last: a
// PersistenceError from any earlier step leaves it where it was.
func (m *Manager) Materialize(s *Session, audioSource, parent string, progress ProgressFunc) (string, error) {
	start := time.Now()
	folder, err := m.materialize(s, audioSource, parent, progress)
	m.metrics.RecordSessionSaved(time.Since(start).Seconds(), err != nil)
	if err != nil {
		m.logger.Error("Failed to save session",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	m.index(s, folder)
	m.logger.Info("Session saved",
		slog.String("session_id", s.ID),
		slog.String("folder", folder),
		slog.Int("entries", len(s.Entries)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return folder, nil
}

func (m *Manager) materialize(s *Session, audioSource, parent string, progress ProgressFunc) (string, error) {
	report := func(percent int, message string) {
		if progress != nil {
			progress(percent, message)
		}
	}

	if audioSource != "" {
		if _, err := os.Stat(audioSource); err != nil {
			return "", &PersistenceError{Stage: StageAudioSource, AudioLocation: audioSource, Err: err}
		}
	}
	if parent == "" {
		parent = m.sessionsDir
	}

	report(0, "Creating session folder...")
	folder, err := claimFolder(parent, FolderName(s), s.ID)
	if err != nil {
		return "", &PersistenceError{Stage: StageFolder, Folder: folder, AudioLocation: audioSource, Err: err}
	}

	report(10, "Saving session metadata...")
	metadata, err := encodeMetadata(s)
	if err != nil {
		return "", &PersistenceError{Stage: StageMetadata, Folder: folder, AudioLocation: audioSource, Err: err}
	}
	if err := writeFileAtomic(filepath.Join(folder, MetadataFile), metadata); err != nil {
		return "", &PersistenceError{Stage: StageMetadata, Folder: folder, AudioLocation: audioSource, Err: err}
	}

	report(20, "Saving transcript...")
	if err := writeFileAtomic(filepath.Join(folder, TranscriptFile), []byte(RenderTranscript(s))); err != nil {
		return "", &PersistenceError{Stage: StageTranscript, Folder: folder, AudioLocation: audioSource, Err: err}
	}

	report(30, "Saving audio...")
	if audioSource != "" {
		report(50, "Moving audio file...")
		dest := filepath.Join(folder, AudioFile)
		if err := moveFile(audioSource, dest); err != nil {
			return "", &PersistenceError{Stage: StageAudio, Folder: folder, AudioLocation: audioSource, Err: err}
		}
		m.logger.Debug("Audio moved", slog.String("from", audioSource), slog.String("to", dest))
		report(90, "Audio saved")
	}

	report(100, "Complete!")
	return folder, nil
}

const maxFolderSuffix = 1000

// claimFolder creates a fresh session folder named name under parent. When
// the name is taken by another save, "_2", "_3" and so on are tried. A folder
// left by an earlier failed attempt to save the same session is reused.
func claimFolder(parent, name, id string) (string, error) {
	folder := filepath.Join(parent, name)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return folder, err
	}

	for i := 1; i <= maxFolderSuffix; i++ {
		folder = filepath.Join(parent, name)
		if i > 1 {
			folder += "_" + strconv.Itoa(i)
		}
		err := os.Mkdir(folder, 0o755)
		if err == nil {
			return folder, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return folder, err
		}
		if unfinishedSave(folder, id) {
			return folder, nil
		}
	}
	return folder, fmt.Errorf("no free folder name for %q after %d attempts", name, maxFolderSuffix)
}

// unfinishedSave reports whether folder holds an attempt to save session id
// that failed before its audio was moved in
func unfinishedSave(folder, id string) bool {
	if _, err := os.Stat(filepath.Join(folder, AudioFile)); !errors.Is(err, fs.ErrNotExist) {
		return false
	}

	data, err := os.ReadFile(filepath.Join(folder, MetadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		entries, err := os.ReadDir(folder)
		return err == nil && len(entries) == 0
	}
	if err != nil {
		return false
	}
	var existing struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &existing); err != nil {
		return false
	}
	return existing.ID == id
}

func encodeMetadata(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return buf.Bytes(), nil
}

// index records a saved folder in the library; failures are only logged
func (m *Manager) index(s *Session, folder string) {
	if m.library == nil {
		return
	}

	rec := LibraryRecord{
		ID:           s.ID,
		Folder:       folder,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt.Time,
		UpdatedAt:    s.UpdatedAt.Time,
		LanguageMode: s.LanguageMode,
		EntryCount:   len(s.Entries),
		SavedAt:      m.now(),
	}
	if d, err := ProbeAudio(filepath.Join(folder, AudioFile)); err == nil {
		rec.HasAudio = true
		rec.AudioSeconds = d.Seconds()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.library.Record(ctx, rec); err != nil {
		m.logger.Warn("Failed to index saved session",
			slog.String("folder", folder),
			slog.String("error", err.Error()),
		)
	}
}

// moveFile renames src to dst, copying across filesystems
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		os.Remove(dst)
		return fmt.Errorf("cross-device copy failed: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("copied audio but failed to remove %s: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// LoadSessionFolder reads a session folder. A missing or malformed
// session.json fails with ErrInvalidSessionFolder; missing audio does not.
func (m *Manager) LoadSessionFolder(folder string) (*LoadedSession, error) {
	data, err := os.ReadFile(filepath.Join(folder, MetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no %s in %s", ErrInvalidSessionFolder, MetadataFile, folder)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSessionFolder, folder, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: malformed %s in %s: %v", ErrInvalidSessionFolder, MetadataFile, folder, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s in %s: %v", ErrInvalidSessionFolder, MetadataFile, folder, err)
	}

	loaded := &LoadedSession{Session: &s, Folder: folder}

	audioPath := filepath.Join(folder, AudioFile)
	if _, err := os.Stat(audioPath); err == nil {
		loaded.AudioPath = audioPath
		loaded.HasAudio = true
		if d, err := ProbeAudio(audioPath); err != nil {
			m.logger.Warn("Failed to read audio duration",
				slog.String("path", audioPath),
				slog.String("error", err.Error()),
			)
		} else {
			loaded.AudioDuration = d
		}
	}

	m.logger.Info("Session loaded from folder",
		slog.String("title", s.Title),
		slog.Int("entries", len(s.Entries)),
		slog.Bool("has_audio", loaded.HasAudio),
	)
	return loaded, nil
}
