package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/trvslhlt/live-audio-translator/internal/audio"
)

// Recovered describes one orphaned recording that was saved by Recover
type Recovered struct {
	SessionID    string  `json:"session_id"`
	Folder       string  `json:"folder"`
	Entries      int     `json:"entries"`
	AudioSeconds float64 `json:"audio_seconds"`
	FromJournal  bool    `json:"from_journal"`
}

// Recover saves recordings left in tempDir by a process that never stopped
// cleanly. Journaled sessions keep their transcript; a recording without a
// journal is saved as an empty session titled after its modification time.
// Recordings still locked by a running process are skipped. Each orphan is
// handled independently; all errors are returned after every one has been
// tried.
func (m *Manager) Recover(tempDir, parent string) ([]Recovered, error) {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan %s: %w", tempDir, err)
	}

	var recovered []Recovered
	var errs []error
	journaled := make(map[string]bool)

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), JournalExt) {
			continue
		}
		path := filepath.Join(tempDir, e.Name())
		audioPath := strings.TrimSuffix(path, JournalExt)
		journaled[audioPath] = true
		if m.skipInUse(audioPath) {
			continue
		}

		r, err := m.recoverJournal(path, parent)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recovered = append(recovered, *r)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "recording_") || filepath.Ext(e.Name()) != ".wav" {
			continue
		}
		path := filepath.Join(tempDir, e.Name())
		if journaled[path] || m.skipInUse(path) {
			continue
		}

		r, err := m.recoverOrphanAudio(path, parent)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if r != nil {
			recovered = append(recovered, *r)
		}
	}

	return recovered, errors.Join(errs...)
}

func (m *Manager) skipInUse(audioPath string) bool {
	if !recordingInUse(audioPath) {
		return false
	}
	m.logger.Info("Skipping recording owned by a running process", slog.String("path", audioPath))
	return true
}

func (m *Manager) recoverJournal(journalPath, parent string) (*Recovered, error) {
	rec, err := ReadJournal(journalPath)
	if err != nil {
		return nil, err
	}
	s, err := rec.Session()
	if err != nil {
		return nil, fmt.Errorf("journal %s: %w", journalPath, err)
	}

	audioPath, seconds, err := m.repairRecording(strings.TrimSuffix(journalPath, JournalExt), rec.SampleRate)
	if err != nil {
		return nil, err
	}

	folder, err := m.Materialize(s, audioPath, parent, nil)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(journalPath); err != nil {
		m.logger.Warn("Failed to remove recovered journal",
			slog.String("path", journalPath),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("Recovered journaled session",
		slog.String("session_id", s.ID),
		slog.String("folder", folder),
		slog.Int("entries", len(s.Entries)),
	)
	return &Recovered{
		SessionID:    s.ID,
		Folder:       folder,
		Entries:      len(s.Entries),
		AudioSeconds: seconds,
		FromJournal:  true,
	}, nil
}

func (m *Manager) recoverOrphanAudio(audioPath, parent string) (*Recovered, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", audioPath, err)
	}

	repaired, seconds, err := m.repairRecording(audioPath, 0)
	if err != nil {
		return nil, err
	}
	if repaired == "" {
		return nil, nil
	}

	modTime := info.ModTime()
	s := New(modTime, ModeAuto, modTime.Format("Recovered 2006-01-02 15:04"))
	folder, err := m.Materialize(s, repaired, parent, nil)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Recovered orphaned recording",
		slog.String("path", audioPath),
		slog.String("folder", folder),
	)
	return &Recovered{
		SessionID:    s.ID,
		Folder:       folder,
		AudioSeconds: seconds,
	}, nil
}

// repairRecording fixes the WAV header of an unfinalized recording. Missing
// or empty recordings are removed and reported as "".
func (m *Manager) repairRecording(audioPath string, sampleRate int) (string, float64, error) {
	if _, err := os.Stat(audioPath); errors.Is(err, fs.ErrNotExist) {
		return "", 0, nil
	}

	samples, err := audio.RepairWAV(audioPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to repair %s: %w", audioPath, err)
	}
	if samples == 0 {
		if err := os.Remove(audioPath); err != nil {
			m.logger.Warn("Failed to remove empty recording", slog.String("path", audioPath))
		}
		return "", 0, nil
	}

	if sampleRate <= 0 {
		if d, err := ProbeAudio(audioPath); err == nil {
			return audioPath, d.Seconds(), nil
		}
		sampleRate = 16000
	}
	return audioPath, float64(samples) / float64(sampleRate), nil
}
