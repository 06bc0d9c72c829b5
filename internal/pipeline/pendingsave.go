package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/trvslhlt/live-audio-translator/internal/metrics"
	"github.com/trvslhlt/live-audio-translator/internal/session"
)

// SaveState is the lifecycle state of a PendingSave
type SaveState int

const (
	// SaveAwaiting means no destination has been chosen yet
	SaveAwaiting SaveState = iota
	// SaveSaved means the session was materialized
	SaveSaved
	// SaveDiscarded means the recording was deleted
	SaveDiscarded
)

func (s SaveState) String() string {
	switch s {
	case SaveAwaiting:
		return "awaiting"
	case SaveSaved:
		return "saved"
	case SaveDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("SaveState(%d)", int(s))
	}
}

// PendingSave holds a stopped session and its closed temporary recording
// until the user chooses a destination or discards it
type PendingSave struct {
	manager      *session.Manager
	session      *session.Session
	audioPath    string // empty when nothing was recorded
	audioSeconds float64
	journal      *session.Journal
	release      func() error // gives up the recording's lock
	events       chan<- Event
	logger       *slog.Logger
	metrics      *metrics.Metrics

	state  SaveState
	folder string
	mu     sync.Mutex
}

// Session returns a copy of the stopped session
func (p *PendingSave) Session() *session.Session {
	return p.session.Clone()
}

// AudioPath is the temporary recording, or "" when nothing was recorded
func (p *PendingSave) AudioPath() string {
	return p.audioPath
}

// AudioSeconds is the length of the temporary recording
func (p *PendingSave) AudioSeconds() float64 {
	return p.audioSeconds
}

// State reports whether the save is still awaiting a destination
func (p *PendingSave) State() SaveState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Folder is the saved session folder once the state is SaveSaved
func (p *PendingSave) Folder() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.folder
}

// Save materializes the session under parent. An empty parent returns
// ErrSaveCancelled; that and any persistence failure leave the save
// awaiting with the recording untouched, so Save may be retried. A non-empty
// title replaces the session title.
func (p *PendingSave) Save(parent, title string, progress session.ProgressFunc) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != SaveAwaiting {
		return "", ErrSaveResolved
	}
	if strings.TrimSpace(parent) == "" {
		return "", ErrSaveCancelled
	}

	s := p.session.Clone()
	if title = strings.TrimSpace(title); title != "" {
		s.Title = title
	}

	folder, err := p.manager.Materialize(s, p.audioPath, parent, func(percent int, message string) {
		if progress != nil {
			progress(percent, message)
		}
		p.notify(SaveProgressEvent{Percent: percent, Message: message})
	})
	if err != nil {
		return "", err
	}

	p.state = SaveSaved
	p.folder = folder
	p.removeJournal()
	p.releaseRecording()
	return folder, nil
}

// Discard deletes the temporary recording
func (p *PendingSave) Discard() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != SaveAwaiting {
		return ErrSaveResolved
	}

	if p.audioPath != "" {
		if err := os.Remove(p.audioPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to discard recording: %w", err)
		}
	}
	p.state = SaveDiscarded
	p.removeJournal()
	p.releaseRecording()
	p.metrics.RecordSessionDiscarded()
	p.logger.Info("Session discarded",
		slog.String("session_id", p.session.ID),
		slog.Int("entries", len(p.session.Entries)),
	)
	return nil
}

func (p *PendingSave) removeJournal() {
	if p.journal == nil {
		return
	}
	if err := p.journal.Remove(); err != nil {
		p.logger.Warn("Failed to remove recovery journal", slog.String("error", err.Error()))
	}
}

func (p *PendingSave) releaseRecording() {
	if p.release == nil {
		return
	}
	if err := p.release(); err != nil {
		p.logger.Warn("Failed to release recording lock", slog.String("error", err.Error()))
	}
}

// notify never blocks; progress is advisory
func (p *PendingSave) notify(ev Event) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}
