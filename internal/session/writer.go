package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/xid"

	"github.com/trvslhlt/live-audio-translator/internal/audio"
)

// WriterState is the lifecycle state of a StreamingAudioWriter
type WriterState int

const (
	WriterIdle WriterState = iota
	WriterOpen
	WriterClosed
)

func (s WriterState) String() string {
	switch s {
	case WriterIdle:
		return "idle"
	case WriterOpen:
		return "open"
	case WriterClosed:
		return "closed"
	}
	return "unknown"
}

// StreamingAudioWriter appends utterances to a temporary WAV file as they
// arrive. Nothing beyond the utterance being written is held in memory.
// Appends must come from a single goroutine; the accessors are safe to call
// from any goroutine.
type StreamingAudioWriter struct {
	dir        string
	sampleRate int
	logger     *slog.Logger

	file    *os.File
	path    string
	lock    *recordingLock
	samples int64
	state   WriterState
	scratch []byte

	mu sync.Mutex
}

// NewStreamingAudioWriter creates an idle writer that records into dir
func NewStreamingAudioWriter(dir string, sampleRate int, logger *slog.Logger) *StreamingAudioWriter {
	return &StreamingAudioWriter{
		dir:        dir,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// Start opens a fresh temporary recording and locks it against Recover. A
// recording that is still open is closed first and left on disk, unlocked.
func (w *StreamingAudioWriter) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == WriterOpen {
		path, err := w.closeLocked()
		if err != nil {
			return fmt.Errorf("failed to close previous recording: %w", err)
		}
		w.logger.Warn("Closed recording that was still open", slog.String("path", path))
	}
	w.releaseLocked()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create recording directory: %w", err)
	}

	path := filepath.Join(w.dir, "recording_"+xid.New().String()+".wav")
	lock, err := lockRecording(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		lock.release()
		return fmt.Errorf("failed to create recording: %w", err)
	}

	if err := audio.WriteWAVHeader(f, w.sampleRate, 0); err != nil {
		f.Close()
		os.Remove(path)
		lock.release()
		return err
	}

	w.file = f
	w.path = path
	w.lock = lock
	w.samples = 0
	w.state = WriterOpen

	w.logger.Info("Started streaming audio", slog.String("path", path))
	return nil
}

// AppendUtterance quantizes samples to 16-bit PCM and writes them
// immediately. Appending while not open is logged and ignored.
func (w *StreamingAudioWriter) AppendUtterance(samples []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != WriterOpen {
		w.logger.Warn("Attempted to write to closed audio stream",
			slog.String("state", w.state.String()),
			slog.Int("samples", len(samples)),
		)
		return nil
	}
	if len(samples) == 0 {
		return nil
	}

	w.scratch = audio.AppendPCMBytes(w.scratch[:0], samples)
	if _, err := w.file.Write(w.scratch); err != nil {
		return fmt.Errorf("failed to append audio: %w", err)
	}
	w.samples += int64(len(samples))
	return nil
}

// DurationSeconds is the recorded duration so far
func (w *StreamingAudioWriter) DurationSeconds() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return float64(w.samples) / float64(w.sampleRate)
}

// Samples is the number of samples written to the current recording
func (w *StreamingAudioWriter) Samples() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samples
}

// Path is the location of the current or last recording
func (w *StreamingAudioWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// State reports the writer state
func (w *StreamingAudioWriter) State() WriterState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Close finalizes the WAV header and returns the recording's location.
// It returns "" when nothing was recorded, deleting the empty file, and
// when the writer is not open.
func (w *StreamingAudioWriter) Close() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != WriterOpen {
		return "", nil
	}
	return w.closeLocked()
}

func (w *StreamingAudioWriter) closeLocked() (string, error) {
	f := w.file
	w.file = nil
	w.state = WriterClosed

	if w.samples == 0 {
		f.Close()
		if err := os.Remove(w.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("Failed to remove empty recording",
				slog.String("path", w.path),
				slog.String("error", err.Error()),
			)
		}
		w.logger.Info("No audio recorded, removed empty temp file")
		w.path = ""
		w.releaseLocked()
		return "", nil
	}

	var errs []error
	if err := audio.PatchWAVSizes(f, uint32(w.samples*2)); err != nil {
		errs = append(errs, err)
	}
	if err := f.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("failed to sync recording: %w", err))
	}
	if err := f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close recording: %w", err))
	}
	if len(errs) > 0 {
		// the samples are on disk; RepairWAV can still fix the header
		return w.path, errors.Join(errs...)
	}

	w.logger.Info("Closed audio stream",
		slog.String("path", w.path),
		slog.Float64("duration_seconds", float64(w.samples)/float64(w.sampleRate)),
	)
	return w.path, nil
}

// Release gives up ownership of the last recording once it has been moved
// out of the temp directory. Until then Recover leaves it alone.
func (w *StreamingAudioWriter) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == WriterOpen {
		return errors.New("recording is still open")
	}
	return w.releaseLocked()
}

func (w *StreamingAudioWriter) releaseLocked() error {
	lock := w.lock
	w.lock = nil
	return lock.release()
}

// Discard closes the writer if needed and deletes the recording
// regardless of its contents. The writer returns to idle.
func (w *StreamingAudioWriter) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == WriterOpen {
		w.file.Close()
		w.file = nil
	}

	var err error
	if w.path != "" {
		if rmErr := os.Remove(w.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = fmt.Errorf("failed to delete recording: %w", rmErr)
		} else {
			w.logger.Info("Discarded audio recording", slog.String("path", w.path))
		}
	}

	if relErr := w.releaseLocked(); relErr != nil && err == nil {
		err = relErr
	}

	w.path = ""
	w.samples = 0
	w.state = WriterIdle
	return err
}
