package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trvslhlt/live-audio-translator/internal/capture"
	"github.com/trvslhlt/live-audio-translator/internal/metrics"
	"github.com/trvslhlt/live-audio-translator/internal/session"
	"github.com/trvslhlt/live-audio-translator/internal/transcription"
	"github.com/trvslhlt/live-audio-translator/internal/translation"
)

// Capturer is the capture surface the controller drives
type Capturer interface {
	Source
	Start(sel capture.DeviceSelector) error
	Stop() error
	GetStats() capture.Stats
}

// ControllerConfig contains controller configuration
type ControllerConfig struct {
	TempDir     string
	SampleRate  int
	PollTimeout time.Duration
	EventBuffer int
}

// StartOptions selects how a listening session runs
type StartOptions struct {
	Device capture.DeviceSelector
	Mode   session.LanguageMode
	Record bool
	Title  string
}

// Status is a snapshot of the controller for front ends and the status API
type Status struct {
	Running           bool          `json:"running"`
	Mode              string        `json:"mode"`
	Recording         bool          `json:"recording"`
	SessionID         string        `json:"session_id,omitempty"`
	Title             string        `json:"title,omitempty"`
	Entries           int           `json:"entries"`
	RecordedSeconds   float64       `json:"recorded_seconds"`
	QueueDepth        int           `json:"queue_depth"`
	DroppedUtterances uint64        `json:"dropped_utterances"`
	Level             float64       `json:"level"`
	PendingSave       bool          `json:"pending_save"`
	CaptureError      string        `json:"capture_error,omitempty"`
	Pipeline          Stats         `json:"pipeline"`
	Capture           capture.Stats `json:"capture"`
}

// Controller runs one listening session at a time
type Controller struct {
	capture     Capturer
	transcriber transcription.Transcriber
	translator  translation.Translator
	sessions    *session.Manager
	writer      *session.StreamingAudioWriter
	config      ControllerConfig
	events      chan Event
	logger      *slog.Logger
	metrics     *metrics.Metrics

	// Guarded by mu
	running  bool
	stopping bool
	opts     StartOptions
	journal  *session.Journal
	pipeline *Pipeline
	cancel   context.CancelFunc
	done     chan struct{}
	runErr   error
	pending  *PendingSave
	mu       sync.Mutex
}

// NewController creates an idle controller. translator may be nil when only
// direct-translate modes are used.
func NewController(c Capturer, transcriber transcription.Transcriber, translator translation.Translator,
	sessions *session.Manager, config ControllerConfig, logger *slog.Logger, m *metrics.Metrics) (*Controller, error) {
	if c == nil || transcriber == nil || sessions == nil {
		return nil, fmt.Errorf("capture, transcriber and session manager are required")
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}

	return &Controller{
		capture:     c,
		transcriber: transcriber,
		translator:  translator,
		sessions:    sessions,
		writer:      session.NewStreamingAudioWriter(config.TempDir, config.SampleRate, logger),
		config:      config,
		events:      make(chan Event, config.EventBuffer),
		logger:      logger,
		metrics:     m,
	}, nil
}

// Events is the channel every pipeline, save and stop event is sent on
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Sessions returns the session manager
func (c *Controller) Sessions() *session.Manager {
	return c.sessions
}

// Start begins a new session and starts capture. It fails while a previous
// session still awaits a save decision.
func (c *Controller) Start(ctx context.Context, opts StartOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running || c.stopping {
		return ErrRunning
	}
	if c.pending != nil && c.pending.State() == SaveAwaiting {
		return ErrSavePending
	}
	if !opts.Mode.DirectTranslate() && c.translator == nil {
		return fmt.Errorf("mode %s requires a translation server", opts.Mode)
	}
	c.pending = nil

	s := c.sessions.NewSession(opts.Mode, opts.Title)

	var journal *session.Journal
	if opts.Record {
		if err := c.writer.Start(); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		journal = session.NewJournal(c.writer.Path(), c.config.SampleRate)
		if err := journal.Write(s, 0); err != nil {
			c.logger.Warn("Failed to write recovery journal", slog.String("error", err.Error()))
		}
	}

	if err := c.capture.Start(opts.Device); err != nil {
		c.abandonRecording(journal)
		return err
	}

	p, err := New(c.capture, c.transcriber, c.translator, c.sessions, Config{
		Mode:        opts.Mode,
		PollTimeout: c.config.PollTimeout,
		Writer:      c.recordingWriter(opts.Record),
		Journal:     journal,
		Events:      c.events,
	}, c.logger, c.metrics)
	if err != nil {
		c.capture.Stop()
		c.abandonRecording(journal)
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.running = true
	c.opts = opts
	c.journal = journal
	c.pipeline = p
	c.cancel = cancel
	c.done = done
	c.runErr = nil

	go func() {
		defer close(done)
		err := p.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		c.mu.Lock()
		c.runErr = err
		c.mu.Unlock()

		select {
		case c.events <- StoppedEvent{Err: err}:
		default:
			c.logger.Debug("Event buffer full, stop event dropped")
		}
	}()

	c.logger.Info("Listening started",
		slog.String("session_id", s.ID),
		slog.String("device", opts.Device.String()),
		slog.String("mode", opts.Mode.String()),
		slog.Bool("record", opts.Record),
	)
	return nil
}

func (c *Controller) recordingWriter(record bool) *session.StreamingAudioWriter {
	if !record {
		return nil
	}
	return c.writer
}

func (c *Controller) abandonRecording(journal *session.Journal) {
	if journal == nil {
		return
	}
	if err := c.writer.Discard(); err != nil {
		c.logger.Warn("Failed to discard recording", slog.String("error", err.Error()))
	}
	if err := journal.Remove(); err != nil {
		c.logger.Warn("Failed to remove recovery journal", slog.String("error", err.Error()))
	}
}

// Stop stops capture, waits for queued utterances to be processed and
// closes the recording. If ctx expires first, in-flight work is cancelled.
// A recorded session with entries is returned as a PendingSave; otherwise
// its audio is discarded and the PendingSave is nil.
func (c *Controller) Stop(ctx context.Context) (*PendingSave, error) {
	c.mu.Lock()
	if !c.running || c.stopping {
		c.mu.Unlock()
		return nil, ErrNotRunning
	}
	c.stopping = true
	opts, journal, cancel, done := c.opts, c.journal, c.cancel, c.done
	c.mu.Unlock()

	captureErr := c.capture.Stop()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("Stop deadline reached, cancelling in-flight work")
		cancel()
		<-done
	}
	cancel()

	pending, err := c.finish(opts, journal)

	c.mu.Lock()
	c.running = false
	c.stopping = false
	c.cancel = nil
	c.pending = pending
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if captureErr != nil {
		c.logger.Warn("Capture stop reported an error", slog.String("error", captureErr.Error()))
	}
	return pending, nil
}

func (c *Controller) finish(opts StartOptions, journal *session.Journal) (*PendingSave, error) {
	s := c.sessions.Current()
	entries := 0
	if s != nil {
		entries = len(s.Entries)
	}

	if !opts.Record {
		c.logger.Info("Listening stopped", slog.Int("entries", entries))
		return nil, nil
	}

	if entries == 0 {
		c.abandonRecording(journal)
		c.metrics.RecordSessionDiscarded()
		c.logger.Info("No content to save in session")
		return nil, nil
	}

	seconds := c.writer.DurationSeconds()
	samples := c.writer.Samples()
	audioPath, err := c.writer.Close()
	if err != nil {
		// the journal stays and the lock goes, so recover can take it
		c.writer.Release()
		return nil, fmt.Errorf("failed to close recording: %w", err)
	}
	if journal != nil {
		if err := journal.Write(s, samples); err != nil {
			c.logger.Warn("Failed to write recovery journal", slog.String("error", err.Error()))
		}
	}

	c.logger.Info("Listening stopped, session awaiting destination",
		slog.String("session_id", s.ID),
		slog.Int("entries", entries),
		slog.Float64("audio_seconds", seconds),
	)
	return &PendingSave{
		manager:      c.sessions,
		session:      s,
		audioPath:    audioPath,
		audioSeconds: seconds,
		journal:      journal,
		release:      c.writer.Release,
		events:       c.events,
		logger:       c.logger,
		metrics:      c.metrics,
	}, nil
}

// Pending returns the save awaiting a destination, or nil
func (c *Controller) Pending() *PendingSave {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil || c.pending.State() != SaveAwaiting {
		return nil
	}
	return c.pending
}

// Running reports whether a session is being captured
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Err returns the error that ended the last run, if any
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// Status returns a snapshot of the controller
func (c *Controller) Status() Status {
	c.mu.Lock()
	running := c.running
	opts := c.opts
	p := c.pipeline
	pending := c.pending != nil && c.pending.State() == SaveAwaiting
	c.mu.Unlock()

	stats := c.capture.GetStats()
	st := Status{
		Running:           running,
		Mode:              opts.Mode.String(),
		Recording:         running && opts.Record,
		QueueDepth:        stats.Queue.Length,
		DroppedUtterances: stats.Queue.Dropped,
		Level:             stats.VAD.LastRMS,
		PendingSave:       pending,
		CaptureError:      stats.Error,
		Capture:           stats,
	}
	if p != nil {
		st.Pipeline = p.GetStats()
	}
	if s := c.sessions.Current(); s != nil {
		st.SessionID = s.ID
		st.Title = s.Title
		st.Entries = len(s.Entries)
	}
	if st.Recording {
		st.RecordedSeconds = c.writer.DurationSeconds()
	}
	return st
}
