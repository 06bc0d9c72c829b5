package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/trvslhlt/live-audio-translator/internal/audio"
	"github.com/trvslhlt/live-audio-translator/internal/metrics"
	"github.com/trvslhlt/live-audio-translator/internal/session"
	"github.com/trvslhlt/live-audio-translator/internal/transcription"
	"github.com/trvslhlt/live-audio-translator/internal/translation"
)

const defaultPollTimeout = 500 * time.Millisecond

// Source yields utterances. NextUtterance returns false when nothing arrived
// within the timeout. Err reports a failure that stopped the source.
type Source interface {
	NextUtterance(timeout time.Duration) (*audio.Utterance, bool)
	Running() bool
	Err() error
}

// Config contains the consumer loop configuration
type Config struct {
	Mode        session.LanguageMode
	PollTimeout time.Duration

	// Writer and Journal are nil when the session is not recorded
	Writer  *session.StreamingAudioWriter
	Journal *session.Journal

	// Events may be nil
	Events chan<- Event
}

// Pipeline is the consumer side of capture
type Pipeline struct {
	source      Source
	transcriber transcription.Transcriber
	translator  translation.Translator
	sessions    *session.Manager
	config      Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	processed atomic.Uint64
	empty     atomic.Uint64
	failed    atomic.Uint64
}

// Stats represents consumer loop statistics
type Stats struct {
	Processed uint64 `json:"processed"`
	Empty     uint64 `json:"empty"`
	Failed    uint64 `json:"failed"`
}

// New creates a pipeline. translator may be nil when the mode never needs it.
func New(source Source, transcriber transcription.Transcriber, translator translation.Translator,
	sessions *session.Manager, config Config, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if source == nil {
		return nil, fmt.Errorf("utterance source is required")
	}
	if transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if !config.Mode.DirectTranslate() && translator == nil {
		return nil, fmt.Errorf("mode %s requires a translator", config.Mode)
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = defaultPollTimeout
	}

	return &Pipeline{
		source:      source,
		transcriber: transcriber,
		translator:  translator,
		sessions:    sessions,
		config:      config,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}, nil
}

// Run consumes utterances until ctx is cancelled or the source stops. After
// the source stops, utterances still queued are processed before Run
// returns nil. A capture failure is reported as an ErrorEvent and returned.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("Pipeline started",
		slog.String("mode", p.config.Mode.String()),
		slog.Bool("recording", p.config.Writer != nil),
	)
	p.status(ctx, StatusListening)

	for {
		if ctx.Err() != nil {
			p.logStopped("cancelled")
			return ctx.Err()
		}

		u, ok := p.source.NextUtterance(p.config.PollTimeout)
		if ok {
			p.handle(ctx, u)
			continue
		}

		if err := p.source.Err(); err != nil {
			p.drain(ctx)
			p.logger.Error("Capture failed", slog.String("error", err.Error()))
			p.emit(ctx, ErrorEvent{Err: err})
			return err
		}
		if !p.source.Running() {
			p.drain(ctx)
			p.logStopped("source stopped")
			return nil
		}
	}
}

// drain processes whatever the source queued before it stopped
func (p *Pipeline) drain(ctx context.Context) {
	for ctx.Err() == nil {
		u, ok := p.source.NextUtterance(0)
		if !ok {
			return
		}
		p.handle(ctx, u)
	}
}

func (p *Pipeline) logStopped(reason string) {
	stats := p.GetStats()
	p.logger.Info("Pipeline stopped",
		slog.String("reason", reason),
		slog.Uint64("processed", stats.Processed),
		slog.Uint64("empty", stats.Empty),
		slog.Uint64("failed", stats.Failed),
	)
}

func (p *Pipeline) handle(ctx context.Context, u *audio.Utterance) {
	p.processed.Add(1)
	p.logger.Info("Processing utterance",
		slog.String("utterance_id", u.ID),
		slog.Float64("duration", u.Duration().Seconds()),
		slog.String("reason", string(u.Reason)),
	)
	p.status(ctx, StatusProcessing)

	err := p.process(ctx, u)
	switch {
	case err == nil:
	case errors.Is(err, ErrEmptyResult):
		p.empty.Add(1)
		p.metrics.RecordEmptyResult()
		p.logger.Debug("No speech in utterance", slog.String("utterance_id", u.ID))
	case ctx.Err() != nil:
		// stopping; the failure is the cancellation itself
		return
	default:
		p.failed.Add(1)
		p.logger.Error("Utterance failed",
			slog.String("utterance_id", u.ID),
			slog.String("error", err.Error()),
		)
		p.emit(ctx, ErrorEvent{Err: err})
		p.status(ctx, StatusError)
		return
	}
	p.status(ctx, StatusListening)
}

func (p *Pipeline) process(ctx context.Context, u *audio.Utterance) error {
	timestamp := p.now().Format(session.EntryTimeLayout)

	var original, translated, lang string
	var err error
	if p.config.Mode.DirectTranslate() {
		original, translated, lang, err = p.directTranslate(ctx, u)
	} else {
		original, translated, lang, err = p.transcribeThenTranslate(ctx, u)
	}
	if err != nil {
		return err
	}

	entry := p.sessions.AddEntry(timestamp, lang, original, translated)
	p.record(u)

	ev := EntryEvent{
		Entry:       entry,
		UtteranceID: u.ID,
		Audio:       u.Duration(),
		Entries:     p.sessions.EntryCount(),
	}
	if p.config.Writer != nil {
		ev.Recorded = p.config.Writer.DurationSeconds()
	}
	p.logger.Info("Entry added",
		slog.String("utterance_id", u.ID),
		slog.String("source_lang", lang),
		slog.String("original", preview(original)),
		slog.String("translated", preview(translated)),
	)
	p.emit(ctx, ev)
	return nil
}

// directTranslate transcribes in the spoken language, then asks the speech
// model for an English translation unless the speech already is English
func (p *Pipeline) directTranslate(ctx context.Context, u *audio.Utterance) (string, string, string, error) {
	res, err := p.transcribe(ctx, u, p.config.Mode.Source(), transcription.TaskTranscribe)
	if err != nil {
		return "", "", "", err
	}
	original := strings.TrimSpace(res.Text)
	if original == "" {
		return "", "", "", ErrEmptyResult
	}
	if strings.HasPrefix(res.Language, "en") {
		return original, original, res.Language, nil
	}

	tr, err := p.transcribe(ctx, u, res.Language, transcription.TaskTranslate)
	if err != nil {
		return "", "", "", err
	}
	return original, strings.TrimSpace(tr.Text), res.Language, nil
}

func (p *Pipeline) transcribeThenTranslate(ctx context.Context, u *audio.Utterance) (string, string, string, error) {
	res, err := p.transcribe(ctx, u, p.config.Mode.Source(), transcription.TaskTranscribe)
	if err != nil {
		return "", "", "", err
	}
	original := strings.TrimSpace(res.Text)
	if original == "" {
		return "", "", "", ErrEmptyResult
	}

	translated, err := translation.TranslateAuto(ctx, p.translator, original, res.Language, p.config.Mode.Target())
	if err != nil {
		return "", "", "", &CollaboratorError{Stage: StageTranslate, UtteranceID: u.ID, Err: err}
	}
	return original, translated, res.Language, nil
}

func (p *Pipeline) transcribe(ctx context.Context, u *audio.Utterance, lang string, task transcription.Task) (*transcription.Result, error) {
	res, err := p.transcriber.Transcribe(ctx, &transcription.Request{
		UtteranceID: u.ID,
		Samples:     u.Samples,
		SampleRate:  u.SampleRate,
		Language:    lang,
		Task:        task,
	})
	if err != nil {
		return nil, &CollaboratorError{Stage: StageTranscribe, UtteranceID: u.ID, Err: err}
	}
	return res, nil
}

// record appends the utterance audio and snapshots the session. Failures
// are logged; the entry is already in the session.
func (p *Pipeline) record(u *audio.Utterance) {
	w := p.config.Writer
	if w == nil {
		return
	}

	if err := w.AppendUtterance(u.Samples); err != nil {
		p.logger.Error("Failed to record utterance audio",
			slog.String("utterance_id", u.ID),
			slog.String("error", err.Error()),
		)
	}
	p.metrics.SetRecordedSeconds(w.DurationSeconds())

	if p.config.Journal == nil {
		return
	}
	if s := p.sessions.Current(); s != nil {
		if err := p.config.Journal.Write(s, w.Samples()); err != nil {
			p.logger.Warn("Failed to write recovery journal",
				slog.String("path", p.config.Journal.Path()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Pipeline) status(ctx context.Context, message string) {
	p.emit(ctx, StatusEvent{Message: message, At: p.now()})
}

// emit delivers ev unless ctx is done first
func (p *Pipeline) emit(ctx context.Context, ev Event) {
	if p.config.Events == nil {
		return
	}
	select {
	case p.config.Events <- ev:
	case <-ctx.Done():
	}
}

// GetStats returns consumer loop statistics
func (p *Pipeline) GetStats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Empty:     p.empty.Load(),
		Failed:    p.failed.Load(),
	}
}

func preview(text string) string {
	const limit = 60
	if r := []rune(text); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return text
}
