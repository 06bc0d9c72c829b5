package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/trvslhlt/live-audio-translator/internal/audio"
	"github.com/trvslhlt/live-audio-translator/internal/capture"
	"github.com/trvslhlt/live-audio-translator/internal/capture/portaudio"
	"github.com/trvslhlt/live-audio-translator/internal/config"
	"github.com/trvslhlt/live-audio-translator/internal/metrics"
	"github.com/trvslhlt/live-audio-translator/internal/session"
	"github.com/trvslhlt/live-audio-translator/internal/transcription"
	"github.com/trvslhlt/live-audio-translator/internal/translation"
)

// runtime holds the components shared by every command
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	library  *session.Library
	sessions *session.Manager
}

func newRuntime(cfg *config.Config, logger *slog.Logger) *runtime {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	var library *session.Library
	if cfg.Session.LibraryPath != "" {
		lib, err := session.OpenLibrary(cfg.Session.LibraryPath)
		if err != nil {
			// folders stay the source of truth; run without the index
			logger.Warn("Session library unavailable",
				slog.String("path", cfg.Session.LibraryPath),
				slog.String("error", err.Error()),
			)
		} else {
			library = lib
		}
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		library:  library,
		sessions: session.NewManager(cfg.Session.SessionsDir, library, logger, m),
	}
}

func (r *runtime) Close() {
	if r.library == nil {
		return
	}
	if err := r.library.Close(); err != nil {
		r.logger.Warn("Failed to close session library", slog.String("error", err.Error()))
	}
}

// newDriver builds the capture driver named by capture.driver
func (r *runtime) newDriver() (capture.Driver, error) {
	switch r.cfg.Capture.Driver {
	case "udp":
		udp := r.cfg.Capture.UDP
		driver := capture.NewUDPDriver(capture.UDPConfig{
			BindAddress:   udp.BindAddress,
			Port:          udp.Port,
			BufferSize:    udp.BufferSize,
			SourceTimeout: udp.GetSourceTimeout(),
			SampleRate:    r.cfg.Audio.SampleRate,
		}, r.logger, r.metrics)
		if err := driver.Listen(); err != nil {
			return nil, err
		}
		return driver, nil
	case "portaudio":
		return portaudio.NewDriver(r.logger), nil
	default:
		return nil, fmt.Errorf("unknown capture driver %q", r.cfg.Capture.Driver)
	}
}

func (r *runtime) newCapture(driver capture.Driver) (*capture.Capture, error) {
	a := r.cfg.Audio
	policy, err := audio.ParseQueuePolicy(a.QueuePolicy)
	if err != nil {
		return nil, err
	}

	return capture.New(driver, capture.Config{
		Chunking: audio.ChunkingConfig{
			MinDuration:      a.GetChunkMinDuration(),
			MaxDuration:      a.GetChunkMaxDuration(),
			SilenceDuration:  a.GetSilenceDuration(),
			SilenceThreshold: a.SilenceThreshold,
			SampleRate:       a.SampleRate,
		},
		FrameSize:     a.FrameSize,
		QueueCapacity: a.QueueCapacity,
		QueuePolicy:   policy,
	}, r.logger, r.metrics)
}

func (r *runtime) newTranscriber() (*transcription.Client, error) {
	t := r.cfg.Transcription
	return transcription.NewClient(transcription.Config{
		Endpoint:      t.Endpoint,
		APIKey:        t.APIKey,
		Model:         t.Model,
		Timeout:       t.GetTimeoutDuration(),
		MaxRetries:    t.MaxRetries,
		MaxConcurrent: t.MaxConcurrent,
		Temperature:   t.Temperature,
	}, r.logger, r.metrics)
}

func (r *runtime) newTranslator() (*translation.Client, error) {
	t := r.cfg.Translation
	configured, err := t.LanguagePairs()
	if err != nil {
		return nil, err
	}
	pairs := make([]translation.Pair, len(configured))
	for i, p := range configured {
		pairs[i] = translation.Pair{From: p.From, To: p.To}
	}

	return translation.NewClient(translation.Config{
		Endpoint:   t.Endpoint,
		APIKey:     t.APIKey,
		Timeout:    t.GetTimeoutDuration(),
		MaxRetries: t.MaxRetries,
		Pairs:      pairs,
	}, r.logger, r.metrics)
}
