package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/trvslhlt/live-audio-translator/internal/app"
	"github.com/trvslhlt/live-audio-translator/internal/capture"
	"github.com/trvslhlt/live-audio-translator/internal/config"
	"github.com/trvslhlt/live-audio-translator/internal/pipeline"
	"github.com/trvslhlt/live-audio-translator/internal/server"
	"github.com/trvslhlt/live-audio-translator/internal/session"
)

const (
	stopTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	verifyTimeout   = 10 * time.Second
)

type listenOptions struct {
	device   int
	mode     string
	noRecord bool
	headless bool
	out      string
	title    string
}

func runListen(cfg *config.Config, args []string) error {
	var opts listenOptions
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	fs.IntVar(&opts.device, "device", cfg.Capture.Device, "Input device index (-1 for the default device)")
	fs.StringVar(&opts.mode, "mode", cfg.Session.DefaultMode, "Language mode: auto, fr_to_en or en_to_fr")
	fs.BoolVar(&opts.noRecord, "no-record", !cfg.Session.Record, "Do not record session audio")
	fs.BoolVar(&opts.headless, "headless", false, "Run without the terminal UI; save on SIGINT/SIGTERM")
	fs.StringVar(&opts.out, "out", cfg.Session.SessionsDir, "Directory sessions are saved under")
	fs.StringVar(&opts.title, "title", "", "Session title")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mode, err := session.ParseLanguageMode(opts.mode)
	if err != nil {
		return err
	}

	logCfg := cfg.Logging
	if !opts.headless && (logCfg.Output == "" || logCfg.Output == "stdout" || logCfg.Output == "stderr") {
		logCfg.Output = defaultTUILogFile
	}
	logger := initLogger(logCfg)

	logger.Info("Translator starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("capture_driver", cfg.Capture.Driver),
		slog.String("mode", mode.String()),
		slog.Bool("record", !opts.noRecord),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("translation_endpoint", cfg.Translation.Endpoint),
		slog.String("temp_dir", cfg.Session.TempDir),
	)

	rt := newRuntime(cfg, logger)
	defer rt.Close()

	driver, err := rt.newDriver()
	if err != nil {
		return err
	}
	defer driver.Close()

	capt, err := rt.newCapture(driver)
	if err != nil {
		return err
	}
	transcriber, err := rt.newTranscriber()
	if err != nil {
		return err
	}
	defer transcriber.Close()
	translator, err := rt.newTranslator()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Translation.VerifyOnStart {
		verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
		if err := translator.VerifyPairs(verifyCtx); err != nil {
			logger.Warn("Translation server check failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	controller, err := pipeline.NewController(capt, transcriber, translator, rt.sessions, pipeline.ControllerConfig{
		TempDir:     cfg.Session.TempDir,
		SampleRate:  cfg.Audio.SampleRate,
		PollTimeout: cfg.Pipeline.GetPollTimeout(),
		EventBuffer: cfg.Pipeline.EventBuffer,
	}, logger, rt.metrics)
	if err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, server.Deps{
			Status:        controller,
			Sessions:      rt.sessions,
			Library:       rt.library,
			Transcription: transcriber,
			VAD:           capt,
			Gatherer:      rt.registry,
		}, rt.metrics)
		if err := httpServer.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}
		}()
	}

	start := pipeline.StartOptions{
		Device: capture.DeviceSelector(opts.device),
		Mode:   mode,
		Record: !opts.noRecord,
		Title:  opts.title,
	}
	if opts.headless {
		return listenHeadless(ctx, controller, start, opts.out, os.Stdout, logger)
	}
	return listenInteractive(ctx, controller, start, opts.out, logger)
}

func listenInteractive(ctx context.Context, controller *pipeline.Controller, start pipeline.StartOptions, out string, logger *slog.Logger) error {
	model := app.New(ctx, app.FromPipeline(controller), app.Options{
		Device:      start.Device,
		Mode:        start.Mode,
		Record:      start.Record,
		Title:       start.Title,
		DefaultDir:  out,
		StopTimeout: stopTimeout,
	})

	_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}

	// ctrl+c or a signal left a session running
	if controller.Running() {
		pending, err := stopDraining(controller, io.Discard)
		if err != nil {
			return err
		}
		if pending != nil {
			logger.Warn("Unsaved recording kept for recovery",
				slog.String("audio", pending.AudioPath()),
				slog.Int("entries", len(pending.Session().Entries)),
			)
			fmt.Fprintf(os.Stderr, "Unsaved recording kept at %s; run 'translator recover' to save it\n", pending.AudioPath())
		}
	}
	return nil
}

// listenHeadless prints entries as they arrive and saves the session under
// out once ctx is cancelled
func listenHeadless(ctx context.Context, controller *pipeline.Controller, start pipeline.StartOptions, out string, w io.Writer, logger *slog.Logger) error {
	if err := controller.Start(ctx, start); err != nil {
		return err
	}
	logger.Info("Listening, send SIGINT or SIGTERM to stop and save")

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev := <-controller.Events():
			switch ev := ev.(type) {
			case pipeline.EntryEvent:
				printEntry(w, ev.Entry)
			case pipeline.StoppedEvent:
				runErr = ev.Err
				break loop
			}
		}
	}

	pending, err := stopDraining(controller, w)
	if err != nil {
		return err
	}
	if pending != nil {
		folder, err := pending.Save(out, start.Title, nil)
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		fmt.Fprintf(w, "Session saved to %s\n", folder)
	}
	if runErr != nil {
		return fmt.Errorf("capture stopped: %w", runErr)
	}
	return nil
}

// stopDraining stops the controller while printing the entries it still
// produces; nothing else reads the event channel at this point
func stopDraining(controller *pipeline.Controller, w io.Writer) (*pipeline.PendingSave, error) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev := <-controller.Events():
				if e, ok := ev.(pipeline.EntryEvent); ok {
					printEntry(w, e.Entry)
				}
			case <-done:
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	pending, err := controller.Stop(ctx)
	close(done)
	wg.Wait()
	return pending, err
}

func printEntry(w io.Writer, e session.TranscriptEntry) {
	src := session.LanguageLabel(e.SourceLang)
	fmt.Fprintf(w, "[%s]\n[%s] %s\n", e.Timestamp, src, e.OriginalText)
	if e.TranslatedText != e.OriginalText {
		fmt.Fprintf(w, "[%s] %s\n", session.TargetLabel(src), e.TranslatedText)
	}
	fmt.Fprintln(w)
}
