package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/trvslhlt/live-audio-translator/internal/config"
	"github.com/trvslhlt/live-audio-translator/internal/session"
)

const libraryTimeout = 5 * time.Second

func runDevices(cfg *config.Config, args []string) error {
	logger := initLogger(cfg.Logging)
	rt := newRuntime(cfg, logger)
	defer rt.Close()

	driver, err := rt.newDriver()
	if err != nil {
		return err
	}
	defer driver.Close()

	devices, err := driver.ListInputDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No input devices found")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tCHANNELS\tRATE\tDEFAULT")
	for _, d := range devices {
		def := ""
		if d.IsDefault {
			def = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.0f\t%s\n", d.Index, d.Name, d.Channels, d.SampleRate, def)
	}
	return tw.Flush()
}

func runLoad(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: translator load FOLDER")
	}

	logger := initLogger(cfg.Logging)
	rt := newRuntime(cfg, logger)
	defer rt.Close()

	loaded, err := rt.sessions.LoadSessionFolder(args[0])
	if err != nil {
		return err
	}

	fmt.Print(session.RenderTranscript(loaded.Session))
	if loaded.HasAudio {
		fmt.Printf("Audio: %s (%s)\n", loaded.AudioPath, loaded.AudioDuration.Round(100*time.Millisecond))
	} else {
		fmt.Println("Audio: none")
	}
	return nil
}

func runList(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	prune := fs.Bool("prune", false, "Forget indexed sessions whose folder no longer exists")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)
	rt := newRuntime(cfg, logger)
	defer rt.Close()

	if rt.library == nil {
		return fmt.Errorf("session library is not available (session.library_path)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), libraryTimeout)
	defer cancel()
	if *prune {
		pruned, err := rt.library.Prune(ctx)
		for _, folder := range pruned {
			fmt.Printf("Forgot missing session %s\n", folder)
		}
		if err != nil {
			return err
		}
	}
	records, err := rt.library.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No saved sessions")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMODE\tENTRIES\tAUDIO\tFOLDER")
	for _, r := range records {
		audio := "-"
		if r.HasAudio {
			audio = fmt.Sprintf("%.1fs", r.AudioSeconds)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.ID, r.Title, r.LanguageMode, r.EntryCount, audio, r.Folder)
	}
	return tw.Flush()
}

func runRecover(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	out := fs.String("out", cfg.Session.SessionsDir, "Directory recovered sessions are saved under")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)
	rt := newRuntime(cfg, logger)
	defer rt.Close()

	recovered, err := rt.sessions.Recover(cfg.Session.TempDir, *out)
	for _, r := range recovered {
		source := "audio only"
		if r.FromJournal {
			source = fmt.Sprintf("%d entries", r.Entries)
		}
		fmt.Printf("Recovered %s (%s, %.1fs audio) -> %s\n", r.SessionID, source, r.AudioSeconds, r.Folder)
	}
	if err != nil {
		return err
	}
	if len(recovered) == 0 {
		fmt.Println("Nothing to recover")
	}
	return nil
}
