package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/trvslhlt/live-audio-translator/internal/config"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "live-audio-translator"
	serviceVersion    = "1.0.0"

	// interactive mode must not log onto the terminal it draws
	defaultTUILogFile = "translator.log"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: translator [-config path] <command> [flags]

Commands:
  listen    capture, transcribe and translate live speech
  devices   list input devices for the configured capture driver
  load      print a saved session folder
  list      list sessions in the library (-prune forgets missing folders)
  recover   save recordings left behind by an unclean exit
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	command, args := flag.Arg(0), flag.Args()[1:]

	var run func(*config.Config, []string) error
	switch command {
	case "listen":
		run = runListen
	case "devices":
		run = runDevices
	case "load":
		run = runLoad
	case "list":
		run = runList
	case "recover":
		run = runRecover
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", command)
		usage()
		os.Exit(2)
	}

	if err := run(cfg, args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
