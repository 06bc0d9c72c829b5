package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/trvslhlt/live-audio-translator/internal/capture"
	"github.com/trvslhlt/live-audio-translator/internal/pipeline"
	"github.com/trvslhlt/live-audio-translator/internal/session"
)

const (
	tickInterval       = 200 * time.Millisecond
	transientErrorTime = 5 * time.Second
	defaultStopTimeout = 30 * time.Second
)

// Prompt is the question currently shown below the transcript.
type Prompt int

const (
	PromptNone Prompt = iota
	PromptDestination
	PromptTitle
	PromptDiscard
	PromptSaving
)

// Options configure the sessions started from the UI.
type Options struct {
	Device capture.DeviceSelector
	Mode   session.LanguageMode
	Record bool
	Title  string

	// DefaultDir pre-fills the destination prompt
	DefaultDir  string
	StopTimeout time.Duration
}

// Model is the root bubbletea model for the translator TUI.
type Model struct {
	ctrl Controller
	ctx  context.Context
	opts Options

	// Session state
	running  bool
	starting bool
	stopping bool
	mode     session.LanguageMode

	// Transcript
	entries         []session.TranscriptEntry
	entryCount      int
	recordedSeconds float64
	level           float64

	// Save flow
	prompt       Prompt
	input        string
	destination  string
	pending      PendingSave
	saveProgress int
	saveMessage  string
	lastFolder   string
	quitAfter    bool

	// Errors
	errorMessage   string
	errorTransient bool

	statusText string

	width  int
	height int
}

// New creates a Model driving ctrl.
func New(ctx context.Context, ctrl Controller, opts Options) Model {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	return Model{
		ctrl:       ctrl,
		ctx:        ctx,
		opts:       opts,
		mode:       opts.Mode,
		statusText: "Ready",
	}
}

// Init starts reading controller events.
func (m Model) Init() tea.Cmd {
	return listenCmd(m.ctrl.Events())
}

// listenCmd reads the next controller event. It is re-issued after every
// event.
func listenCmd(events <-chan pipeline.Event) tea.Cmd {
	return func() tea.Msg {
		return EventMsg{Event: <-events}
	}
}

func startCmd(ctx context.Context, ctrl Controller, opts pipeline.StartOptions) tea.Cmd {
	return func() tea.Msg {
		return StartedMsg{Err: ctrl.Start(ctx, opts)}
	}
}

func stopCmd(ctx context.Context, ctrl Controller, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		pending, err := ctrl.Stop(ctx)
		return StoppedMsg{Pending: pending, Err: err}
	}
}

// saveCmd saves in the background; progress arrives as SaveProgressEvents
// on the controller's event channel.
func saveCmd(p PendingSave, parent, title string) tea.Cmd {
	return func() tea.Msg {
		folder, err := p.Save(parent, title, nil)
		return SavedMsg{Folder: folder, Err: err}
	}
}

func discardCmd(p PendingSave) tea.Cmd {
	return func() tea.Msg {
		return DiscardedMsg{Err: p.Discard()}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}

func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(transientErrorTime, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case EventMsg:
		cmd := m.handleEvent(msg.Event)
		return m, tea.Batch(cmd, listenCmd(m.ctrl.Events()))

	case StartedMsg:
		m.starting = false
		if msg.Err != nil {
			m.statusText = "Ready"
			m.errorMessage = startErrorText(msg.Err)
			m.errorTransient = false
			return m, nil
		}
		m.running = true
		m.entries = nil
		m.entryCount = 0
		m.recordedSeconds = 0
		m.lastFolder = ""
		m.errorMessage = ""
		m.statusText = pipeline.StatusListening
		return m, tickCmd()

	case StoppedMsg:
		return m.handleStopped(msg)

	case SavedMsg:
		if msg.Err != nil {
			// the recording is still in place; ask again
			m.errorMessage = "Save failed: " + msg.Err.Error()
			m.errorTransient = false
			m.prompt = PromptDestination
			m.input = m.destination
			m.statusText = "Choose another destination"
			return m, nil
		}
		m.prompt = PromptNone
		m.pending = nil
		m.lastFolder = msg.Folder
		m.saveProgress = 100
		m.statusText = "Session saved to " + msg.Folder
		if m.quitAfter {
			return m, tea.Quit
		}
		return m, nil

	case DiscardedMsg:
		if msg.Err != nil {
			m.errorMessage = msg.Err.Error()
			m.prompt = PromptDestination
			m.input = ""
			return m, nil
		}
		m.prompt = PromptNone
		m.pending = nil
		m.statusText = "Recording discarded"
		if m.quitAfter {
			return m, tea.Quit
		}
		return m, nil

	case TickMsg:
		if !m.running {
			return m, nil
		}
		st := m.ctrl.Status()
		m.level = st.Level
		if st.Recording {
			m.recordedSeconds = st.RecordedSeconds
		}
		return m, tickCmd()

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleStopped(msg StoppedMsg) (tea.Model, tea.Cmd) {
	m.running = false
	m.stopping = false
	m.level = 0

	if msg.Err != nil {
		m.errorMessage = msg.Err.Error()
		m.errorTransient = false
		m.statusText = "Stopped"
		if m.quitAfter {
			return m, tea.Quit
		}
		return m, nil
	}

	if msg.Pending == nil {
		if m.opts.Record && m.entryCount == 0 {
			m.statusText = "No content to save in session"
		} else {
			m.statusText = "Stopped"
		}
		if m.quitAfter {
			return m, tea.Quit
		}
		return m, nil
	}

	m.pending = msg.Pending
	m.prompt = PromptDestination
	m.input = m.opts.DefaultDir
	m.saveProgress = 0
	m.saveMessage = ""
	m.statusText = "Choose where to save the session"
	return m, nil
}

// handleEvent processes a controller event and returns any resulting command.
func (m *Model) handleEvent(ev pipeline.Event) tea.Cmd {
	switch ev := ev.(type) {
	case pipeline.StatusEvent:
		if m.running && !m.stopping {
			m.statusText = ev.Message
		}

	case pipeline.EntryEvent:
		m.entries = append(m.entries, ev.Entry)
		m.entryCount = ev.Entries
		if ev.Recorded > 0 {
			m.recordedSeconds = ev.Recorded
		}

	case pipeline.ErrorEvent:
		m.errorMessage = ev.Err.Error()
		var collab *pipeline.CollaboratorError
		if errors.As(ev.Err, &collab) {
			m.errorTransient = true
			return clearTransientErrorCmd()
		}
		m.errorTransient = false

	case pipeline.SaveProgressEvent:
		m.saveProgress = ev.Percent
		m.saveMessage = ev.Message

	case pipeline.StoppedEvent:
		// capture failed on its own; finish the session the normal way
		if ev.Err != nil && m.running && !m.stopping {
			m.stopping = true
			m.statusText = "Capture stopped"
			return stopCmd(m.ctx, m.ctrl, m.opts.StopTimeout)
		}
	}
	return nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == KeyCtrlC {
		// an unsaved recording keeps its journal and can be recovered later
		return m, tea.Quit
	}

	switch m.prompt {
	case PromptDestination, PromptTitle:
		return m.handleInputKey(msg)
	case PromptDiscard:
		return m.handleDiscardKey(key)
	case PromptSaving:
		return m, nil
	}

	switch key {
	case KeyQuit, KeyQuitUpper:
		if m.running {
			if m.stopping {
				return m, nil
			}
			m.quitAfter = true
			m.stopping = true
			m.statusText = "Stopping..."
			return m, stopCmd(m.ctx, m.ctrl, m.opts.StopTimeout)
		}
		return m, tea.Quit

	case KeySpace:
		if m.starting || m.stopping {
			return m, nil
		}
		if m.running {
			m.stopping = true
			m.statusText = "Stopping..."
			return m, stopCmd(m.ctx, m.ctrl, m.opts.StopTimeout)
		}
		m.starting = true
		m.statusText = "Starting..."
		return m, startCmd(m.ctx, m.ctrl, pipeline.StartOptions{
			Device: m.opts.Device,
			Mode:   m.mode,
			Record: m.opts.Record,
			Title:  m.opts.Title,
		})

	case KeyMode, KeyModeUpper:
		if !m.running && !m.starting {
			m.mode = m.mode.Next()
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		return m.submitInput()
	case tea.KeyEsc:
		m.input = ""
		return m.submitInput()
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	}
	return m, nil
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.input)

	if m.prompt == PromptDestination {
		if value == "" {
			m.prompt = PromptDiscard
			m.input = ""
			return m, nil
		}
		m.destination = value
		m.prompt = PromptTitle
		m.input = ""
		if s := m.pending.Session(); s != nil {
			m.input = s.Title
		}
		return m, nil
	}

	m.prompt = PromptSaving
	m.errorMessage = ""
	m.statusText = "Saving session..."
	return m, saveCmd(m.pending, m.destination, value)
}

func (m Model) handleDiscardKey(key string) (tea.Model, tea.Cmd) {
	switch strings.ToLower(key) {
	case KeyYes:
		m.prompt = PromptSaving
		m.statusText = "Discarding recording..."
		return m, discardCmd(m.pending)
	case KeyNo, KeyEsc:
		m.prompt = PromptDestination
		m.input = m.opts.DefaultDir
	}
	return m, nil
}

func startErrorText(err error) string {
	var devErr *capture.DeviceError
	if errors.As(err, &devErr) {
		return fmt.Sprintf("Could not open input device %s: %v", devErr.Device, devErr.Err)
	}
	return "Could not start: " + err.Error()
}
