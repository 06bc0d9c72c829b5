package app

import "github.com/trvslhlt/live-audio-translator/internal/pipeline"

// EventMsg wraps an event read from the controller's event channel.
type EventMsg struct {
	Event pipeline.Event
}

// StartedMsg carries the result of starting a session.
type StartedMsg struct {
	Err error
}

// StoppedMsg carries the result of stopping a session. Pending is nil when
// nothing needs saving.
type StoppedMsg struct {
	Pending PendingSave
	Err     error
}

// SavedMsg carries the result of saving a stopped session.
type SavedMsg struct {
	Folder string
	Err    error
}

// DiscardedMsg carries the result of discarding a stopped session.
type DiscardedMsg struct {
	Err error
}

// TickMsg refreshes the level meter and recording length while listening.
type TickMsg struct{}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}
