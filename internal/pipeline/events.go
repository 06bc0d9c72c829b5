package pipeline

import (
	"time"

	"github.com/trvslhlt/live-audio-translator/internal/session"
)

// Status messages shown while the loop runs
const (
	StatusListening  = "Listening..."
	StatusProcessing = "Processing..."
	StatusError      = "Error - check console"
)

// Event is delivered to the front end on the controller's event channel
type Event interface {
	event()
}

// StatusEvent reports what the loop is doing
type StatusEvent struct {
	Message string
	At      time.Time
}

// EntryEvent carries a new transcript entry
type EntryEvent struct {
	Entry       session.TranscriptEntry
	UtteranceID string
	Audio       time.Duration
	Entries     int
	Recorded    float64 // seconds of audio in the temporary recording
}

// ErrorEvent reports a failure the loop recovered from, or the capture
// failure that ended it
type ErrorEvent struct {
	Err error
}

// SaveProgressEvent mirrors session.Manager.Materialize progress
type SaveProgressEvent struct {
	Percent int
	Message string
}

// StoppedEvent is sent once when the loop has exited
type StoppedEvent struct {
	Err error
}

func (StatusEvent) event()       {}
func (EntryEvent) event()        {}
func (ErrorEvent) event()        {}
func (SaveProgressEvent) event() {}
func (StoppedEvent) event()      {}
