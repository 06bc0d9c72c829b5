package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResult means the speech model returned no text for an utterance
	ErrEmptyResult = errors.New("empty transcription")
	// ErrSaveCancelled is returned by PendingSave.Save when no destination was chosen
	ErrSaveCancelled = errors.New("no destination chosen")
	// ErrSaveResolved is returned once a pending save was saved or discarded
	ErrSaveResolved = errors.New("pending save already resolved")
	// ErrRunning is returned by Start while a session is being captured
	ErrRunning = errors.New("already listening")
	// ErrNotRunning is returned by Stop when nothing is being captured
	ErrNotRunning = errors.New("not listening")
	// ErrSavePending is returned by Start while a stopped session awaits a destination
	ErrSavePending = errors.New("previous session has not been saved or discarded")
)

// Collaborator stages
const (
	StageTranscribe = "transcribe"
	StageTranslate  = "translate"
)

// CollaboratorError wraps a transcription or translation failure for one
// utterance. The loop reports it and moves on.
type CollaboratorError struct {
	Stage       string
	UtteranceID string
	Err         error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed for utterance %s: %v", e.Stage, e.UtteranceID, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
