package session

import (
	"errors"
	"fmt"
)

// ErrInvalidSessionFolder is returned when a folder has no readable session.json
var ErrInvalidSessionFolder = errors.New("not a session folder")

// Stage names a step of Materialize
type Stage string

const (
	StageAudioSource Stage = "audio source"
	StageFolder      Stage = "folder"
	StageMetadata    Stage = "metadata"
	StageTranscript  Stage = "transcript"
	StageAudio       Stage = "audio"
)

// PersistenceError reports a failed save and where the recording now lives.
// The temporary audio is never deleted on this path.
type PersistenceError struct {
	Stage         Stage
	Folder        string
	AudioLocation string // "" when there was no recording
	Err           error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("save failed at %s stage", e.Stage)
	if e.Folder != "" {
		msg += fmt.Sprintf(" (folder %s)", e.Folder)
	}
	if e.AudioLocation != "" {
		msg += fmt.Sprintf(", audio still at %s", e.AudioLocation)
	}
	return msg + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
