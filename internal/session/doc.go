// Package session holds the transcript model and its persistence.
//
// A recording streams into a temporary WAV file through StreamingAudioWriter
// while Manager collects transcript entries for the current Session. On stop
// the session is materialized into a self-contained folder:
//
//	{title}_{id}/
//	    session.json    machine-readable metadata, reloadable
//	    transcript.txt  human-readable rendering
//	    audio.wav       16 kHz mono 16-bit PCM, optional
//
// The metadata and transcript are written before the audio is moved, so a
// failed save never strands the recording half way. A CBOR journal next to
// the temporary recording lets Recover save sessions from a process that
// died, and an optional SQLite Library indexes saved folders.
package session
