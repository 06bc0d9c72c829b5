// Package transcription implements the HTTP client for Whisper-compatible
// speech-to-text servers. Utterances are encoded to WAV in memory and uploaded
// as multipart form data; failed requests are retried with exponential
// backoff and the number of in-flight requests is bounded.
package transcription
