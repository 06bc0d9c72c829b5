// Package pipeline consumes utterances from capture, runs them through the
// transcription and translation collaborators and records the results in the
// current session.
//
// Pipeline.Run is the consumer loop. Controller wires a capture source, the
// streaming audio writer and the recovery journal around it and turns a
// stopped recording into a PendingSave that waits for a destination.
// Progress is reported to front ends as Events on a single channel.
package pipeline
