// Package capture drives an input device and feeds its frames through the
// chunker.
//
// A Driver enumerates and opens input devices; its FrameHandler runs on the
// driver's real-time context, so the Capture controller keeps that path free
// of I/O and blocking calls. Failures inside the callback stop capture and
// are reported through Capture.Err instead of crossing the callback boundary.
package capture
