package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/trvslhlt/live-audio-translator/internal/audio"
	"github.com/trvslhlt/live-audio-translator/internal/capture"
	"github.com/trvslhlt/live-audio-translator/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func utterance(seq uint64, n int) *audio.Utterance {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	return &audio.Utterance{
		ID:         fmt.Sprintf("u%d", seq),
		Sequence:   seq,
		SampleRate: 16000,
		Samples:    samples,
		Reason:     audio.EmitPause,
	}
}

// fakeSource is a capture stand-in with a plain slice queue
type fakeSource struct {
	queue    []*audio.Utterance
	running  bool
	err      error
	startErr error
	starts   int
	stops    int
	mu       sync.Mutex
}

func (s *fakeSource) push(us ...*audio.Utterance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, us...)
}

func (s *fakeSource) NextUtterance(timeout time.Duration) (*audio.Utterance, bool) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		u := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return u, true
	}
	s.mu.Unlock()

	if timeout > 0 {
		time.Sleep(min(timeout, 2*time.Millisecond))
	}
	return nil, false
}

func (s *fakeSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *fakeSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSource) Start(sel capture.DeviceSelector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startErr != nil {
		return &capture.DeviceError{Op: "open", Device: sel, Err: s.startErr}
	}
	s.running = true
	s.queue = nil
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.running = false
	return nil
}

func (s *fakeSource) GetStats() capture.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return capture.Stats{
		Running: s.running,
		Queue:   audio.QueueStats{Length: len(s.queue)},
	}
}

type transcribeFunc func(req *transcription.Request) (*transcription.Result, error)

// fakeTranscriber records every request it receives
type fakeTranscriber struct {
	fn       transcribeFunc
	requests []transcription.Request
	mu       sync.Mutex
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req *transcription.Request) (*transcription.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, *req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeTranscriber) calls() []transcription.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transcription.Request(nil), f.requests...)
}

type fakeTranslator struct {
	calls [][3]string
	err   error
	mu    sync.Mutex
}

func (f *fakeTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [3]string{text, from, to})
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%s->%s:%s", from, to, text), nil
}

// collect drains whatever events are buffered
func collect(events chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func statuses(events []Event) []string {
	var out []string
	for _, ev := range events {
		if s, ok := ev.(StatusEvent); ok {
			out = append(out, s.Message)
		}
	}
	return out
}

func errorsOf(events []Event) []error {
	var out []error
	for _, ev := range events {
		if e, ok := ev.(ErrorEvent); ok {
			out = append(out, e.Err)
		}
	}
	return out
}
