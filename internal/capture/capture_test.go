package capture

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/trvslhlt/live-audio-translator/internal/audio"
	"github.com/trvslhlt/live-audio-translator/internal/vad"
)

type fakeStream struct {
	started  bool
	stopped  bool
	closed   bool
	startErr error
}

func (s *fakeStream) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeStream) Stop() error {
	s.stopped = true
	return nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeDriver lets tests push frames through the handler passed to Open
type fakeDriver struct {
	mu       sync.Mutex
	opens    int
	openErr  error
	startErr error
	handler  FrameHandler
	streams  []*fakeStream
	devices  []DeviceInfo
}

func (d *fakeDriver) ListInputDevices() ([]DeviceInfo, error) {
	return d.devices, nil
}

func (d *fakeDriver) Open(sel DeviceSelector, params StreamParams, onFrame FrameHandler) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := &fakeStream{startErr: d.startErr}
	d.streams = append(d.streams, s)
	d.handler = onFrame
	return s, nil
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) send(frame []int16) bool {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	return h(frame)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() Config {
	return Config{
		Chunking: audio.ChunkingConfig{
			MinDuration:      1 * time.Second,
			MaxDuration:      2 * time.Second,
			SilenceDuration:  500 * time.Millisecond,
			SilenceThreshold: 0.01,
			SampleRate:       16000,
		},
		FrameSize:     1600,
		QueueCapacity: 8,
		QueuePolicy:   audio.DropOldest,
	}
}

func constantFrame(value int16, n int) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		frame[i] = value
	}
	return frame
}

func newTestCapture(t *testing.T, driver *fakeDriver) *Capture {
	t.Helper()
	c, err := New(driver, testConfig(), testLogger(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, testConfig(), testLogger(), nil); err == nil {
		t.Error("Expected error for nil driver")
	}

	cfg := testConfig()
	cfg.FrameSize = 0
	if _, err := New(&fakeDriver{}, cfg, testLogger(), nil); err == nil {
		t.Error("Expected error for zero frame size")
	}

	cfg = testConfig()
	cfg.Chunking.MaxDuration = cfg.Chunking.MinDuration
	if _, err := New(&fakeDriver{}, cfg, testLogger(), nil); err == nil {
		t.Error("Expected error for invalid chunking bounds")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestCapture(t, driver)

	if err := c.Start(DefaultDevice); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Start(DefaultDevice); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}

	if driver.opens != 1 {
		t.Errorf("Expected 1 open, got %d", driver.opens)
	}
	if !c.Running() {
		t.Error("Expected capture to be running")
	}
	if !driver.streams[0].started {
		t.Error("Expected stream to be started")
	}
}

func TestForcedUtteranceReachesQueue(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestCapture(t, driver)
	if err := c.Start(DefaultDevice); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	loud := constantFrame(8000, 1600)
	for i := 0; i < 20; i++ {
		if !driver.send(loud) {
			t.Fatalf("Handler refused frame %d", i)
		}
	}

	u, ok := c.NextUtterance(100 * time.Millisecond)
	if !ok {
		t.Fatal("Expected an utterance")
	}
	if u.SampleCount() != 32000 {
		t.Errorf("Expected 32000 samples, got %d", u.SampleCount())
	}
	if u.Reason != audio.EmitForced {
		t.Errorf("Expected forced emission, got %s", u.Reason)
	}
	if c.Level() <= 0 {
		t.Errorf("Expected positive level, got %f", c.Level())
	}
}

func TestNextUtteranceTimeout(t *testing.T) {
	c := newTestCapture(t, &fakeDriver{})

	start := time.Now()
	u, ok := c.NextUtterance(50 * time.Millisecond)
	if ok || u != nil {
		t.Error("Expected no utterance")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Expected to wait for the timeout, returned after %v", elapsed)
	}
}

func TestStopDiscardsPartialUtterance(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestCapture(t, driver)
	if err := c.Start(DefaultDevice); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	loud := constantFrame(8000, 1600)
	for i := 0; i < 5; i++ {
		driver.send(loud)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if c.Running() {
		t.Error("Expected capture to be stopped")
	}
	if pending := c.GetStats().Chunker.PendingSamples; pending != 0 {
		t.Errorf("Expected no pending samples, got %d", pending)
	}
	if !driver.streams[0].stopped || !driver.streams[0].closed {
		t.Error("Expected stream to be stopped and closed")
	}

	// frames arriving after Stop are refused
	if driver.send(loud) {
		t.Error("Expected handler to refuse frames after Stop")
	}

	if err := c.Stop(); err != nil {
		t.Errorf("Expected second Stop to be a no-op, got %v", err)
	}
}

func TestQueuedUtterancesSurviveStop(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestCapture(t, driver)
	if err := c.Start(DefaultDevice); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	loud := constantFrame(8000, 1600)
	for i := 0; i < 20; i++ {
		driver.send(loud)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if _, ok := c.NextUtterance(0); !ok {
		t.Error("Expected queued utterance to remain after Stop")
	}
}

func TestRestartClearsQueue(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestCapture(t, driver)
	if err := c.Start(DefaultDevice); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	loud := constantFrame(8000, 1600)
	for i := 0; i < 20; i++ {
		driver.send(loud)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := c.Start(DefaultDevice); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}

	if depth := c.GetStats().Queue.Length; depth != 0 {
		t.Errorf("Expected empty queue after restart, got %d", depth)
	}
	if driver.opens != 2 {
		t.Errorf("Expected 2 opens, got %d", driver.opens)
	}
}

func TestOpenFailureIsDeviceError(t *testing.T) {
	driver := &fakeDriver{openErr: ErrDeviceNotFound}
	c := newTestCapture(t, driver)

	err := c.Start(DeviceSelector(3))
	if err == nil {
		t.Fatal("Expected error")
	}

	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Expected DeviceError, got %T", err)
	}
	if devErr.Device != 3 || devErr.Op != "open" {
		t.Errorf("Expected open of #3, got %s of %s", devErr.Op, devErr.Device)
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Error("Expected error to wrap ErrDeviceNotFound")
	}
	if c.Running() {
		t.Error("Expected capture not to be running")
	}
}

func TestStartFailureClosesStream(t *testing.T) {
	driver := &fakeDriver{startErr: errors.New("device busy")}
	c := newTestCapture(t, driver)

	err := c.Start(DefaultDevice)
	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr.Op != "start" {
		t.Fatalf("Expected start DeviceError, got %v", err)
	}
	if !driver.streams[0].closed {
		t.Error("Expected stream to be closed after start failure")
	}
	if c.Running() {
		t.Error("Expected capture not to be running")
	}
}

func TestCallbackPanicStopsCapture(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestCapture(t, driver)
	c.chunker.SetFrameObserver(func(vad.FrameResult) { panic("boom") })
	if err := c.Start(DefaultDevice); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if driver.send(constantFrame(100, 1600)) {
		t.Error("Expected handler to refuse frames after a panic")
	}
	if c.Running() {
		t.Error("Expected capture to stop after a panic")
	}
	if c.Err() == nil {
		t.Fatal("Expected failure to be recorded")
	}
	if c.GetStats().Error == "" {
		t.Error("Expected failure in stats")
	}

	// the control side can restart after a failure
	if err := c.Start(DefaultDevice); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if c.Err() != nil {
		t.Errorf("Expected failure to be cleared, got %v", c.Err())
	}
	if !driver.streams[0].closed {
		t.Error("Expected the failed stream to be closed on restart")
	}
}

func TestDeviceSelectorString(t *testing.T) {
	if DefaultDevice.String() != "default" {
		t.Errorf("Expected default, got %s", DefaultDevice.String())
	}
	if DeviceSelector(2).String() != "#2" {
		t.Errorf("Expected #2, got %s", DeviceSelector(2).String())
	}
}

func TestSetSilenceThreshold(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestCapture(t, driver)
	if err := c.Start(DefaultDevice); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	quiet := constantFrame(100, 1600) // RMS ~0.003
	driver.send(quiet)
	if err := c.SetSilenceThreshold(0.001); err != nil {
		t.Fatalf("SetSilenceThreshold failed: %v", err)
	}
	driver.send(quiet)

	stats := c.GetStats().VAD
	if stats.TotalFrames != 2 || stats.SilentFrames != 1 {
		t.Errorf("Expected 1 of 2 frames silent, got %d of %d", stats.SilentFrames, stats.TotalFrames)
	}
	if stats.Threshold != 0.001 {
		t.Errorf("Expected threshold 0.001, got %f", stats.Threshold)
	}

	if err := c.SetSilenceThreshold(1.5); err == nil {
		t.Error("Expected error for threshold above 1")
	}
	if got := c.GetStats().VAD.Threshold; got != 0.001 {
		t.Errorf("Rejected threshold changed the value to %f", got)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := c.Start(DefaultDevice); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if got := c.GetStats().VAD.TotalFrames; got != 0 {
		t.Errorf("Expected VAD statistics reset on start, got %d frames", got)
	}
}
