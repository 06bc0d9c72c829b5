package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trvslhlt/live-audio-translator/internal/audio"
	"github.com/trvslhlt/live-audio-translator/internal/metrics"
	"github.com/trvslhlt/live-audio-translator/internal/vad"
)

// Config contains the capture controller configuration
type Config struct {
	Chunking      audio.ChunkingConfig
	FrameSize     int
	QueueCapacity int
	QueuePolicy   audio.QueuePolicy
}

// Capture owns the device stream, the chunker and the utterance queue
type Capture struct {
	driver  Driver
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	chunker *audio.Chunker
	queue   *audio.UtteranceQueue

	// Control surface, serialized by mu
	stream    Stream
	device    DeviceSelector
	startedAt time.Time
	mu        sync.Mutex

	// Shared with the device callback
	running atomic.Bool
	failure atomic.Pointer[error]
	level   atomic.Uint64 // math.Float64bits of the last frame RMS
}

// Stats represents capture statistics
type Stats struct {
	Running bool               `json:"running"`
	Device  string             `json:"device"`
	Uptime  time.Duration      `json:"uptime"`
	Error   string             `json:"error,omitempty"`
	Chunker audio.ChunkerStats `json:"chunker"`
	Queue   audio.QueueStats   `json:"queue"`
	VAD     vad.ProcessorStats `json:"vad"`
}

// New creates a stopped capture controller
func New(driver Driver, config Config, logger *slog.Logger, m *metrics.Metrics) (*Capture, error) {
	if driver == nil {
		return nil, fmt.Errorf("capture driver is required")
	}
	if config.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", config.FrameSize)
	}

	chunker, err := audio.NewChunker(config.Chunking)
	if err != nil {
		return nil, err
	}

	c := &Capture{
		driver:  driver,
		config:  config,
		logger:  logger,
		metrics: m,
		chunker: chunker,
		queue:   audio.NewUtteranceQueue(config.QueueCapacity, config.QueuePolicy),
		device:  DefaultDevice,
	}
	chunker.SetFrameObserver(func(r vad.FrameResult) {
		c.level.Store(math.Float64bits(r.RMS))
		c.metrics.RecordFrame(r.Silent)
	})
	return c, nil
}

// Start opens the selected device and begins chunking. Calling Start while
// capture is already running is a no-op.
func (c *Capture) Start(sel DeviceSelector) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil && c.running.Load() {
		return nil
	}
	if c.stream != nil {
		// a failed callback left the device open
		c.closeStreamLocked()
	}

	c.failure.Store(nil)
	c.chunker.Reset()
	// VAD statistics cover one capture run
	c.chunker.Classifier().Reset()
	if n := c.queue.Clear(); n > 0 {
		c.logger.Warn("Dropping utterances left from previous capture", slog.Int("count", n))
	}

	params := StreamParams{
		SampleRate: c.config.Chunking.SampleRate,
		Channels:   1,
		FrameSize:  c.config.FrameSize,
	}

	stream, err := c.driver.Open(sel, params, c.onFrame)
	if err != nil {
		return asDeviceError("open", sel, err)
	}

	c.running.Store(true)
	if err := stream.Start(); err != nil {
		c.running.Store(false)
		if closeErr := stream.Close(); closeErr != nil {
			c.logger.Warn("Failed to close device after start failure", slog.Any("error", closeErr))
		}
		return asDeviceError("start", sel, err)
	}

	c.stream = stream
	c.device = sel
	c.startedAt = time.Now()

	minSamples, maxSamples, silenceSamples := c.chunker.Bounds()
	c.logger.Info("Capture started",
		slog.String("device", sel.String()),
		slog.Int("sample_rate", params.SampleRate),
		slog.Int("frame_size", params.FrameSize),
		slog.Int("min_samples", minSamples),
		slog.Int("max_samples", maxSamples),
		slog.Int("silence_samples", silenceSamples),
	)
	return nil
}

// Stop halts the device and discards the partially accumulated utterance.
// Utterances already queued remain available to NextUtterance.
// It is safe to call concurrently with an in-flight callback.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil
	}

	c.running.Store(false)
	err := c.closeStreamLocked()

	discarded := c.chunker.Reset()
	stats := c.queue.GetStats()
	c.logger.Info("Capture stopped",
		slog.String("device", c.device.String()),
		slog.Duration("uptime", time.Since(c.startedAt)),
		slog.Int("discarded_samples", discarded),
		slog.Int("queued_utterances", stats.Length),
		slog.Uint64("dropped_utterances", stats.Dropped),
	)
	return err
}

func (c *Capture) closeStreamLocked() error {
	var errs []error
	if err := c.stream.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := c.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	c.stream = nil
	if len(errs) > 0 {
		return asDeviceError("stop", c.device, errors.Join(errs...))
	}
	return nil
}

// NextUtterance waits up to timeout for the next utterance. The boolean is
// false when nothing was available; that is not an error.
func (c *Capture) NextUtterance(timeout time.Duration) (*audio.Utterance, bool) {
	u, ok := c.queue.Pop(timeout)
	c.metrics.SetQueueDepth(c.queue.Len())
	return u, ok
}

// Running reports whether frames are being accepted
func (c *Capture) Running() bool {
	return c.running.Load()
}

// Err returns the failure that stopped capture from inside the callback, if any
func (c *Capture) Err() error {
	if p := c.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// Level returns the RMS of the most recent frame
func (c *Capture) Level() float64 {
	return math.Float64frombits(c.level.Load())
}

// SetSilenceThreshold changes the VAD threshold for the frames that follow
func (c *Capture) SetSilenceThreshold(threshold float64) error {
	if err := c.chunker.Classifier().UpdateThreshold(threshold); err != nil {
		return err
	}
	c.logger.Info("Silence threshold updated", slog.Float64("threshold", threshold))
	return nil
}

// ListInputDevices lists the driver's input devices
func (c *Capture) ListInputDevices() ([]DeviceInfo, error) {
	devices, err := c.driver.ListInputDevices()
	if err != nil {
		return nil, asDeviceError("list", DefaultDevice, err)
	}
	return devices, nil
}

// GetStats returns current capture statistics
func (c *Capture) GetStats() Stats {
	c.mu.Lock()
	device := c.device
	startedAt := c.startedAt
	open := c.stream != nil
	c.mu.Unlock()

	stats := Stats{
		Running: c.running.Load(),
		Device:  device.String(),
		Chunker: c.chunker.GetStats(),
		Queue:   c.queue.GetStats(),
		VAD:     c.chunker.Classifier().GetStats(),
	}
	if open {
		stats.Uptime = time.Since(startedAt)
	}
	if err := c.Err(); err != nil {
		stats.Error = err.Error()
	}
	return stats
}

// onFrame runs on the driver's capture context
func (c *Capture) onFrame(samples []int16) (cont bool) {
	if !c.running.Load() {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			c.fail(fmt.Errorf("capture callback panic: %v", r))
			cont = false
		}
	}()

	for _, u := range c.chunker.ProcessFrame(samples) {
		c.metrics.RecordUtterance(string(u.Reason), u.Duration().Seconds())
		if dropped := c.queue.Push(u); dropped != nil {
			c.metrics.RecordUtteranceDropped()
		}
	}
	return true
}

// fail moves capture into the stopped state without touching the device;
// the device is released by the next Stop or Start from the control side.
func (c *Capture) fail(err error) {
	c.failure.Store(&err)
	c.running.Store(false)
	c.metrics.RecordCaptureFailure()
}

func asDeviceError(op string, sel DeviceSelector, err error) error {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return err
	}
	return &DeviceError{Op: op, Device: sel, Err: err}
}
