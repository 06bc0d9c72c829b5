package portaudio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/trvslhlt/live-audio-translator/internal/capture"
)

// Driver opens local input devices through PortAudio. The library is
// initialized on first use and terminated by Close.
type Driver struct {
	logger      *slog.Logger
	initialized bool
	mu          sync.Mutex
}

// NewDriver creates a driver without touching the audio subsystem
func NewDriver(logger *slog.Logger) *Driver {
	return &Driver{logger: logger}
}

func (d *Driver) ensureInitialized() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	d.initialized = true
	d.logger.Debug("PortAudio initialized", slog.String("version", pa.VersionText()))
	return nil
}

// ListInputDevices returns every device with at least one input channel.
// Indices are positions in the PortAudio device list.
func (d *Driver) ListInputDevices() ([]capture.DeviceInfo, error) {
	if err := d.ensureInitialized(); err != nil {
		return nil, err
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	var defaultName string
	if def, err := pa.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var inputs []capture.DeviceInfo
	for i, dev := range devices {
		if dev.MaxInputChannels <= 0 {
			continue
		}
		inputs = append(inputs, capture.DeviceInfo{
			Index:      i,
			Name:       dev.Name,
			Channels:   dev.MaxInputChannels,
			SampleRate: dev.DefaultSampleRate,
			IsDefault:  dev.Name == defaultName,
		})
	}
	return inputs, nil
}

// Open prepares a mono int16 input stream on the selected device
func (d *Driver) Open(sel capture.DeviceSelector, params capture.StreamParams, onFrame capture.FrameHandler) (capture.Stream, error) {
	if err := d.ensureInitialized(); err != nil {
		return nil, err
	}

	device, err := d.resolve(sel)
	if err != nil {
		return nil, err
	}

	sp := pa.LowLatencyParameters(device, nil)
	sp.Input.Channels = params.Channels
	sp.SampleRate = float64(params.SampleRate)
	sp.FramesPerBuffer = params.FrameSize

	s := &stream{}
	callback := func(in []int16) {
		if s.stopped.Load() {
			return
		}
		if !onFrame(in) {
			s.stopped.Store(true)
		}
	}

	paStream, err := pa.OpenStream(sp, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", device.Name, err)
	}
	s.pa = paStream

	d.logger.Info("Opened input device",
		slog.String("device", device.Name),
		slog.Float64("sample_rate", sp.SampleRate),
		slog.Int("frames_per_buffer", sp.FramesPerBuffer),
		slog.Duration("latency", sp.Input.Latency),
	)
	return s, nil
}

func (d *Driver) resolve(sel capture.DeviceSelector) (*pa.DeviceInfo, error) {
	if sel == capture.DefaultDevice {
		dev, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, &capture.DeviceError{Op: "open", Device: sel, Err: err}
		}
		return dev, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	idx := int(sel)
	if idx < 0 || idx >= len(devices) || devices[idx].MaxInputChannels <= 0 {
		return nil, &capture.DeviceError{Op: "open", Device: sel, Err: capture.ErrDeviceNotFound}
	}
	return devices[idx], nil
}

// Close terminates PortAudio if it was initialized
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil
	}
	d.initialized = false
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

type stream struct {
	pa      *pa.Stream
	stopped atomic.Bool
}

func (s *stream) Start() error {
	s.stopped.Store(false)
	return s.pa.Start()
}

func (s *stream) Stop() error {
	s.stopped.Store(true)
	return s.pa.Stop()
}

func (s *stream) Close() error {
	s.stopped.Store(true)
	return s.pa.Close()
}
