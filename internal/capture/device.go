package capture

import (
	"errors"
	"fmt"
)

// DeviceSelector picks an input device by index
type DeviceSelector int

// DefaultDevice selects the driver's default input
const DefaultDevice DeviceSelector = -1

func (s DeviceSelector) String() string {
	if s == DefaultDevice {
		return "default"
	}
	return fmt.Sprintf("#%d", int(s))
}

// ErrDeviceNotFound is wrapped by DeviceError when no device matches a selector
var ErrDeviceNotFound = errors.New("input device not found")

// DeviceInfo describes an available input device
type DeviceInfo struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	Channels   int     `json:"channels"`
	SampleRate float64 `json:"sample_rate"`
	IsDefault  bool    `json:"is_default"`
}

// StreamParams is the capture format requested from a driver
type StreamParams struct {
	SampleRate int
	Channels   int
	FrameSize  int
}

// FrameHandler receives each captured frame of int16 samples. It returns
// false to ask the driver to stop delivering frames. The slice is only valid
// for the duration of the call.
type FrameHandler func(samples []int16) bool

// Stream is an opened input device
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Driver is the boundary to the audio backend
type Driver interface {
	ListInputDevices() ([]DeviceInfo, error)
	Open(sel DeviceSelector, params StreamParams, onFrame FrameHandler) (Stream, error)
	Close() error
}

// DeviceError reports that a device could not be listed, opened or started
type DeviceError struct {
	Op     string
	Device DeviceSelector
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture %s device %s: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
