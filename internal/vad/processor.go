package vad

import (
	"fmt"
	"math"
	"sync/atomic"
)

// fullScale is the magnitude used to map int16 samples into [-1, 1]
const fullScale = 32768.0

// Processor classifies frames using normalized RMS energy
type Processor struct {
	threshold atomic.Uint64 // math.Float64bits of the silence threshold

	// Statistics
	totalFrames  atomic.Uint64
	silentFrames atomic.Uint64
	lastRMS      atomic.Uint64
}

// FrameResult is the classification of a single frame
type FrameResult struct {
	RMS    float64 `json:"rms"`
	Silent bool    `json:"silent"`
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalFrames      uint64  `json:"total_frames"`
	SilentFrames     uint64  `json:"silent_frames"`
	SpeechPercentage float64 `json:"speech_percentage"`
	LastRMS          float64 `json:"last_rms"`
	Threshold        float64 `json:"threshold"`
}

// NewProcessor creates a classifier with the given normalized RMS threshold
func NewProcessor(threshold float64) (*Processor, error) {
	if err := validateThreshold(threshold); err != nil {
		return nil, err
	}

	p := &Processor{}
	p.threshold.Store(math.Float64bits(threshold))
	return p, nil
}

// RMS returns the root-mean-square of the frame scaled to [0, 1].
// An empty frame has zero energy.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, sample := range samples {
		v := float64(sample) / fullScale
		energy += v * v
	}
	return math.Sqrt(energy / float64(len(samples)))
}

// Classify computes the frame energy and reports whether it is silence.
// A frame is silent iff its RMS is strictly below the threshold.
func (p *Processor) Classify(frame []int16) FrameResult {
	rms := RMS(frame)
	silent := rms < p.GetThreshold()

	p.totalFrames.Add(1)
	if silent {
		p.silentFrames.Add(1)
	}
	p.lastRMS.Store(math.Float64bits(rms))

	return FrameResult{RMS: rms, Silent: silent}
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	total := p.totalFrames.Load()
	silent := p.silentFrames.Load()

	speechPercentage := float64(0)
	if total > 0 {
		speechPercentage = float64(total-silent) / float64(total) * 100
	}

	return ProcessorStats{
		TotalFrames:      total,
		SilentFrames:     silent,
		SpeechPercentage: speechPercentage,
		LastRMS:          math.Float64frombits(p.lastRMS.Load()),
		Threshold:        p.GetThreshold(),
	}
}

// UpdateThreshold updates the silence threshold
func (p *Processor) UpdateThreshold(threshold float64) error {
	if err := validateThreshold(threshold); err != nil {
		return err
	}
	p.threshold.Store(math.Float64bits(threshold))
	return nil
}

// GetThreshold returns the current silence threshold
func (p *Processor) GetThreshold() float64 {
	return math.Float64frombits(p.threshold.Load())
}

// Reset clears statistics; the threshold is kept
func (p *Processor) Reset() {
	p.totalFrames.Store(0)
	p.silentFrames.Store(0)
	p.lastRMS.Store(0)
}

func validateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	return nil
}
