package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/trvslhlt/live-audio-translator/internal/vad"
)

// EmitReason records which trigger closed an utterance
type EmitReason string

const (
	// EmitForced means the buffer reached the maximum duration
	EmitForced EmitReason = "forced"
	// EmitPause means enough trailing silence followed detected speech
	EmitPause EmitReason = "pause"
)

// Utterance is one segmented chunk of audio ready for transcription.
// It is not mutated after emission.
type Utterance struct {
	ID         string     `json:"id"`
	Sequence   uint64     `json:"sequence"`
	SampleRate int        `json:"sample_rate"`
	Samples    []float32  `json:"-"` // normalized to [-1, 1]
	Reason     EmitReason `json:"reason"`
	CapturedAt time.Time  `json:"captured_at"`
}

// SampleCount returns the number of samples in the utterance
func (u *Utterance) SampleCount() int {
	return len(u.Samples)
}

// Duration returns the implied duration of the utterance
func (u *Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// ChunkingConfig contains configuration for the chunking process
type ChunkingConfig struct {
	MinDuration      time.Duration
	MaxDuration      time.Duration
	SilenceDuration  time.Duration
	SilenceThreshold float64 // normalized RMS
	SampleRate       int
}

// Validate checks the chunking bounds
func (c ChunkingConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.MinDuration <= 0 {
		return fmt.Errorf("min duration must be positive, got %v", c.MinDuration)
	}
	if c.MaxDuration <= c.MinDuration {
		return fmt.Errorf("max duration (%v) must be greater than min duration (%v)", c.MaxDuration, c.MinDuration)
	}
	if c.SilenceDuration <= 0 {
		return fmt.Errorf("silence duration must be positive, got %v", c.SilenceDuration)
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		return fmt.Errorf("silence threshold must be between 0 and 1, got %f", c.SilenceThreshold)
	}

	// the chunker works in samples, so the bounds must survive the conversion
	minSamples := durationToSamples(c.MinDuration, c.SampleRate)
	maxSamples := durationToSamples(c.MaxDuration, c.SampleRate)
	if minSamples < 1 {
		return fmt.Errorf("min duration %v is shorter than one sample at %d Hz", c.MinDuration, c.SampleRate)
	}
	if maxSamples <= minSamples {
		return fmt.Errorf("max duration (%d samples) must be greater than min duration (%d samples)", maxSamples, minSamples)
	}
	if durationToSamples(c.SilenceDuration, c.SampleRate) < 1 {
		return fmt.Errorf("silence duration %v is shorter than one sample at %d Hz", c.SilenceDuration, c.SampleRate)
	}
	return nil
}

// Chunker turns a stream of PCM frames into utterances.
// All state is guarded by mu, which is held only for bookkeeping; float
// conversion and utterance construction happen after it is released.
type Chunker struct {
	config         ChunkingConfig
	classifier     *vad.Processor
	observer       func(vad.FrameResult)
	minSamples     int
	maxSamples     int
	silenceSamples int

	buffer          []int16
	trailingSilence int
	hasSpeech       bool
	sequence        uint64

	// Statistics
	framesProcessed uint64
	forcedCount     uint64
	pauseCount      uint64
	samplesEmitted  uint64

	mu sync.Mutex
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	FramesProcessed uint64  `json:"frames_processed"`
	Utterances      uint64  `json:"utterances"`
	ForcedEmissions uint64  `json:"forced_emissions"`
	PauseEmissions  uint64  `json:"pause_emissions"`
	PendingSamples  int     `json:"pending_samples"`
	EmittedSeconds  float64 `json:"emitted_seconds"`
	HasSpeech       bool    `json:"has_speech"`
}

// NewChunker creates a chunker, converting all durations to sample counts once
func NewChunker(config ChunkingConfig) (*Chunker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunking config: %w", err)
	}

	classifier, err := vad.NewProcessor(config.SilenceThreshold)
	if err != nil {
		return nil, err
	}

	c := &Chunker{
		config:         config,
		classifier:     classifier,
		minSamples:     durationToSamples(config.MinDuration, config.SampleRate),
		maxSamples:     durationToSamples(config.MaxDuration, config.SampleRate),
		silenceSamples: durationToSamples(config.SilenceDuration, config.SampleRate),
	}
	c.buffer = make([]int16, 0, c.maxSamples)
	return c, nil
}

func durationToSamples(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

// ProcessFrame classifies one frame, appends it and returns any utterances
// that became ready, in capture order. Usually the result is nil.
//
// A frame that would push the buffer past the maximum is split: the head
// completes a forced utterance of exactly the maximum length and the tail
// starts the next one.
func (c *Chunker) ProcessFrame(frame []int16) []*Utterance {
	if len(frame) == 0 {
		return nil
	}

	result := c.classifier.Classify(frame)
	if c.observer != nil {
		c.observer(result)
	}
	silent := result.Silent

	var ready [][]int16
	var reasons []EmitReason

	c.mu.Lock()
	c.framesProcessed++
	remaining := frame
	for len(remaining) > 0 {
		n := c.maxSamples - len(c.buffer)
		if n > len(remaining) {
			n = len(remaining)
		}
		c.buffer = append(c.buffer, remaining[:n]...)
		remaining = remaining[n:]

		if silent {
			c.trailingSilence += n
		} else {
			c.hasSpeech = true
			c.trailingSilence = 0
		}

		switch {
		case len(c.buffer) >= c.maxSamples:
			ready = append(ready, c.takeLocked())
			reasons = append(reasons, EmitForced)
			c.forcedCount++
		case len(remaining) == 0 && len(c.buffer) >= c.minSamples &&
			c.hasSpeech && c.trailingSilence >= c.silenceSamples:
			ready = append(ready, c.takeLocked())
			reasons = append(reasons, EmitPause)
			c.pauseCount++
		}
	}
	firstSeq := c.sequence
	c.sequence += uint64(len(ready))
	for _, raw := range ready {
		c.samplesEmitted += uint64(len(raw))
	}
	c.mu.Unlock()

	if len(ready) == 0 {
		return nil
	}

	now := time.Now()
	out := make([]*Utterance, len(ready))
	for i, raw := range ready {
		out[i] = &Utterance{
			ID:         xid.New().String(),
			Sequence:   firstSeq + uint64(i),
			SampleRate: c.config.SampleRate,
			Samples:    Float32FromPCM(raw),
			Reason:     reasons[i],
			CapturedAt: now,
		}
	}
	return out
}

// SetFrameObserver registers fn to receive every frame classification.
// It must be called before frames are processed and fn must not block.
func (c *Chunker) SetFrameObserver(fn func(vad.FrameResult)) {
	c.observer = fn
}

// takeLocked hands the accumulated samples to the caller and resets state
func (c *Chunker) takeLocked() []int16 {
	raw := c.buffer
	c.buffer = make([]int16, 0, c.maxSamples)
	c.trailingSilence = 0
	c.hasSpeech = false
	return raw
}

// Reset discards any partially accumulated utterance
func (c *Chunker) Reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	discarded := len(c.buffer)
	c.buffer = c.buffer[:0]
	c.trailingSilence = 0
	c.hasSpeech = false
	return discarded
}

// PendingSamples returns the number of samples accumulated but not yet emitted
func (c *Chunker) PendingSamples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Bounds returns the min, max and silence bounds in samples
func (c *Chunker) Bounds() (minSamples, maxSamples, silenceSamples int) {
	return c.minSamples, c.maxSamples, c.silenceSamples
}

// Classifier exposes the frame classifier for level reporting
func (c *Chunker) Classifier() *vad.Processor {
	return c.classifier
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ChunkerStats{
		FramesProcessed: c.framesProcessed,
		Utterances:      c.forcedCount + c.pauseCount,
		ForcedEmissions: c.forcedCount,
		PauseEmissions:  c.pauseCount,
		PendingSamples:  len(c.buffer),
		EmittedSeconds:  float64(c.samplesEmitted) / float64(c.config.SampleRate),
		HasSpeech:       c.hasSpeech,
	}
}
