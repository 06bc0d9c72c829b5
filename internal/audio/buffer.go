package audio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrStalePacket is returned for packets older than the last released sequence
var ErrStalePacket = errors.New("old or duplicate packet")

// SequenceBuffer restores capture order for frames that arrive over an
// unordered transport. Frames are released as soon as they are contiguous;
// a gap wider than maxGap is declared lost and skipped.
type SequenceBuffer struct {
	sourceID uint32

	// Sequence tracking
	started     bool
	lastSeq     uint32            // Last released sequence number
	expectedSeq uint32            // Next expected sequence number
	pending     map[uint32][]int16 // Out-of-order frames
	maxGap      uint32             // Maximum sequence gap to wait for

	// Statistics
	lastUpdate    time.Time
	totalPackets  uint32
	lostCount     uint32
	staleCount    uint32
	releasedCount uint32

	mu sync.Mutex
}

// BufferStats represents sequence buffer statistics for monitoring
type BufferStats struct {
	SourceID     uint32    `json:"source_id"`
	TotalPackets uint32    `json:"total_packets"`
	LostPackets  uint32    `json:"lost_packets"`
	StalePackets uint32    `json:"stale_packets"`
	LossRate     float64   `json:"loss_rate"`
	PendingSeqs  int       `json:"pending_sequences"`
	LastSequence uint32    `json:"last_sequence"`
	LastUpdate   time.Time `json:"last_update"`
}

// NewSequenceBuffer creates a reorder buffer for one source
func NewSequenceBuffer(sourceID uint32, maxGap uint32) *SequenceBuffer {
	if maxGap == 0 {
		maxGap = 20
	}
	return &SequenceBuffer{
		sourceID: sourceID,
		pending:  make(map[uint32][]int16),
		maxGap:   maxGap,
	}
}

// Add records a frame and returns every frame that is now releasable, in order.
// The returned slices are owned by the caller.
func (b *SequenceBuffer) Add(sequence uint32, samples []int16) ([][]int16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUpdate = time.Now()
	b.totalPackets++

	if !b.started {
		b.started = true
		b.expectedSeq = sequence
		b.lastSeq = sequence - 1
	}

	switch {
	case sequence == b.expectedSeq:
		return b.releaseLocked(samples), nil

	case sequence > b.expectedSeq:
		if _, dup := b.pending[sequence]; dup {
			b.staleCount++
			return nil, fmt.Errorf("%w: seq=%d already buffered", ErrStalePacket, sequence)
		}
		frame := make([]int16, len(samples))
		copy(frame, samples)
		b.pending[sequence] = frame

		if sequence-b.expectedSeq > b.maxGap {
			return b.skipGapLocked(), nil
		}
		return nil, nil

	default:
		b.staleCount++
		return nil, fmt.Errorf("%w: seq=%d, lastSeq=%d", ErrStalePacket, sequence, b.lastSeq)
	}
}

// releaseLocked emits the in-order frame plus any contiguous buffered ones
func (b *SequenceBuffer) releaseLocked(samples []int16) [][]int16 {
	first := make([]int16, len(samples))
	copy(first, samples)
	out := [][]int16{first}

	b.lastSeq = b.expectedSeq
	b.expectedSeq++
	b.releasedCount++

	for {
		frame, ok := b.pending[b.expectedSeq]
		if !ok {
			break
		}
		delete(b.pending, b.expectedSeq)
		out = append(out, frame)
		b.lastSeq = b.expectedSeq
		b.expectedSeq++
		b.releasedCount++
	}
	return out
}

// skipGapLocked declares everything before the oldest pending frame lost
func (b *SequenceBuffer) skipGapLocked() [][]int16 {
	oldest := b.oldestPendingLocked()
	b.lostCount += oldest - b.expectedSeq
	b.expectedSeq = oldest

	frame := b.pending[oldest]
	delete(b.pending, oldest)
	return b.releaseLocked(frame)
}

func (b *SequenceBuffer) oldestPendingLocked() uint32 {
	first := true
	var oldest uint32
	for seq := range b.pending {
		if first || seq < oldest {
			oldest = seq
			first = false
		}
	}
	return oldest
}

// Flush releases all pending frames in sequence order, counting the holes as lost
func (b *SequenceBuffer) Flush() [][]int16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	seqs := make([]uint32, 0, len(b.pending))
	for seq := range b.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	out := make([][]int16, 0, len(seqs))
	for _, seq := range seqs {
		b.lostCount += seq - b.expectedSeq
		out = append(out, b.pending[seq])
		delete(b.pending, seq)
		b.lastSeq = seq
		b.expectedSeq = seq + 1
		b.releasedCount++
	}
	return out
}

// LastUpdate returns when the last packet was added
func (b *SequenceBuffer) LastUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}

// GetStats returns current buffer statistics
func (b *SequenceBuffer) GetStats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	lossRate := float64(0)
	if expected := b.releasedCount + b.lostCount; expected > 0 {
		lossRate = float64(b.lostCount) / float64(expected)
	}

	return BufferStats{
		SourceID:     b.sourceID,
		TotalPackets: b.totalPackets,
		LostPackets:  b.lostCount,
		StalePackets: b.staleCount,
		LossRate:     lossRate,
		PendingSeqs:  len(b.pending),
		LastSequence: b.lastSeq,
		LastUpdate:   b.lastUpdate,
	}
}
