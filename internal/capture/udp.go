package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trvslhlt/live-audio-translator/internal/audio"
	"github.com/trvslhlt/live-audio-translator/internal/metrics"
	"github.com/trvslhlt/live-audio-translator/internal/protocol"
)

// UDPConfig contains network microphone listener configuration
type UDPConfig struct {
	BindAddress   string
	Port          int
	BufferSize    int
	SourceTimeout time.Duration
	SampleRate    int
	MaxGap        uint32
}

// UDPDriver receives audio from network microphones. Each source announces
// itself with a HELLO and is listed as an input device; AUDIO packets are
// reordered per source before reaching the frame handler.
type UDPDriver struct {
	config  UDPConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	conn *net.UDPConn

	// Concurrency management
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	startErr  error

	// Packet processing
	packetChan chan *incomingPacket

	// Sources and the streams bound to them
	sources   map[uint32]*udpSource
	streams   map[*udpStream]struct{}
	nextIndex int
	mu        sync.RWMutex

	// Statistics
	packetsReceived  atomic.Uint64
	packetsProcessed atomic.Uint64
	parseErrors      atomic.Uint64
	packetsDropped   atomic.Uint64
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

type udpSource struct {
	id         uint32
	index      int
	name       string
	sampleRate uint32
	addr       *net.UDPAddr
	lastSeen   time.Time
	buffer     *audio.SequenceBuffer
	lost       uint32
}

// UDPStatistics represents listener statistics
type UDPStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ActiveSources    int    `json:"active_sources"`
	QueueSize        int    `json:"queue_size"`
	QueueCapacity    int    `json:"queue_capacity"`
}

// NewUDPDriver creates a driver; the socket is opened by Listen or on first use
func NewUDPDriver(cfg UDPConfig, logger *slog.Logger, m *metrics.Metrics) *UDPDriver {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.SourceTimeout == 0 {
		cfg.SourceTimeout = 10 * time.Second
	}

	return &UDPDriver{
		config:     cfg,
		logger:     logger,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, 1000),
		sources:    make(map[uint32]*udpSource),
		streams:    make(map[*udpStream]struct{}),
	}
}

// Listen opens the UDP socket and starts the receive and processing loops.
// It is safe to call more than once.
func (d *UDPDriver) Listen() error {
	d.startOnce.Do(func() {
		d.startErr = d.listen()
	})
	return d.startErr
}

func (d *UDPDriver) listen() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(d.config.BindAddress, fmt.Sprint(d.config.Port)))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	d.conn = conn

	if err := d.conn.SetReadBuffer(d.config.BufferSize); err != nil {
		d.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", d.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	d.logger.Info("Network microphone listener started",
		slog.String("address", d.conn.LocalAddr().String()),
		slog.Int("buffer_size", d.config.BufferSize),
	)

	// A single processor keeps per-source packet handling ordered
	d.wg.Add(3)
	go d.receiveLoop()
	go d.packetProcessor()
	go d.cleanupRoutine()

	return nil
}

// LocalAddr returns the bound address once listening
func (d *UDPDriver) LocalAddr() net.Addr {
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// ListInputDevices lists the sources that have announced themselves
func (d *UDPDriver) ListInputDevices() ([]DeviceInfo, error) {
	if err := d.Listen(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	devices := make([]DeviceInfo, 0, len(d.sources))
	for _, src := range d.sources {
		devices = append(devices, DeviceInfo{
			Index:      src.index,
			Name:       fmt.Sprintf("%s (%s)", src.name, src.addr),
			Channels:   1,
			SampleRate: float64(src.sampleRate),
		})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	if len(devices) > 0 {
		devices[0].IsDefault = true
	}
	return devices, nil
}

// Open binds a stream to a source. DefaultDevice binds to whichever source
// delivers audio first; an explicit index must already be announced.
func (d *UDPDriver) Open(sel DeviceSelector, params StreamParams, onFrame FrameHandler) (Stream, error) {
	if params.SampleRate != d.config.SampleRate {
		return nil, fmt.Errorf("network microphones deliver %d Hz, requested %d Hz", d.config.SampleRate, params.SampleRate)
	}
	if params.Channels != 1 {
		return nil, fmt.Errorf("network microphones are mono, requested %d channels", params.Channels)
	}
	if err := d.Listen(); err != nil {
		return nil, err
	}

	s := &udpStream{driver: d, onFrame: onFrame, sourceID: noSource}

	d.mu.Lock()
	defer d.mu.Unlock()

	if sel != DefaultDevice {
		src := d.sourceByIndexLocked(int(sel))
		if src == nil {
			return nil, &DeviceError{Op: "open", Device: sel, Err: ErrDeviceNotFound}
		}
		s.sourceID = int64(src.id)
	}
	d.streams[s] = struct{}{}
	return s, nil
}

// Close stops the listener and releases all streams
func (d *UDPDriver) Close() error {
	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			d.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
		d.wg.Wait()
	}

	stats := d.GetStatistics()
	d.logger.Info("Network microphone listener stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)
	return nil
}

// receiveLoop is the main packet receiving loop
func (d *UDPDriver) receiveLoop() {
	defer d.wg.Done()
	defer close(d.packetChan)

	buffer := make([]byte, protocol.MaxPacketSize)

	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := d.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			select {
			case <-d.ctx.Done():
				return
			default:
			}
			d.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := d.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-d.ctx.Done():
				return
			default:
				d.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		d.packetsReceived.Add(1)
		d.metrics.RecordPacketReceived()

		// Copy: the read buffer is reused
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case d.packetChan <- packet:
		default:
			d.packetsDropped.Add(1)
			d.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor processes packets from the packet channel
func (d *UDPDriver) packetProcessor() {
	defer d.wg.Done()

	for packet := range d.packetChan {
		d.handlePacket(packet)
	}
}

// handlePacket processes a single incoming packet
func (d *UDPDriver) handlePacket(packet *incomingPacket) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		d.parseErrors.Add(1)
		d.metrics.RecordParseError()
		d.logger.Debug("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
		)
		return
	}
	d.packetsProcessed.Add(1)

	switch parsed.Header.PacketType {
	case protocol.PacketTypeHello:
		d.processHello(parsed.Header, parsed.Hello, packet)
	case protocol.PacketTypeAudio:
		d.processAudio(parsed.Header, parsed.Audio, packet)
	case protocol.PacketTypeBye:
		d.processBye(parsed.Header)
	}
}

// processHello registers or refreshes a source
func (d *UDPDriver) processHello(header *protocol.Header, hello *protocol.HelloPayload, packet *incomingPacket) {
	if int(hello.SampleRate) != d.config.SampleRate || hello.Channels != 1 {
		d.logger.Warn("Rejecting network microphone with unsupported format",
			slog.Uint64("source_id", uint64(header.SourceID)),
			slog.String("name", hello.GetDeviceName()),
			slog.Uint64("sample_rate", uint64(hello.SampleRate)),
			slog.Int("channels", int(hello.Channels)),
		)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	src, exists := d.sources[header.SourceID]
	if !exists {
		src = &udpSource{
			id:     header.SourceID,
			index:  d.nextIndex,
			buffer: audio.NewSequenceBuffer(header.SourceID, d.config.MaxGap),
		}
		d.nextIndex++
		d.sources[header.SourceID] = src

		d.logger.Info("Network microphone announced",
			slog.Uint64("source_id", uint64(header.SourceID)),
			slog.Int("index", src.index),
			slog.String("name", hello.GetDeviceName()),
			slog.String("remote_addr", packet.remoteAddr.String()),
		)
	}
	src.name = hello.GetDeviceName()
	src.sampleRate = hello.SampleRate
	src.addr = packet.remoteAddr
	src.lastSeen = packet.timestamp
}

// processAudio reorders the frame and hands released frames to bound streams
func (d *UDPDriver) processAudio(header *protocol.Header, payload *protocol.AudioPayload, packet *incomingPacket) {
	d.mu.Lock()
	src, exists := d.sources[header.SourceID]
	if !exists {
		d.mu.Unlock()
		d.logger.Debug("Audio from unannounced source",
			slog.Uint64("source_id", uint64(header.SourceID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
		)
		return
	}
	src.lastSeen = packet.timestamp
	d.mu.Unlock()

	frames, err := src.buffer.Add(payload.Sequence, payload.Samples())
	if err != nil {
		d.logger.Debug("Dropping audio packet",
			slog.Uint64("source_id", uint64(header.SourceID)),
			slog.String("error", err.Error()),
		)
		return
	}
	d.recordLoss(src)
	d.deliver(src, frames)
}

// processBye flushes and forgets a source
func (d *UDPDriver) processBye(header *protocol.Header) {
	d.mu.Lock()
	src, exists := d.sources[header.SourceID]
	if exists {
		delete(d.sources, header.SourceID)
	}
	d.mu.Unlock()

	if !exists {
		return
	}

	d.deliver(src, src.buffer.Flush())
	d.recordLoss(src)
	d.logger.Info("Network microphone left",
		slog.Uint64("source_id", uint64(src.id)),
		slog.String("name", src.name),
	)
}

func (d *UDPDriver) recordLoss(src *udpSource) {
	lost := src.buffer.GetStats().LostPackets
	if lost > src.lost {
		d.metrics.RecordPacketsLost(int(lost - src.lost))
		src.lost = lost
	}
}

// deliver passes frames to every started stream bound to src
func (d *UDPDriver) deliver(src *udpSource, frames [][]int16) {
	if len(frames) == 0 {
		return
	}

	d.mu.Lock()
	var targets []*udpStream
	for s := range d.streams {
		if s.accepts(src.id) {
			targets = append(targets, s)
		}
	}
	d.mu.Unlock()

	for _, s := range targets {
		for _, frame := range frames {
			if !s.onFrame(frame) {
				s.running.Store(false)
				break
			}
		}
	}
}

// cleanupRoutine expires sources that have gone silent
func (d *UDPDriver) cleanupRoutine() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SourceTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.expireSources()
		}
	}
}

func (d *UDPDriver) expireSources() {
	cutoff := time.Now().Add(-d.config.SourceTimeout)

	d.mu.Lock()
	defer d.mu.Unlock()

	for id, src := range d.sources {
		if src.lastSeen.Before(cutoff) {
			delete(d.sources, id)
			d.logger.Warn("Network microphone timed out",
				slog.Uint64("source_id", uint64(id)),
				slog.String("name", src.name),
				slog.Duration("timeout", d.config.SourceTimeout),
			)
		}
	}
}

func (d *UDPDriver) sourceByIndexLocked(index int) *udpSource {
	for _, src := range d.sources {
		if src.index == index {
			return src
		}
	}
	return nil
}

func (d *UDPDriver) removeStream(s *udpStream) {
	d.mu.Lock()
	delete(d.streams, s)
	d.mu.Unlock()
}

// GetStatistics returns current listener statistics
func (d *UDPDriver) GetStatistics() UDPStatistics {
	d.mu.RLock()
	active := len(d.sources)
	d.mu.RUnlock()

	return UDPStatistics{
		PacketsReceived:  d.packetsReceived.Load(),
		PacketsProcessed: d.packetsProcessed.Load(),
		ParseErrors:      d.parseErrors.Load(),
		PacketsDropped:   d.packetsDropped.Load(),
		ActiveSources:    active,
		QueueSize:        len(d.packetChan),
		QueueCapacity:    cap(d.packetChan),
	}
}

const noSource = int64(-1)

// udpStream is a Stream over one (or, for the default device, the first) source
type udpStream struct {
	driver   *UDPDriver
	onFrame  FrameHandler
	sourceID int64 // noSource until bound
	running  atomic.Bool
	mu       sync.Mutex
}

// accepts binds a default stream to the first source delivering audio.
// Called with the driver lock held.
func (s *udpStream) accepts(sourceID uint32) bool {
	if !s.running.Load() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sourceID == noSource {
		s.sourceID = int64(sourceID)
		s.driver.logger.Info("Default device bound to network microphone",
			slog.Uint64("source_id", uint64(sourceID)))
	}
	return s.sourceID == int64(sourceID)
}

func (s *udpStream) Start() error {
	s.running.Store(true)
	return nil
}

func (s *udpStream) Stop() error {
	s.running.Store(false)
	return nil
}

func (s *udpStream) Close() error {
	s.running.Store(false)
	s.driver.removeStream(s)
	return nil
}
