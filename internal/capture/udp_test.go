package capture

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trvslhlt/live-audio-translator/internal/protocol"
)

func newTestUDPDriver() *UDPDriver {
	return NewUDPDriver(UDPConfig{
		BindAddress:   "127.0.0.1",
		Port:          0,
		BufferSize:    65536,
		SourceTimeout: time.Second,
		SampleRate:    16000,
		MaxGap:        4,
	}, testLogger(), nil)
}

var testAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}

func inject(d *UDPDriver, data []byte) {
	d.handlePacket(&incomingPacket{data: data, remoteAddr: testAddr, timestamp: time.Now()})
}

func injectAudio(t *testing.T, d *UDPDriver, sourceID, seq uint32, value int16) {
	t.Helper()
	pkt, err := protocol.EncodeAudio(sourceID, seq, constantFrame(value, 160))
	require.NoError(t, err)
	inject(d, pkt)
}

// frameRecorder collects the first sample of each delivered frame
type frameRecorder struct {
	mu     sync.Mutex
	values []int16
}

func (r *frameRecorder) handle(samples []int16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, samples[0])
	return true
}

func (r *frameRecorder) snapshot() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int16(nil), r.values...)
}

func monoParams() StreamParams {
	return StreamParams{SampleRate: 16000, Channels: 1, FrameSize: 160}
}

func TestUDPHelloRegistersDevice(t *testing.T) {
	d := newTestUDPDriver()
	d.startOnce.Do(func() {}) // no socket needed

	inject(d, protocol.EncodeHello(7, "kitchen", 16000, 1, 160))
	inject(d, protocol.EncodeHello(9, "desk", 16000, 1, 160))

	devices, err := d.ListInputDevices()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, 0, devices[0].Index)
	assert.Contains(t, devices[0].Name, "kitchen")
	assert.True(t, devices[0].IsDefault)
	assert.Equal(t, 1, devices[1].Index)
	assert.False(t, devices[1].IsDefault)

	// a repeated hello keeps the index
	inject(d, protocol.EncodeHello(7, "kitchen", 16000, 1, 160))
	devices, err = d.ListInputDevices()
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestUDPRejectsUnsupportedFormat(t *testing.T) {
	d := newTestUDPDriver()
	d.startOnce.Do(func() {})

	inject(d, protocol.EncodeHello(1, "hifi", 48000, 1, 480))
	inject(d, protocol.EncodeHello(2, "stereo", 16000, 2, 160))

	devices, err := d.ListInputDevices()
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestUDPOpenUnknownDevice(t *testing.T) {
	d := newTestUDPDriver()
	d.startOnce.Do(func() {})

	_, err := d.Open(DeviceSelector(4), monoParams(), func([]int16) bool { return true })
	var devErr *DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	params := monoParams()
	params.SampleRate = 44100
	_, err = d.Open(DefaultDevice, params, func([]int16) bool { return true })
	assert.Error(t, err)
}

func TestUDPReordersAudio(t *testing.T) {
	d := newTestUDPDriver()
	d.startOnce.Do(func() {})
	inject(d, protocol.EncodeHello(7, "kitchen", 16000, 1, 160))

	rec := &frameRecorder{}
	stream, err := d.Open(DeviceSelector(0), monoParams(), rec.handle)
	require.NoError(t, err)
	require.NoError(t, stream.Start())

	injectAudio(t, d, 7, 0, 10)
	injectAudio(t, d, 7, 2, 30)
	injectAudio(t, d, 7, 1, 20)
	injectAudio(t, d, 7, 1, 20) // stale duplicate

	assert.Equal(t, []int16{10, 20, 30}, rec.snapshot())
}

func TestUDPDefaultBindsToFirstSource(t *testing.T) {
	d := newTestUDPDriver()
	d.startOnce.Do(func() {})
	inject(d, protocol.EncodeHello(7, "kitchen", 16000, 1, 160))
	inject(d, protocol.EncodeHello(9, "desk", 16000, 1, 160))

	rec := &frameRecorder{}
	stream, err := d.Open(DefaultDevice, monoParams(), rec.handle)
	require.NoError(t, err)
	require.NoError(t, stream.Start())

	injectAudio(t, d, 9, 0, 90)
	injectAudio(t, d, 7, 0, 70)
	injectAudio(t, d, 9, 1, 91)

	assert.Equal(t, []int16{90, 91}, rec.snapshot())
}

func TestUDPStoppedStreamReceivesNothing(t *testing.T) {
	d := newTestUDPDriver()
	d.startOnce.Do(func() {})
	inject(d, protocol.EncodeHello(7, "kitchen", 16000, 1, 160))

	rec := &frameRecorder{}
	stream, err := d.Open(DeviceSelector(0), monoParams(), rec.handle)
	require.NoError(t, err)

	injectAudio(t, d, 7, 0, 10)
	require.NoError(t, stream.Start())
	injectAudio(t, d, 7, 1, 11)
	require.NoError(t, stream.Stop())
	injectAudio(t, d, 7, 2, 12)
	require.NoError(t, stream.Close())

	assert.Equal(t, []int16{11}, rec.snapshot())
}

func TestUDPByeRemovesSource(t *testing.T) {
	d := newTestUDPDriver()
	d.startOnce.Do(func() {})
	inject(d, protocol.EncodeHello(7, "kitchen", 16000, 1, 160))

	rec := &frameRecorder{}
	stream, err := d.Open(DeviceSelector(0), monoParams(), rec.handle)
	require.NoError(t, err)
	require.NoError(t, stream.Start())

	injectAudio(t, d, 7, 0, 10)
	injectAudio(t, d, 7, 2, 30) // waits for 1
	inject(d, protocol.EncodeBye(7))

	assert.Equal(t, []int16{10, 30}, rec.snapshot())

	devices, err := d.ListInputDevices()
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestUDPParseErrorsCounted(t *testing.T) {
	d := newTestUDPDriver()
	d.startOnce.Do(func() {})

	inject(d, []byte{0xFF, 0x00})
	assert.Equal(t, uint64(1), d.GetStatistics().ParseErrors)
	assert.Equal(t, uint64(0), d.GetStatistics().PacketsProcessed)
}

func TestUDPSourceExpiry(t *testing.T) {
	d := newTestUDPDriver()
	d.startOnce.Do(func() {})
	d.handlePacket(&incomingPacket{
		data:       protocol.EncodeHello(7, "kitchen", 16000, 1, 160),
		remoteAddr: testAddr,
		timestamp:  time.Now().Add(-time.Minute),
	})

	d.expireSources()
	assert.Equal(t, 0, d.GetStatistics().ActiveSources)
}

func TestUDPLoopback(t *testing.T) {
	d := newTestUDPDriver()
	require.NoError(t, d.Listen())
	defer d.Close()

	conn, err := net.DialUDP("udp", nil, d.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(protocol.EncodeHello(3, "phone", 16000, 1, 160))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		devices, err := d.ListInputDevices()
		return err == nil && len(devices) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := &frameRecorder{}
	stream, err := d.Open(DefaultDevice, monoParams(), rec.handle)
	require.NoError(t, err)
	require.NoError(t, stream.Start())

	pkt, err := protocol.EncodeAudio(3, 0, constantFrame(42, 160))
	require.NoError(t, err)
	_, err = conn.Write(pkt)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int16(42), rec.snapshot()[0])
}
