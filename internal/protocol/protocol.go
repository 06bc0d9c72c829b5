package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// Packet types
	PacketTypeHello = 0x01
	PacketTypeAudio = 0x02
	PacketTypeBye   = 0x03

	// Version is the only protocol version understood
	Version = 0x01

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	HelloPayloadSize       = 40 // 32 + 4 + 2 + 2 bytes
	AudioPayloadHeaderSize = 4  // Sequence number (4 bytes)
	MaxPacketSize          = 0xFFFF

	DeviceNameSize = 32
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][SourceID:4][Version:1]
type Header struct {
	PacketType uint8
	PacketLen  uint16 // Total packet size (header + payload)
	SourceID   uint32 // Chosen by the sender, stable for its lifetime
	Version    uint8
}

// HelloPayload announces a source and its capture format
// Layout: [DeviceName:32][SampleRate:4][Channels:2][FrameSize:2]
type HelloPayload struct {
	DeviceName [DeviceNameSize]byte // Null-terminated string
	SampleRate uint32
	Channels   uint16
	FrameSize  uint16
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][PCM:N]
type AudioPayload struct {
	Sequence uint32
	PCM      []byte // little-endian int16 samples
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header *Header
	Hello  *HelloPayload // Only set for hello packets
	Audio  *AudioPayload // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		SourceID:   binary.BigEndian.Uint32(data[3:7]),
		Version:    data[7],
	}, nil
}

// ParseHelloPayload parses the 40-byte hello payload
func ParseHelloPayload(data []byte) (*HelloPayload, error) {
	if len(data) < HelloPayloadSize {
		return nil, fmt.Errorf("hello payload too short: expected %d bytes, got %d", HelloPayloadSize, len(data))
	}

	payload := &HelloPayload{}
	copy(payload.DeviceName[:], data[0:DeviceNameSize])
	payload.SampleRate = binary.BigEndian.Uint32(data[32:36])
	payload.Channels = binary.BigEndian.Uint16(data[36:38])
	payload.FrameSize = binary.BigEndian.Uint16(data[38:40])
	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + PCM)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}
	if (len(data)-AudioPayloadHeaderSize)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even, got %d bytes", len(data)-AudioPayloadHeaderSize)
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}
	if len(data) > AudioPayloadHeaderSize {
		payload.PCM = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.PCM, data[AudioPayloadHeaderSize:])
	}
	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeHello:
		payload, err := ParseHelloPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hello payload: %w", err)
		}
		packet.Hello = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.Version != Version {
		return fmt.Errorf("unsupported version: 0x%02x", header.Version)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeHello:
		if payloadSize != HelloPayloadSize {
			return fmt.Errorf("hello packet payload size mismatch: expected %d, got %d",
				HelloPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
	case PacketTypeBye:
		if payloadSize != 0 {
			return fmt.Errorf("bye packet must have no payload, got %d bytes", payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeHello || ptype == PacketTypeAudio || ptype == PacketTypeBye
}

// EncodeHello builds a hello packet. Names longer than 31 bytes are truncated.
func EncodeHello(sourceID uint32, name string, sampleRate uint32, channels, frameSize uint16) []byte {
	buf := make([]byte, HeaderSize+HelloPayloadSize)
	putHeader(buf, PacketTypeHello, sourceID)

	payload := buf[HeaderSize:]
	copy(payload[0:DeviceNameSize-1], name)
	binary.BigEndian.PutUint32(payload[32:36], sampleRate)
	binary.BigEndian.PutUint16(payload[36:38], channels)
	binary.BigEndian.PutUint16(payload[38:40], frameSize)
	return buf
}

// EncodeAudio builds an audio packet from int16 samples
func EncodeAudio(sourceID, sequence uint32, samples []int16) ([]byte, error) {
	size := HeaderSize + AudioPayloadHeaderSize + len(samples)*2
	if size > MaxPacketSize {
		return nil, fmt.Errorf("audio packet too large: %d bytes (maximum %d)", size, MaxPacketSize)
	}

	buf := make([]byte, size)
	putHeader(buf, PacketTypeAudio, sourceID)
	binary.BigEndian.PutUint32(buf[HeaderSize:HeaderSize+4], sequence)
	pcm := buf[HeaderSize+AudioPayloadHeaderSize:]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return buf, nil
}

// EncodeBye builds a bye packet
func EncodeBye(sourceID uint32) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, PacketTypeBye, sourceID)
	return buf
}

func putHeader(buf []byte, ptype uint8, sourceID uint32) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], sourceID)
	buf[7] = Version
}

// Samples decodes the PCM bytes into int16 samples
func (a *AudioPayload) Samples() []int16 {
	samples := make([]int16, len(a.PCM)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(a.PCM[i*2:]))
	}
	return samples
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// GetDeviceName extracts the device name as a string
func (h *HelloPayload) GetDeviceName() string {
	return ExtractString(h.DeviceName[:])
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string
	switch h.PacketType {
	case PacketTypeHello:
		packetType = "Hello"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeBye:
		packetType = "Bye"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, SourceID:%d, Version:%d}",
		packetType, h.PacketLen, h.SourceID, h.Version)
}

// String returns a human-readable representation of the hello payload
func (h *HelloPayload) String() string {
	return fmt.Sprintf("HelloPayload{DeviceName:%q, SampleRate:%d, Channels:%d, FrameSize:%d}",
		h.GetDeviceName(), h.SampleRate, h.Channels, h.FrameSize)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, Samples:%d}", a.Sequence, len(a.PCM)/2)
}
