package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// WAVHeaderSize is the size of the canonical PCM WAV header
const WAVHeaderSize = 44

// Byte offsets of the size fields patched when a streamed file is finalized
const (
	riffSizeOffset = 4
	dataSizeOffset = 40
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// NewWAVHeader builds a mono 16-bit PCM header for dataSize bytes of samples
func NewWAVHeader(sampleRate int, dataSize uint32) WAVHeader {
	const numChannels = uint16(1)
	const bitsPerSample = uint16(16)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// WriteWAVHeader writes a header describing dataSize bytes of samples.
// Streaming writers call it with 0 and patch the sizes on close.
func WriteWAVHeader(w io.Writer, sampleRate int, dataSize uint32) error {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if err := binary.Write(w, binary.LittleEndian, NewWAVHeader(sampleRate, dataSize)); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	return nil
}

// PatchWAVSizes rewrites the RIFF and data chunk sizes of a file whose
// header was written with WriteWAVHeader
func PatchWAVSizes(w io.WriterAt, dataSize uint32) error {
	var field [4]byte

	binary.LittleEndian.PutUint32(field[:], 36+dataSize)
	if _, err := w.WriteAt(field[:], riffSizeOffset); err != nil {
		return fmt.Errorf("failed to patch RIFF size: %w", err)
	}

	binary.LittleEndian.PutUint32(field[:], dataSize)
	if _, err := w.WriteAt(field[:], dataSizeOffset); err != nil {
		return fmt.Errorf("failed to patch data size: %w", err)
	}
	return nil
}

// RepairWAV fixes the header sizes of a streamed file that was never
// finalized, deriving the data size from the file length. A trailing odd
// byte is truncated. It returns the number of samples in the file.
func RepairWAV(path string) (int, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, WAVHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, fmt.Errorf("failed to read WAV header: %w", err)
	}
	wavInfo, err := GetWAVInfo(header)
	if err != nil {
		return 0, err
	}
	if wavInfo.Channels != 1 || wavInfo.BitsPerSample != 16 {
		return 0, fmt.Errorf("cannot repair %s: %d channels at %d bits, want mono 16-bit",
			path, wavInfo.Channels, wavInfo.BitsPerSample)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	dataSize := info.Size() - WAVHeaderSize
	if dataSize%2 != 0 {
		dataSize--
		if err := f.Truncate(WAVHeaderSize + dataSize); err != nil {
			return 0, fmt.Errorf("failed to truncate partial sample: %w", err)
		}
	}
	if dataSize > math.MaxUint32-36 {
		return 0, fmt.Errorf("WAV data too large: %d bytes", dataSize)
	}

	if err := PatchWAVSizes(f, uint32(dataSize)); err != nil {
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return int(dataSize / 2), nil
}

// EncodeWAV encodes PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(samples)*2))
	if err := WriteWAVHeader(buf, sampleRate, uint32(len(samples)*2)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeWAVFloat32 quantizes normalized samples and encodes them as WAV
func EncodeWAVFloat32(samples []float32, sampleRate int) ([]byte, error) {
	return EncodeWAV(PCMFromFloat32(samples), sampleRate)
}

// DecodeWAV decodes WAV format data back to PCM-16 samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return nil, 0, err
	}

	if info.Channels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", info.Channels)
	}
	if info.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", info.BitsPerSample)
	}
	if info.NumSamples == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	payload := data[WAVHeaderSize:]
	if uint32(len(payload)) < info.DataSize {
		return nil, 0, fmt.Errorf("truncated WAV data: header declares %d bytes, have %d", info.DataSize, len(payload))
	}

	samples := make([]int16, info.NumSamples)
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, samples); err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}
	return samples, int(info.SampleRate), nil
}

// ValidateWAV validates the canonical header layout without decoding samples
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format)
	}

	return nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV header
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:WAVHeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if header.SampleRate == 0 || header.BitsPerSample == 0 || header.NumChannels == 0 {
		return nil, fmt.Errorf("invalid WAV header: zero rate, depth or channels")
	}

	frameBytes := uint32(header.BitsPerSample) / 8 * uint32(header.NumChannels)
	numSamples := header.Subchunk2Size / frameBytes

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}

// Float32FromPCM normalizes int16 samples to [-1, 1] by dividing by 32768
func Float32FromPCM(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// PCMFromFloat32 quantizes normalized samples to int16, scaling by 32767
// and clamping out-of-range input
func PCMFromFloat32(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = quantize(s)
	}
	return out
}

// AppendPCMBytes appends the little-endian int16 encoding of samples to dst
func AppendPCMBytes(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(quantize(s)))
	}
	return dst
}

func quantize(s float32) int16 {
	v := math.Round(float64(s) * 32767)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	case math.IsNaN(v):
		return 0
	}
	return int16(v)
}
