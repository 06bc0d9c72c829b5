package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeDecodeWAV(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768, 42}

	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}
	if len(data) != WAVHeaderSize+len(samples)*2 {
		t.Errorf("Expected %d bytes, got %d", WAVHeaderSize+len(samples)*2, len(data))
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("Failed to decode WAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("Expected error for empty samples")
	}
	if _, err := EncodeWAV([]int16{1}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestValidateWAV(t *testing.T) {
	valid, _ := EncodeWAV([]int16{1, 2, 3}, 16000)
	if err := ValidateWAV(valid); err != nil {
		t.Errorf("Expected valid WAV, got %v", err)
	}

	if err := ValidateWAV(valid[:20]); err == nil {
		t.Error("Expected error for short data")
	}

	corrupt := append([]byte(nil), valid...)
	copy(corrupt[0:4], "RIFX")
	if err := ValidateWAV(corrupt); err == nil {
		t.Error("Expected error for bad RIFF id")
	}

	compressed := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(compressed[20:22], 3)
	if err := ValidateWAV(compressed); err == nil {
		t.Error("Expected error for non-PCM format")
	}
}

func TestGetWAVInfo(t *testing.T) {
	data, _ := EncodeWAV(make([]int16, 8000), 16000)

	info, err := GetWAVInfo(data)
	if err != nil {
		t.Fatalf("Failed to read WAV info: %v", err)
	}
	if info.NumSamples != 8000 {
		t.Errorf("Expected 8000 samples, got %d", info.NumSamples)
	}
	if info.Duration != 0.5 {
		t.Errorf("Expected 0.5s, got %f", info.Duration)
	}
	if info.Channels != 1 || info.BitsPerSample != 16 {
		t.Errorf("Expected mono 16-bit, got %d channels %d bits", info.Channels, info.BitsPerSample)
	}
}

func TestStreamedWAVPatchAndRepair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := WriteWAVHeader(f, 16000, 0); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
	pcm := AppendPCMBytes(nil, []float32{0, 0.5, -0.5, 1})
	if _, err := f.Write(pcm); err != nil {
		t.Fatalf("Failed to write samples: %v", err)
	}
	// simulate a crash: one stray byte and no size patch
	if _, err := f.Write([]byte{0x7f}); err != nil {
		t.Fatalf("Failed to write stray byte: %v", err)
	}
	f.Close()

	n, err := RepairWAV(path)
	if err != nil {
		t.Fatalf("Failed to repair WAV: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 samples, got %d", n)
	}

	data, _ := os.ReadFile(path)
	samples, _, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("Repaired file does not decode: %v", err)
	}
	expected := []int16{0, 16384, -16384, 32767}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], samples[i])
		}
	}
}

func TestRepairWAVRejectsNonMono(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	data, err := EncodeWAV([]int16{1, 2, 3, 4}, 16000)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}
	data[22] = 2 // channel count
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := RepairWAV(path); err == nil {
		t.Error("Expected error repairing a stereo recording")
	}

	after, _ := os.ReadFile(path)
	if len(after) != len(data) {
		t.Errorf("Rejected file was modified: %d bytes, want %d", len(after), len(data))
	}
}

func TestPCMConversionClamps(t *testing.T) {
	got := PCMFromFloat32([]float32{2, -2, 0})
	if got[0] != 32767 || got[1] != -32768 || got[2] != 0 {
		t.Errorf("Expected clamped [32767 -32768 0], got %v", got)
	}

	floats := Float32FromPCM([]int16{-32768, 16384})
	if floats[0] != -1 || floats[1] != 0.5 {
		t.Errorf("Expected [-1 0.5], got %v", floats)
	}
}
