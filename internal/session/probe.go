package session

import (
	"fmt"
	"os"
	"time"

	"github.com/gopxl/beep/wav"
)

// ProbeAudio returns the duration of a WAV file
func ProbeAudio(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open audio: %w", err)
	}

	streamer, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	defer streamer.Close()

	return format.SampleRate.D(streamer.Len()), nil
}
