package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// PCMBytesPerSample is the number of bytes per 16-bit PCM sample.
	PCMBytesPerSample = 2
	// pcmMaxAmplitude is the maximum amplitude for 16-bit signed audio.
	pcmMaxAmplitude = 32768.0
)

// Standard sample rates used across the call pipeline.
const (
	SampleRate8kHz  = 8000  // Telephony
	SampleRate16kHz = 16000 // Common STT input rate
	SampleRate24kHz = 24000 // Common TTS output rate
)

// BytesToPCM16 converts little-endian 16-bit PCM bytes to samples.
func BytesToPCM16(data []byte) ([]int16, error) {
	if len(data)%PCMBytesPerSample != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d bytes per sample", len(data), PCMBytesPerSample)
	}
	out := make([]int16, len(data)/PCMBytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*PCMBytesPerSample:])) //nolint:gosec // Safe PCM16 conversion
	}
	return out, nil
}

// PCM16ToBytes converts samples to little-endian 16-bit PCM bytes.
func PCM16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*PCMBytesPerSample)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*PCMBytesPerSample:], uint16(s)) //nolint:gosec // Safe PCM16 conversion
	}
	return out
}

// Level returns the RMS level of the samples normalised to 0.0-1.0.
func Level(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range pcm {
		n := float64(s) / pcmMaxAmplitude
		sumSquares += n * n
	}
	return math.Min(math.Sqrt(sumSquares/float64(len(pcm))), 1.0)
}

// SamplesDuration returns the playback duration of n samples at rate.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

func clampSample(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(math.Round(v))
}
