package tts

import (
	"context"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/AltairaLabs/callkit/audio"
)

const (
	// DefaultMaxChars caps the text sent in one synthesis request.
	DefaultMaxChars = 800

	truncationSuffix = "..."
)

// Service converts text to speech audio.
type Service interface {
	// Name returns the provider identifier (for logging/debugging).
	Name() string

	// Synthesize converts text to raw little-endian PCM16 at
	// config.Format.SampleRate. The caller must close the reader.
	Synthesize(ctx context.Context, text string, config SynthesisConfig) (io.ReadCloser, error)
}

// SynthesisConfig configures text-to-speech synthesis.
type SynthesisConfig struct {
	// Voice is the provider voice ID. Empty selects the provider default.
	Voice string

	// Format is the requested output format.
	Format AudioFormat

	// Speed is the speech rate multiplier (default 1.0).
	// Not all providers support speed adjustment.
	Speed float64

	// Model is the provider-specific model.
	Model string
}

// DefaultSynthesisConfig returns 24 kHz PCM at normal speed.
// 24 kHz is an exact 3:1 ratio to telephony audio.
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{
		Format: FormatPCM24k,
		Speed:  1.0,
	}
}

// AudioFormat describes raw PCM output.
type AudioFormat struct {
	// Name is the format identifier.
	Name string

	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// BitDepth is the bits per sample.
	BitDepth int

	// Channels is the number of audio channels.
	Channels int
}

// Supported output formats.
var (
	// FormatPCM24k is raw 16-bit mono PCM at 24 kHz.
	FormatPCM24k = AudioFormat{
		Name:       "pcm",
		SampleRate: audio.SampleRate24kHz,
		BitDepth:   16,
		Channels:   1,
	}

	// FormatPCM16k is raw 16-bit mono PCM at 16 kHz.
	FormatPCM16k = AudioFormat{
		Name:       "pcm",
		SampleRate: audio.SampleRate16kHz,
		BitDepth:   16,
		Channels:   1,
	}
)

// String returns the format name with its rate.
func (f AudioFormat) String() string {
	if f.SampleRate == 0 {
		return f.Name
	}
	return f.Name + "_" + strconv.Itoa(f.SampleRate)
}

// Truncate shortens text to at most maxChars runes, ending in "..." when
// anything was cut. It reports whether truncation happened.
func Truncate(text string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}
	keep := maxChars - utf8.RuneCountInString(truncationSuffix)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(text)
	return string(runes[:keep]) + truncationSuffix, true
}
