package stt

import (
	"context"
	"time"

	"github.com/AltairaLabs/callkit/audio"
)

const (
	// Default audio settings for telephony audio.
	DefaultSampleRate = audio.SampleRate8kHz
	DefaultChannels   = 1
	DefaultBitDepth   = 16
	DefaultLanguage   = "en"

	// Common audio formats.
	FormatPCM = "pcm"
	FormatWAV = "wav"

	// Stream encodings.
	EncodingMulaw    = "mulaw"
	EncodingLinear16 = "linear16"
)

// Service transcribes a complete audio clip to text.
// BatchRecognizer adapts a Service to the streaming Recognizer contract.
type Service interface {
	// Name returns the provider identifier (for logging/debugging).
	Name() string

	// Transcribe converts audio to text.
	Transcribe(ctx context.Context, audio []byte, config TranscriptionConfig) (string, error)

	// SupportedFormats returns supported audio input formats.
	SupportedFormats() []string
}

// TranscriptionConfig configures a single batch transcription.
type TranscriptionConfig struct {
	// Format is the audio format ("pcm", "wav").
	Format string

	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Channels is the number of audio channels.
	Channels int

	// BitDepth is the bits per sample for PCM audio.
	BitDepth int

	// Language is a hint for the transcription language (e.g., "en").
	Language string

	// Model is the provider-specific model.
	Model string

	// Prompt guides transcription vocabulary.
	Prompt string
}

// DefaultTranscriptionConfig returns defaults for 8 kHz telephony PCM.
func DefaultTranscriptionConfig() TranscriptionConfig {
	return TranscriptionConfig{
		Format:     FormatPCM,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		BitDepth:   DefaultBitDepth,
		Language:   DefaultLanguage,
	}
}

// StreamConfig configures a streaming recognition session.
type StreamConfig struct {
	// Encoding of the audio sent on the stream: EncodingMulaw or EncodingLinear16.
	Encoding   string
	SampleRate int
	Channels   int
	Language   string
	// Model is the provider-specific model; empty uses the provider default.
	Model string
	// Interim requests unstable partial results.
	Interim bool
}

// DefaultStreamConfig returns the configuration for Twilio call audio.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Encoding:   EncodingMulaw,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		Language:   DefaultLanguage,
		Interim:    true,
	}
}

// Event is one normalised recognition result.
type Event struct {
	Text       string
	Confidence float64
	// IsFinal marks a stable result for its audio segment.
	IsFinal bool
	// SpeechFinal marks the end of a speaker's utterance when the vendor reports it.
	SpeechFinal bool
	// Start and Duration locate the segment in the stream.
	Start    time.Duration
	Duration time.Duration
}

// Stream is an open recognition session.
type Stream interface {
	// Send queues an audio window for recognition.
	Send(w *audio.Window) error
	// Events returns the result channel. It is closed when the stream ends.
	Events() <-chan Event
	// Err reports why the stream ended; nil after a normal Close.
	Err() error
	// Close flushes pending audio where the provider supports it and ends the stream.
	Close() error
}

// Recognizer is a streaming speech-recognition collaborator.
type Recognizer interface {
	Name() string
	Start(ctx context.Context, cfg StreamConfig) (Stream, error)
}
