package audio

import (
	"time"
)

// Default framer parameter values.
const (
	DefaultFrameDuration   = 20 * time.Millisecond
	DefaultWindowDuration  = time.Second
	DefaultSpeechThreshold = 0.02
)

// FramerConfig configures inbound framing and voice activity detection.
type FramerConfig struct {
	// SampleRate of the decoded PCM frames in Hz (default: 8000).
	SampleRate int

	// FrameDuration is the nominal duration of one transport frame (default: 20ms).
	FrameDuration time.Duration

	// WindowDuration is the size of the analysis window forwarded to
	// recognition (default: 1s).
	WindowDuration time.Duration

	// SpeechThreshold is the RMS level above which a frame is speech (default: 0.02).
	SpeechThreshold float64
}

// DefaultFramerConfig returns the telephony defaults.
func DefaultFramerConfig() FramerConfig {
	return FramerConfig{
		SampleRate:      SampleRate8kHz,
		FrameDuration:   DefaultFrameDuration,
		WindowDuration:  DefaultWindowDuration,
		SpeechThreshold: DefaultSpeechThreshold,
	}
}

// Validate checks that the framer parameters are usable.
func (c FramerConfig) Validate() error {
	if c.SampleRate <= 0 {
		return &ValidationError{Field: "SampleRate", Message: "must be positive"}
	}
	if c.FrameDuration <= 0 {
		return &ValidationError{Field: "FrameDuration", Message: "must be positive"}
	}
	if c.WindowDuration < c.FrameDuration {
		return &ValidationError{Field: "WindowDuration", Message: "must be at least one frame"}
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		return &ValidationError{Field: "SpeechThreshold", Message: "must be between 0.0 and 1.0"}
	}
	return nil
}

// FrameSamples returns the number of samples in one nominal frame.
func (c FramerConfig) FrameSamples() int {
	return int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
}

// ValidationError represents a parameter validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// Window is a completed analysis window.
type Window struct {
	// PCM holds the window's linear samples.
	PCM []int16
	// Speech is true when any frame in the window was classified as speech.
	Speech bool
	// Level is the RMS level over the whole window.
	Level float64
	// Offset is the stream position of the first sample.
	Offset time.Duration
}

// Duration returns the playback duration of the window.
func (w *Window) Duration(sampleRate int) time.Duration {
	return SamplesDuration(len(w.PCM), sampleRate)
}

// Mulaw returns the window encoded as mu-law.
func (w *Window) Mulaw() []byte {
	return EncodeMulaw(w.PCM)
}

// AnalysisEvent is the result of feeding one frame.
type AnalysisEvent struct {
	IsSpeech bool
	Level    float64

	// WindowReady is set when this frame completed at least one analysis
	// window. Windows holds them in stream order; a frame longer than a
	// window can complete several.
	WindowReady bool
	Windows     []*Window

	// SilenceDuration is the continuous silence up to and including this frame.
	SilenceDuration time.Duration
	// SpeechDuration is the continuous speech up to and including this frame.
	SpeechDuration time.Duration
}

// Framer classifies frames as speech or silence and groups them into
// analysis windows. It is owned by a single goroutine.
type Framer struct {
	cfg           FramerConfig
	windowSamples int

	window       []int16
	windowSpeech bool
	windowOffset time.Duration
	position     time.Duration

	silence SilenceCounter
	stats   Stats
}

// NewFramer creates a Framer with the given configuration.
func NewFramer(cfg FramerConfig) (*Framer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	windowSamples := int(int64(cfg.SampleRate) * int64(cfg.WindowDuration) / int64(time.Second))
	return &Framer{
		cfg:           cfg,
		windowSamples: windowSamples,
		window:        make([]int16, 0, windowSamples),
	}, nil
}

// Config returns the framer configuration.
func (f *Framer) Config() FramerConfig {
	return f.cfg
}

// Feed classifies one frame, updates statistics and the silence counter and
// appends the frame to the current window. Windows completed by the frame
// are returned in the event; any overflow starts the next window.
func (f *Framer) Feed(frame []int16) AnalysisEvent {
	level := Level(frame)
	isSpeech := level > f.cfg.SpeechThreshold
	d := SamplesDuration(len(frame), f.cfg.SampleRate)

	f.stats.observeFrame(len(frame), level, isSpeech, d)
	f.silence.Observe(isSpeech, d)

	ev := AnalysisEvent{
		IsSpeech:        isSpeech,
		Level:           level,
		SilenceDuration: f.silence.Silence(),
		SpeechDuration:  f.silence.Speech(),
	}

	rest := frame
	for len(rest) > 0 {
		n := f.windowSamples - len(f.window)
		if n > len(rest) {
			n = len(rest)
		}
		f.window = append(f.window, rest[:n]...)
		f.windowSpeech = f.windowSpeech || isSpeech
		rest = rest[n:]
		if len(f.window) == f.windowSamples {
			ev.Windows = append(ev.Windows, f.takeWindow())
			ev.WindowReady = true
		}
	}
	f.position += d
	return ev
}

// Flush returns the partial window, if any, and resets the accumulator.
// Call it when the stream ends.
func (f *Framer) Flush() *Window {
	if len(f.window) == 0 {
		return nil
	}
	return f.takeWindow()
}

// Stats returns a copy of the accumulated statistics.
func (f *Framer) Stats() Stats {
	return f.stats
}

// SilenceDuration returns the current continuous silence.
func (f *Framer) SilenceDuration() time.Duration {
	return f.silence.Silence()
}

func (f *Framer) takeWindow() *Window {
	w := &Window{
		PCM:    f.window,
		Speech: f.windowSpeech,
		Level:  Level(f.window),
		Offset: f.windowOffset,
	}
	if w.Level > f.cfg.SpeechThreshold {
		f.stats.SpeechSegments++
	}
	f.windowOffset += SamplesDuration(len(f.window), f.cfg.SampleRate)
	f.window = make([]int16, 0, f.windowSamples)
	f.windowSpeech = false
	return w
}
