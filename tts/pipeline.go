package tts

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/AltairaLabs/callkit/audio"
	"github.com/AltairaLabs/callkit/logger"
)

// Pipeline defaults.
const (
	DefaultSynthesisTimeout = 45 * time.Second
	// DefaultFrameBytes is one 20 ms mu-law frame at 8 kHz.
	DefaultFrameBytes = 160
	// defaultReadSize is 100 ms of 24 kHz PCM16.
	defaultReadSize = 4800
)

// FrameSink receives mu-law frames in playback order.
type FrameSink interface {
	WriteFrame(ctx context.Context, frame []byte) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(ctx context.Context, frame []byte) error

// WriteFrame calls f.
func (f FrameSinkFunc) WriteFrame(ctx context.Context, frame []byte) error {
	return f(ctx, frame)
}

// Leaser bounds concurrent collaborator use across calls.
type Leaser interface {
	Acquire(ctx context.Context) error
	Release()
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Synthesis SynthesisConfig

	// Timeout bounds each wait on the provider: the request and every read
	// of the audio stream.
	Timeout time.Duration

	// MaxChars truncates longer text before synthesis.
	MaxChars int

	// OutputRate is the telephony sample rate.
	OutputRate int

	// FrameBytes is the size of each emitted mu-law frame.
	FrameBytes int

	// Leaser wraps each synthesis attempt. Optional.
	Leaser Leaser
}

func (c *PipelineConfig) defaults() {
	if c.Synthesis.Format.SampleRate == 0 {
		c.Synthesis.Format = FormatPCM24k
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultSynthesisTimeout
	}
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxChars
	}
	if c.OutputRate <= 0 {
		c.OutputRate = audio.SampleRate8kHz
	}
	if c.FrameBytes <= 0 {
		c.FrameBytes = DefaultFrameBytes
	}
}

// SpeakResult describes one spoken utterance.
type SpeakResult struct {
	// Frames is the number of frames handed to the sink.
	Frames int
	// Audio is the playback duration of those frames.
	Audio time.Duration
	// FirstFrame is the latency from Speak to the first frame.
	FirstFrame time.Duration
	// Retried is set when the first attempt failed before any audio.
	Retried bool
	// Truncated is set when the text exceeded MaxChars.
	Truncated bool
}

// Pipeline turns agent text into telephony frames. Audio is
// read from the provider incrementally, resampled with carried filter state,
// mu-law encoded and split into fixed-size frames as it arrives.
type Pipeline struct {
	svc Service
	cfg PipelineConfig
}

// NewPipeline creates a Pipeline over svc.
func NewPipeline(svc Service, cfg PipelineConfig) *Pipeline {
	cfg.defaults()
	return &Pipeline{svc: svc, cfg: cfg}
}

// Name returns the underlying provider name.
func (p *Pipeline) Name() string {
	return p.svc.Name()
}

// sinkError marks failures of the sink so they are never retried against the provider.
type sinkError struct{ err error }

func (e *sinkError) Error() string { return "frame sink: " + e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// Speak synthesizes text and writes it to sink. A retryable provider error
// before the first frame is retried once; after audio has started the
// error is returned with the partial result.
func (p *Pipeline) Speak(ctx context.Context, text string, sink FrameSink) (SpeakResult, error) {
	var res SpeakResult

	text = strings.TrimSpace(text)
	if text == "" {
		return res, ErrEmptyText
	}
	text, res.Truncated = Truncate(text, p.cfg.MaxChars)
	if res.Truncated {
		logger.WarnContext(ctx, "synthesis text truncated", "max_chars", p.cfg.MaxChars)
	}

	start := time.Now()
	err := p.attempt(ctx, text, sink, start, &res)
	if err != nil && res.Frames == 0 && ctx.Err() == nil && IsRetryable(err) && !isSinkError(err) {
		logger.WarnContext(ctx, "synthesis failed before audio, retrying",
			"provider", p.svc.Name(), "error", err)
		res.Retried = true
		err = p.attempt(ctx, text, sink, start, &res)
	}
	return res, err
}

func (p *Pipeline) attempt(ctx context.Context, text string, sink FrameSink, start time.Time, res *SpeakResult) error {
	if p.cfg.Leaser != nil {
		if err := p.cfg.Leaser.Acquire(ctx); err != nil {
			return err
		}
		defer p.cfg.Leaser.Release()
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchdog := time.AfterFunc(p.cfg.Timeout, cancel)
	defer watchdog.Stop()

	rc, err := p.svc.Synthesize(sctx, text, p.cfg.Synthesis)
	if err != nil {
		return p.timeoutOr(ctx, sctx, err)
	}
	defer rc.Close()

	rs, err := audio.NewResampler(p.cfg.Synthesis.Format.SampleRate, p.cfg.OutputRate)
	if err != nil {
		return err
	}

	fw := &frameWriter{sink: sink, size: p.cfg.FrameBytes, rate: p.cfg.OutputRate, start: start, res: res}
	buf := make([]byte, defaultReadSize)
	var carry []byte

	for {
		watchdog.Reset(p.cfg.Timeout)
		n, rerr := rc.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			carry = append([]byte(nil), data[even:]...)

			pcm, err := audio.BytesToPCM16(data[:even])
			if err != nil {
				return err
			}
			out, err := rs.Process(pcm)
			if err != nil {
				return err
			}
			// The sink applies its own backpressure; only provider waits are timed.
			watchdog.Stop()
			if err := fw.write(ctx, audio.EncodeMulaw(out)); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return NewSynthesisError(p.svc.Name(), "stream", "audio stream failed", p.timeoutOr(ctx, sctx, rerr), true)
		}
	}

	if err := fw.flush(ctx); err != nil {
		return err
	}
	if res.Frames == 0 {
		return NewSynthesisError(p.svc.Name(), "empty", "no audio returned", ErrEmptyAudio, true)
	}
	return nil
}

// timeoutOr reports a watchdog expiry as a retryable timeout.
func (p *Pipeline) timeoutOr(parent, sctx context.Context, err error) error {
	if parent.Err() == nil && sctx.Err() != nil {
		return NewSynthesisError(p.svc.Name(), "timeout", "synthesis timed out", context.DeadlineExceeded, true)
	}
	return err
}

func isSinkError(err error) bool {
	var se *sinkError
	return errors.As(err, &se)
}

// frameWriter splits a mu-law byte stream into fixed-size frames.
type frameWriter struct {
	sink    FrameSink
	size    int
	rate    int
	pending []byte
	start   time.Time
	res     *SpeakResult
}

func (w *frameWriter) write(ctx context.Context, mu []byte) error {
	w.pending = append(w.pending, mu...)
	for len(w.pending) >= w.size {
		frame := make([]byte, w.size)
		copy(frame, w.pending[:w.size])
		w.pending = w.pending[w.size:]
		if err := w.emit(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

// flush pads the final partial frame with mu-law silence.
func (w *frameWriter) flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	frame := make([]byte, w.size)
	n := copy(frame, w.pending)
	for i := n; i < len(frame); i++ {
		frame[i] = audio.MulawSilence
	}
	w.pending = nil
	return w.emit(ctx, frame)
}

func (w *frameWriter) emit(ctx context.Context, frame []byte) error {
	if w.res.Frames == 0 {
		w.res.FirstFrame = time.Since(w.start)
	}
	if err := w.sink.WriteFrame(ctx, frame); err != nil {
		return &sinkError{err: err}
	}
	w.res.Frames++
	w.res.Audio += audio.SamplesDuration(len(frame), w.rate)
	return nil
}
