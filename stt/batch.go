package stt

import (
	"context"
	"sync"
	"time"

	"github.com/AltairaLabs/callkit/audio"
	"github.com/AltairaLabs/callkit/logger"
)

// Batch recognizer defaults.
const (
	DefaultBatchQueueSize  = 32
	DefaultBatchMaxSegment = 10 * time.Second
	DefaultBatchMinSegment = 300 * time.Millisecond

	// batchConfidence is reported for batch results; request/response
	// transcription APIs return no per-segment confidence.
	batchConfidence = 1.0
)

// BatchConfig tunes speech segmentation for BatchRecognizer.
type BatchConfig struct {
	// QueueSize bounds windows waiting for the segmenter.
	QueueSize int
	// MaxSegment forces a transcription when a speech run grows this long.
	MaxSegment time.Duration
	// MinSegment drops speech runs shorter than this as noise.
	MinSegment time.Duration
	// Prompt is passed to the service as a vocabulary hint.
	Prompt string
}

// BatchRecognizer adapts a request/response Service to the Recognizer
// contract. Speech windows are accumulated until a silent window arrives,
// then the segment is transcribed as one final Event.
type BatchRecognizer struct {
	service Service
	cfg     BatchConfig
}

// NewBatchRecognizer wraps svc.
func NewBatchRecognizer(svc Service, cfg BatchConfig) *BatchRecognizer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultBatchQueueSize
	}
	if cfg.MaxSegment <= 0 {
		cfg.MaxSegment = DefaultBatchMaxSegment
	}
	if cfg.MinSegment <= 0 {
		cfg.MinSegment = DefaultBatchMinSegment
	}
	return &BatchRecognizer{service: svc, cfg: cfg}
}

// Name returns the wrapped service name.
func (b *BatchRecognizer) Name() string {
	return b.service.Name()
}

// Start begins segmenting. It never fails; service errors surface per segment.
func (b *BatchRecognizer) Start(ctx context.Context, cfg StreamConfig) (Stream, error) {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = DefaultSampleRate
	}
	language := cfg.Language
	if language == "" {
		language = DefaultLanguage
	}

	s := &batchStream{
		service: b.service,
		cfg:     b.cfg,
		txCfg: TranscriptionConfig{
			Format:     FormatPCM,
			SampleRate: rate,
			Channels:   DefaultChannels,
			BitDepth:   DefaultBitDepth,
			Language:   language,
			Model:      cfg.Model,
			Prompt:     b.cfg.Prompt,
		},
		in:     make(chan *audio.Window, b.cfg.QueueSize),
		events: make(chan Event, DefaultBatchQueueSize),
		done:   make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

type batchStream struct {
	service Service
	cfg     BatchConfig
	txCfg   TranscriptionConfig

	in     chan *audio.Window
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	err    error

	pending  []int16
	segStart time.Duration
}

func (s *batchStream) Send(w *audio.Window) error {
	if w == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	select {
	case s.in <- w:
		return nil
	default:
		return ErrBackpressure
	}
}

func (s *batchStream) Events() <-chan Event {
	return s.events
}

func (s *batchStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops intake, transcribes any pending speech and waits for the
// segmenter to finish.
func (s *batchStream) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.in)
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *batchStream) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-s.in:
			if !ok {
				s.flush(ctx)
				return
			}
			if !s.observe(ctx, w) {
				return
			}
		}
	}
}

// observe folds one window into the current segment. It returns false when
// the stream must stop.
func (s *batchStream) observe(ctx context.Context, w *audio.Window) bool {
	if w.Speech {
		if len(s.pending) == 0 {
			s.segStart = w.Offset
		}
		s.pending = append(s.pending, w.PCM...)
		if audio.SamplesDuration(len(s.pending), s.txCfg.SampleRate) < s.cfg.MaxSegment {
			return true
		}
	}
	if len(s.pending) == 0 {
		return true
	}
	return s.flush(ctx)
}

func (s *batchStream) flush(ctx context.Context) bool {
	pcm := s.pending
	s.pending = nil
	if len(pcm) == 0 {
		return true
	}
	dur := audio.SamplesDuration(len(pcm), s.txCfg.SampleRate)
	if dur < s.cfg.MinSegment {
		return true
	}

	text, err := s.service.Transcribe(ctx, audio.PCM16ToBytes(pcm), s.txCfg)
	if err != nil {
		if IsRetryable(err) && ctx.Err() == nil {
			logger.WarnContext(ctx, "batch transcription failed, segment skipped",
				"provider", s.service.Name(), "error", err)
			return true
		}
		if ctx.Err() == nil {
			s.setErr(err)
		}
		return false
	}
	if text == "" {
		return true
	}

	select {
	case s.events <- Event{
		Text:        text,
		Confidence:  batchConfidence,
		IsFinal:     true,
		SpeechFinal: true,
		Start:       s.segStart,
		Duration:    dur,
	}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *batchStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
