package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AltairaLabs/callkit/audio"
	"github.com/AltairaLabs/callkit/events"
	"github.com/AltairaLabs/callkit/internal/streaming"
	"github.com/AltairaLabs/callkit/logger"
)

// Adapter defaults.
const (
	DefaultAdapterQueueSize = 16
	DefaultMaxRetries       = 3
	DefaultBackoffBase      = 250 * time.Millisecond
	DefaultBackoffMax       = 4 * time.Second
)

var errStreamEnded = errors.New("recognition stream ended")

// Utterance is a caller utterance produced by the Adapter.
type Utterance struct {
	Text       string
	Confidence float64
	IsFinal    bool
	Timestamp  time.Time
}

// Leaser bounds concurrent collaborator use across calls.
type Leaser interface {
	Acquire(ctx context.Context) error
	Release()
}

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	Stream StreamConfig

	// QueueSize bounds windows waiting to be sent. When full the oldest window is dropped.
	QueueSize int

	// MaxRetries is the number of reconnection attempts after a failure.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Emitter receives interim, degradation and collaborator events. Optional.
	Emitter *events.Emitter

	// Leaser wraps each connection attempt. Optional.
	Leaser Leaser
}

func (c *AdapterConfig) defaults() {
	if c.Stream == (StreamConfig{}) {
		c.Stream = DefaultStreamConfig()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultAdapterQueueSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
}

// Adapter connects the per-call audio path to a Recognizer.
//
// Send never blocks. Interim results update Preview and are never delivered
// on Utterances. If the recognizer cannot be reached after MaxRetries
// reconnection attempts, Degraded is closed and the Adapter stops; windows
// sent afterwards are ignored.
type Adapter struct {
	rec Recognizer
	cfg AdapterConfig

	queue      chan *audio.Window
	utterances chan Utterance
	degraded   chan struct{}
	stop       chan struct{}
	done       chan struct{}

	started      atomic.Bool
	dropped      atomic.Int64
	degradedOnce sync.Once
	stopOnce     sync.Once

	mu      sync.Mutex
	preview Utterance
	err     error
}

// NewAdapter creates an Adapter over rec.
func NewAdapter(rec Recognizer, cfg AdapterConfig) *Adapter {
	cfg.defaults()
	return &Adapter{
		rec:        rec,
		cfg:        cfg,
		queue:      make(chan *audio.Window, cfg.QueueSize),
		utterances: make(chan Utterance, cfg.QueueSize),
		degraded:   make(chan struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start connects in the background. It returns an error only if the
// Adapter was already started.
func (a *Adapter) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return fmt.Errorf("stt adapter already started")
	}
	go a.run(ctx)
	return nil
}

// Send queues a window for recognition without blocking. When the queue is
// full the oldest queued window is discarded.
func (a *Adapter) Send(w *audio.Window) {
	if w == nil {
		return
	}
	select {
	case <-a.degraded:
		return
	case <-a.done:
		return
	default:
	}
	for {
		select {
		case a.queue <- w:
			return
		default:
		}
		select {
		case <-a.queue:
			a.dropped.Add(1)
		default:
		}
	}
}

// Utterances delivers final caller utterances in order. The channel is
// closed when the Adapter stops.
func (a *Adapter) Utterances() <-chan Utterance {
	return a.utterances
}

// Preview returns the latest interim result, or the zero Utterance once
// it has been superseded by a final.
func (a *Adapter) Preview() Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preview
}

// Degraded is closed once when recognition is given up for this call.
func (a *Adapter) Degraded() <-chan struct{} {
	return a.degraded
}

// Err returns the degradation error, wrapping ErrDegraded, or nil.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Dropped returns the number of windows discarded because the queue was full.
func (a *Adapter) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops the Adapter, letting the recognizer flush final results that
// are still pending, and waits for it to finish.
func (a *Adapter) Close() error {
	a.stopOnce.Do(func() { close(a.stop) })
	if a.started.Load() {
		<-a.done
	}
	return nil
}

func (a *Adapter) run(ctx context.Context) {
	defer close(a.done)
	defer close(a.utterances)
	defer a.reportDrops()

	// Backoff between streams that fail after connecting. It resets once
	// a stream has stayed up for BackoffMax.
	streamBackoff := a.cfg.BackoffBase
	for {
		stream, attempts, err := a.connect(ctx)
		if err != nil {
			if ctx.Err() == nil && !a.stopping() {
				a.degrade(ctx, attempts, err)
			}
			return
		}

		connected := time.Now()
		err = a.pump(ctx, stream)
		if err == nil || ctx.Err() != nil || a.stopping() {
			return
		}

		if time.Since(connected) >= a.cfg.BackoffMax {
			streamBackoff = a.cfg.BackoffBase
		}
		logger.WarnContext(ctx, "recognition stream failed, reconnecting",
			"provider", a.rec.Name(), "error", err)
		if !a.wait(ctx, streaming.CalculateBackoff(streamBackoff, a.cfg.BackoffMax)) {
			return
		}
		streamBackoff = min(streamBackoff*2, a.cfg.BackoffMax)
		a.discardQueued()
	}
}

// wait sleeps for d unless the context ends or Close is called first.
func (a *Adapter) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-a.stop:
		return false
	case <-t.C:
		return true
	}
}

// connect opens a stream, retrying retryable failures with exponential backoff.
func (a *Adapter) connect(ctx context.Context) (Stream, int, error) {
	backoff := a.cfg.BackoffBase
	var lastErr error
	attempts := 0

	for attempts <= a.cfg.MaxRetries {
		if attempts > 0 {
			if !a.wait(ctx, streaming.CalculateBackoff(backoff, a.cfg.BackoffMax)) {
				if err := ctx.Err(); err != nil {
					return nil, attempts, err
				}
				return nil, attempts, ErrStreamClosed
			}
			backoff = min(backoff*2, a.cfg.BackoffMax)
			// Windows queued during the outage are stale.
			a.discardQueued()
		}
		attempts++

		stream, err := a.open(ctx)
		if err == nil {
			return stream, attempts, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}
		if !IsRetryable(err) {
			break
		}
	}
	return nil, attempts, lastErr
}

func (a *Adapter) open(ctx context.Context) (Stream, error) {
	if a.cfg.Leaser != nil {
		if err := a.cfg.Leaser.Acquire(ctx); err != nil {
			return nil, err
		}
		defer a.cfg.Leaser.Release()
	}

	start := time.Now()
	stream, err := a.rec.Start(ctx, a.cfg.Stream)
	d := time.Since(start)
	a.cfg.Emitter.CollaboratorCall(a.rec.Name(), "connect", d, err)
	if err != nil {
		logger.CollaboratorError(ctx, a.rec.Name(), "connect", err)
		return nil, err
	}
	logger.CollaboratorCall(ctx, a.rec.Name(), "connect", d)
	return stream, nil
}

// pump moves windows to the stream and results to the caller until the
// stream fails, the context ends or Close is called. A nil return means
// the Adapter should stop.
func (a *Adapter) pump(ctx context.Context, stream Stream) error {
	results := stream.Events()
	for {
		select {
		case <-ctx.Done():
			_ = stream.Close()
			return nil

		case <-a.stop:
			a.finish(ctx, stream)
			return nil

		case w := <-a.queue:
			if err := stream.Send(w); err != nil {
				if errors.Is(err, ErrBackpressure) {
					a.dropped.Add(1)
					continue
				}
				_ = stream.Close()
				return err
			}

		case ev, ok := <-results:
			if !ok {
				if err := stream.Err(); err != nil {
					return err
				}
				return errStreamEnded
			}
			a.handle(ctx, ev, false)
		}
	}
}

// finish closes the stream while collecting the results it flushes.
func (a *Adapter) finish(ctx context.Context, stream Stream) {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = stream.Close()
	}()
	for ev := range stream.Events() {
		a.handle(ctx, ev, true)
	}
	<-closed
}

func (a *Adapter) handle(ctx context.Context, ev Event, draining bool) {
	if !ev.IsFinal {
		a.mu.Lock()
		a.preview = Utterance{Text: ev.Text, Confidence: ev.Confidence, Timestamp: time.Now()}
		a.mu.Unlock()
		a.cfg.Emitter.UtteranceInterim(ev.Text, ev.Confidence)
		return
	}

	a.mu.Lock()
	a.preview = Utterance{}
	a.mu.Unlock()

	u := Utterance{Text: ev.Text, Confidence: ev.Confidence, IsFinal: true, Timestamp: time.Now()}
	if draining {
		select {
		case a.utterances <- u:
		default:
			logger.DebugContext(ctx, "final utterance dropped at shutdown", "chars", len(u.Text))
		}
		return
	}
	select {
	case a.utterances <- u:
	case <-ctx.Done():
	case <-a.stop:
		// Nobody may be reading any more; keep it only if there is room.
		select {
		case a.utterances <- u:
		default:
			logger.DebugContext(ctx, "final utterance dropped at shutdown", "chars", len(u.Text))
		}
	}
}

func (a *Adapter) degrade(ctx context.Context, attempts int, cause error) {
	a.degradedOnce.Do(func() {
		err := fmt.Errorf("%w after %d attempts: %w", ErrDegraded, attempts, cause)
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
		logger.WarnContext(ctx, "recognition degraded, continuing without it",
			"provider", a.rec.Name(), "attempts", attempts, "error", cause)
		a.cfg.Emitter.RecognitionDegraded(attempts, cause)
		close(a.degraded)
	})
}

func (a *Adapter) discardQueued() {
	for {
		select {
		case <-a.queue:
		default:
			return
		}
	}
}

func (a *Adapter) stopping() bool {
	select {
	case <-a.stop:
		return true
	default:
		return false
	}
}

func (a *Adapter) reportDrops() {
	if n := a.dropped.Load(); n > 0 {
		a.cfg.Emitter.FrameDropped("recognizer", "queue_full", int(n))
	}
}
