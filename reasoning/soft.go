package reasoning

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/AltairaLabs/callkit/events"
	"github.com/AltairaLabs/callkit/logger"
)

// DefaultTimeout bounds each reasoning call.
const DefaultTimeout = 5 * time.Second

// Fallback says why a soft call produced no result.
type Fallback string

// Fallback reasons.
const (
	FallbackNone          Fallback = ""
	FallbackTimeout       Fallback = "timeout"
	FallbackError         Fallback = "error"
	FallbackPanic         Fallback = "panic"
	FallbackInvalidOutput Fallback = "invalid_output"
	FallbackEmpty         Fallback = "empty"
)

// Outcome describes one soft call.
type Outcome struct {
	Fallback Fallback
	Err      error
	Duration time.Duration
}

// OK reports whether the backend produced a usable result.
func (o Outcome) OK() bool {
	return o.Fallback == FallbackNone
}

// Leaser bounds concurrent collaborator calls across sessions.
type Leaser interface {
	Acquire(ctx context.Context) error
	Release()
}

// SoftConfig configures a SoftReasoner.
type SoftConfig struct {
	// Timeout bounds each call, lease wait included (default: 5s).
	Timeout time.Duration
	Leaser  Leaser
	Emitter *events.Emitter
}

// SoftReasoner wraps a backend so that it never fails: every error,
// timeout or panic becomes an empty result plus a Fallback reason. It
// returns at the deadline even if the backend ignores its context.
type SoftReasoner struct {
	inner Reasoner
	cfg   SoftConfig
}

// NewSoftReasoner wraps inner.
func NewSoftReasoner(inner Reasoner, cfg SoftConfig) *SoftReasoner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &SoftReasoner{inner: inner, cfg: cfg}
}

// Name returns the wrapped backend's name.
func (s *SoftReasoner) Name() string {
	return s.inner.Name()
}

// Extract calls the backend's Extract. On failure the extraction is empty.
func (s *SoftReasoner) Extract(ctx context.Context, req ExtractRequest) (Extraction, Outcome) {
	out, outcome := call(ctx, s, "extract", func(ctx context.Context) (Extraction, error) {
		return s.inner.Extract(ctx, req)
	})
	if !outcome.OK() {
		return Extraction{}, outcome
	}
	return out, outcome
}

// Respond calls the backend's Respond. On failure, or when the backend
// has nothing to say, the text is empty and the outcome says why.
func (s *SoftReasoner) Respond(ctx context.Context, req RespondRequest) (string, Outcome) {
	text, outcome := call(ctx, s, "respond", func(ctx context.Context) (string, error) {
		return s.inner.Respond(ctx, req)
	})
	if !outcome.OK() {
		return "", outcome
	}
	if text = CleanResponse(text); text == "" {
		outcome.Fallback = FallbackEmpty
	}
	return text, outcome
}

type result[T any] struct {
	val T
	err error
}

func call[T any](ctx context.Context, s *SoftReasoner, op string, fn func(context.Context) (T, error)) (T, Outcome) {
	var zero T
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		var r result[T]
		defer func() {
			if p := recover(); p != nil {
				logger.Error("reasoning backend panicked", "provider", s.inner.Name(),
					"operation", op, "panic", p, "stack", string(debug.Stack()))
				r = result[T]{err: &panicError{value: p}}
			}
			done <- r
		}()

		if s.cfg.Leaser != nil {
			if err := s.cfg.Leaser.Acquire(ctx); err != nil {
				r.err = err
				return
			}
			defer s.cfg.Leaser.Release()
		}
		r.val, r.err = fn(ctx)
	}()

	var r result[T]
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}

	d := time.Since(start)
	outcome := Outcome{Duration: d}
	if r.err != nil {
		outcome.Err = r.err
		outcome.Fallback = classify(ctx, r.err)
		logger.CollaboratorError(ctx, s.inner.Name(), op, r.err, "fallback", string(outcome.Fallback))
	}
	s.cfg.Emitter.CollaboratorCall(s.inner.Name(), op, d, r.err)
	if r.err != nil {
		s.cfg.Emitter.ReasoningFallback(op, string(outcome.Fallback), r.err)
	}

	if r.err != nil {
		return zero, outcome
	}
	return r.val, outcome
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("reasoning: backend panic: %v", e.value)
}

func classify(ctx context.Context, err error) Fallback {
	var pe *panicError
	switch {
	case errors.As(err, &pe):
		return FallbackPanic
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return FallbackTimeout
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return FallbackTimeout
	case errors.Is(err, ErrInvalidOutput):
		return FallbackInvalidOutput
	case errors.Is(err, ErrEmptyResponse):
		return FallbackEmpty
	default:
		return FallbackError
	}
}
