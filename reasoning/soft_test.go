package reasoning

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/callkit/events"
)

// fakeReasoner lets each test script the backend.
type fakeReasoner struct {
	extract func(ctx context.Context, req ExtractRequest) (Extraction, error)
	respond func(ctx context.Context, req RespondRequest) (string, error)
}

func (f *fakeReasoner) Name() string { return "fake" }

func (f *fakeReasoner) Extract(ctx context.Context, req ExtractRequest) (Extraction, error) {
	return f.extract(ctx, req)
}

func (f *fakeReasoner) Respond(ctx context.Context, req RespondRequest) (string, error) {
	return f.respond(ctx, req)
}

type countingLeaser struct {
	acquired atomic.Int32
	released atomic.Int32
	err      error
}

func (l *countingLeaser) Acquire(context.Context) error {
	if l.err != nil {
		return l.err
	}
	l.acquired.Add(1)
	return nil
}

func (l *countingLeaser) Release() {
	l.released.Add(1)
}

type eventLog struct {
	mu     sync.Mutex
	events []*events.Event
}

func (l *eventLog) add(e *events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t events.EventType) []*events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*events.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestEmitter(t *testing.T) (*events.Emitter, *eventLog) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)
	log := &eventLog{}
	bus.SubscribeAll(log.add)
	return events.NewEmitter(bus, "call-1", "CA123", "MZ123"), log
}

func TestSoftReasoner_Success(t *testing.T) {
	leaser := &countingLeaser{}
	soft := NewSoftReasoner(&fakeReasoner{
		extract: func(context.Context, ExtractRequest) (Extraction, error) {
			return Extraction{Values: map[string]Value{"hours": {Text: "24/7"}}}, nil
		},
		respond: func(context.Context, RespondRequest) (string, error) {
			return `"How much is a day pass?"`, nil
		},
	}, SoftConfig{Leaser: leaser})

	ex, outcome := soft.Extract(context.Background(), ExtractRequest{})
	assert.True(t, outcome.OK())
	assert.Equal(t, "24/7", ex.Values["hours"].Text)

	text, outcome := soft.Respond(context.Background(), RespondRequest{})
	assert.True(t, outcome.OK())
	assert.Equal(t, "How much is a day pass?", text)

	assert.EqualValues(t, 2, leaser.acquired.Load())
	assert.EqualValues(t, 2, leaser.released.Load())
}

func TestSoftReasoner_TimeoutIgnoringBackend(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	soft := NewSoftReasoner(&fakeReasoner{
		respond: func(context.Context, RespondRequest) (string, error) {
			<-block
			return "too late", nil
		},
	}, SoftConfig{Timeout: 50 * time.Millisecond})

	start := time.Now()
	text, outcome := soft.Respond(context.Background(), RespondRequest{})
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, text)
	assert.Equal(t, FallbackTimeout, outcome.Fallback)
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
}

func TestSoftReasoner_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Fallback
	}{
		{"timeout", &Error{Provider: "fake", Err: ErrTimeout}, FallbackTimeout},
		{"invalid output", &Error{Provider: "fake", Err: ErrInvalidOutput}, FallbackInvalidOutput},
		{"empty", ErrEmptyResponse, FallbackEmpty},
		{"other", errors.New("connection refused"), FallbackError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			soft := NewSoftReasoner(&fakeReasoner{
				extract: func(context.Context, ExtractRequest) (Extraction, error) {
					return Extraction{Values: map[string]Value{"hours": {Text: "ignored"}}}, tt.err
				},
			}, SoftConfig{})

			ex, outcome := soft.Extract(context.Background(), ExtractRequest{})
			assert.True(t, ex.Empty())
			assert.Equal(t, tt.want, outcome.Fallback)
			assert.ErrorIs(t, outcome.Err, tt.err)
		})
	}
}

func TestSoftReasoner_Panic(t *testing.T) {
	leaser := &countingLeaser{}
	emitter, log := newTestEmitter(t)

	soft := NewSoftReasoner(&fakeReasoner{
		respond: func(context.Context, RespondRequest) (string, error) {
			panic("boom")
		},
	}, SoftConfig{Leaser: leaser, Emitter: emitter})

	text, outcome := soft.Respond(context.Background(), RespondRequest{})
	assert.Empty(t, text)
	assert.Equal(t, FallbackPanic, outcome.Fallback)
	assert.EqualValues(t, 1, leaser.released.Load())

	require.Eventually(t, func() bool {
		return len(log.ofType(events.EventReasoningFallback)) == 1 &&
			len(log.ofType(events.EventCollaboratorCall)) == 1
	}, time.Second, 10*time.Millisecond)

	data, ok := log.ofType(events.EventReasoningFallback)[0].Data.(events.FallbackData)
	require.True(t, ok)
	assert.Equal(t, "respond", data.Operation)
	assert.Equal(t, "panic", data.Reason)
}

func TestSoftReasoner_EmptyText(t *testing.T) {
	soft := NewSoftReasoner(&fakeReasoner{
		respond: func(context.Context, RespondRequest) (string, error) {
			return ` '' `, nil
		},
	}, SoftConfig{})

	text, outcome := soft.Respond(context.Background(), RespondRequest{})
	assert.Empty(t, text)
	assert.Equal(t, FallbackEmpty, outcome.Fallback)
	assert.NoError(t, outcome.Err)
}

func TestSoftReasoner_LeaseFailure(t *testing.T) {
	leaser := &countingLeaser{err: errors.New("pool closed")}
	called := false
	soft := NewSoftReasoner(&fakeReasoner{
		respond: func(context.Context, RespondRequest) (string, error) {
			called = true
			return "hello", nil
		},
	}, SoftConfig{Leaser: leaser})

	_, outcome := soft.Respond(context.Background(), RespondRequest{})
	assert.Equal(t, FallbackError, outcome.Fallback)
	assert.False(t, called)
	assert.Zero(t, leaser.released.Load())
}
