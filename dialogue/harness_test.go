package dialogue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/callkit/events"
	"github.com/AltairaLabs/callkit/reasoning"
)

const (
	waitFor   = 2 * time.Second
	pollEvery = 2 * time.Millisecond
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedReasoner extracts fixed values per utterance and answers with
// respond, or with the next canned question when respond is nil.
type scriptedReasoner struct {
	extracts map[string]map[string]string
	respond  func(req reasoning.RespondRequest) (string, reasoning.Outcome)
	panicOn  string

	respondCalls atomic.Int32
}

func (r *scriptedReasoner) Name() string { return "scripted" }

func (r *scriptedReasoner) Extract(_ context.Context, req reasoning.ExtractRequest) (reasoning.Extraction, reasoning.Outcome) {
	if r.panicOn != "" && req.Latest == r.panicOn {
		panic("scripted extraction failure")
	}
	values := map[string]reasoning.Value{}
	for name, v := range r.extracts[req.Latest] {
		values[name] = reasoning.Value{Text: v, Confidence: 0.9}
	}
	return reasoning.Extraction{Values: values, Confidence: 0.9}, reasoning.Outcome{}
}

func (r *scriptedReasoner) Respond(_ context.Context, req reasoning.RespondRequest) (string, reasoning.Outcome) {
	r.respondCalls.Add(1)
	if r.respond != nil {
		return r.respond(req)
	}
	f, ok := reasoning.NextQuestion(req.Fields, req.Collected, req.Asked)
	if !ok {
		return "", reasoning.Outcome{Fallback: reasoning.FallbackEmpty}
	}
	return f.Question, reasoning.Outcome{}
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

func (l *eventLog) transitions() []events.StateChangedData {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.StateChangedData
	for _, e := range l.events {
		if d, ok := e.Data.(events.StateChangedData); ok {
			out = append(out, d)
		}
	}
	return out
}

func (l *eventLog) entered(s State) int {
	n := 0
	for _, tr := range l.transitions() {
		if tr.To == string(s) {
			n++
		}
	}
	return n
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

// harness plays the other three call tasks around one Orchestrator.
type harness struct {
	t     *testing.T
	clock *fakeClock
	log   *eventLog
	orch  *Orchestrator

	utterances chan Utterance
	activity   *ActivityMonitor
	degraded   chan struct{}
	closed     chan struct{}
	speak      chan SpeakRequest
	played     chan SpeakResult
	interrupts atomic.Int32
	done       chan error
}

func newHarness(t *testing.T, r Reasoner, cfg Config) *harness {
	t.Helper()
	if cfg.Tick == 0 {
		cfg.Tick = 2 * time.Millisecond
	}
	if cfg.PostSpeechCooldown == 0 {
		cfg.PostSpeechCooldown = -1
	}

	clock := newFakeClock()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)
	log := &eventLog{}
	bus.SubscribeAll(log.add)

	sess := NewCallSession("call-1", "CA123", "MZ123", clock.Now())
	emitter := events.NewEmitter(bus, sess.ID, sess.CallSID, sess.StreamSID)

	return &harness{
		t:          t,
		clock:      clock,
		log:        log,
		orch:       NewOrchestrator(sess, r, cfg, WithClock(clock.Now), WithEmitter(emitter)),
		utterances: make(chan Utterance, 8),
		activity:   NewActivityMonitor(),
		degraded:   make(chan struct{}),
		closed:     make(chan struct{}),
		speak:      make(chan SpeakRequest, 4),
		played:     make(chan SpeakResult, 4),
		done:       make(chan error, 1),
	}
}

// start runs the orchestrator and waits until it is greeting.
func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.t.Cleanup(cancel)
	go func() {
		h.done <- h.orch.Run(ctx, Inputs{
			Utterances: h.utterances,
			Activity:   h.activity,
			Degraded:   h.degraded,
			Closed:     h.closed,
			Speak:      h.speak,
			Played:     h.played,
			Interrupt:  func() { h.interrupts.Add(1) },
		})
	}()
	h.waitEntered(StateGreeting, 1)
}

func (h *harness) waitEntered(s State, n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.log.entered(s) >= n },
		waitFor, pollEvery, "waiting for %s #%d", s, n)
}

func (h *harness) expectSpeech() SpeakRequest {
	h.t.Helper()
	select {
	case req := <-h.speak:
		return req
	case <-time.After(waitFor):
		h.t.Fatal("expected the agent to speak")
		return SpeakRequest{}
	}
}

func (h *harness) expectNoSpeech(d time.Duration) {
	h.t.Helper()
	select {
	case req := <-h.speak:
		h.t.Fatalf("unexpected agent utterance %q", req.Text)
	case <-time.After(d):
	}
}

// play reports the request as fully played and waits for the next caller turn.
func (h *harness) play(req SpeakRequest) {
	h.t.Helper()
	listens := h.log.entered(StateListenTurn)
	h.played <- SpeakResult{ID: req.ID, Frames: 50, Audio: time.Second, Latency: 300 * time.Millisecond}
	if req.Kind != KindClosing {
		h.waitEntered(StateListenTurn, listens+1)
	}
}

// greet lets the greeting grace pass and plays the opening line.
func (h *harness) greet() SpeakRequest {
	h.t.Helper()
	h.clock.Advance(DefaultGreetingGrace + time.Second)
	req := h.expectSpeech()
	require.Equal(h.t, KindOpening, req.Kind)
	h.play(req)
	return req
}

// answer delivers a final caller utterance followed by enough silence to yield.
func (h *harness) answer(text string) {
	h.utterances <- Utterance{Text: text, Confidence: 0.9}
	h.silence(3 * time.Second)
}

func (h *harness) silence(d time.Duration) {
	h.activity.Update(Activity{Silence: d})
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitFor):
		h.t.Fatal("orchestrator did not stop")
		return nil
	}
}
