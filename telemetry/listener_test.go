package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AltairaLabs/callkit/events"
)

// newTestListener returns a listener, in-memory exporter, and TracerProvider for tests.
func newTestListener(t *testing.T) (*CallListener, *tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	return NewCallListener(tp.Tracer(InstrumentationName)), exp, tp
}

// flushAndGetSpans forces span export and returns spans.
func flushAndGetSpans(t *testing.T, tp *sdktrace.TracerProvider, exp *tracetest.InMemoryExporter) tracetest.SpanStubs {
	t.Helper()
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	spans := exp.GetSpans()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	return spans
}

// findSpan finds a span by name in the stubs or fails.
func findSpan(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("span %q not found in %d spans", name, len(spans))
	return tracetest.SpanStub{}
}

// hasAttr checks if a span has an attribute with the given key and string value.
func hasAttr(span tracetest.SpanStub, key, want string) bool {
	for _, a := range span.Attributes {
		if string(a.Key) == key && a.Value.AsString() == want {
			return true
		}
	}
	return false
}

func callEvent(typ events.EventType, data events.EventData) *events.Event {
	return &events.Event{
		Type:      typ,
		Timestamp: time.Now(),
		CallID:    "call-1",
		CallSID:   "CA1",
		StreamSID: "MZ1",
		Data:      data,
	}
}

func TestCallListener_CallLifecycle(t *testing.T) {
	l, exp, tp := newTestListener(t)

	l.OnEvent(callEvent(events.EventCallStarted, events.CallStartedData{}))
	if l.Active() != 1 {
		t.Fatalf("expected 1 active call, got %d", l.Active())
	}
	l.OnEvent(callEvent(events.EventCallStateChanged, events.StateChangedData{From: "connecting", To: "greeting"}))
	l.OnEvent(callEvent(events.EventFieldCollected, events.FieldCollectedData{Field: "hours", Value: "6am-10pm"}))
	l.OnEvent(callEvent(events.EventAgentUtterance, events.AgentUtteranceData{
		Text:      "What are your operating hours?",
		Kind:      "question",
		StartedAt: time.Now().Add(-2 * time.Second),
		Duration:  2 * time.Second,
		Frames:    100,
	}))
	l.OnEvent(callEvent(events.EventCollaboratorCall, events.CollaboratorCallData{
		Collaborator: "reasoning",
		Operation:    "extract",
		Duration:     300 * time.Millisecond,
		Error:        errors.New("timeout"),
	}))
	l.OnEvent(callEvent(events.EventCallEnded, events.CallEndedData{Reason: "complete", Completion: 1}))

	if l.Active() != 0 {
		t.Fatalf("expected no active calls, got %d", l.Active())
	}

	spans := flushAndGetSpans(t, tp, exp)
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}

	root := findSpan(t, spans, "callkit.call")
	if !hasAttr(root, "call.id", "call-1") || !hasAttr(root, "call.sid", "CA1") {
		t.Errorf("root span missing call ids: %v", root.Attributes)
	}
	if !hasAttr(root, "end.reason", "complete") {
		t.Errorf("root span missing end.reason: %v", root.Attributes)
	}
	if len(root.Events) != 2 {
		t.Errorf("expected 2 span events on root, got %d", len(root.Events))
	}

	turn := findSpan(t, spans, "callkit.agent_turn")
	if turn.Parent.SpanID() != root.SpanContext.SpanID() {
		t.Error("agent turn should be parented under the call span")
	}
	if !hasAttr(turn, "turn.kind", "question") {
		t.Errorf("turn span missing kind: %v", turn.Attributes)
	}

	collab := findSpan(t, spans, "callkit.collaborator.reasoning")
	if collab.Status.Code != codes.Error {
		t.Errorf("expected error status on failed collaborator span, got %v", collab.Status.Code)
	}
}

func TestCallListener_InvariantViolationMarksError(t *testing.T) {
	l, exp, tp := newTestListener(t)

	l.OnEvent(callEvent(events.EventCallStarted, events.CallStartedData{}))
	l.OnEvent(callEvent(events.EventCallEnded, events.CallEndedData{Reason: "invariant_violation"}))

	root := findSpan(t, flushAndGetSpans(t, tp, exp), "callkit.call")
	if root.Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", root.Status.Code)
	}
}

func TestCallListener_BindParent(t *testing.T) {
	l, exp, tp := newTestListener(t)

	parentCtx, parent := tp.Tracer("test").Start(context.Background(), "http.upgrade")
	l.BindParent(parentCtx, "call-1")
	l.OnEvent(callEvent(events.EventCallStarted, events.CallStartedData{}))
	l.OnEvent(callEvent(events.EventCallEnded, events.CallEndedData{Reason: "transport_closed"}))
	parent.End()

	root := findSpan(t, flushAndGetSpans(t, tp, exp), "callkit.call")
	if root.Parent.SpanID() != parent.SpanContext().SpanID() {
		t.Error("expected root span to be parented under the bound context")
	}
}

func TestCallListener_IgnoresUnknownCall(t *testing.T) {
	l, exp, tp := newTestListener(t)

	// Events for a call without a root span must not panic.
	l.OnEvent(callEvent(events.EventCallStateChanged, events.StateChangedData{}))
	l.OnEvent(callEvent(events.EventCallEnded, events.CallEndedData{}))
	l.OnEvent(callEvent(events.EventAgentUtterance, nil))

	if n := len(flushAndGetSpans(t, tp, exp)); n != 0 {
		t.Errorf("expected no spans, got %d", n)
	}
}

func TestCallListener_ListenerFunc(t *testing.T) {
	l, exp, tp := newTestListener(t)

	fn := l.Listener()
	fn(callEvent(events.EventCallStarted, events.CallStartedData{}))
	fn(callEvent(events.EventCallEnded, events.CallEndedData{Reason: "complete"}))

	if n := len(flushAndGetSpans(t, tp, exp)); n != 1 {
		t.Errorf("expected 1 span, got %d", n)
	}
}
