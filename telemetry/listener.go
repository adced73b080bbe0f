package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/callkit/events"
)

// callState tracks the root span for a call.
type callState struct {
	span trace.Span
	ctx  context.Context //nolint:containedctx // needed to parent child spans
}

// CallListener converts call events into OTel spans: one root span per call,
// a child span per agent turn and per collaborator call, and span events for
// state changes, collected fields and fallbacks.
// It relies on the bus delivering a call's events in order.
type CallListener struct {
	tracer trace.Tracer

	mu      sync.Mutex
	calls   map[string]*callState
	parents map[string]context.Context
}

// NewCallListener creates a listener that creates OTel spans from call events.
func NewCallListener(tracer trace.Tracer) *CallListener {
	return &CallListener{
		tracer:  tracer,
		calls:   make(map[string]*callState),
		parents: make(map[string]context.Context),
	}
}

// BindParent parents the root span of callID under the span in ctx (for
// example the otelhttp span of the media-stream upgrade). It must be called
// before the call.started event is published.
func (l *CallListener) BindParent(ctx context.Context, callID string) {
	l.mu.Lock()
	l.parents[callID] = ctx
	l.mu.Unlock()
}

// Active returns the number of calls with an open root span.
func (l *CallListener) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

// OnEvent handles a single call event. It can be passed to EventBus.SubscribeAll.
func (l *CallListener) OnEvent(evt *events.Event) {
	//nolint:exhaustive // Only handling span-producing events
	switch evt.Type {
	case events.EventCallStarted:
		l.startCall(evt)
	case events.EventCallEnded:
		l.endCall(evt)
	case events.EventAgentUtterance:
		l.agentTurn(evt)
	case events.EventCollaboratorCall:
		l.collaboratorCall(evt)
	case events.EventCallStateChanged:
		if data, ok := evt.Data.(events.StateChangedData); ok {
			l.addEvent(evt, "state.changed",
				attribute.String("state.from", data.From),
				attribute.String("state.to", data.To),
				attribute.String("state.reason", data.Reason),
			)
		}
	case events.EventFieldCollected:
		if data, ok := evt.Data.(events.FieldCollectedData); ok {
			l.addEvent(evt, "field.collected",
				attribute.String("field.name", data.Field),
				attribute.Float64("field.confidence", data.Confidence),
				attribute.Float64("call.completion", data.Completion),
			)
		}
	case events.EventReasoningFallback:
		if data, ok := evt.Data.(events.FallbackData); ok {
			l.addEvent(evt, "reasoning.fallback",
				attribute.String("fallback.operation", data.Operation),
				attribute.String("fallback.reason", data.Reason),
			)
		}
	case events.EventRecognitionDegraded:
		l.addEvent(evt, "recognition.degraded")
	case events.EventSynthesisFailed:
		l.addEvent(evt, "synthesis.failed")
	}
}

// Listener returns the OnEvent method as an events.Listener.
func (l *CallListener) Listener() events.Listener {
	return l.OnEvent
}

func (l *CallListener) startCall(evt *events.Event) {
	l.mu.Lock()
	parent, ok := l.parents[evt.CallID]
	delete(l.parents, evt.CallID)
	l.mu.Unlock()
	if !ok {
		parent = context.Background()
	}

	ctx, span := l.tracer.Start(parent, "callkit.call",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(evt.Timestamp),
		trace.WithAttributes(
			attribute.String("call.id", evt.CallID),
			attribute.String("call.sid", evt.CallSID),
			attribute.String("stream.sid", evt.StreamSID),
		),
	)

	l.mu.Lock()
	l.calls[evt.CallID] = &callState{span: span, ctx: ctx}
	l.mu.Unlock()
}

func (l *CallListener) endCall(evt *events.Event) {
	l.mu.Lock()
	cs, ok := l.calls[evt.CallID]
	delete(l.calls, evt.CallID)
	l.mu.Unlock()
	if !ok {
		return
	}

	if data, ok := evt.Data.(events.CallEndedData); ok {
		cs.span.SetAttributes(
			attribute.String("end.reason", data.Reason),
			attribute.Int("call.exchanges", data.Exchanges),
			attribute.Float64("call.completion", data.Completion),
		)
		if data.Reason == "invariant_violation" {
			cs.span.SetStatus(codes.Error, data.Reason)
		} else {
			cs.span.SetStatus(codes.Ok, "")
		}
	}
	cs.span.End(trace.WithTimestamp(evt.Timestamp))
}

func (l *CallListener) agentTurn(evt *events.Event) {
	data, ok := evt.Data.(events.AgentUtteranceData)
	if !ok {
		return
	}
	start := data.StartedAt
	if start.IsZero() {
		start = evt.Timestamp.Add(-data.Duration)
	}

	_, span := l.tracer.Start(l.callCtx(evt.CallID), "callkit.agent_turn",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.String("turn.kind", data.Kind),
			attribute.Int("turn.text_length", len(data.Text)),
			attribute.Int("turn.frames", data.Frames),
			attribute.Bool("turn.interrupted", data.Interrupted),
			attribute.Int64("turn.latency_ms", data.Latency.Milliseconds()),
		),
	)
	span.End(trace.WithTimestamp(start.Add(data.Duration)))
}

func (l *CallListener) collaboratorCall(evt *events.Event) {
	data, ok := evt.Data.(events.CollaboratorCallData)
	if !ok {
		return
	}
	start := evt.Timestamp.Add(-data.Duration)

	_, span := l.tracer.Start(l.callCtx(evt.CallID), "callkit.collaborator."+data.Collaborator,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.String("collaborator.name", data.Collaborator),
			attribute.String("collaborator.operation", data.Operation),
		),
	)
	if data.Error != nil {
		span.RecordError(data.Error)
		span.SetStatus(codes.Error, data.Error.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(evt.Timestamp))
}

func (l *CallListener) addEvent(evt *events.Event, name string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	cs, ok := l.calls[evt.CallID]
	l.mu.Unlock()
	if !ok {
		return
	}
	cs.span.AddEvent(name, trace.WithTimestamp(evt.Timestamp), trace.WithAttributes(attrs...))
}

// callCtx returns the context for the call (to parent child spans).
// Falls back to context.Background() if the call is unknown.
func (l *CallListener) callCtx(callID string) context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cs, ok := l.calls[callID]; ok {
		return cs.ctx
	}
	return context.Background()
}
