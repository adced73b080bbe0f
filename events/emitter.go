package events

import "time"

// Emitter provides helpers for publishing call events with shared correlation ids.
type Emitter struct {
	bus       *EventBus
	callID    string
	callSID   string
	streamSID string
}

// NewEmitter creates a new event emitter. A nil bus yields an emitter that drops everything.
func NewEmitter(bus *EventBus, callID, callSID, streamSID string) *Emitter {
	return &Emitter{
		bus:       bus,
		callID:    callID,
		callSID:   callSID,
		streamSID: streamSID,
	}
}

// CallID returns the call id stamped on every event.
func (e *Emitter) CallID() string {
	if e == nil {
		return ""
	}
	return e.callID
}

// emit publishes an event with shared context fields.
func (e *Emitter) emit(eventType EventType, data EventData) {
	if e == nil || e.bus == nil {
		return
	}

	e.bus.Publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		CallID:    e.callID,
		CallSID:   e.callSID,
		StreamSID: e.streamSID,
		Data:      data,
	})
}

// CallStarted emits the call.started event.
func (e *Emitter) CallStarted(data CallStartedData) {
	e.emit(EventCallStarted, data)
}

// StateChanged emits the call.state_changed event.
func (e *Emitter) StateChanged(from, to, reason string) {
	e.emit(EventCallStateChanged, StateChangedData{From: from, To: to, Reason: reason})
}

// UtteranceInterim emits the utterance.interim event.
func (e *Emitter) UtteranceInterim(text string, confidence float64) {
	e.emit(EventUtteranceInterim, UtteranceData{Text: text, Confidence: confidence})
}

// UtteranceFinal emits the utterance.final event.
func (e *Emitter) UtteranceFinal(text string, confidence float64) {
	e.emit(EventUtteranceFinal, UtteranceData{Text: text, Confidence: confidence, IsFinal: true})
}

// AgentUtterance emits the agent.utterance event.
func (e *Emitter) AgentUtterance(data AgentUtteranceData) {
	e.emit(EventAgentUtterance, data)
}

// FieldCollected emits the field.collected event.
func (e *Emitter) FieldCollected(field, value string, confidence, completion float64) {
	e.emit(EventFieldCollected, FieldCollectedData{
		Field:      field,
		Value:      value,
		Confidence: confidence,
		Completion: completion,
	})
}

// CollaboratorCall emits the collaborator.call event.
func (e *Emitter) CollaboratorCall(collaborator, operation string, d time.Duration, err error) {
	e.emit(EventCollaboratorCall, CollaboratorCallData{
		Collaborator: collaborator,
		Operation:    operation,
		Duration:     d,
		Error:        err,
	})
}

// ReasoningFallback emits the reasoning.fallback event.
func (e *Emitter) ReasoningFallback(operation, reason string, err error) {
	e.emit(EventReasoningFallback, FallbackData{Operation: operation, Reason: reason, Error: err})
}

// SynthesisFailed emits the synthesis.failed event.
func (e *Emitter) SynthesisFailed(text string, retried bool, err error) {
	e.emit(EventSynthesisFailed, SynthesisFailedData{Text: text, Retried: retried, Error: err})
}

// RecognitionDegraded emits the recognition.degraded event.
func (e *Emitter) RecognitionDegraded(attempts int, err error) {
	e.emit(EventRecognitionDegraded, RecognitionDegradedData{Attempts: attempts, Error: err})
}

// FrameDropped emits the frame.dropped event.
func (e *Emitter) FrameDropped(stage, reason string, count int) {
	e.emit(EventFrameDropped, FrameDroppedData{Stage: stage, Reason: reason, Count: count})
}

// CallEnded emits the call.ended event.
func (e *Emitter) CallEnded(data CallEndedData) {
	e.emit(EventCallEnded, data)
}
