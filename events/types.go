package events

import "time"

// EventType identifies the type of event emitted during a call.
type EventType string

const (
	// EventCallStarted marks a completed media handshake.
	EventCallStarted EventType = "call.started"
	// EventCallStateChanged marks an orchestrator state transition.
	EventCallStateChanged EventType = "call.state_changed"
	// EventCallEnded marks the terminal state of a call.
	EventCallEnded EventType = "call.ended"

	// EventUtteranceInterim marks an unstable recognizer result.
	EventUtteranceInterim EventType = "utterance.interim"
	// EventUtteranceFinal marks a final caller utterance appended to the log.
	EventUtteranceFinal EventType = "utterance.final"
	// EventAgentUtterance marks a completed (or interrupted) agent turn.
	EventAgentUtterance EventType = "agent.utterance"

	// EventFieldCollected marks a collected field value.
	EventFieldCollected EventType = "field.collected"

	// EventCollaboratorCall marks one call to an external collaborator.
	EventCollaboratorCall EventType = "collaborator.call"
	// EventReasoningFallback marks a fallback after a failed reasoning call.
	EventReasoningFallback EventType = "reasoning.fallback"
	// EventSynthesisFailed marks a synthesis failure.
	EventSynthesisFailed EventType = "synthesis.failed"
	// EventRecognitionDegraded marks a recognizer that exhausted its retries.
	EventRecognitionDegraded EventType = "recognition.degraded"

	// EventFrameDropped marks dropped inbound frames or windows.
	EventFrameDropped EventType = "frame.dropped"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a call event delivered to listeners.
type Event struct {
	Type      EventType
	Timestamp time.Time
	CallID    string
	CallSID   string
	StreamSID string
	Data      EventData
}

// baseEventData provides a shared marker implementation for all event payloads.
type baseEventData struct{}

func (baseEventData) eventData() {}

// CallStartedData contains data for call start events.
type CallStartedData struct {
	baseEventData
	AccountSID   string
	Encoding     string
	SampleRate   int
	Channels     int
	CustomParams map[string]string
}

// StateChangedData contains data for orchestrator transitions.
type StateChangedData struct {
	baseEventData
	From   string
	To     string
	Reason string
}

// UtteranceData contains a caller recognition result.
type UtteranceData struct {
	baseEventData
	Text       string
	Confidence float64
	IsFinal    bool
}

// AgentUtteranceData describes one agent turn after its audio finished.
type AgentUtteranceData struct {
	baseEventData
	Text        string
	Kind        string
	StartedAt   time.Time
	Duration    time.Duration
	Frames      int
	Interrupted bool
	// Latency is the time from the turn-yield decision to the first frame.
	Latency time.Duration
}

// FieldCollectedData contains a merged field value.
type FieldCollectedData struct {
	baseEventData
	Field      string
	Value      string
	Confidence float64
	Completion float64
}

// CollaboratorCallData describes a call to an external collaborator.
type CollaboratorCallData struct {
	baseEventData
	Collaborator string
	Operation    string
	Duration     time.Duration
	Error        error
}

// FallbackData describes a fallback taken by the orchestrator.
type FallbackData struct {
	baseEventData
	Operation string
	Reason    string
	Error     error
}

// SynthesisFailedData describes a failed synthesis.
type SynthesisFailedData struct {
	baseEventData
	Text    string
	Retried bool
	Error   error
}

// RecognitionDegradedData describes a degraded recognizer.
type RecognitionDegradedData struct {
	baseEventData
	Attempts int
	Error    error
}

// FrameDroppedData describes dropped audio.
type FrameDroppedData struct {
	baseEventData
	Stage  string
	Reason string
	Count  int
}

// CallEndedData summarises a finished call.
type CallEndedData struct {
	baseEventData
	Reason     string
	Duration   time.Duration
	Exchanges  int
	Completion float64
	Fields     map[string]string
}
