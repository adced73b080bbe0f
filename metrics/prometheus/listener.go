package prometheus

import (
	"github.com/AltairaLabs/callkit/events"
)

// Status constants for metric labels.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// Speaker label values.
const (
	speakerCaller = "caller"
	speakerAgent  = "agent"
)

// MetricsListener records call events as Prometheus metrics.
// It implements the events.Listener signature and should be registered
// with an EventBus using SubscribeAll.
type MetricsListener struct{}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// Handle processes an event and records relevant metrics.
func (l *MetricsListener) Handle(event *events.Event) {
	//exhaustive:ignore
	switch event.Type {
	case events.EventCallStarted:
		RecordCallStart()
	case events.EventCallEnded:
		l.handleCallEnded(event)
	case events.EventCallStateChanged:
		if data, ok := event.Data.(events.StateChangedData); ok {
			RecordStateTransition(data.From, data.To)
		}
	case events.EventUtteranceFinal:
		RecordUtterance(speakerCaller)
	case events.EventAgentUtterance:
		l.handleAgentUtterance(event)
	case events.EventFieldCollected:
		if data, ok := event.Data.(events.FieldCollectedData); ok {
			RecordFieldCollected(data.Field)
		}
	case events.EventCollaboratorCall:
		l.handleCollaboratorCall(event)
	case events.EventReasoningFallback:
		if data, ok := event.Data.(events.FallbackData); ok {
			RecordFallback(data.Reason)
		}
	case events.EventSynthesisFailed:
		RecordFallback("synthesis")
	case events.EventRecognitionDegraded:
		RecordFallback("degraded")
	case events.EventFrameDropped:
		if data, ok := event.Data.(events.FrameDroppedData); ok {
			RecordFramesDropped(data.Stage, data.Count)
		}
	default:
		// Ignore events that don't have metrics
	}
}

func (l *MetricsListener) handleCallEnded(event *events.Event) {
	if data, ok := event.Data.(events.CallEndedData); ok {
		RecordCallEnd(data.Reason, data.Duration.Seconds(), data.Completion)
	}
}

func (l *MetricsListener) handleAgentUtterance(event *events.Event) {
	data, ok := event.Data.(events.AgentUtteranceData)
	if !ok {
		return
	}
	RecordUtterance(speakerAgent)
	RecordTurnLatency(data.Latency.Seconds())
}

func (l *MetricsListener) handleCollaboratorCall(event *events.Event) {
	if data, ok := event.Data.(events.CollaboratorCallData); ok {
		status := statusSuccess
		if data.Error != nil {
			status = statusError
		}
		RecordCollaboratorCall(data.Collaborator, status, data.Duration.Seconds())
	}
}

// Listener returns an events.Listener function that can be registered with an EventBus.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}
