package dialogue

import (
	"slices"
	"time"

	"github.com/AltairaLabs/callkit/reasoning"
)

// Speaker identifies who produced an utterance.
type Speaker string

// Speakers.
const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// Utterance is one entry of the conversation log. Final utterances are
// never modified once appended.
type Utterance struct {
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	IsFinal    bool      `json:"is_final"`
	Timestamp  time.Time `json:"timestamp"`
	// Kind is set on agent utterances (opening, question, fallback, closing).
	Kind UtteranceKind `json:"kind,omitempty"`
	// Interrupted is set on agent utterances cut short by the caller.
	Interrupted bool `json:"interrupted,omitempty"`
}

// UtteranceKind classifies agent utterances.
type UtteranceKind string

// Agent utterance kinds.
const (
	KindOpening  UtteranceKind = "opening"
	KindQuestion UtteranceKind = "question"
	KindFallback UtteranceKind = "fallback"
	KindClosing  UtteranceKind = "closing"
)

// CollectedField is a field value merged from the conversation.
type CollectedField struct {
	Value      string    `json:"value"`
	List       []string  `json:"list,omitempty"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	At         time.Time `json:"at"`
}

// Display returns the value as a single string.
func (f CollectedField) Display() string {
	return reasoning.Value{Text: f.Value, List: f.List}.Display()
}

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// EndReason says why a call ended.
type EndReason string

// End reasons.
const (
	EndComplete           EndReason = "complete"
	EndExchangeLimit      EndReason = "exchange_limit"
	EndQuestionsExhausted EndReason = "questions_exhausted"
	EndTransportClosed    EndReason = "transport_closed"
	EndInvariantViolation EndReason = "invariant_violation"
	EndShutdown           EndReason = "shutdown"
)

// CallSession is the state of one call. Only the Orchestrator that owns
// it mutates it; everyone else reads a Snapshot.
type CallSession struct {
	ID        string
	CallSID   string
	StreamSID string

	State  State
	Fields map[string]CollectedField
	Log    []Utterance
	// Asked holds every agent utterance that was heard, in order.
	Asked []string

	LastSpeech    time.Time
	AgentSpeaking bool
	// Silence is the caller silence reported by voice activity detection.
	Silence time.Duration
	// Exchanges counts processed caller utterances.
	Exchanges int
	Degraded  bool

	StartTime time.Time
	EndTime   time.Time
	EndReason EndReason

	History []Transition

	askedSet map[string]bool
}

// NewCallSession creates a session in the Connecting state.
func NewCallSession(id, callSID, streamSID string, now time.Time) *CallSession {
	return &CallSession{
		ID:        id,
		CallSID:   callSID,
		StreamSID: streamSID,
		State:     StateConnecting,
		Fields:    map[string]CollectedField{},
		StartTime: now,
		askedSet:  map[string]bool{},
	}
}

// Collected returns the display value of every collected field.
func (s *CallSession) Collected() map[string]string {
	out := make(map[string]string, len(s.Fields))
	for name, f := range s.Fields {
		out[name] = f.Display()
	}
	return out
}

// Snapshot is an immutable copy of a CallSession for export and lookup.
type Snapshot struct {
	ID         string                    `json:"id"`
	CallSID    string                    `json:"call_sid"`
	StreamSID  string                    `json:"stream_sid"`
	State      State                     `json:"state"`
	Fields     map[string]CollectedField `json:"fields"`
	Transcript []Utterance               `json:"transcript"`
	Asked      []string                  `json:"asked"`
	Exchanges  int                       `json:"exchanges"`
	Completion float64                   `json:"completion"`
	Degraded   bool                      `json:"degraded,omitempty"`
	StartTime  time.Time                 `json:"start_time"`
	EndTime    time.Time                 `json:"end_time,omitempty"`
	EndReason  EndReason                 `json:"end_reason,omitempty"`
	History    []Transition              `json:"history"`
}

// Snapshot copies the session. completion is the current completion ratio.
func (s *CallSession) Snapshot(completion float64) Snapshot {
	fields := make(map[string]CollectedField, len(s.Fields))
	for name, f := range s.Fields {
		f.List = slices.Clone(f.List)
		fields[name] = f
	}
	return Snapshot{
		ID:         s.ID,
		CallSID:    s.CallSID,
		StreamSID:  s.StreamSID,
		State:      s.State,
		Fields:     fields,
		Transcript: slices.Clone(s.Log),
		Asked:      slices.Clone(s.Asked),
		Exchanges:  s.Exchanges,
		Completion: completion,
		Degraded:   s.Degraded,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		EndReason:  s.EndReason,
		History:    slices.Clone(s.History),
	}
}

// CollectedValues returns the display values of the snapshot's fields.
func (s Snapshot) CollectedValues() map[string]string {
	out := make(map[string]string, len(s.Fields))
	for name, f := range s.Fields {
		out[name] = f.Display()
	}
	return out
}

// Duration is the call length so far, or in total once ended.
func (s Snapshot) Duration(now time.Time) time.Duration {
	if !s.EndTime.IsZero() {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

func (s *CallSession) recordAsked(text string) {
	s.Asked = append(s.Asked, text)
	if s.askedSet == nil {
		s.askedSet = map[string]bool{}
	}
	s.askedSet[reasoning.Normalize(text)] = true
}
