package dialogue

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// State is an orchestrator state.
type State string

// Orchestrator states, in lifecycle order.
const (
	StateConnecting   State = "connecting"
	StateGreeting     State = "greeting"
	StateListenTurn   State = "listen_turn"
	StateThinking     State = "thinking"
	StateSpeakingTurn State = "speaking_turn"
	StateEnding       State = "ending"
	StateEnded        State = "ended"
)

// transitions is the complete set of legal moves. Ended has none.
var transitions = map[State][]State{
	StateConnecting:   {StateGreeting, StateEnding},
	StateGreeting:     {StateSpeakingTurn, StateListenTurn, StateEnding},
	StateListenTurn:   {StateThinking, StateEnding},
	StateThinking:     {StateSpeakingTurn, StateEnding},
	StateSpeakingTurn: {StateListenTurn, StateEnding},
	StateEnding:       {StateEnded},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// ErrInvariant marks programming errors detected by the orchestrator.
var ErrInvariant = errors.New("dialogue invariant violated")

// InvariantError is a StateInvariantViolation: the orchestrator was asked
// to do something its state machine forbids.
type InvariantError struct {
	State  State
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s in state %s: %s", e.Op, e.State, e.Detail)
}

// Is matches ErrInvariant.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}

// TimeFunc returns the current time. Override for deterministic tests.
type TimeFunc func() time.Time

// machine records transitions on a CallSession and rejects illegal ones.
type machine struct {
	sess *CallSession
	now  TimeFunc
}

// transition moves the session to target, recording the reason.
func (m *machine) transition(target State, reason string) error {
	from := m.sess.State
	if !CanTransition(from, target) {
		return &InvariantError{
			State:  from,
			Op:     "transition",
			Detail: fmt.Sprintf("%s → %s is not allowed (available: %v)", from, target, transitions[from]),
		}
	}
	m.record(from, target, reason)
	return nil
}

// terminate forces the session to Ended. It is only used after an
// invariant violation, when the normal path can no longer be trusted.
func (m *machine) terminate(reason string) {
	if m.sess.State == StateEnded {
		return
	}
	m.record(m.sess.State, StateEnded, reason)
}

func (m *machine) record(from, to State, reason string) {
	m.sess.History = append(m.sess.History, Transition{From: from, To: to, Reason: reason, At: m.now()})
	m.sess.State = to
}
