package audio

import (
	"fmt"
	"time"
)

// BargeInPolicy determines what happens when the caller talks over the agent.
type BargeInPolicy int

const (
	// BargeInIgnore keeps the agent talking; caller speech is only transcribed.
	BargeInIgnore BargeInPolicy = iota
	// BargeInImmediate stops agent audio as soon as caller speech is confirmed.
	BargeInImmediate
	// BargeInDeferred lets the agent finish, then hands the floor straight to
	// the caller without waiting for the post-speech cooldown.
	BargeInDeferred
)

// DefaultBargeInMinSpeech is the continuous caller speech required before a
// barge-in is acted upon.
const DefaultBargeInMinSpeech = 300 * time.Millisecond

// String returns a human-readable representation of the policy.
func (p BargeInPolicy) String() string {
	switch p {
	case BargeInIgnore:
		return "ignore"
	case BargeInImmediate:
		return "immediate"
	case BargeInDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// ParseBargeInPolicy parses a policy name.
func ParseBargeInPolicy(s string) (BargeInPolicy, error) {
	switch s {
	case "", "ignore":
		return BargeInIgnore, nil
	case "immediate":
		return BargeInImmediate, nil
	case "deferred":
		return BargeInDeferred, nil
	default:
		return BargeInIgnore, fmt.Errorf("unknown barge-in policy %q", s)
	}
}

// BargeInAction is the outcome of observing caller audio.
type BargeInAction int

const (
	// BargeInNone means no action is needed.
	BargeInNone BargeInAction = iota
	// BargeInInterrupt means agent audio must stop now.
	BargeInInterrupt
	// BargeInPending means the caller should get the floor once the agent finishes.
	BargeInPending
)

// BargeInDetector applies a BargeInPolicy to the classified inbound frame
// stream. It is owned by a single goroutine.
type BargeInDetector struct {
	policy    BargeInPolicy
	minSpeech time.Duration

	agentSpeaking bool
	fired         bool
	pending       bool
}

// NewBargeInDetector creates a detector. A non-positive minSpeech uses
// DefaultBargeInMinSpeech.
func NewBargeInDetector(policy BargeInPolicy, minSpeech time.Duration) *BargeInDetector {
	if minSpeech <= 0 {
		minSpeech = DefaultBargeInMinSpeech
	}
	return &BargeInDetector{policy: policy, minSpeech: minSpeech}
}

// Policy returns the configured policy.
func (d *BargeInDetector) Policy() BargeInPolicy {
	return d.policy
}

// SetAgentSpeaking marks the start or end of agent audio. Ending a turn
// returns true if a deferred barge-in is waiting.
func (d *BargeInDetector) SetAgentSpeaking(speaking bool) bool {
	wasPending := d.pending
	d.agentSpeaking = speaking
	d.fired = false
	d.pending = false
	return !speaking && wasPending
}

// Observe inspects the current continuous caller speech duration. At most
// one non-None action is reported per agent turn.
func (d *BargeInDetector) Observe(speechRun time.Duration) BargeInAction {
	if !d.agentSpeaking || d.fired || d.policy == BargeInIgnore {
		return BargeInNone
	}
	if speechRun < d.minSpeech {
		return BargeInNone
	}
	d.fired = true
	if d.policy == BargeInImmediate {
		return BargeInInterrupt
	}
	d.pending = true
	return BargeInPending
}
