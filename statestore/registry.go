package statestore

import (
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/AltairaLabs/callkit/dialogue"
	"github.com/AltairaLabs/callkit/events"
)

// DefaultEndedGrace is how long an ended call stays visible in the registry.
const DefaultEndedGrace = 5 * time.Minute

// ErrDuplicateCall is returned when a call ID is inserted twice.
var ErrDuplicateCall = errors.New("call already registered")

// ActiveCall is the registry's view of a call. It is updated from call
// events, never from the session itself.
type ActiveCall struct {
	ID         string             `json:"id"`
	CallSID    string             `json:"call_sid"`
	StreamSID  string             `json:"stream_sid"`
	State      dialogue.State     `json:"state"`
	StartTime  time.Time          `json:"start_time"`
	UpdatedAt  time.Time          `json:"updated_at"`
	EndedAt    time.Time          `json:"ended_at,omitempty"`
	EndReason  dialogue.EndReason `json:"end_reason,omitempty"`
	Exchanges  int                `json:"exchanges"`
	Completion float64            `json:"completion"`
	Collected  map[string]string  `json:"collected"`
}

// Ended reports whether the call has finished.
func (c ActiveCall) Ended() bool {
	return !c.EndedAt.IsZero()
}

type registryEntry struct {
	call  ActiveCall
	timer *time.Timer
}

// Registry tracks calls in progress, plus recently ended calls for a grace
// period. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*registryEntry
	grace time.Duration
	now   func() time.Time
}

// NewRegistry creates a registry. A non-positive grace uses DefaultEndedGrace.
func NewRegistry(grace time.Duration) *Registry {
	if grace <= 0 {
		grace = DefaultEndedGrace
	}
	return &Registry{
		calls: make(map[string]*registryEntry),
		grace: grace,
		now:   time.Now,
	}
}

// Insert registers a new call.
func (r *Registry) Insert(call ActiveCall) error {
	if call.ID == "" {
		return ErrInvalidID
	}
	if call.UpdatedAt.IsZero() {
		call.UpdatedAt = r.now()
	}
	call.Collected = maps.Clone(call.Collected)
	if call.Collected == nil {
		call.Collected = map[string]string{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.ID]; ok {
		return ErrDuplicateCall
	}
	r.calls[call.ID] = &registryEntry{call: call}
	return nil
}

// Get returns a copy of the call.
func (r *Registry) Get(id string) (ActiveCall, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.calls[id]
	if !ok {
		return ActiveCall{}, false
	}
	return e.call.clone(), true
}

// List returns copies of all registered calls, oldest first.
func (r *Registry) List() []ActiveCall {
	r.mu.RLock()
	out := make([]ActiveCall, 0, len(r.calls))
	for _, e := range r.calls {
		out = append(out, e.call.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Active counts calls that have not ended.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.calls {
		if !e.call.Ended() {
			n++
		}
	}
	return n
}

// MarkEnded records the final state of a call and schedules its removal
// after the grace period. Marking twice restarts the grace period.
func (r *Registry) MarkEnded(snap dialogue.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.calls[snap.ID]
	if !ok {
		return
	}
	e.call.State = snap.State
	e.call.EndReason = snap.EndReason
	e.call.Exchanges = snap.Exchanges
	e.call.Completion = snap.Completion
	e.call.Collected = snap.CollectedValues()
	e.call.EndedAt = snap.EndTime
	if e.call.EndedAt.IsZero() {
		e.call.EndedAt = r.now()
	}
	e.call.UpdatedAt = r.now()
	r.scheduleRemoval(snap.ID, e)
}

// scheduleRemoval must be called with the lock held.
func (r *Registry) scheduleRemoval(id string, e *registryEntry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.calls[id]; ok && cur == e {
			delete(r.calls, id)
		}
	})
}

// Remove drops a call immediately.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.calls[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(r.calls, id)
	return true
}

// CleanupStale removes ended calls that ended more than olderThan ago, and
// calls that have seen no event for olderThan.
func (r *Registry) CleanupStale(olderThan time.Duration) int {
	cutoff := r.now().Add(-olderThan)
	removed := 0

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.calls {
		stale := e.call.UpdatedAt.Before(cutoff)
		if e.call.Ended() {
			stale = e.call.EndedAt.Before(cutoff)
		}
		if stale {
			if e.timer != nil {
				e.timer.Stop()
			}
			delete(r.calls, id)
			removed++
		}
	}

	return removed
}

// Handle follows call events. Register it on the event bus with
// bus.SubscribeAll(registry.Handle).
func (r *Registry) Handle(evt *events.Event) {
	if evt == nil || evt.CallID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.calls[evt.CallID]
	if !ok {
		return
	}
	e.call.UpdatedAt = evt.Timestamp

	switch data := evt.Data.(type) {
	case events.StateChangedData:
		e.call.State = dialogue.State(data.To)
	case events.FieldCollectedData:
		e.call.Collected[data.Field] = data.Value
		e.call.Completion = data.Completion
	case events.UtteranceData:
		if data.IsFinal {
			e.call.Exchanges++
		}
	case events.CallEndedData:
		e.call.State = dialogue.StateEnded
		e.call.EndReason = dialogue.EndReason(data.Reason)
		e.call.Exchanges = data.Exchanges
		e.call.Completion = data.Completion
		if len(data.Fields) > 0 {
			e.call.Collected = maps.Clone(data.Fields)
		}
		if e.call.EndedAt.IsZero() {
			e.call.EndedAt = evt.Timestamp
		}
		r.scheduleRemoval(evt.CallID, e)
	}
}

// Close stops pending removal timers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.calls {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}

func (c ActiveCall) clone() ActiveCall {
	c.Collected = maps.Clone(c.Collected)
	return c
}
