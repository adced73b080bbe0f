package dialogue

import (
	"sync"
	"time"
)

// Activity is one voice-activity reading of the caller's audio.
type Activity struct {
	IsSpeech bool
	Level    float64
	// Silence is the continuous caller silence.
	Silence time.Duration
	// SpeechRun is the continuous caller speech.
	SpeechRun time.Duration
	// Position is the stream offset of the reading.
	Position time.Duration
}

// ActivityMonitor hands the latest Activity from the frame receiver to the
// orchestrator. Update never blocks; readings between two reads coalesce,
// but the longest speech run among them is kept so short speech bursts
// are not lost.
type ActivityMonitor struct {
	mu      sync.Mutex
	latest  Activity
	peakRun time.Duration
	updated bool
	notify  chan struct{}
}

// NewActivityMonitor creates an empty monitor.
func NewActivityMonitor() *ActivityMonitor {
	return &ActivityMonitor{notify: make(chan struct{}, 1)}
}

// Update records a reading.
func (m *ActivityMonitor) Update(a Activity) {
	m.mu.Lock()
	m.latest = a
	m.peakRun = max(m.peakRun, a.SpeechRun)
	m.updated = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// C fires after one or more updates.
func (m *ActivityMonitor) C() <-chan struct{} {
	return m.notify
}

// Latest returns the newest reading. SpeechRun is the longest run seen
// since the previous call. ok is false when nothing arrived since then.
func (m *ActivityMonitor) Latest() (a Activity, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok = m.latest, m.updated
	a.SpeechRun = max(a.SpeechRun, m.peakRun)
	m.peakRun = 0
	m.updated = false
	return a, ok
}
