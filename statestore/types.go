package statestore

import (
	"time"

	"github.com/AltairaLabs/callkit/dialogue"
)

// Sort orders for ListOptions.SortOrder.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// defaultTTLHours is the default TTL for exported call records (24 hours).
const defaultTTLHours = 24

// defaultListLimit applies when ListOptions.Limit is zero.
const defaultListLimit = 100

// CallRecord is the exported form of a call: the session snapshot plus the
// display values of every collected field.
type CallRecord struct {
	dialogue.Snapshot
	Collected map[string]string `json:"collected"`
	SavedAt   time.Time         `json:"saved_at"`
}

// NewCallRecord builds a record from a session snapshot.
func NewCallRecord(snap dialogue.Snapshot) *CallRecord {
	return &CallRecord{
		Snapshot:  snap,
		Collected: snap.CollectedValues(),
	}
}
