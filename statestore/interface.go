// Package statestore keeps track of calls: the registry of calls in
// progress, and the record stores that finished calls are exported to.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Store persists exported call records.
type Store interface {
	// Save writes a record, replacing any earlier record with the same ID.
	Save(ctx context.Context, rec *CallRecord) error

	// Load returns the record for id, or ErrNotFound.
	Load(ctx context.Context, id string) (*CallRecord, error)

	// List returns records ordered by start time.
	List(ctx context.Context, opts ListOptions) ([]*CallRecord, error)

	// Delete removes a record. Deleting a missing record returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// ListOptions provides pagination for List.
type ListOptions struct {
	// Limit is the maximum number of records to return (default 100).
	Limit int

	// Offset is the number of records to skip.
	Offset int

	// SortOrder is "asc" or "desc" by start time. Defaults to "desc"
	// (newest first).
	SortOrder string
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return defaultListLimit
	}
	return o.Limit
}

func (o ListOptions) ascending() bool {
	return strings.EqualFold(o.SortOrder, SortAsc)
}

// ErrNotFound is returned when a call record doesn't exist in the store.
var ErrNotFound = errors.New("call not found")

// ErrInvalidID is returned when an empty call ID is provided.
var ErrInvalidID = errors.New("invalid call ID")

// ErrInvalidRecord is returned when a nil record is saved.
var ErrInvalidRecord = errors.New("invalid call record")

func validate(rec *CallRecord) error {
	if rec == nil {
		return ErrInvalidRecord
	}
	if rec.ID == "" {
		return ErrInvalidID
	}
	return nil
}

func encodeRecord(rec *CallRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*CallRecord, error) {
	var rec CallRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call record: %w", err)
	}
	return &rec, nil
}

// sortAndPage orders records by start time and applies pagination.
func sortAndPage(recs []*CallRecord, opts ListOptions) []*CallRecord {
	asc := opts.ascending()
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].StartTime, recs[j].StartTime
		if a.Equal(b) {
			if asc {
				return recs[i].ID < recs[j].ID
			}
			return recs[i].ID > recs[j].ID
		}
		if asc {
			return a.Before(b)
		}
		return a.After(b)
	})

	if opts.Offset >= len(recs) {
		return []*CallRecord{}
	}
	end := min(opts.Offset+opts.limit(), len(recs))
	return recs[opts.Offset:end]
}
