package statestore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/callkit/dialogue"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testRecord(id string, started time.Time) *CallRecord {
	return NewCallRecord(dialogue.Snapshot{
		ID:        id,
		CallSID:   "CA" + id,
		StreamSID: "MZ" + id,
		State:     dialogue.StateEnded,
		Fields: map[string]dialogue.CollectedField{
			"hours":   {Value: "6am-10pm", Confidence: 0.9, Source: "We are open 6am to 10pm"},
			"classes": {List: []string{"yoga", "spin"}, Confidence: 0.8},
		},
		Transcript: []dialogue.Utterance{
			{Speaker: dialogue.SpeakerAgent, Text: "What are your operating hours?", Kind: dialogue.KindOpening},
			{Speaker: dialogue.SpeakerCaller, Text: "We are open 6am to 10pm", Confidence: 0.9, IsFinal: true},
		},
		Exchanges:  1,
		Completion: 0.5,
		StartTime:  started,
		EndTime:    started.Add(90 * time.Second),
		EndReason:  dialogue.EndComplete,
	})
}

// storeContract exercises the Store behaviour shared by every backend.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("LoadNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidID)
		assert.ErrorIs(t, s.Save(ctx, nil), ErrInvalidRecord)
		assert.ErrorIs(t, s.Save(ctx, &CallRecord{}), ErrInvalidID)
		assert.ErrorIs(t, s.Delete(ctx, ""), ErrInvalidID)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, testRecord("c1", baseTime)))

		got, err := s.Load(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "CAc1", got.CallSID)
		assert.Equal(t, dialogue.EndComplete, got.EndReason)
		assert.Equal(t, "6am-10pm", got.Fields["hours"].Value)
		assert.Equal(t, []string{"yoga", "spin"}, got.Fields["classes"].List)
		assert.Equal(t, "yoga, spin", got.Collected["classes"])
		assert.Len(t, got.Transcript, 2)
		assert.True(t, got.StartTime.Equal(baseTime))
		assert.False(t, got.SavedAt.IsZero())
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		s := newStore(t)
		rec := testRecord("c1", baseTime)
		require.NoError(t, s.Save(ctx, rec))
		rec.Exchanges = 4
		require.NoError(t, s.Save(ctx, rec))

		got, err := s.Load(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 4, got.Exchanges)

		all, err := s.List(ctx, ListOptions{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("LoadReturnsCopy", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, testRecord("c1", baseTime)))
		got, err := s.Load(ctx, "c1")
		require.NoError(t, err)
		got.Collected["hours"] = "changed"

		again, err := s.Load(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "6am-10pm", again.Collected["hours"])
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, testRecord("c1", baseTime)))
		require.NoError(t, s.Delete(ctx, "c1"))
		_, err := s.Load(ctx, "c1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "c1"), ErrNotFound)
	})

	t.Run("ListOrderAndPagination", func(t *testing.T) {
		s := newStore(t)
		for i := range 5 {
			id := fmt.Sprintf("c%d", i)
			require.NoError(t, s.Save(ctx, testRecord(id, baseTime.Add(time.Duration(i)*time.Minute))))
		}

		newest, err := s.List(ctx, ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, newest, 2)
		assert.Equal(t, "c4", newest[0].ID)
		assert.Equal(t, "c3", newest[1].ID)

		page, err := s.List(ctx, ListOptions{Limit: 2, Offset: 2, SortOrder: SortAsc})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "c2", page[0].ID)
		assert.Equal(t, "c3", page[1].ID)

		past, err := s.List(ctx, ListOptions{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, past)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestBadgerStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := NewBadgerStore(BadgerOptions{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBadgerStore_RequiresDir(t *testing.T) {
	_, err := NewBadgerStore(BadgerOptions{})
	assert.Error(t, err)
}

func TestBadgerStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBadgerStore(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, testRecord("c1", baseTime)))
	require.NoError(t, s.Close())

	reopened, err := NewBadgerStore(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "6am-10pm", got.Collected["hours"])
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i%5)
			_ = s.Save(ctx, testRecord(id, baseTime))
			_, _ = s.Load(ctx, id)
			_, _ = s.List(ctx, ListOptions{})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, s.Len())
}
