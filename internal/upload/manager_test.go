package upload

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Guo-collabhash/SIweidaotu/pkg/config"
	"github.com/Guo-collabhash/SIweidaotu/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records every persisted payload and can be told to fail
type fakeStore struct {
	mu       sync.Mutex
	saved    []types.Mindmap
	saveErr  error
	fellBack bool
	calls    int32
}

func (f *fakeStore) Save(ctx context.Context, name, data string, userID *uuid.UUID) (*types.Mindmap, bool, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.saveErr != nil {
		return nil, false, f.saveErr
	}

	record := types.Mindmap{
		ID:        uuid.New(),
		Name:      name,
		Data:      data,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	f.mu.Lock()
	f.saved = append(f.saved, record)
	f.mu.Unlock()
	return &record, f.fellBack, nil
}

func setupManager(t *testing.T) (*Manager, *fakeStore) {
	store := &fakeStore{}
	m := NewManager(store, &config.UploadConfig{
		SessionTTL:    time.Hour,
		SweepInterval: time.Hour,
	})
	t.Cleanup(m.Close)
	return m, store
}

func TestRegister_ValidatesChunkCount(t *testing.T) {
	m, _ := setupManager(t)

	for _, count := range []int{0, -1, -100} {
		_, err := m.Register("map", nil, 10, count)
		assert.Error(t, err, "chunk count %d must be rejected", count)
	}

	id, err := m.Register("map", nil, 10, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestRegister_UniqueIDs(t *testing.T) {
	m, _ := setupManager(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := m.Register("map", nil, 0, 1)
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate upload id %s", id)
		seen[id] = true
	}
}

func TestIngestChunk_UnknownSession(t *testing.T) {
	m, _ := setupManager(t)

	_, err := m.IngestChunk("no-such-session", 0, "data")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestIngestChunk_InvalidIndex(t *testing.T) {
	m, _ := setupManager(t)

	id, err := m.Register("map", nil, 0, 3)
	require.NoError(t, err)

	for _, index := range []int{-1, 3, 100} {
		_, err := m.IngestChunk(id, index, "data")
		assert.ErrorIs(t, err, ErrInvalidChunkIndex, "index %d", index)
	}

	// A rejected index must not advance session state
	status, err := m.IngestChunk(id, 0, "data")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Received)
}

func TestIngestChunk_Progress(t *testing.T) {
	m, _ := setupManager(t)

	id, err := m.Register("map", nil, 0, 3)
	require.NoError(t, err)

	status, err := m.IngestChunk(id, 1, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Received)
	assert.Equal(t, 3, status.Total)
	assert.False(t, status.IsComplete)

	status, err = m.IngestChunk(id, 0, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Received)
	assert.False(t, status.IsComplete)

	status, err = m.IngestChunk(id, 2, "c")
	require.NoError(t, err)
	assert.Equal(t, 3, status.Received)
	assert.True(t, status.IsComplete)
}

func TestIngestChunk_RepeatIndexIdempotent(t *testing.T) {
	m, store := setupManager(t)

	id, err := m.Register("map", nil, 0, 2)
	require.NoError(t, err)

	status, err := m.IngestChunk(id, 0, `{"v":`)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Received)

	// Re-upload of the same index overwrites the slot without double-counting
	status, err = m.IngestChunk(id, 0, `{"v2":`)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Received)

	_, err = m.IngestChunk(id, 1, `1}`)
	require.NoError(t, err)

	_, _, err = m.Complete(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, `{"v2":1}`, store.saved[0].Data, "later payload for a repeated index wins")
}

func TestComplete_OutOfOrderArrival(t *testing.T) {
	m, store := setupManager(t)

	id, err := m.Register("map", nil, 0, 3)
	require.NoError(t, err)

	// Arrival order 2, 0, 1; merge must follow index order
	_, err = m.IngestChunk(id, 2, `3]`)
	require.NoError(t, err)
	_, err = m.IngestChunk(id, 0, `[1,`)
	require.NoError(t, err)
	_, err = m.IngestChunk(id, 1, `2,`)
	require.NoError(t, err)

	record, fellBack, err := m.Complete(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, fellBack)
	assert.Equal(t, `[1,2,3]`, record.Data)
	require.Len(t, store.saved, 1)
}

func TestComplete_AnyPermutation(t *testing.T) {
	m, store := setupManager(t)
	ctx := context.Background()

	const chunkCount = 8
	chunks := make([]string, chunkCount)
	for i := range chunks {
		if i == chunkCount-1 {
			chunks[i] = fmt.Sprintf("%d]}", i)
		} else {
			chunks[i] = fmt.Sprintf("%d,", i)
		}
	}
	chunks[0] = `{"parts":[` + chunks[0]
	want := `{"parts":[0,1,2,3,4,5,6,7]}`

	for trial := 0; trial < 5; trial++ {
		id, err := m.Register("map", nil, int64(len(want)), chunkCount)
		require.NoError(t, err)

		perm := rand.Perm(chunkCount)
		for _, index := range perm {
			_, err := m.IngestChunk(id, index, chunks[index])
			require.NoError(t, err)
		}

		record, _, err := m.Complete(ctx, id)
		require.NoError(t, err, "permutation %v", perm)
		assert.Equal(t, want, record.Data, "permutation %v", perm)
	}
	assert.Len(t, store.saved, 5)
}

func TestComplete_Incomplete(t *testing.T) {
	m, store := setupManager(t)
	ctx := context.Background()

	id, err := m.Register("map", nil, 0, 2)
	require.NoError(t, err)
	_, err = m.IngestChunk(id, 0, `{}`)
	require.NoError(t, err)

	_, _, err = m.Complete(ctx, id)
	assert.ErrorIs(t, err, ErrIncompleteUpload)
	assert.Zero(t, atomic.LoadInt32(&store.calls))

	// The session stays resumable: supply the missing chunk and complete
	_, err = m.IngestChunk(id, 1, ``)
	require.NoError(t, err)
	_, _, err = m.Complete(ctx, id)
	require.NoError(t, err)
}

func TestComplete_MalformedJSON(t *testing.T) {
	m, store := setupManager(t)
	ctx := context.Background()

	id, err := m.Register("map", nil, 0, 2)
	require.NoError(t, err)
	_, err = m.IngestChunk(id, 0, "not ")
	require.NoError(t, err)
	_, err = m.IngestChunk(id, 1, "json")
	require.NoError(t, err)

	_, _, err = m.Complete(ctx, id)

	var malformed *MalformedPayloadError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, len("not json"), malformed.DataLength)
	assert.Zero(t, atomic.LoadInt32(&store.calls))

	// The session is left intact (practically terminal, but inspectable)
	status, err := m.IngestChunk(id, 0, "still ")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Received)
}

func TestComplete_EmptyPayload(t *testing.T) {
	m, _ := setupManager(t)

	id, err := m.Register("map", nil, 0, 1)
	require.NoError(t, err)
	_, err = m.IngestChunk(id, 0, "")
	require.NoError(t, err)

	_, _, err = m.Complete(context.Background(), id)

	var malformed *MalformedPayloadError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 0, malformed.DataLength)
}

func TestComplete_RemovesSession(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	id, err := m.Register("map", nil, 0, 1)
	require.NoError(t, err)
	_, err = m.IngestChunk(id, 0, `{"a":1}`)
	require.NoError(t, err)

	_, _, err = m.Complete(ctx, id)
	require.NoError(t, err)

	_, err = m.IngestChunk(id, 0, `{}`)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, _, err = m.Complete(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestComplete_PersistFailureKeepsSession(t *testing.T) {
	m, store := setupManager(t)
	ctx := context.Background()

	id, err := m.Register("map", nil, 0, 1)
	require.NoError(t, err)
	_, err = m.IngestChunk(id, 0, `{"a":1}`)
	require.NoError(t, err)

	store.saveErr = errors.New("store unavailable")
	_, _, err = m.Complete(ctx, id)
	require.Error(t, err)

	// Once the store recovers, the same session can still complete
	store.saveErr = nil
	record, _, err := m.Complete(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, record.Data)
}

func TestComplete_PreservesOwner(t *testing.T) {
	m, store := setupManager(t)

	userID := uuid.New()
	id, err := m.Register("owned map", &userID, 0, 1)
	require.NoError(t, err)
	_, err = m.IngestChunk(id, 0, `{}`)
	require.NoError(t, err)

	record, _, err := m.Complete(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, record.UserID)
	assert.Equal(t, userID, *record.UserID)
	assert.Equal(t, "owned map", store.saved[0].Name)
}

func TestIngestChunk_ConcurrentDisjointIndices(t *testing.T) {
	m, store := setupManager(t)
	ctx := context.Background()

	const chunkCount = 64
	id, err := m.Register("map", nil, 0, chunkCount)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < chunkCount; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			payload := fmt.Sprintf("%d,", index)
			switch index {
			case 0:
				payload = fmt.Sprintf("[%d,", index)
			case chunkCount - 1:
				payload = fmt.Sprintf("%d]", index)
			}
			_, err := m.IngestChunk(id, index, payload)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	record, _, err := m.Complete(ctx, id)
	require.NoError(t, err)

	want := "[0,"
	for i := 1; i < chunkCount-1; i++ {
		want += fmt.Sprintf("%d,", i)
	}
	want += fmt.Sprintf("%d]", chunkCount-1)
	assert.Equal(t, want, record.Data, "no chunk may be lost under concurrent ingestion")
	assert.Len(t, store.saved, 1)
}

func TestComplete_ConcurrentDoubleComplete(t *testing.T) {
	m, store := setupManager(t)
	ctx := context.Background()

	id, err := m.Register("map", nil, 0, 1)
	require.NoError(t, err)
	_, err = m.IngestChunk(id, 0, `{"a":1}`)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, _, errs[slot] = m.Complete(ctx, id)
		}(i)
	}
	wg.Wait()

	var successes, notFound int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrSessionNotFound):
			notFound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes, "exactly one completion must persist")
	assert.Equal(t, 1, notFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.calls))
	assert.Len(t, store.saved, 1)
}

func TestSweepExpired(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, &config.UploadConfig{
		SessionTTL:    10 * time.Millisecond,
		SweepInterval: time.Hour, // swept manually below
	})
	defer m.Close()

	stale, err := m.Register("stale", nil, 0, 2)
	require.NoError(t, err)
	_, err = m.IngestChunk(stale, 0, `{}`)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	fresh, err := m.Register("fresh", nil, 0, 1)
	require.NoError(t, err)

	m.sweepExpired()

	_, err = m.IngestChunk(stale, 1, `{}`)
	assert.ErrorIs(t, err, ErrSessionNotFound, "expired session must be reaped even mid-upload")

	_, err = m.IngestChunk(fresh, 0, `{}`)
	assert.NoError(t, err, "fresh session must survive the sweep")
}

func TestEndToEnd_ABCMerge(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	id, err := m.Register("abc", nil, 0, 3)
	require.NoError(t, err)

	// Quoted so the merged text "abc" is valid JSON while still exercising
	// index-ordered concatenation of out-of-order arrivals
	_, err = m.IngestChunk(id, 2, `c"`)
	require.NoError(t, err)
	_, err = m.IngestChunk(id, 0, `"a`)
	require.NoError(t, err)
	_, err = m.IngestChunk(id, 1, `b`)
	require.NoError(t, err)

	record, _, err := m.Complete(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, record.Data)
}
