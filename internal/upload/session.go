package upload

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one in-flight chunked upload. Chunk slots are fixed at
// registration; a slot may be overwritten by re-uploading its index but the
// received set never shrinks. All mutable fields are guarded by mu.
type Session struct {
	mu sync.Mutex

	ID         string
	Name       string
	UserID     *uuid.UUID
	TotalSize  int64
	ChunkCount int
	CreatedAt  time.Time

	chunks    []string
	received  map[int]struct{}
	completed bool
}

// ChunkStatus reports the state of a session after a chunk was ingested
type ChunkStatus struct {
	Received   int
	Total      int
	IsComplete bool
}

func newSession(id, name string, userID *uuid.UUID, totalSize int64, chunkCount int) *Session {
	return &Session{
		ID:         id,
		Name:       name,
		UserID:     userID,
		TotalSize:  totalSize,
		ChunkCount: chunkCount,
		CreatedAt:  time.Now(),
		chunks:     make([]string, chunkCount),
		received:   make(map[int]struct{}, chunkCount),
	}
}
