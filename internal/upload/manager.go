package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Guo-collabhash/SIweidaotu/pkg/config"
	"github.com/Guo-collabhash/SIweidaotu/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Persister stores a fully reassembled mindmap payload. The fellBack result
// reports that the record was persisted without its owner association after
// an ownership-policy rejection.
type Persister interface {
	Save(ctx context.Context, name, data string, userID *uuid.UUID) (record *types.Mindmap, fellBack bool, err error)
}

// Manager owns the lifecycle of in-flight chunked uploads: registration,
// chunk ingestion, completion and TTL-based cleanup. Cross-session state is
// guarded by mu; per-session state by the session's own lock, so ingestion
// and completion for one session are serialized while independent sessions
// proceed concurrently.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	store         Persister
	sessionTTL    time.Duration
	sweepInterval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a session manager and starts its expiry sweeper
func NewManager(store Persister, cfg *config.UploadConfig) *Manager {
	m := &Manager{
		sessions:      make(map[string]*Session),
		store:         store,
		sessionTTL:    cfg.SessionTTL,
		sweepInterval: cfg.SweepInterval,
		stop:          make(chan struct{}),
	}

	go m.sweepRoutine()

	return m
}

// Register creates a new upload session and returns its ID
func (m *Manager) Register(name string, userID *uuid.UUID, totalSize int64, chunkCount int) (string, error) {
	if chunkCount < 1 {
		return "", fmt.Errorf("chunk count must be at least 1, got %d", chunkCount)
	}
	if totalSize < 0 {
		return "", fmt.Errorf("total size must not be negative, got %d", totalSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := newUploadID()
	for _, exists := m.sessions[id]; exists; _, exists = m.sessions[id] {
		id = newUploadID()
	}

	m.sessions[id] = newSession(id, name, userID, totalSize, chunkCount)

	log.Info().
		Str("upload_id", id).
		Str("name", name).
		Int("chunk_count", chunkCount).
		Int64("total_size", totalSize).
		Msg("registered upload session")

	return id, nil
}

// newUploadID builds a session identifier with a time prefix and a random
// suffix; uniqueness is still verified against live sessions at
// registration.
func newUploadID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString())
}

// IngestChunk stores one chunk payload at the given index. Re-uploading an
// index overwrites that slot without double-counting.
func (m *Manager) IngestChunk(id string, index int, data string) (*ChunkStatus, error) {
	session, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.completed {
		return nil, ErrSessionNotFound
	}
	if index < 0 || index >= session.ChunkCount {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidChunkIndex, index, session.ChunkCount)
	}

	session.chunks[index] = data
	session.received[index] = struct{}{}

	status := &ChunkStatus{
		Received:   len(session.received),
		Total:      session.ChunkCount,
		IsComplete: len(session.received) == session.ChunkCount,
	}

	log.Debug().
		Str("upload_id", id).
		Int("chunk_index", index).
		Int("received", status.Received).
		Int("total", status.Total).
		Msg("ingested chunk")

	return status, nil
}

// Complete reassembles the session's chunks in index order, validates the
// merged payload as JSON and persists it. On success the session is
// removed; on any failure it is left intact.
func (m *Manager) Complete(ctx context.Context, id string) (record *types.Mindmap, fellBack bool, err error) {
	session, err := m.lookup(id)
	if err != nil {
		return nil, false, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.completed {
		return nil, false, ErrSessionNotFound
	}
	if len(session.received) != session.ChunkCount {
		return nil, false, fmt.Errorf("%w: %d of %d", ErrIncompleteUpload, len(session.received), session.ChunkCount)
	}

	// Concatenation must follow index order, not arrival order, to
	// reproduce the original byte sequence
	var merged strings.Builder
	for i := 0; i < session.ChunkCount; i++ {
		merged.WriteString(session.chunks[i])
	}
	data := merged.String()

	if data == "" {
		return nil, false, &MalformedPayloadError{Detail: "merged payload is empty"}
	}
	if !json.Valid([]byte(data)) {
		return nil, false, &MalformedPayloadError{
			Detail:     "merged payload is not well-formed JSON",
			DataLength: len(data),
		}
	}

	// TotalSize is advisory only; see DESIGN.md
	if session.TotalSize > 0 && session.TotalSize != int64(len(data)) {
		log.Warn().
			Str("upload_id", id).
			Int64("declared_size", session.TotalSize).
			Int("merged_size", len(data)).
			Msg("declared total size does not match merged payload")
	}

	record, fellBack, err = m.store.Save(ctx, session.Name, data, session.UserID)
	if err != nil {
		return nil, false, err
	}

	session.completed = true

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	log.Info().
		Str("upload_id", id).
		Str("mindmap_id", record.ID.String()).
		Int("size", len(data)).
		Bool("fell_back", fellBack).
		Msg("completed upload session")

	return record, fellBack, nil
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Close stops the expiry sweeper
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) sweepRoutine() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stop:
			return
		}
	}
}

// sweepExpired removes sessions older than the TTL regardless of how many
// chunks they have received. CreatedAt is write-once, so expiry is decided
// under the registry lock alone; session locks are only taken afterwards,
// never while holding m.mu (Complete acquires the two in the other order).
func (m *Manager) sweepExpired() {
	cutoff := time.Now().Add(-m.sessionTTL)

	m.mu.Lock()
	var expired []*Session
	for id, session := range m.sessions {
		if session.CreatedAt.Before(cutoff) {
			delete(m.sessions, id)
			expired = append(expired, session)
		}
	}
	m.mu.Unlock()

	for _, session := range expired {
		session.mu.Lock()
		received, total := len(session.received), session.ChunkCount
		session.mu.Unlock()

		log.Info().
			Str("upload_id", session.ID).
			Int("received", received).
			Int("total", total).
			Msg("removed abandoned upload session")
	}
}
