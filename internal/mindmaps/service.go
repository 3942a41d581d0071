package mindmaps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Guo-collabhash/SIweidaotu/internal/common"
	"github.com/Guo-collabhash/SIweidaotu/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no mindmap exists for a given ID
	ErrNotFound = errors.New("mindmap not found")

	// ErrPolicyDenied is returned when an insert is rejected by the
	// store's row-level ownership policy and the ownerless retry was
	// rejected as well
	ErrPolicyDenied = errors.New("save rejected by row-level security policy")
)

const (
	// DefaultChunkSize is the default range size for chunked reads
	DefaultChunkSize = 1 << 20

	summaryCacheTTL    = time.Minute
	allSummariesKey    = "mindmaps:summaries:all"
	userSummariesKeyFn = "mindmaps:summaries:user:%s"
)

// insufficientPrivilege is the SQLSTATE postgres raises when row-level
// security rejects a write.
const insufficientPrivilege = "42501"

// Service handles mindmap persistence and retrieval
type Service struct {
	db    *common.Database
	cache *common.Cache

	// policyCheck classifies a store error as a row-level ownership
	// rejection, swappable for non-postgres stores and tests
	policyCheck func(error) bool
}

// NewService creates a new mindmap service. The cache may be nil, in which
// case listings always hit the database.
func NewService(db *common.Database, cache *common.Cache) *Service {
	return &Service{
		db:          db,
		cache:       cache,
		policyCheck: isPolicyViolation,
	}
}

// isPolicyViolation reports whether err is a row-level ownership rejection.
// The SQLSTATE check is authoritative for postgres; the message check covers
// stores that only surface the policy name in text.
func isPolicyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == insufficientPrivilege
	}
	return err != nil && strings.Contains(err.Error(), "row-level security")
}

// Save persists a new mindmap record. When the insert is rejected by the
// store's ownership policy and an owner was set, it retries exactly once
// without the owner association; fellBack reports that the retry was the
// insert that succeeded.
func (s *Service) Save(ctx context.Context, name, data string, userID *uuid.UUID) (record *types.Mindmap, fellBack bool, err error) {
	m := &types.Mindmap{
		Name:   name,
		Data:   data,
		UserID: userID,
	}

	err = s.db.WithContext(ctx).Create(m).Error
	if err == nil {
		s.invalidateSummaries(ctx, userID)
		log.Info().
			Str("mindmap_id", m.ID.String()).
			Str("name", name).
			Int("size", len(data)).
			Msg("saved mindmap")
		return m, false, nil
	}

	if userID == nil || !s.policyCheck(err) {
		return nil, false, fmt.Errorf("failed to save mindmap: %w", err)
	}

	log.Warn().
		Err(err).
		Str("name", name).
		Str("user_id", userID.String()).
		Msg("ownership policy rejected insert, retrying without user association")

	retry := &types.Mindmap{
		Name: name,
		Data: data,
	}
	if retryErr := s.db.WithContext(ctx).Create(retry).Error; retryErr != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrPolicyDenied, retryErr)
	}

	s.invalidateSummaries(ctx, userID)
	log.Info().
		Str("mindmap_id", retry.ID.String()).
		Str("name", name).
		Msg("saved mindmap without user association")
	return retry, true, nil
}

// List returns summaries of all mindmaps, newest first
func (s *Service) List(ctx context.Context) ([]types.MindmapSummary, error) {
	return s.listSummaries(ctx, allSummariesKey, nil)
}

// ListByUser returns summaries of one user's mindmaps, newest first
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]types.MindmapSummary, error) {
	return s.listSummaries(ctx, fmt.Sprintf(userSummariesKeyFn, userID), &userID)
}

func (s *Service) listSummaries(ctx context.Context, cacheKey string, userID *uuid.UUID) ([]types.MindmapSummary, error) {
	if s.cache != nil {
		var cached []types.MindmapSummary
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	query := s.db.WithContext(ctx).
		Model(&types.Mindmap{}).
		Select("id", "name", "created_at", "user_id").
		Order("created_at DESC")
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}

	summaries := []types.MindmapSummary{}
	if err := query.Find(&summaries).Error; err != nil {
		return nil, fmt.Errorf("failed to list mindmaps: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, summaries, summaryCacheTTL); err != nil {
			log.Warn().Err(err).Str("key", cacheKey).Msg("failed to cache mindmap summaries")
		}
	}

	return summaries, nil
}

func (s *Service) invalidateSummaries(ctx context.Context, userID *uuid.UUID) {
	if s.cache == nil {
		return
	}
	keys := []string{allSummariesKey}
	if userID != nil {
		keys = append(keys, fmt.Sprintf(userSummariesKeyFn, *userID))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		log.Warn().Err(err).Msg("failed to invalidate mindmap summary cache")
	}
}

// GetInfo returns a mindmap's summary plus the byte size of its payload
func (s *Service) GetInfo(ctx context.Context, id uuid.UUID) (*types.MindmapInfo, error) {
	m, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	return &types.MindmapInfo{
		MindmapSummary: summaryOf(m),
		Size:           int64(len(m.Data)),
	}, nil
}

// GetChunk returns one byte range of a mindmap's payload. A chunkSize of
// zero or less falls back to DefaultChunkSize; the range is clamped to the
// payload bounds.
func (s *Service) GetChunk(ctx context.Context, id uuid.UUID, start, chunkSize int) (*types.MindmapSummary, *types.DataChunk, error) {
	m, err := s.get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	total := len(m.Data)
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + chunkSize
	if end > total {
		end = total
	}

	summary := summaryOf(m)
	return &summary, &types.DataChunk{
		Start: start,
		End:   end,
		Total: total,
		Data:  m.Data[start:end],
	}, nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*types.Mindmap, error) {
	var m types.Mindmap
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mindmap: %w", err)
	}
	return &m, nil
}

func summaryOf(m *types.Mindmap) types.MindmapSummary {
	return types.MindmapSummary{
		ID:        m.ID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		UserID:    m.UserID,
	}
}
