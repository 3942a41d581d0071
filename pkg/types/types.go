package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents a registered account
type User struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null"`
	Username  string    `json:"username" gorm:"not null"`
	Password  string    `json:"-" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the user ID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Mindmap represents a persisted mindmap document. The serialized document
// is stored verbatim in Data; records are immutable once created.
type Mindmap struct {
	ID        uuid.UUID  `json:"id" gorm:"primaryKey"`
	Name      string     `json:"name" gorm:"not null"`
	Data      string     `json:"data" gorm:"not null"`
	UserID    *uuid.UUID `json:"user_id" gorm:"index"`
	CreatedAt time.Time  `json:"created_at"`
}

// BeforeCreate generates a UUID for the mindmap ID
func (m *Mindmap) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// MindmapSummary is the listing projection of a mindmap: everything except
// the document payload itself.
type MindmapSummary struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	UserID    *uuid.UUID `json:"user_id"`
}

// MindmapInfo is a summary plus the byte size of the stored payload, used
// by clients to plan ranged reads.
type MindmapInfo struct {
	MindmapSummary
	Size int64 `json:"size"`
}

// DataChunk is one byte range of a stored mindmap payload
type DataChunk struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Total int    `json:"total"`
	Data  string `json:"data"`
}

// RegisterRequest represents an account registration request
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Username string `json:"username" binding:"required"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SaveMindmapRequest is the single-shot (non-chunked) save request
type SaveMindmapRequest struct {
	Data   json.RawMessage `json:"data" binding:"required"`
	Name   string          `json:"name" binding:"required"`
	UserID string          `json:"userId"`
}

// UploadInitRequest registers a new chunked upload session
type UploadInitRequest struct {
	Name       string `json:"name" binding:"required"`
	UserID     string `json:"userId"`
	TotalSize  int64  `json:"totalSize"`
	ChunkCount int    `json:"chunkCount"`
}

// UploadChunkRequest carries one chunk of a session's payload
type UploadChunkRequest struct {
	UploadID   string `json:"uploadId" binding:"required"`
	ChunkIndex int    `json:"chunkIndex"`
	ChunkData  string `json:"chunkData"`
}

// UploadCompleteRequest finalizes a chunked upload session
type UploadCompleteRequest struct {
	UploadID string `json:"uploadId" binding:"required"`
}

// ErrorResponse is the error body shared by all routes
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// MalformedPayloadResponse is the diagnostic body returned when a
// reassembled upload is not valid JSON
type MalformedPayloadResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details"`
	DataType   string `json:"dataType"`
	DataLength int    `json:"dataLength"`
}
