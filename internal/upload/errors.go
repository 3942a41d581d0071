package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when the session ID is unknown,
	// including sessions already completed or swept
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrInvalidChunkIndex is returned when a chunk index falls outside
	// [0, chunkCount)
	ErrInvalidChunkIndex = errors.New("invalid chunk index")

	// ErrIncompleteUpload is returned when completion is requested before
	// every chunk has been received
	ErrIncompleteUpload = errors.New("not all chunks have been received")
)

// MalformedPayloadError reports that a fully reassembled payload is empty
// or not valid JSON. The session is left intact when it is returned.
type MalformedPayloadError struct {
	Detail     string
	DataLength int
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("invalid JSON data: %s (length %d)", e.Detail, e.DataLength)
}
