package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Guo-collabhash/SIweidaotu/internal/mindmaps"
	"github.com/Guo-collabhash/SIweidaotu/internal/upload"
	"github.com/Guo-collabhash/SIweidaotu/pkg/types"
)

func handleUploadInit(uploadManager *upload.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.UploadInitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "mindmap name is required",
				Details: err.Error(),
			})
			return
		}

		userID, ok := parseOptionalUserID(c, req.UserID)
		if !ok {
			return
		}

		uploadID, err := uploadManager.Register(req.Name, userID, req.TotalSize, req.ChunkCount)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"uploadId": uploadID,
			"message":  "upload initialized",
		})
	}
}

func handleUploadChunk(uploadManager *upload.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.UploadChunkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "uploadId is required",
				Details: err.Error(),
			})
			return
		}

		status, err := uploadManager.IngestChunk(req.UploadID, req.ChunkIndex, req.ChunkData)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"uploadId":   req.UploadID,
			"chunkIndex": req.ChunkIndex,
			"received":   status.Received,
			"total":      status.Total,
			"isComplete": status.IsComplete,
		})
	}
}

func handleUploadComplete(uploadManager *upload.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.UploadCompleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "uploadId is required",
				Details: err.Error(),
			})
			return
		}

		record, fellBack, err := uploadManager.Complete(c.Request.Context(), req.UploadID)
		if err != nil {
			writeCompleteError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"message": saveResultMessage(fellBack),
			"data":    record,
		})
	}
}

// writeCompleteError maps completion failures onto the HTTP surface: bad
// session state is the client's fault, store-policy rejection is 403, and
// anything else is internal
func writeCompleteError(c *gin.Context, err error) {
	var malformed *upload.MalformedPayloadError
	switch {
	case errors.Is(err, upload.ErrSessionNotFound), errors.Is(err, upload.ErrIncompleteUpload):
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
	case errors.As(err, &malformed):
		c.JSON(http.StatusBadRequest, types.MalformedPayloadResponse{
			Error:      "invalid JSON data",
			Details:    malformed.Detail,
			DataType:   "string",
			DataLength: malformed.DataLength,
		})
	case errors.Is(err, mindmaps.ErrPolicyDenied):
		c.JSON(http.StatusForbidden, types.ErrorResponse{
			Error:   "save failed: check your login status or store permissions",
			Details: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "save failed",
			Details: err.Error(),
		})
	}
}
