package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Guo-collabhash/SIweidaotu/internal/mindmaps"
	"github.com/Guo-collabhash/SIweidaotu/pkg/types"
)

// parseOptionalUserID turns a client-asserted userId into a UUID pointer.
// Empty means anonymous; a malformed value is rejected since it can never
// match a user row. Writes the 400 response itself on failure.
func parseOptionalUserID(c *gin.Context, raw string) (*uuid.UUID, bool) {
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid userId",
			Details: err.Error(),
		})
		return nil, false
	}
	return &id, true
}

func saveResultMessage(fellBack bool) string {
	if fellBack {
		return "mindmap saved (not associated with a user)"
	}
	return "mindmap saved"
}

func handleSaveMindmap(mindmapService *mindmaps.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.SaveMindmapRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "mindmap data and name are required",
				Details: err.Error(),
			})
			return
		}

		userID, ok := parseOptionalUserID(c, req.UserID)
		if !ok {
			return
		}

		record, fellBack, err := mindmapService.Save(c.Request.Context(), req.Name, string(req.Data), userID)
		if err != nil {
			if errors.Is(err, mindmaps.ErrPolicyDenied) {
				c.JSON(http.StatusForbidden, types.ErrorResponse{
					Error:   "save failed: check your login status or store permissions",
					Details: err.Error(),
				})
				return
			}
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{
				Error:   "save failed",
				Details: err.Error(),
			})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"message": saveResultMessage(fellBack),
			"data":    record,
		})
	}
}

func handleListMindmaps(mindmapService *mindmaps.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		summaries, err := mindmapService.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"mindmaps": summaries})
	}
}

func handleListUserMindmaps(mindmapService *mindmaps.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.Param("userId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "invalid userId",
				Details: err.Error(),
			})
			return
		}

		summaries, err := mindmapService.ListByUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"mindmaps": summaries})
	}
}

func handleGetMindmapInfo(mindmapService *mindmaps.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "invalid mindmap id",
				Details: err.Error(),
			})
			return
		}

		info, err := mindmapService.GetInfo(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, mindmaps.ErrNotFound) {
				c.JSON(http.StatusNotFound, types.ErrorResponse{Error: err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"mindmap": info})
	}
}

func handleGetMindmapChunk(mindmapService *mindmaps.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "invalid mindmap id",
				Details: err.Error(),
			})
			return
		}

		start, _ := strconv.Atoi(c.DefaultQuery("start", "0"))
		chunkSize, _ := strconv.Atoi(c.DefaultQuery("chunkSize", "0"))

		summary, chunk, err := mindmapService.GetChunk(c.Request.Context(), id, start, chunkSize)
		if err != nil {
			if errors.Is(err, mindmaps.ErrNotFound) {
				c.JSON(http.StatusNotFound, types.ErrorResponse{Error: err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"mindmap": summary,
			"chunk":   chunk,
		})
	}
}
