package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/api/respond"
	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// store defines generation persistence used by the handlers.
type store interface {
	Create(ctx context.Context, gen model.Generation) (int64, error)
	Get(ctx context.Context, id int64) (model.Generation, error)
}

// Handler provides HTTP handlers for generation records.
type Handler struct {
	store store
}

// NewHandler creates a new Handler with the given store.
func NewHandler(s store) *Handler {
	return &Handler{store: s}
}

// CreateRequest is the body of POST /api/generations.
type CreateRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Prompt string `json:"prompt"`
}

// Create stores a pending generation that jobs can target.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	id, err := h.store.Create(c.Request.Context(), model.Generation{UserID: req.UserID, Prompt: req.Prompt})
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to create generation")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to create generation"))
		return
	}

	respond.Created(c, gin.H{"id": id})
}

// Get returns a generation by id.
func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return
	}

	gen, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrGenerationNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("generation not found"))
			return
		}

		zlog.Logger.Err(err).Int64("generation_id", id).Msg("failed to get generation")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to get generation"))
		return
	}

	respond.OK(c, gen)
}
