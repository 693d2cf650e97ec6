package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/channels"
	"github.com/omnidesk/backend/internal/http/middleware"
	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/service"
	"github.com/omnidesk/backend/internal/store"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// PackFetcher reads marketplace conversation packs for the webhook.
type PackFetcher interface {
	FetchPackMessages(ctx context.Context, packID string) (channels.PackMessages, error)
	SellerID() string
}

type Handler struct {
	Store         store.Repository
	Pinger        Pinger
	Conversations *service.ConversationService
	Router        *service.Router
	Transfers     *service.TransferManager
	Queue         *service.QueueManager
	Processing    *service.ProcessingService
	Departments   *service.DepartmentService
	Agents        *service.AgentService
	Inbox         *service.Inbox
	Presence      service.OnlineAgents
	// Marketplace builds a pack reader for a marketplace channel.
	Marketplace     func(ch models.Channel) (PackFetcher, error)
	Validator       *validator.Validate
	Logger          zerolog.Logger
	MetaVerifyToken string
}

func (h *Handler) Healthz(c *gin.Context) {
	if h.Pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := h.Pinger.Ping(ctx); err != nil {
			writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// bind decodes the JSON body and runs struct validation.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return false
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}

// fail renders a service error with the status its cause calls for.
func (h *Handler) fail(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", message, err.Error())
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, store.ErrConflict):
		writeError(c, http.StatusConflict, "INVALID_STATE", message, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", message, err.Error())
	default:
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg(message)
		writeError(c, http.StatusInternalServerError, "DB_ERROR", message, err.Error())
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func tenantID(c *gin.Context) string {
	return middleware.TenantID(c)
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
