package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/store"
)

type ChannelRequest struct {
	Type     models.ChannelType `json:"type" validate:"required,oneof=webchat whatsapp instagram facebook marketplace email"`
	Name     string             `json:"name" validate:"required,max=120"`
	Config   map[string]any     `json:"config"`
	IsActive *bool              `json:"is_active"`
}

func (h *Handler) ChannelsList(c *gin.Context) {
	items, err := h.Store.ListChannels(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, "Failed to list channels", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) ChannelCreate(c *gin.Context) {
	var req ChannelRequest
	if !h.bind(c, &req) {
		return
	}
	ch := models.Channel{
		ID:       uuid.NewString(),
		TenantID: tenantID(c),
		Type:     req.Type,
		Name:     req.Name,
		Config:   req.Config,
		IsActive: req.IsActive == nil || *req.IsActive,
	}
	if err := h.Store.SaveChannel(c.Request.Context(), &ch); err != nil {
		h.fail(c, "Failed to save channel", err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

// ChannelUpdate replaces name, config and the active flag. The type is fixed at creation.
func (h *Handler) ChannelUpdate(c *gin.Context) {
	var req ChannelRequest
	if !h.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	ch, err := h.Store.GetChannel(ctx, c.Param("id"))
	if err == nil && ch.TenantID != tenantID(c) {
		err = store.ErrNotFound
	}
	if err != nil {
		h.fail(c, "Channel not found", err)
		return
	}
	if req.Type != ch.Type {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Channel type cannot change", nil)
		return
	}
	ch.Name = req.Name
	ch.Config = req.Config
	if req.IsActive != nil {
		ch.IsActive = *req.IsActive
	}
	if err := h.Store.SaveChannel(ctx, &ch); err != nil {
		h.fail(c, "Failed to save channel", err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// loadChannel resolves a webhook's channel and checks it has the expected type.
func (h *Handler) loadChannel(c *gin.Context, types ...models.ChannelType) (models.Channel, bool) {
	ch, err := h.Store.GetChannel(c.Request.Context(), c.Param("channelId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Channel not found", nil)
		} else {
			h.fail(c, "Failed to load channel", err)
		}
		return models.Channel{}, false
	}
	for _, t := range types {
		if ch.Type == t {
			return ch, true
		}
	}
	writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Channel type does not accept this webhook", string(ch.Type))
	return models.Channel{}, false
}
