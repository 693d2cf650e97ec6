package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/omnidesk/backend/internal/models"
)

type AgentRequest struct {
	Name               string `json:"name" validate:"required,max=120"`
	Email              string `json:"email" validate:"omitempty,email"`
	MaxConcurrentChats int    `json:"max_concurrent_chats" validate:"min=0,max=100"`
}

func (h *Handler) AgentsList(c *gin.Context) {
	items, err := h.Agents.List(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, "Failed to list agents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) AgentCreate(c *gin.Context) {
	h.upsertAgent(c, "", http.StatusCreated)
}

func (h *Handler) AgentUpdate(c *gin.Context) {
	h.upsertAgent(c, c.Param("id"), http.StatusOK)
}

func (h *Handler) upsertAgent(c *gin.Context, id string, status int) {
	var req AgentRequest
	if !h.bind(c, &req) {
		return
	}
	a, err := h.Agents.Upsert(c.Request.Context(), models.Agent{
		ID:                 id,
		TenantID:           tenantID(c),
		Name:               req.Name,
		Email:              req.Email,
		MaxConcurrentChats: req.MaxConcurrentChats,
	})
	if err != nil {
		h.fail(c, "Failed to save agent", err)
		return
	}
	c.JSON(status, a)
}

type PresenceRequest struct {
	Status models.AgentStatus `json:"status" validate:"required,oneof=online away offline"`
}

// @Summary Change agent presence
// @Description Online and away agents become routable and trigger a queue pass
// @Tags agents
// @Accept json
// @Produce json
// @Param X-Tenant-Id header string true "Tenant"
// @Param id path string true "Agent ID"
// @Param body body PresenceRequest true "Status"
// @Success 200 {object} map[string]any
// @Router /api/agents/{id}/presence [post]
func (h *Handler) AgentPresence(c *gin.Context) {
	var req PresenceRequest
	if !h.bind(c, &req) {
		return
	}
	a, summary, err := h.Agents.SetPresence(c.Request.Context(), tenantID(c), c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, "Failed to update presence", err)
		return
	}
	resp := gin.H{"agent": a}
	if summary != nil {
		resp["queue"] = summary
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) AgentsOnline(c *gin.Context) {
	online := h.Presence.ListOnline(c.Request.Context(), tenantID(c))
	ids := make([]string, 0, len(online))
	for id := range online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	c.JSON(http.StatusOK, gin.H{"items": ids})
}
