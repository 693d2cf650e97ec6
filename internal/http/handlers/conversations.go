package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/store"
)

const maxPageSize = 100

// @Summary List conversations
// @Tags conversations
// @Produce json
// @Param X-Tenant-Id header string true "Tenant"
// @Param status query string false "Comma separated statuses"
// @Param channel_id query string false "Channel"
// @Param assigned_to query string false "Agent"
// @Param department_id query string false "Department"
// @Param page query int false "Page, starting at 1"
// @Param limit query int false "Page size"
// @Success 200 {object} service.ListResult
// @Router /api/conversations [get]
func (h *Handler) ConversationsList(c *gin.Context) {
	f := store.ConversationFilter{
		TenantID:     tenantID(c),
		ChannelID:    c.Query("channel_id"),
		AssignedToID: c.Query("assigned_to"),
		DepartmentID: c.Query("department_id"),
		Limit:        queryInt(c, "limit", 0),
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	for _, s := range strings.Split(c.Query("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.Statuses = append(f.Statuses, models.ConversationStatus(s))
		}
	}

	res, err := h.Conversations.List(c.Request.Context(), f, queryInt(c, "page", 1))
	if err != nil {
		h.fail(c, "Failed to list conversations", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ConversationGet(c *gin.Context) {
	conv, err := h.Conversations.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Conversation not found", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) ConversationMessages(c *gin.Context) {
	msgs, err := h.Conversations.Messages(c.Request.Context(), tenantID(c), c.Param("id"), queryInt(c, "limit", 0))
	if err != nil {
		h.fail(c, "Failed to list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": msgs})
}

type ReplyRequest struct {
	AgentID     string              `json:"agent_id" validate:"required"`
	Content     string              `json:"content" validate:"required_without=Attachments"`
	Type        models.MessageType  `json:"type" validate:"omitempty,oneof=text image file audio video location"`
	Attachments []models.Attachment `json:"attachments" validate:"omitempty,dive"`
}

// @Summary Reply as agent
// @Description Stores the agent message and delivers it on the conversation's channel
// @Tags conversations
// @Accept json
// @Produce json
// @Param X-Tenant-Id header string true "Tenant"
// @Param id path string true "Conversation ID"
// @Param body body ReplyRequest true "Reply"
// @Success 201 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/conversations/{id}/messages [post]
func (h *Handler) ConversationReply(c *gin.Context) {
	var req ReplyRequest
	if !h.bind(c, &req) {
		return
	}
	if req.Type == "" {
		req.Type = models.MessageText
	}
	msg, res, err := h.Conversations.ReplyAsAgent(c.Request.Context(), tenantID(c), c.Param("id"), req.AgentID, req.Content, req.Type, req.Attachments)
	if err != nil {
		h.fail(c, "Failed to reply", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg, "dispatch": res})
}

// ConversationDispatch retries delivery of an agent or bot message.
func (h *Handler) ConversationDispatch(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := h.Conversations.Get(ctx, tenantID(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Conversation not found", err)
		return
	}
	msg, err := h.Store.GetMessage(ctx, c.Param("messageId"))
	if err != nil || msg.ConversationID != conv.ID {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Message not found", nil)
		return
	}
	if msg.Sender != models.SenderAgent && msg.Sender != models.SenderBot {
		writeError(c, http.StatusConflict, "INVALID_STATE", "Only agent and bot messages are delivered", nil)
		return
	}
	if msg.Status == models.MessageDelivered || msg.Status == models.MessageRead {
		writeError(c, http.StatusConflict, "INVALID_STATE", "Message already delivered", nil)
		return
	}
	c.JSON(http.StatusOK, h.Conversations.Deliver(ctx, conv.TenantID, conv.ID, msg.ID))
}

type AssignRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
}

func (h *Handler) ConversationAssign(c *gin.Context) {
	var req AssignRequest
	if !h.bind(c, &req) {
		return
	}
	conv, err := h.Conversations.Assign(c.Request.Context(), tenantID(c), c.Param("id"), req.AgentID)
	if err != nil {
		h.fail(c, "Failed to assign", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) ConversationClose(c *gin.Context) {
	conv, err := h.Conversations.Close(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to close", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) ConversationArchive(c *gin.Context) {
	conv, err := h.Conversations.Archive(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to archive", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

type RouteRequest struct {
	DepartmentID string `json:"department_id"`
}

// @Summary Route conversation
// @Description Assigns the best available agent or queues the conversation
// @Tags routing
// @Accept json
// @Produce json
// @Param X-Tenant-Id header string true "Tenant"
// @Param id path string true "Conversation ID"
// @Param body body RouteRequest false "Target department"
// @Success 200 {object} service.RouteResult
// @Router /api/conversations/{id}/route [post]
func (h *Handler) ConversationRoute(c *gin.Context) {
	var req RouteRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	res, err := h.Router.Route(c.Request.Context(), tenantID(c), c.Param("id"), req.DepartmentID)
	if err != nil {
		h.fail(c, "Failed to route", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type TransferRequest struct {
	DepartmentID string `json:"department_id" validate:"required_without=AgentID,excluded_with=AgentID"`
	AgentID      string `json:"agent_id"`
	FromAgentID  string `json:"from_agent_id"`
	Reason       string `json:"reason" validate:"max=500"`
}

// @Summary Transfer conversation
// @Description Moves the conversation to another department (re-routed) or straight to an agent
// @Tags routing
// @Accept json
// @Produce json
// @Param X-Tenant-Id header string true "Tenant"
// @Param id path string true "Conversation ID"
// @Param body body TransferRequest true "Target"
// @Success 200 {object} map[string]any
// @Router /api/conversations/{id}/transfer [post]
func (h *Handler) ConversationTransfer(c *gin.Context) {
	var req TransferRequest
	if !h.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if req.AgentID != "" {
		conv, err := h.Transfers.TransferToAgent(ctx, tenantID(c), c.Param("id"), req.AgentID, req.FromAgentID, req.Reason)
		if err != nil {
			h.fail(c, "Failed to transfer", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversation": conv})
		return
	}
	res, err := h.Transfers.TransferToDepartment(ctx, tenantID(c), c.Param("id"), req.DepartmentID, req.FromAgentID, req.Reason)
	if err != nil {
		h.fail(c, "Failed to transfer", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"route": res})
}

func (h *Handler) ConversationTransfers(c *gin.Context) {
	items, err := h.Transfers.History(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to load transfers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Explain routing
// @Description Runs agent selection for a conversation without assigning it
// @Tags debug
// @Produce json
// @Param X-Tenant-Id header string true "Tenant"
// @Param conversation_id query string true "Conversation ID"
// @Param department_id query string false "Department override"
// @Success 200 {object} service.RoutingExplanation
// @Router /api/debug/routing [get]
func (h *Handler) DebugRouting(c *gin.Context) {
	convID := strings.TrimSpace(c.Query("conversation_id"))
	if convID == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "conversation_id is required", nil)
		return
	}
	out, err := h.Router.Explain(c.Request.Context(), tenantID(c), convID, c.Query("department_id"))
	if err != nil {
		h.fail(c, "Failed to explain routing", err)
		return
	}
	c.JSON(http.StatusOK, out)
}
