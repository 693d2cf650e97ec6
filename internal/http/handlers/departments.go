package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnidesk/backend/internal/service"
)

type DepartmentRequest struct {
	Name               string   `json:"name" validate:"required,max=120"`
	Description        string   `json:"description"`
	Priority           int      `json:"priority" validate:"min=0"`
	AutoAssignChannels []string `json:"auto_assign_channels"`
	WelcomeMessage     string   `json:"welcome_message"`
	IsActive           *bool    `json:"is_active"`
}

func (r DepartmentRequest) input() service.DepartmentInput {
	return service.DepartmentInput{
		Name:               r.Name,
		Description:        r.Description,
		Priority:           r.Priority,
		AutoAssignChannels: r.AutoAssignChannels,
		WelcomeMessage:     r.WelcomeMessage,
		IsActive:           r.IsActive,
	}
}

func (h *Handler) DepartmentsList(c *gin.Context) {
	items, err := h.Departments.List(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, "Failed to list departments", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) DepartmentCreate(c *gin.Context) {
	var req DepartmentRequest
	if !h.bind(c, &req) {
		return
	}
	d, err := h.Departments.Create(c.Request.Context(), tenantID(c), req.input())
	if err != nil {
		h.fail(c, "Failed to create department", err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) DepartmentGet(c *gin.Context) {
	d, err := h.Departments.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Department not found", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) DepartmentUpdate(c *gin.Context) {
	var req DepartmentRequest
	if !h.bind(c, &req) {
		return
	}
	d, err := h.Departments.Update(c.Request.Context(), tenantID(c), c.Param("id"), req.input())
	if err != nil {
		h.fail(c, "Failed to update department", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) DepartmentDelete(c *gin.Context) {
	if err := h.Departments.Delete(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		h.fail(c, "Failed to delete department", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DepartmentMembers(c *gin.Context) {
	items, err := h.Departments.Members(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to list members", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type MemberRequest struct {
	AgentID    string   `json:"agent_id" validate:"required"`
	Skills     []string `json:"skills"`
	SkillLevel int      `json:"skill_level" validate:"omitempty,min=1,max=10"`
}

func (h *Handler) DepartmentAddMember(c *gin.Context) {
	var req MemberRequest
	if !h.bind(c, &req) {
		return
	}
	m, err := h.Departments.AddMember(c.Request.Context(), tenantID(c), c.Param("id"), req.AgentID, req.Skills, req.SkillLevel)
	if err != nil {
		h.fail(c, "Failed to add member", err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) DepartmentRemoveMember(c *gin.Context) {
	if err := h.Departments.RemoveMember(c.Request.Context(), tenantID(c), c.Param("id"), c.Param("agentId")); err != nil {
		h.fail(c, "Failed to remove member", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Queue stats
// @Tags queue
// @Produce json
// @Param X-Tenant-Id header string true "Tenant"
// @Success 200 {object} service.QueueStats
// @Router /api/queue/stats [get]
func (h *Handler) QueueStats(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := tenantID(c)
	stats, err := h.Queue.Stats(ctx, tenant, h.Presence.ListOnline(ctx, tenant))
	if err != nil {
		h.fail(c, "Failed to load queue stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// @Summary Process queue
// @Description Routes waiting conversations oldest first until no agent has capacity
// @Tags queue
// @Produce json
// @Param X-Tenant-Id header string true "Tenant"
// @Success 200 {object} service.RunSummary
// @Router /api/queue/process [post]
func (h *Handler) QueueProcess(c *gin.Context) {
	summary, err := h.Processing.ProcessQueue(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, "Queue processing failed", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
