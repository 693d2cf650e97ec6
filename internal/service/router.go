package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/realtime"
	"github.com/omnidesk/backend/internal/store"
)

type OnlineAgents interface {
	ListOnline(ctx context.Context, tenantID string) map[string]struct{}
}

type Router struct {
	Store       store.Repository
	Presence    OnlineAgents
	Queue       *QueueManager
	Broadcaster realtime.Broadcaster
	// Locker, when set, makes each routing decision exclusive per tenant. Without it
	// two concurrent routes may both pick the same agent and exceed capacity by one.
	Locker store.TenantLocker
	Logger zerolog.Logger
}

type RouteResult struct {
	Assigned      bool   `json:"assigned"`
	AgentID       string `json:"agent_id,omitempty"`
	DepartmentID  string `json:"department_id,omitempty"`
	QueuePosition int    `json:"queue_position,omitempty"`
	ReasonCode    string `json:"reason_code,omitempty"`
}

type RoutingExplanation struct {
	ConversationID     string             `json:"conversation_id"`
	DepartmentID       string             `json:"department_id,omitempty"`
	DepartmentFallback bool               `json:"department_fallback"`
	Stages             []EligibilityStage `json:"stages"`
	Scores             map[string]float64 `json:"scores"`
	Selected           string             `json:"selected,omitempty"`
	ReasonCode         string             `json:"reason_code,omitempty"`
	ReasonText         string             `json:"reason_text,omitempty"`
}

func (r *Router) Route(ctx context.Context, tenantID, conversationID, departmentID string) (RouteResult, error) {
	if r.Locker == nil {
		return r.route(ctx, tenantID, conversationID, departmentID)
	}
	var res RouteResult
	err := r.Locker.WithTenantLock(ctx, tenantID, func(ctx context.Context) error {
		var err error
		res, err = r.route(ctx, tenantID, conversationID, departmentID)
		return err
	})
	return res, err
}

func (r *Router) route(ctx context.Context, tenantID, conversationID, departmentID string) (RouteResult, error) {
	conv, err := r.Store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return RouteResult{}, notFound("conversation", conversationID, err)
	}
	if conv.Status == models.ConversationClosed || conv.Status == models.ConversationArchived {
		return RouteResult{}, fmt.Errorf("route %s conversation %s: %w", conv.Status, conv.ID, ErrInvalidTransition)
	}

	dept, err := r.ResolveDepartment(ctx, conv, departmentID)
	if err != nil {
		return RouteResult{}, err
	}
	if dept != nil {
		conv.DepartmentID = dept.ID
	}

	elig := r.evaluate(ctx, conv, dept)
	if best, ok := PickBest(elig.Eligible); ok {
		return r.assign(ctx, &conv, best, elig.DepartmentFallback)
	}

	position, err := r.Queue.Enqueue(ctx, &conv, tenantID, conv.DepartmentID)
	if err != nil {
		return RouteResult{}, err
	}
	return RouteResult{
		Assigned:      false,
		DepartmentID:  conv.DepartmentID,
		QueuePosition: position,
		ReasonCode:    elig.ReasonCode,
	}, nil
}

// Explain runs the selection without changing anything.
func (r *Router) Explain(ctx context.Context, tenantID, conversationID, departmentID string) (RoutingExplanation, error) {
	conv, err := r.Store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return RoutingExplanation{}, notFound("conversation", conversationID, err)
	}
	dept, err := r.ResolveDepartment(ctx, conv, departmentID)
	if err != nil {
		return RoutingExplanation{}, err
	}
	elig := r.evaluate(ctx, conv, dept)

	out := RoutingExplanation{
		ConversationID:     conv.ID,
		DepartmentFallback: elig.DepartmentFallback,
		Stages:             elig.Stages,
		Scores:             map[string]float64{},
		ReasonCode:         elig.ReasonCode,
		ReasonText:         elig.ReasonText,
	}
	if dept != nil {
		out.DepartmentID = dept.ID
	}
	for _, c := range elig.Eligible {
		out.Scores[c.Agent.ID] = c.Score
	}
	if best, ok := PickBest(elig.Eligible); ok {
		out.Selected = best.Agent.ID
	}
	return out, nil
}

// ResolveDepartment picks the target department: the explicit one, then the one
// already on the conversation, then the first department auto-assigned to the
// channel, then the highest priority active department. nil means none.
func (r *Router) ResolveDepartment(ctx context.Context, conv models.Conversation, departmentID string) (*models.Department, error) {
	if departmentID != "" {
		d, err := r.Store.GetDepartment(ctx, conv.TenantID, departmentID)
		if err != nil {
			return nil, notFound("department", departmentID, err)
		}
		return &d, nil
	}
	if conv.DepartmentID != "" {
		d, err := r.Store.GetDepartment(ctx, conv.TenantID, conv.DepartmentID)
		if err == nil {
			return &d, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			r.Logger.Warn().Err(err).Str("department_id", conv.DepartmentID).Msg("load conversation department")
		}
	}

	depts, err := r.Store.ListDepartments(ctx, conv.TenantID, true)
	if err != nil {
		r.Logger.Warn().Err(err).Str("tenant_id", conv.TenantID).Msg("list departments, routing without department")
		return nil, nil
	}
	for i := range depts {
		for _, chID := range depts[i].AutoAssignChannels {
			if chID == conv.ChannelID {
				return &depts[i], nil
			}
		}
	}
	if len(depts) > 0 {
		return &depts[0], nil
	}
	return nil, nil
}

func (r *Router) evaluate(ctx context.Context, conv models.Conversation, dept *models.Department) EligibilityResult {
	online := r.Presence.ListOnline(ctx, conv.TenantID)
	if len(online) == 0 {
		return EligibilityResult{ReasonCode: ReasonNoOnlineAgents, ReasonText: "No agents online"}
	}

	agents, err := r.Store.ListAgents(ctx, conv.TenantID)
	if err != nil {
		r.Logger.Warn().Err(err).Str("tenant_id", conv.TenantID).Msg("list agents, treating tenant as unstaffed")
		return EligibilityResult{ReasonCode: ReasonNoAgents, ReasonText: "Agents unavailable"}
	}

	var memberships []models.Membership
	if dept != nil {
		memberships, err = r.Store.ListMemberships(ctx, dept.ID)
		if err != nil {
			r.Logger.Warn().Err(err).Str("department_id", dept.ID).Msg("list memberships")
			memberships = []models.Membership{}
		}
	}

	countActive := func(agentID string) (int, error) {
		n, err := r.Store.CountConversations(ctx, store.ConversationFilter{
			TenantID:     conv.TenantID,
			AssignedToID: agentID,
			Statuses:     []models.ConversationStatus{models.ConversationAssigned},
		})
		if err != nil {
			r.Logger.Warn().Err(err).Str("agent_id", agentID).Msg("count active chats, skipping agent")
		}
		return n, err
	}
	return FilterEligibleAgents(agents, online, memberships, countActive)
}

func (r *Router) assign(ctx context.Context, conv *models.Conversation, best Candidate, fallback bool) (RouteResult, error) {
	conv.AssignedToID = best.Agent.ID
	conv.Status = models.ConversationAssigned
	conv.QueueStatus = models.QueueRouted
	conv.QueuePosition = 0
	conv.IsBot = false
	if err := r.Store.SaveConversation(ctx, conv); err != nil {
		return RouteResult{}, unavailable("save assignment", err)
	}

	notifyAssignment(ctx, r.Broadcaster, conv.TenantID, conv.ID, best.Agent)

	r.Logger.Info().
		Str("tenant_id", conv.TenantID).
		Str("conversation_id", conv.ID).
		Str("agent_id", best.Agent.ID).
		Str("department_id", conv.DepartmentID).
		Float64("score", best.Score).
		Bool("department_fallback", fallback).
		Msg("conversation assigned")

	return RouteResult{Assigned: true, AgentID: best.Agent.ID, DepartmentID: conv.DepartmentID}, nil
}
