package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/realtime"
	"github.com/omnidesk/backend/internal/store"
)

type TransferManager struct {
	Store         store.Repository
	Router        *Router
	Conversations *ConversationService
	Broadcaster   realtime.Broadcaster
	Logger        zerolog.Logger
	Now           func() time.Time
}

// TransferToDepartment moves the conversation to another department and routes it
// there. The previous agent loses it immediately.
func (t *TransferManager) TransferToDepartment(ctx context.Context, tenantID, conversationID, toDepartmentID, fromAgentID, reason string) (RouteResult, error) {
	conv, err := t.loadActive(ctx, tenantID, conversationID)
	if err != nil {
		return RouteResult{}, err
	}
	dept, err := t.Store.GetDepartment(ctx, tenantID, toDepartmentID)
	if err != nil {
		return RouteResult{}, notFound("department", toDepartmentID, err)
	}

	previousAgent := conv.AssignedToID
	if fromAgentID == "" {
		fromAgentID = previousAgent
	}
	if err := t.record(ctx, models.Transfer{
		ConversationID:   conv.ID,
		TenantID:         tenantID,
		FromDepartmentID: conv.DepartmentID,
		ToDepartmentID:   dept.ID,
		FromAgentID:      fromAgentID,
		Reason:           reason,
	}); err != nil {
		return RouteResult{}, err
	}

	if conv.Status != models.ConversationOpen {
		if err := Transition(&conv, models.ConversationOpen); err != nil {
			return RouteResult{}, err
		}
	}
	conv.AssignedToID = ""
	conv.DepartmentID = dept.ID
	conv.QueueStatus = models.QueueRouting
	conv.QueuePosition = 0
	if err := t.Store.SaveConversation(ctx, &conv); err != nil {
		return RouteResult{}, unavailable("save transfer", err)
	}

	t.systemMessage(ctx, tenantID, conv.ID, withReason(fmt.Sprintf("Conversation transferred to department %q", dept.Name), reason))
	if dept.WelcomeMessage != "" {
		t.systemMessage(ctx, tenantID, conv.ID, dept.WelcomeMessage)
	}
	if previousAgent != "" {
		t.Broadcaster.EmitToAgent(ctx, previousAgent, realtime.EventConversationTransferred, realtime.ConversationTransferred{
			ConversationID: conv.ID,
			ToDepartmentID: dept.ID,
			Reason:         reason,
		})
	}

	t.Logger.Info().
		Str("tenant_id", tenantID).
		Str("conversation_id", conv.ID).
		Str("to_department_id", dept.ID).
		Str("from_agent_id", fromAgentID).
		Msg("conversation transferred to department")

	return t.Router.Route(ctx, tenantID, conv.ID, dept.ID)
}

// TransferToAgent hands the conversation directly to an agent, keeping its department.
func (t *TransferManager) TransferToAgent(ctx context.Context, tenantID, conversationID, toAgentID, fromAgentID, reason string) (*models.Conversation, error) {
	conv, err := t.loadActive(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	agent, err := t.Store.GetAgent(ctx, tenantID, toAgentID)
	if err != nil {
		return nil, notFound("agent", toAgentID, err)
	}
	if !agent.IsActive {
		return nil, fmt.Errorf("agent %s is inactive: %w", agent.ID, ErrInvalidInput)
	}

	if fromAgentID == "" {
		fromAgentID = conv.AssignedToID
	}
	if err := t.record(ctx, models.Transfer{
		ConversationID:   conv.ID,
		TenantID:         tenantID,
		FromDepartmentID: conv.DepartmentID,
		ToDepartmentID:   conv.DepartmentID,
		FromAgentID:      fromAgentID,
		ToAgentID:        agent.ID,
		Reason:           reason,
	}); err != nil {
		return nil, err
	}

	if conv.Status != models.ConversationAssigned {
		if err := Transition(&conv, models.ConversationAssigned); err != nil {
			return nil, err
		}
	}
	conv.AssignedToID = agent.ID
	conv.QueueStatus = models.QueueRouted
	conv.QueuePosition = 0
	conv.IsBot = false
	if err := t.Store.SaveConversation(ctx, &conv); err != nil {
		return nil, unavailable("save transfer", err)
	}

	t.systemMessage(ctx, tenantID, conv.ID, withReason("Conversation transferred to "+agent.Name, reason))
	notifyAssignment(ctx, t.Broadcaster, tenantID, conv.ID, agent)
	if fromAgentID != "" && fromAgentID != agent.ID {
		t.Broadcaster.EmitToAgent(ctx, fromAgentID, realtime.EventConversationTransferred, realtime.ConversationTransferred{
			ConversationID: conv.ID,
			ToAgentID:      agent.ID,
			Reason:         reason,
		})
	}

	t.Logger.Info().
		Str("tenant_id", tenantID).
		Str("conversation_id", conv.ID).
		Str("to_agent_id", agent.ID).
		Str("from_agent_id", fromAgentID).
		Msg("conversation transferred to agent")

	out, err := t.Store.GetConversation(ctx, tenantID, conv.ID)
	if err != nil {
		return nil, notFound("conversation", conv.ID, err)
	}
	return &out, nil
}

func (t *TransferManager) History(ctx context.Context, tenantID, conversationID string) ([]models.Transfer, error) {
	if _, err := t.Store.GetConversation(ctx, tenantID, conversationID); err != nil {
		return nil, notFound("conversation", conversationID, err)
	}
	out, err := t.Store.ListTransfers(ctx, tenantID, conversationID)
	if err != nil {
		return nil, unavailable("list transfers", err)
	}
	return out, nil
}

func (t *TransferManager) loadActive(ctx context.Context, tenantID, conversationID string) (models.Conversation, error) {
	conv, err := t.Store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return models.Conversation{}, notFound("conversation", conversationID, err)
	}
	if isFinished(conv.Status) {
		return models.Conversation{}, fmt.Errorf("transfer %s conversation %s: %w", conv.Status, conv.ID, ErrInvalidTransition)
	}
	return conv, nil
}

func (t *TransferManager) record(ctx context.Context, tr models.Transfer) error {
	tr.ID = uuid.NewString()
	tr.TransferredAt = t.now()
	if err := t.Store.SaveTransfer(ctx, &tr); err != nil {
		return unavailable("save transfer record", err)
	}
	return nil
}

func (t *TransferManager) systemMessage(ctx context.Context, tenantID, conversationID, text string) {
	_, err := t.Conversations.AddMessage(ctx, NewMessage{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Sender:         models.SenderSystem,
		Content:        text,
	})
	if err != nil {
		t.Logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("add transfer message")
	}
}

func (t *TransferManager) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func withReason(text, reason string) string {
	if reason == "" {
		return text
	}
	return text + ": " + reason
}
