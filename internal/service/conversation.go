package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/ai"
	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/outbound"
	"github.com/omnidesk/backend/internal/realtime"
	"github.com/omnidesk/backend/internal/store"
)

const DefaultPageSize = 50

var transitions = map[models.ConversationStatus][]models.ConversationStatus{
	models.ConversationOpen:     {models.ConversationPending, models.ConversationAssigned, models.ConversationClosed},
	models.ConversationPending:  {models.ConversationOpen, models.ConversationAssigned, models.ConversationClosed},
	models.ConversationAssigned: {models.ConversationOpen, models.ConversationClosed},
	models.ConversationClosed:   {models.ConversationArchived},
}

var activeStatuses = []models.ConversationStatus{
	models.ConversationOpen, models.ConversationPending, models.ConversationAssigned,
}

func CanTransition(from, to models.ConversationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the conversation to another status and keeps the assignee
// consistent with it.
func Transition(conv *models.Conversation, to models.ConversationStatus) error {
	if !CanTransition(conv.Status, to) {
		return fmt.Errorf("%s -> %s: %w", conv.Status, to, ErrInvalidTransition)
	}
	conv.Status = to
	if to != models.ConversationAssigned {
		conv.AssignedToID = ""
	}
	return nil
}

type Dispatcher interface {
	Dispatch(ctx context.Context, tenantID, conversationID, messageID string) outbound.Result
}

// DispatchQueue hands delivery to a background worker.
type DispatchQueue interface {
	EnqueueDispatch(ctx context.Context, tenantID, conversationID, messageID string) error
}

type ConversationService struct {
	Store         store.Repository
	Router        *Router
	Broadcaster   realtime.Broadcaster
	Dispatcher    Dispatcher
	DispatchQueue DispatchQueue
	AI            ai.Replier
	Logger        zerolog.Logger
	Now           func() time.Time
}

type InboundContact struct {
	TenantID   string
	ChannelID  string
	ExternalID string
	Name       string
	Email      string
	Phone      string
	Source     string
	// BotEnabled lets the AI answer new conversations on this channel.
	BotEnabled bool
}

type NewMessage struct {
	TenantID       string
	ConversationID string
	Sender         models.Sender
	Type           models.MessageType
	Content        string
	AgentID        string
	ExternalID     string
	Attachments    []models.Attachment
	Metadata       map[string]any
}

type ListResult struct {
	Conversations []models.Conversation `json:"conversations"`
	Total         int                   `json:"total"`
	Page          int                   `json:"page"`
	Limit         int                   `json:"limit"`
}

// FindOrCreate returns the contact's active conversation on the channel or starts
// a new one. Closed and archived conversations are never reused.
func (s *ConversationService) FindOrCreate(ctx context.Context, in InboundContact) (models.Conversation, bool, error) {
	contact, err := s.findOrCreateContact(ctx, in)
	if err != nil {
		return models.Conversation{}, false, err
	}

	found, err := s.Store.FindConversations(ctx, store.ConversationFilter{
		TenantID:  in.TenantID,
		ContactID: contact.ID,
		ChannelID: in.ChannelID,
		Statuses:  activeStatuses,
		Limit:     1,
	})
	if err != nil {
		return models.Conversation{}, false, unavailable("find conversation", err)
	}
	if len(found) > 0 {
		return found[0], false, nil
	}

	now := s.now()
	conv := models.Conversation{
		ID:            uuid.NewString(),
		TenantID:      in.TenantID,
		ChannelID:     in.ChannelID,
		ContactID:     contact.ID,
		Status:        models.ConversationOpen,
		QueueStatus:   models.QueueRouting,
		Priority:      models.PriorityNormal,
		IsBot:         in.BotEnabled && s.AI != nil,
		LastMessageAt: &now,
		Metadata:      map[string]any{},
	}
	if err := s.Store.SaveConversation(ctx, &conv); err != nil {
		return models.Conversation{}, false, unavailable("create conversation", err)
	}
	s.Logger.Info().
		Str("tenant_id", in.TenantID).
		Str("conversation_id", conv.ID).
		Str("channel_id", in.ChannelID).
		Bool("is_bot", conv.IsBot).
		Msg("conversation created")
	return conv, true, nil
}

func (s *ConversationService) findOrCreateContact(ctx context.Context, in InboundContact) (models.Contact, error) {
	c, err := s.Store.FindContactByExternalID(ctx, in.TenantID, in.ExternalID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.Contact{}, unavailable("find contact", err)
	}

	c = models.Contact{
		ID:         uuid.NewString(),
		TenantID:   in.TenantID,
		ExternalID: in.ExternalID,
		Name:       in.Name,
		Email:      in.Email,
		Phone:      in.Phone,
		Source:     in.Source,
	}
	if c.Name == "" {
		c.Name = "Visitor"
	}
	err = s.Store.SaveContact(ctx, &c)
	if errors.Is(err, store.ErrConflict) {
		// created concurrently by another request
		return s.Store.FindContactByExternalID(ctx, in.TenantID, in.ExternalID)
	}
	if err != nil {
		return models.Contact{}, unavailable("create contact", err)
	}
	return c, nil
}

// AddMessage stores a message and updates the conversation timestamps. Messages
// from agents and the bot start pending until dispatched.
func (s *ConversationService) AddMessage(ctx context.Context, nm NewMessage) (models.Message, error) {
	conv, err := s.Store.GetConversation(ctx, nm.TenantID, nm.ConversationID)
	if err != nil {
		return models.Message{}, notFound("conversation", nm.ConversationID, err)
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Sender:         nm.Sender,
		Type:           nm.Type,
		Status:         models.MessageSent,
		Content:        nm.Content,
		AgentID:        nm.AgentID,
		ExternalID:     nm.ExternalID,
		Attachments:    nm.Attachments,
		Metadata:       nm.Metadata,
		CreatedAt:      s.now(),
	}
	if msg.Type == "" {
		msg.Type = models.MessageText
		if nm.Sender == models.SenderSystem {
			msg.Type = models.MessageSystem
		}
	}
	if nm.Sender == models.SenderAgent || nm.Sender == models.SenderBot {
		msg.Status = models.MessagePending
	}
	if err := s.Store.SaveMessage(ctx, &msg); err != nil {
		return models.Message{}, unavailable("save message", err)
	}

	var meta map[string]any
	for _, key := range []string{"packId", "orderId"} {
		if v, ok := nm.Metadata[key]; ok {
			if meta == nil {
				meta = map[string]any{}
			}
			meta[key] = v
		}
	}
	if err := s.recordActivity(ctx, &conv, nm.Sender, msg.CreatedAt, meta); err != nil {
		return models.Message{}, err
	}

	s.Broadcaster.EmitToTenant(ctx, conv.TenantID, realtime.EventNewMessage, realtime.NewMessage{
		ConversationID: conv.ID,
		Message:        msg,
	})
	s.emitUpdated(ctx, conv)
	return msg, nil
}

// RecordInboundMessage stamps the last activity on the conversation. A customer
// writing in wakes a pending conversation; assigned stays assigned and closed
// conversations are never reopened. conv is refreshed from the stored row.
func (s *ConversationService) RecordInboundMessage(ctx context.Context, conv *models.Conversation, sender models.Sender, at time.Time) error {
	return s.recordActivity(ctx, conv, sender, at, nil)
}

func (s *ConversationService) recordActivity(ctx context.Context, conv *models.Conversation, sender models.Sender, at time.Time, meta map[string]any) error {
	at = at.UTC()
	patch := store.ConversationPatch{
		LastMessageAt: &at,
		ReopenPending: sender == models.SenderContact,
		Metadata:      meta,
	}
	if sender == models.SenderAgent || sender == models.SenderBot {
		patch.FirstResponseAt = &at
	}
	updated, err := s.Store.PatchConversation(ctx, conv.TenantID, conv.ID, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("conversation", conv.ID, err)
		}
		return unavailable("save conversation", err)
	}
	*conv = updated
	return nil
}

// TrackFirstResponse sets firstResponseAt the first time only.
func (s *ConversationService) TrackFirstResponse(ctx context.Context, tenantID, conversationID string) error {
	now := s.now()
	_, err := s.Store.PatchConversation(ctx, tenantID, conversationID, store.ConversationPatch{FirstResponseAt: &now})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("conversation", conversationID, err)
		}
		return unavailable("save first response", err)
	}
	return nil
}

// ReplyAsAgent stores the agent's message and delivers it to the customer.
func (s *ConversationService) ReplyAsAgent(ctx context.Context, tenantID, conversationID, agentID string, content string, msgType models.MessageType, attachments []models.Attachment) (models.Message, outbound.Result, error) {
	conv, err := s.Store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return models.Message{}, outbound.Result{}, notFound("conversation", conversationID, err)
	}
	if isFinished(conv.Status) {
		return models.Message{}, outbound.Result{}, fmt.Errorf("reply to %s conversation: %w", conv.Status, ErrInvalidTransition)
	}
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return models.Message{}, outbound.Result{}, fmt.Errorf("empty reply: %w", ErrInvalidInput)
	}

	msg, err := s.AddMessage(ctx, NewMessage{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Sender:         models.SenderAgent,
		Type:           msgType,
		Content:        content,
		AgentID:        agentID,
		Attachments:    attachments,
	})
	if err != nil {
		return models.Message{}, outbound.Result{}, err
	}
	return msg, s.Deliver(ctx, tenantID, conversationID, msg.ID), nil
}

// Deliver queues the message for the background worker when one is configured,
// and sends it inline otherwise or when queueing fails.
func (s *ConversationService) Deliver(ctx context.Context, tenantID, conversationID, messageID string) outbound.Result {
	if s.DispatchQueue != nil {
		err := s.DispatchQueue.EnqueueDispatch(ctx, tenantID, conversationID, messageID)
		if err == nil {
			return outbound.Result{Queued: true}
		}
		s.Logger.Warn().Err(err).Str("message_id", messageID).Msg("enqueue dispatch, sending inline")
	}
	if s.Dispatcher == nil {
		return outbound.Result{Error: "no dispatcher configured"}
	}
	return s.Dispatcher.Dispatch(ctx, tenantID, conversationID, messageID)
}

// Assign hands the conversation to an agent chosen by a person rather than the router.
func (s *ConversationService) Assign(ctx context.Context, tenantID, conversationID, agentID string) (models.Conversation, error) {
	conv, err := s.Store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return models.Conversation{}, notFound("conversation", conversationID, err)
	}
	agent, err := s.Store.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return models.Conversation{}, notFound("agent", agentID, err)
	}
	if conv.Status != models.ConversationAssigned {
		if err := Transition(&conv, models.ConversationAssigned); err != nil {
			return models.Conversation{}, err
		}
	}
	conv.AssignedToID = agent.ID
	conv.QueueStatus = models.QueueManual
	conv.QueuePosition = 0
	conv.IsBot = false
	if err := s.Store.SaveConversation(ctx, &conv); err != nil {
		return models.Conversation{}, unavailable("save assignment", err)
	}
	notifyAssignment(ctx, s.Broadcaster, conv.TenantID, conv.ID, agent)
	s.emitUpdated(ctx, conv)
	s.Logger.Info().Str("conversation_id", conv.ID).Str("agent_id", agent.ID).Msg("conversation assigned manually")
	return conv, nil
}

func (s *ConversationService) Close(ctx context.Context, tenantID, conversationID string) (models.Conversation, error) {
	conv, err := s.Store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return models.Conversation{}, notFound("conversation", conversationID, err)
	}
	lastAgent := conv.AssignedToID
	if err := Transition(&conv, models.ConversationClosed); err != nil {
		return models.Conversation{}, err
	}
	if lastAgent != "" {
		if conv.Metadata == nil {
			conv.Metadata = map[string]any{}
		}
		conv.Metadata["last_agent_id"] = lastAgent
	}
	conv.QueueStatus = models.QueueManual
	conv.QueuePosition = 0
	if err := s.Store.SaveConversation(ctx, &conv); err != nil {
		return models.Conversation{}, unavailable("save closed conversation", err)
	}
	if _, err := s.AddMessage(ctx, NewMessage{
		TenantID:       tenantID,
		ConversationID: conv.ID,
		Sender:         models.SenderSystem,
		Content:        "Conversation closed",
	}); err != nil {
		s.Logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("add close message")
	}
	return s.Store.GetConversation(ctx, tenantID, conv.ID)
}

func (s *ConversationService) Archive(ctx context.Context, tenantID, conversationID string) (models.Conversation, error) {
	conv, err := s.Store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return models.Conversation{}, notFound("conversation", conversationID, err)
	}
	if err := Transition(&conv, models.ConversationArchived); err != nil {
		return models.Conversation{}, err
	}
	if err := s.Store.SaveConversation(ctx, &conv); err != nil {
		return models.Conversation{}, unavailable("save archived conversation", err)
	}
	s.emitUpdated(ctx, conv)
	return conv, nil
}

// List pages conversations newest activity first. page starts at 1.
func (s *ConversationService) List(ctx context.Context, f store.ConversationFilter, page int) (ListResult, error) {
	if page < 1 {
		page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	f.Offset = (page - 1) * f.Limit
	f.Order = store.OrderLastMessageDesc

	total, err := s.Store.CountConversations(ctx, f)
	if err != nil {
		return ListResult{}, unavailable("count conversations", err)
	}
	items, err := s.Store.FindConversations(ctx, f)
	if err != nil {
		return ListResult{}, unavailable("list conversations", err)
	}
	return ListResult{Conversations: items, Total: total, Page: page, Limit: f.Limit}, nil
}

func (s *ConversationService) Get(ctx context.Context, tenantID, conversationID string) (models.Conversation, error) {
	conv, err := s.Store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return models.Conversation{}, notFound("conversation", conversationID, err)
	}
	return conv, nil
}

// Messages returns the conversation's messages oldest first.
func (s *ConversationService) Messages(ctx context.Context, tenantID, conversationID string, limit int) ([]models.Message, error) {
	if _, err := s.Get(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	out, err := s.Store.FindMessages(ctx, store.MessageFilter{ConversationID: conversationID, Limit: limit})
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	return out, nil
}

// ProcessWithAI lets the assistant answer the customer. An empty answer hands the
// conversation to a human: the bot flag is cleared and the router takes over.
func (s *ConversationService) ProcessWithAI(ctx context.Context, tenantID, conversationID, text string) (*models.Message, error) {
	if s.AI == nil {
		return nil, nil
	}
	reply, err := s.AI.GenerateReply(ctx, tenantID, conversationID, text)
	if err != nil {
		s.Logger.Error().Err(err).Str("conversation_id", conversationID).Msg("ai reply")
		return nil, err
	}

	if strings.TrimSpace(reply) == "" {
		conv, err := s.Store.GetConversation(ctx, tenantID, conversationID)
		if err != nil {
			return nil, notFound("conversation", conversationID, err)
		}
		conv.IsBot = false
		if err := s.Store.SaveConversation(ctx, &conv); err != nil {
			return nil, unavailable("save handoff", err)
		}
		s.Logger.Info().Str("conversation_id", conversationID).Msg("ai handed conversation to agents")
		if s.Router != nil {
			if _, err := s.Router.Route(ctx, tenantID, conversationID, ""); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	msg, err := s.AddMessage(ctx, NewMessage{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Sender:         models.SenderBot,
		Content:        reply,
	})
	if err != nil {
		return nil, err
	}
	res := s.Deliver(ctx, tenantID, conversationID, msg.ID)
	if !res.Sent && !res.Queued {
		s.Logger.Warn().Str("conversation_id", conversationID).Str("error", res.Error).Msg("bot reply not delivered")
	}
	return &msg, nil
}

// History builds the assistant's view of the recent exchange, oldest first.
func (s *ConversationService) History(ctx context.Context, conversationID string, limit int) ([]ai.ChatMessage, error) {
	msgs, err := s.Store.FindMessages(ctx, store.MessageFilter{ConversationID: conversationID, Newest: true, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]ai.ChatMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		switch m.Sender {
		case models.SenderContact:
			out = append(out, ai.ChatMessage{Role: "user", Content: m.Content})
		case models.SenderAgent, models.SenderBot:
			out = append(out, ai.ChatMessage{Role: "assistant", Content: m.Content})
		}
	}
	return out, nil
}

func (s *ConversationService) emitUpdated(ctx context.Context, conv models.Conversation) {
	s.Broadcaster.EmitToTenant(ctx, conv.TenantID, realtime.EventConversationUpdated, realtime.ConversationUpdated{
		ConversationID: conv.ID,
		Status:         conv.Status,
		QueueStatus:    conv.QueueStatus,
		AssignedToID:   conv.AssignedToID,
		DepartmentID:   conv.DepartmentID,
	})
}

func (s *ConversationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func isFinished(st models.ConversationStatus) bool {
	return st == models.ConversationClosed || st == models.ConversationArchived
}

func notifyAssignment(ctx context.Context, b realtime.Broadcaster, tenantID, conversationID string, agent models.Agent) {
	b.EmitToTenant(ctx, tenantID, realtime.EventConversationAssigned, realtime.ConversationAssigned{
		ConversationID: conversationID,
		AgentID:        agent.ID,
		AgentName:      agent.Name,
	})
	b.EmitToAgent(ctx, agent.ID, realtime.EventNewAssignment, realtime.NewAssignment{
		ConversationID: conversationID,
		Message:        "New conversation assigned to you",
	})
}
