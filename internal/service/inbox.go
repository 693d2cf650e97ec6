package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/channels"
	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/store"
)

// Inbox is the entry point for customer messages arriving from any channel.
type Inbox struct {
	Store         store.Repository
	Conversations *ConversationService
	Router        *Router
	Logger        zerolog.Logger
}

type InboundResult struct {
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id,omitempty"`
	Created        bool         `json:"created"`
	Duplicate      bool         `json:"duplicate"`
	Route          *RouteResult `json:"route,omitempty"`
	BotReplied     bool         `json:"bot_replied"`
}

// Receive appends the message to the contact's conversation and then either lets
// the assistant answer or routes the conversation to an agent. Messages already
// seen on the conversation are ignored.
func (in *Inbox) Receive(ctx context.Context, ch models.Channel, msg channels.InboundMessage) (InboundResult, error) {
	if !ch.IsActive {
		return InboundResult{}, fmt.Errorf("channel %s is inactive: %w", ch.ID, ErrInvalidInput)
	}
	if msg.ContactExternalID == "" {
		return InboundResult{}, fmt.Errorf("inbound message without sender: %w", ErrInvalidInput)
	}

	conv, created, err := in.Conversations.FindOrCreate(ctx, InboundContact{
		TenantID:   ch.TenantID,
		ChannelID:  ch.ID,
		ExternalID: msg.ContactExternalID,
		Name:       msg.ContactName,
		Email:      msg.ContactEmail,
		Phone:      msg.ContactPhone,
		Source:     firstSet(msg.Source, string(ch.Type)),
		BotEnabled: ch.ConfigBool("aiEnabled"),
	})
	if err != nil {
		return InboundResult{}, err
	}
	res := InboundResult{ConversationID: conv.ID, Created: created}

	if msg.ExternalID != "" {
		seen, err := in.Store.FindMessages(ctx, store.MessageFilter{ConversationID: conv.ID, ExternalID: msg.ExternalID, Limit: 1})
		if err != nil {
			return res, unavailable("check duplicate", err)
		}
		if len(seen) > 0 {
			res.Duplicate = true
			res.MessageID = seen[0].ID
			return res, nil
		}
	}

	if msg.Subject != "" && conv.Subject == "" {
		if _, err := in.Store.PatchConversation(ctx, ch.TenantID, conv.ID, store.ConversationPatch{Subject: msg.Subject}); err != nil {
			return res, unavailable("save subject", err)
		}
	}

	saved, err := in.Conversations.AddMessage(ctx, NewMessage{
		TenantID:       ch.TenantID,
		ConversationID: conv.ID,
		Sender:         models.SenderContact,
		Type:           msg.Type,
		Content:        msg.Content,
		ExternalID:     msg.ExternalID,
		Attachments:    msg.Attachments,
		Metadata:       msg.Metadata,
	})
	if err != nil {
		return res, err
	}
	res.MessageID = saved.ID

	if conv.IsBot {
		reply, err := in.Conversations.ProcessWithAI(ctx, ch.TenantID, conv.ID, msg.Content)
		if err == nil {
			res.BotReplied = reply != nil
			return res, nil
		}
		// the assistant failing must not leave the customer unanswered
		in.Logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("ai unavailable, routing to agents")
		if err := in.clearBot(ctx, ch.TenantID, conv.ID); err != nil {
			return res, err
		}
	} else if conv.AssignedToID != "" {
		return res, nil
	}

	route, err := in.Router.Route(ctx, ch.TenantID, conv.ID, "")
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return res, err
		}
		in.Logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("route inbound conversation")
		return res, nil
	}
	res.Route = &route
	return res, nil
}

func (in *Inbox) clearBot(ctx context.Context, tenantID, conversationID string) error {
	if _, err := in.Store.PatchConversation(ctx, tenantID, conversationID, store.ConversationPatch{ClearBot: true}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("conversation", conversationID, err)
		}
		return unavailable("clear bot flag", err)
	}
	return nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
