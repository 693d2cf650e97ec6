package ai

import "context"

// Replier produces an automatic answer for a customer message. An empty reply
// means the assistant has nothing to say and a human should take over.
type Replier interface {
	GenerateReply(ctx context.Context, tenantID, conversationID, text string) (string, error)
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryFunc loads the recent exchange of a conversation, oldest first.
type HistoryFunc func(ctx context.Context, conversationID string) ([]ChatMessage, error)
