package ai

import (
	"context"
	"strings"

	"github.com/omnidesk/backend/internal/utils"
)

// MockReplier answers deterministically from a fixed set of replies. Messages
// asking for a person get no reply so the conversation is handed to an agent.
type MockReplier struct {
	Replies []string
}

var defaultReplies = []string{
	"Thanks for reaching out! How can I help you today?",
	"Got it. Could you share your order number so I can look into it?",
	"I'm checking that for you, one moment please.",
}

func (m MockReplier) GenerateReply(ctx context.Context, tenantID, conversationID, text string) (string, error) {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "human") || strings.Contains(lower, "agent") {
		return "", nil
	}
	replies := m.Replies
	if len(replies) == 0 {
		replies = defaultReplies
	}
	h := utils.Fingerprint(conversationID + "\x00" + text)
	return replies[int(h%uint64(len(replies)))], nil
}
