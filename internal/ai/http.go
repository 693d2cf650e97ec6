package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPReplier calls an internal reply service: POST {BaseURL}/reply.
type HTTPReplier struct {
	BaseURL string
	Client  *http.Client
}

type replyRequest struct {
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

func (h HTTPReplier) GenerateReply(ctx context.Context, tenantID, conversationID, text string) (string, error) {
	if h.Client == nil {
		h.Client = &http.Client{Timeout: 15 * time.Second}
	}

	b, _ := json.Marshal(replyRequest{TenantID: tenantID, ConversationID: conversationID, Message: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(h.BaseURL, "/")+"/reply", bytes.NewBuffer(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("reply service error: %s", resp.Status)
	}

	var r replyResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}
	return strings.TrimSpace(r.Reply), nil
}
