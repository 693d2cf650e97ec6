package channels

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/omnidesk/backend/internal/models"
)

const defaultGraphURL = "https://graph.facebook.com/v18.0"

// MetaSender talks to the Graph API send endpoint. Instagram posts to the page
// id, Messenger to /me with messaging_type RESPONSE.
type MetaSender struct {
	GraphURL    string
	AccessToken string
	PageID      string
	Messenger   bool
	Client      *http.Client
}

type metaResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// NewInstagramFactory reads accessToken and pageId from the channel config.
func NewInstagramFactory(graphURL string, client *http.Client) Factory {
	return func(ctx context.Context, ch models.Channel) (Sender, error) {
		pageID := ch.ConfigString("pageId")
		if pageID == "" {
			return nil, fmt.Errorf("instagram channel %s: pageId not configured", ch.ID)
		}
		return &MetaSender{
			GraphURL:    firstNonEmpty(graphURL, defaultGraphURL),
			AccessToken: ch.ConfigString("accessToken"),
			PageID:      pageID,
			Client:      client,
		}, nil
	}
}

// NewFacebookFactory reads pageAccessToken from the channel config.
func NewFacebookFactory(graphURL string, client *http.Client) Factory {
	return func(ctx context.Context, ch models.Channel) (Sender, error) {
		token := firstNonEmpty(ch.ConfigString("pageAccessToken"), ch.ConfigString("accessToken"))
		if token == "" {
			return nil, fmt.Errorf("facebook channel %s: pageAccessToken not configured", ch.ID)
		}
		return &MetaSender{
			GraphURL:    firstNonEmpty(graphURL, defaultGraphURL),
			AccessToken: token,
			PageID:      ch.ConfigString("pageId"),
			Messenger:   true,
			Client:      client,
		}, nil
	}
}

func (m *MetaSender) SendText(ctx context.Context, dest Destination, text string) (string, error) {
	return m.send(ctx, dest, map[string]any{"text": text})
}

func (m *MetaSender) SendMedia(ctx context.Context, dest Destination, mediaURL, caption string, mediaType models.MessageType) (string, error) {
	payload := map[string]any{"url": mediaURL}
	if m.Messenger {
		payload["is_reusable"] = true
	}
	return m.send(ctx, dest, map[string]any{
		"attachment": map[string]any{
			"type":    metaAttachmentType(mediaType),
			"payload": payload,
		},
	})
}

func (m *MetaSender) send(ctx context.Context, dest Destination, message map[string]any) (string, error) {
	if dest.ExternalID == "" {
		return "", ErrMissingDestination
	}
	body := map[string]any{
		"recipient": map[string]string{"id": dest.ExternalID},
		"message":   message,
	}
	target := m.PageID
	if m.Messenger {
		target = "me"
		body["messaging_type"] = "RESPONSE"
	}
	endpoint := fmt.Sprintf("%s/%s/messages?access_token=%s",
		strings.TrimRight(m.GraphURL, "/"), url.PathEscape(target), url.QueryEscape(m.AccessToken))

	if m.Client == nil {
		m.Client = &http.Client{Timeout: 15 * time.Second}
	}
	var out metaResponse
	if err := doJSON(ctx, m.Client, http.MethodPost, endpoint, nil, body, &out); err != nil {
		return "", fmt.Errorf("graph send: %w", err)
	}
	return out.MessageID, nil
}

func metaAttachmentType(t models.MessageType) string {
	switch t {
	case models.MessageImage, models.MessageVideo, models.MessageAudio:
		return string(t)
	}
	return "file"
}
