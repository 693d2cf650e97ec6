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

// EvolutionSender sends WhatsApp messages through an Evolution API instance.
type EvolutionSender struct {
	BaseURL  string
	APIKey   string
	Instance string
	Client   *http.Client
}

type evolutionResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// NewEvolutionFactory reads instanceName, evolutionApiUrl and apiKey from the channel config.
func NewEvolutionFactory(baseURL, apiKey string, client *http.Client) Factory {
	return func(ctx context.Context, ch models.Channel) (Sender, error) {
		instance := ch.ConfigString("instanceName")
		if instance == "" {
			return nil, fmt.Errorf("whatsapp channel %s: instanceName not configured", ch.ID)
		}
		return &EvolutionSender{
			BaseURL:  firstNonEmpty(ch.ConfigString("evolutionApiUrl"), baseURL, "http://localhost:8080"),
			APIKey:   firstNonEmpty(ch.ConfigString("apiKey"), apiKey),
			Instance: instance,
			Client:   client,
		}, nil
	}
}

func (e *EvolutionSender) SendText(ctx context.Context, dest Destination, text string) (string, error) {
	if dest.ExternalID == "" {
		return "", ErrMissingDestination
	}
	var out evolutionResponse
	err := doJSON(ctx, e.client(), http.MethodPost, e.endpoint("sendText"), e.headers(), map[string]any{
		"number": dest.ExternalID,
		"text":   text,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("evolution send text: %w", err)
	}
	return out.Key.ID, nil
}

func (e *EvolutionSender) SendMedia(ctx context.Context, dest Destination, mediaURL, caption string, mediaType models.MessageType) (string, error) {
	if dest.ExternalID == "" {
		return "", ErrMissingDestination
	}
	var out evolutionResponse
	err := doJSON(ctx, e.client(), http.MethodPost, e.endpoint("sendMedia"), e.headers(), map[string]any{
		"number":    dest.ExternalID,
		"mediatype": evolutionMediaType(mediaType),
		"media":     mediaURL,
		"caption":   caption,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("evolution send media: %w", err)
	}
	return out.Key.ID, nil
}

func (e *EvolutionSender) endpoint(action string) string {
	return fmt.Sprintf("%s/message/%s/%s", strings.TrimRight(e.BaseURL, "/"), action, url.PathEscape(e.Instance))
}

func (e *EvolutionSender) headers() map[string]string {
	return map[string]string{"apikey": e.APIKey}
}

func (e *EvolutionSender) client() *http.Client {
	if e.Client == nil {
		e.Client = &http.Client{Timeout: 15 * time.Second}
	}
	return e.Client
}

func evolutionMediaType(t models.MessageType) string {
	if t == models.MessageFile {
		return "document"
	}
	return string(t)
}
