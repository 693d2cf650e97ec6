package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/models"
)

const defaultMarketplaceURL = "https://api.mercadolibre.com"

// ConfigUpdater persists refreshed channel credentials.
type ConfigUpdater interface {
	UpdateChannelConfig(ctx context.Context, id string, config map[string]any) error
}

// MarketplaceClient speaks the marketplace post-sale messaging API. A 401 triggers
// one OAuth refresh, the new tokens are written back to the channel config and
// the call is retried once.
type MarketplaceClient struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Channel      models.Channel
	Store        ConfigUpdater
	Client       *http.Client
	Logger       zerolog.Logger

	mu          sync.Mutex
	accessToken string
}

type PackMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	From struct {
		UserID int64 `json:"user_id"`
	} `json:"from"`
}

type PackMessages struct {
	PackID   any           `json:"pack_id"`
	Messages []PackMessage `json:"messages"`
}

func NewMarketplaceFactory(baseURL, clientID, clientSecret string, store ConfigUpdater, client *http.Client, logger zerolog.Logger) Factory {
	return func(ctx context.Context, ch models.Channel) (Sender, error) {
		c, err := NewMarketplaceClient(baseURL, clientID, clientSecret, ch, store, client)
		if err != nil {
			return nil, err
		}
		c.Logger = logger
		return c, nil
	}
}

func NewMarketplaceClient(baseURL, clientID, clientSecret string, ch models.Channel, store ConfigUpdater, client *http.Client) (*MarketplaceClient, error) {
	if configID(ch, "sellerId") == "" {
		return nil, fmt.Errorf("marketplace channel %s: sellerId not configured", ch.ID)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &MarketplaceClient{
		BaseURL:      firstNonEmpty(baseURL, defaultMarketplaceURL),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Channel:      ch,
		Store:        store,
		Client:       client,
		accessToken:  ch.ConfigString("accessToken"),
	}, nil
}

func (m *MarketplaceClient) SellerID() string {
	return configID(m.Channel, "sellerId")
}

func (m *MarketplaceClient) SendText(ctx context.Context, dest Destination, text string) (string, error) {
	if dest.PackID == "" {
		return "", fmt.Errorf("marketplace pack id: %w", ErrMissingDestination)
	}
	buyerID, err := strconv.ParseInt(dest.ExternalID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("marketplace buyer id %q: %w", dest.ExternalID, ErrMissingDestination)
	}
	sellerID, _ := strconv.ParseInt(m.SellerID(), 10, 64)

	body := map[string]any{
		"from": map[string]any{"user_id": sellerID},
		"to":   map[string]any{"user_id": buyerID},
		"text": text,
	}
	var out struct {
		ID string `json:"id"`
	}
	err = m.withRefresh(ctx, func(token string) error {
		return doJSON(ctx, m.Client, http.MethodPost, m.packURL(dest.PackID), bearer(token), body, &out)
	})
	if err != nil {
		return "", fmt.Errorf("marketplace send: %w", err)
	}
	return out.ID, nil
}

// SendMedia posts the link as text; the messaging API takes no remote attachments.
func (m *MarketplaceClient) SendMedia(ctx context.Context, dest Destination, mediaURL, caption string, mediaType models.MessageType) (string, error) {
	text := mediaURL
	if caption != "" {
		text = caption + "\n" + mediaURL
	}
	return m.SendText(ctx, dest, text)
}

func (m *MarketplaceClient) FetchPackMessages(ctx context.Context, packID string) (PackMessages, error) {
	var out PackMessages
	err := m.withRefresh(ctx, func(token string) error {
		return doJSON(ctx, m.Client, http.MethodGet, m.packURL(packID)+"?tag=post_sale", bearer(token), nil, &out)
	})
	if err != nil {
		return PackMessages{}, fmt.Errorf("marketplace fetch pack %s: %w", packID, err)
	}
	return out, nil
}

func (m *MarketplaceClient) withRefresh(ctx context.Context, call func(token string) error) error {
	err := call(m.token())
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	token, rerr := m.refresh(ctx)
	if rerr != nil {
		return fmt.Errorf("refresh token: %w", rerr)
	}
	return call(token)
}

func (m *MarketplaceClient) refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	err := doJSON(ctx, m.Client, http.MethodPost, strings.TrimRight(m.BaseURL, "/")+"/oauth/token", nil, map[string]any{
		"grant_type":    "refresh_token",
		"client_id":     m.ClientID,
		"client_secret": m.ClientSecret,
		"refresh_token": m.Channel.ConfigString("refreshToken"),
	}, &out)
	if err != nil {
		return "", err
	}

	cfg := make(map[string]any, len(m.Channel.Config)+2)
	for k, v := range m.Channel.Config {
		cfg[k] = v
	}
	cfg["accessToken"] = out.AccessToken
	if out.RefreshToken != "" {
		cfg["refreshToken"] = out.RefreshToken
	}
	// the refreshed token is used even when saving it fails
	if m.Store != nil {
		if err := m.Store.UpdateChannelConfig(ctx, m.Channel.ID, cfg); err != nil {
			m.Logger.Error().Err(err).Str("channel_id", m.Channel.ID).Msg("persist refreshed marketplace tokens")
		}
	}
	m.Channel.Config = cfg
	m.accessToken = out.AccessToken
	return out.AccessToken, nil
}

func (m *MarketplaceClient) token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken
}

func (m *MarketplaceClient) packURL(packID string) string {
	return fmt.Sprintf("%s/messages/packs/%s/sellers/%s",
		strings.TrimRight(m.BaseURL, "/"), url.PathEscape(packID), url.PathEscape(m.SellerID()))
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
