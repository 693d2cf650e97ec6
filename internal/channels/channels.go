package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/omnidesk/backend/internal/models"
)

var (
	// ErrMissingDestination is returned when the contact lacks what the channel needs to reach it.
	ErrMissingDestination = errors.New("missing destination")
	// ErrUnauthorized is returned when the provider rejects the channel credentials.
	ErrUnauthorized = errors.New("channel credentials rejected")
)

// Destination is everything a sender may need to reach one contact.
type Destination struct {
	ContactID  string
	ExternalID string
	Email      string
	Name       string
	Subject    string
	InReplyTo  string
	PackID     string
}

// Sender delivers a message on one configured channel and returns the provider's
// id for the sent message, which may be empty.
type Sender interface {
	SendText(ctx context.Context, dest Destination, text string) (string, error)
	SendMedia(ctx context.Context, dest Destination, url, caption string, mediaType models.MessageType) (string, error)
}

// Factory builds a sender for a channel row. Credentials come from the channel
// config with process-wide defaults as fallback.
type Factory func(ctx context.Context, ch models.Channel) (Sender, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[models.ChannelType]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[models.ChannelType]Factory{}}
}

func (r *Registry) Register(t models.ChannelType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

func (r *Registry) Lookup(t models.ChannelType) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[t]
	return f, ok
}

// ByProvider picks a factory from the channel's "provider" config key and uses
// def when the key is empty or unknown.
func ByProvider(def Factory, providers map[string]Factory) Factory {
	return func(ctx context.Context, ch models.Channel) (Sender, error) {
		if f, ok := providers[ch.ConfigString("provider")]; ok {
			return f(ctx, ch)
		}
		return def(ctx, ch)
	}
}

func (r *Registry) Types() []models.ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ChannelType, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StatusError carries a non-2xx provider response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider http error: %d", e.Code)
	}
	return fmt.Sprintf("provider http error: %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

func doJSON(ctx context.Context, client *http.Client, method, endpoint string, headers map[string]string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// configID reads an identifier that providers send either as a string or a number.
func configID(ch models.Channel, key string) string {
	switch v := ch.Config[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	}
	return ""
}
