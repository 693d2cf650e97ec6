package outbound

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/channels"
	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/store"
)

var (
	ErrMissingExternalIdentity = errors.New("contact has no external identity")
	ErrChannelSend             = errors.New("channel send failed")
	ErrUnsupportedChannel      = errors.New("unsupported channel type")
)

const (
	DefaultSendTimeout = 15 * time.Second
	statusWriteTimeout = 5 * time.Second
)

type Result struct {
	Sent bool `json:"sent"`
	// Queued is set when delivery was handed to the background worker.
	Queued     bool   `json:"queued,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Err        error  `json:"-"`
}

// Dispatcher delivers agent and bot messages to the customer's channel and
// records the outcome on the message.
type Dispatcher struct {
	Store       store.Repository
	Registry    *channels.Registry
	Limiters    *Limiters
	SendTimeout time.Duration
	Logger      zerolog.Logger
}

// Dispatch never returns an error; the outcome is in the result and, once the
// message is known to belong to the tenant, in exactly one status write on it.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, conversationID, messageID string) Result {
	conv, msg, err := d.load(ctx, tenantID, conversationID, messageID)
	if err != nil {
		d.Logger.Error().Err(err).
			Str("tenant_id", tenantID).
			Str("conversation_id", conversationID).
			Str("message_id", messageID).
			Msg("outbound dispatch")
		return failed(err)
	}

	channelType, extID, err := d.deliver(ctx, conv, msg)
	if err != nil {
		d.Logger.Error().Err(err).
			Str("tenant_id", tenantID).
			Str("conversation_id", conversationID).
			Str("message_id", messageID).
			Str("channel", string(channelType)).
			Msg("outbound message failed")
		d.markMessage(ctx, messageID, models.MessageFailed, "")
		return failed(err)
	}

	d.markMessage(ctx, messageID, models.MessageDelivered, extID)
	d.Logger.Info().
		Str("tenant_id", tenantID).
		Str("conversation_id", conversationID).
		Str("message_id", messageID).
		Str("channel", string(channelType)).
		Str("external_id", extID).
		Msg("outbound message sent")
	return Result{Sent: true, ExternalID: extID}
}

// load resolves the conversation within the tenant before the message, so a
// message of another tenant is never touched.
func (d *Dispatcher) load(ctx context.Context, tenantID, conversationID, messageID string) (models.Conversation, models.Message, error) {
	conv, err := d.Store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return models.Conversation{}, models.Message{}, fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	msg, err := d.Store.GetMessage(ctx, messageID)
	if err == nil && msg.ConversationID != conv.ID {
		err = store.ErrNotFound
	}
	if err != nil {
		return models.Conversation{}, models.Message{}, fmt.Errorf("message %s: %w", messageID, err)
	}
	return conv, msg, nil
}

// markMessage records the outcome even when the caller gave up during the send.
func (d *Dispatcher) markMessage(ctx context.Context, messageID string, status models.MessageStatus, extID string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if err := d.Store.UpdateMessageDelivery(writeCtx, messageID, status, extID); err != nil {
		d.Logger.Error().Err(err).Str("message_id", messageID).Str("status", string(status)).Msg("record message delivery")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, conv models.Conversation, msg models.Message) (models.ChannelType, string, error) {
	tenantID := conv.TenantID
	contact, err := d.Store.GetContact(ctx, tenantID, conv.ContactID)
	if err != nil {
		return "", "", fmt.Errorf("contact %s: %w", conv.ContactID, err)
	}
	ch, err := d.Store.GetChannel(ctx, conv.ChannelID)
	if err == nil && ch.TenantID != tenantID {
		err = store.ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("channel %s: %w", conv.ChannelID, err)
	}

	if contact.ExternalID == "" {
		return ch.Type, "", fmt.Errorf("contact %s: %w", contact.ID, ErrMissingExternalIdentity)
	}
	factory, ok := d.Registry.Lookup(ch.Type)
	if !ok {
		return ch.Type, "", fmt.Errorf("%s: %w", ch.Type, ErrUnsupportedChannel)
	}

	dest := d.destination(ctx, conv, contact)

	timeout := d.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sender, err := factory(sendCtx, ch)
	if err != nil {
		return ch.Type, "", fmt.Errorf("%w: %v", ErrChannelSend, err)
	}
	if err := d.Limiters.Wait(sendCtx, ch.Type); err != nil {
		return ch.Type, "", fmt.Errorf("%w: rate limit wait: %v", ErrChannelSend, err)
	}

	var extID string
	if msg.Type.IsMedia() && len(msg.Attachments) > 0 {
		extID, err = sender.SendMedia(sendCtx, dest, msg.Attachments[0].URL, msg.Content, msg.Type)
	} else {
		extID, err = sender.SendText(sendCtx, dest, msg.Content)
	}
	if err != nil {
		return ch.Type, "", fmt.Errorf("%w: %w", ErrChannelSend, err)
	}
	return ch.Type, extID, nil
}

// destination collects what the channel needs to reach the contact. Pack id and
// email threading come from the latest message the contact sent.
func (d *Dispatcher) destination(ctx context.Context, conv models.Conversation, contact models.Contact) channels.Destination {
	dest := channels.Destination{
		ContactID:  contact.ID,
		ExternalID: contact.ExternalID,
		Email:      contact.Email,
		Name:       contact.Name,
		Subject:    conv.Subject,
		PackID:     metaString(conv.Metadata, "packId"),
	}

	last, err := d.Store.FindMessages(ctx, store.MessageFilter{
		ConversationID: conv.ID,
		Sender:         models.SenderContact,
		Newest:         true,
		Limit:          1,
	})
	if err != nil {
		d.Logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("load latest contact message")
		return dest
	}
	if len(last) == 1 {
		if dest.PackID == "" {
			dest.PackID = metaString(last[0].Metadata, "packId")
		}
		dest.InReplyTo = metaString(last[0].Metadata, "messageId")
		if dest.InReplyTo == "" && contact.Email != "" {
			dest.InReplyTo = last[0].ExternalID
		}
	}
	return dest
}

func metaString(m map[string]any, key string) string {
	if v, ok := m[key]; ok && v != nil {
		switch t := v.(type) {
		case string:
			return t
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		default:
			return fmt.Sprint(t)
		}
	}
	return ""
}

func failed(err error) Result {
	return Result{Sent: false, Error: err.Error(), Err: err}
}
