package channels

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/omnidesk/backend/internal/models"
)

const (
	mediaPlaceholder      = "[Media]"
	attachmentPlaceholder = "[Attachment]"
)

// InboundMessage is a customer message normalized from any provider payload.
type InboundMessage struct {
	ContactExternalID string
	ContactName       string
	ContactEmail      string
	ContactPhone      string
	Source            string
	// ExternalID is the provider's message id, used for deduplication.
	ExternalID  string
	Content     string
	Type        models.MessageType
	Subject     string
	Attachments []models.Attachment
	Metadata    map[string]any
}

type evolutionWebhook struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type evolutionMessage struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName string `json:"pushName"`
	Message  struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage *struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
		ImageMessage *struct {
			Caption string `json:"caption"`
			URL     string `json:"url"`
		} `json:"imageMessage"`
		AudioMessage    json.RawMessage `json:"audioMessage"`
		VideoMessage    json.RawMessage `json:"videoMessage"`
		DocumentMessage json.RawMessage `json:"documentMessage"`
	} `json:"message"`
}

// ParseEvolutionWebhook handles messages.upsert events. Other events and messages
// sent by the instance itself yield nothing.
func ParseEvolutionWebhook(body []byte) ([]InboundMessage, error) {
	var hook evolutionWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("decode evolution webhook: %w", err)
	}
	if hook.Event != "messages.upsert" || len(hook.Data) == 0 {
		return nil, nil
	}

	var m evolutionMessage
	if err := json.Unmarshal(hook.Data, &m); err != nil {
		return nil, fmt.Errorf("decode evolution message: %w", err)
	}
	if m.Key.FromMe || m.Key.RemoteJID == "" {
		return nil, nil
	}

	phone := strings.TrimSuffix(strings.TrimSuffix(m.Key.RemoteJID, "@s.whatsapp.net"), "@g.us")
	in := InboundMessage{
		ContactExternalID: phone,
		ContactName:       firstNonEmpty(m.PushName, phone),
		ContactPhone:      phone,
		Source:            string(models.ChannelWhatsApp),
		ExternalID:        m.Key.ID,
		Type:              models.MessageText,
	}
	switch {
	case m.Message.Conversation != "":
		in.Content = m.Message.Conversation
	case m.Message.ExtendedTextMessage != nil && m.Message.ExtendedTextMessage.Text != "":
		in.Content = m.Message.ExtendedTextMessage.Text
	case m.Message.ImageMessage != nil && m.Message.ImageMessage.Caption != "":
		in.Content = m.Message.ImageMessage.Caption
	default:
		in.Content = mediaPlaceholder
	}
	switch {
	case m.Message.ImageMessage != nil:
		in.Type = models.MessageImage
		if m.Message.ImageMessage.URL != "" {
			in.Attachments = []models.Attachment{{URL: m.Message.ImageMessage.URL, Type: "image"}}
		}
	case len(m.Message.AudioMessage) > 0:
		in.Type = models.MessageAudio
	case len(m.Message.VideoMessage) > 0:
		in.Type = models.MessageVideo
	case len(m.Message.DocumentMessage) > 0:
		in.Type = models.MessageFile
	}
	return []InboundMessage{in}, nil
}

type metaWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message *struct {
				MID         string `json:"mid"`
				Text        string `json:"text"`
				IsEcho      bool   `json:"is_echo"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
			Postback *struct {
				Title   string `json:"title"`
				Payload string `json:"payload"`
			} `json:"postback"`
		} `json:"messaging"`
	} `json:"entry"`
}

// ParseMetaWebhook reads Instagram and Messenger entry[].messaging[] events. Echoes
// of our own sends are skipped; postbacks become text messages.
func ParseMetaWebhook(body []byte, source models.ChannelType) ([]InboundMessage, error) {
	var hook metaWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("decode meta webhook: %w", err)
	}

	var out []InboundMessage
	for _, entry := range hook.Entry {
		for _, ev := range entry.Messaging {
			senderID := ev.Sender.ID
			if senderID == "" {
				continue
			}
			switch {
			case ev.Message != nil:
				if ev.Message.IsEcho {
					continue
				}
				in := InboundMessage{
					ContactExternalID: senderID,
					ContactName:       senderID,
					Source:            string(source),
					ExternalID:        ev.Message.MID,
					Content:           firstNonEmpty(ev.Message.Text, attachmentPlaceholder),
					Type:              models.MessageText,
				}
				for _, a := range ev.Message.Attachments {
					in.Attachments = append(in.Attachments, models.Attachment{URL: a.Payload.URL, Type: a.Type, Name: a.Type})
				}
				if len(in.Attachments) > 0 {
					in.Type = metaMessageType(ev.Message.Attachments[0].Type)
				}
				out = append(out, in)
			case ev.Postback != nil && ev.Postback.Payload != "":
				out = append(out, InboundMessage{
					ContactExternalID: senderID,
					ContactName:       senderID,
					Source:            string(source),
					Content:           fmt.Sprintf("[Button: %s]", firstNonEmpty(ev.Postback.Title, ev.Postback.Payload)),
					Type:              models.MessageText,
					Metadata:          map[string]any{"postback": ev.Postback.Payload},
				})
			}
		}
	}
	return out, nil
}

func metaMessageType(t string) models.MessageType {
	switch t {
	case "image":
		return models.MessageImage
	case "video":
		return models.MessageVideo
	case "audio":
		return models.MessageAudio
	case "location":
		return models.MessageLocation
	}
	return models.MessageFile
}

type MarketplaceNotification struct {
	Resource string `json:"resource"`
	Topic    string `json:"topic"`
	UserID   int64  `json:"user_id"`
}

// PackID is the last path segment of the notified resource.
func (n MarketplaceNotification) PackID() string {
	parts := strings.Split(strings.Trim(n.Resource, "/"), "/")
	return parts[len(parts)-1]
}

// MarketplaceInbound turns fetched pack messages into inbound messages, skipping
// those written by the seller.
func MarketplaceInbound(pack PackMessages, packID, sellerID string) []InboundMessage {
	orderID := packID
	if pack.PackID != nil {
		orderID = fmt.Sprint(pack.PackID)
	}
	out := make([]InboundMessage, 0, len(pack.Messages))
	for _, m := range pack.Messages {
		buyerID := strconv.FormatInt(m.From.UserID, 10)
		if buyerID == sellerID {
			continue
		}
		out = append(out, InboundMessage{
			ContactExternalID: buyerID,
			ContactName:       "Marketplace buyer #" + buyerID,
			Source:            string(models.ChannelMarketplace),
			ExternalID:        m.ID,
			Content:           firstNonEmpty(m.Text, attachmentPlaceholder),
			Type:              models.MessageText,
			Metadata: map[string]any{
				"packId":  packID,
				"buyerId": m.From.UserID,
				"orderId": orderID,
			},
		})
	}
	return out
}

type WebchatMessage struct {
	VisitorID    string `json:"visitorId" binding:"required"`
	VisitorName  string `json:"visitorName"`
	VisitorEmail string `json:"visitorEmail" binding:"omitempty,email"`
	Message      string `json:"message" binding:"required"`
}

func (w WebchatMessage) Inbound() InboundMessage {
	return InboundMessage{
		ContactExternalID: w.VisitorID,
		ContactName:       firstNonEmpty(w.VisitorName, "Visitor"),
		ContactEmail:      w.VisitorEmail,
		Source:            string(models.ChannelWebchat),
		Content:           w.Message,
		Type:              models.MessageText,
	}
}

// InboundEmail is a parsed email forwarded by the mail gateway.
type InboundEmail struct {
	From      string   `json:"from" binding:"required,email"`
	FromName  string   `json:"fromName"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	Text      string   `json:"text"`
	MessageID string   `json:"messageId"`
	InReplyTo string   `json:"inReplyTo"`
}

const maxEmailContent = 10000

func (e InboundEmail) Inbound() InboundMessage {
	content := e.Text
	if len(content) > maxEmailContent {
		content = content[:maxEmailContent]
	}
	subject := firstNonEmpty(e.Subject, "(No subject)")
	return InboundMessage{
		ContactExternalID: e.From,
		ContactName:       firstNonEmpty(e.FromName, e.From),
		ContactEmail:      e.From,
		Source:            string(models.ChannelEmail),
		ExternalID:        e.MessageID,
		Content:           content,
		Type:              models.MessageText,
		Subject:           subject,
		Metadata: map[string]any{
			"subject":   subject,
			"from":      e.From,
			"to":        e.To,
			"messageId": e.MessageID,
			"inReplyTo": e.InReplyTo,
		},
	}
}

// ParseWhatsmeowMessage converts a native client event. ok is false for our own messages.
func ParseWhatsmeowMessage(evt *events.Message) (InboundMessage, bool) {
	if evt == nil || evt.Info.IsFromMe || evt.Message == nil {
		return InboundMessage{}, false
	}
	phone := evt.Info.Sender.User
	msg := evt.Message
	in := InboundMessage{
		ContactExternalID: phone,
		ContactName:       firstNonEmpty(evt.Info.PushName, phone),
		ContactPhone:      phone,
		Source:            string(models.ChannelWhatsApp),
		ExternalID:        string(evt.Info.ID),
		Type:              models.MessageText,
		Content: firstNonEmpty(
			msg.GetConversation(),
			msg.GetExtendedTextMessage().GetText(),
			msg.GetImageMessage().GetCaption(),
			mediaPlaceholder,
		),
	}
	switch {
	case msg.GetImageMessage() != nil:
		in.Type = models.MessageImage
	case msg.GetAudioMessage() != nil:
		in.Type = models.MessageAudio
	case msg.GetVideoMessage() != nil:
		in.Type = models.MessageVideo
	case msg.GetDocumentMessage() != nil:
		in.Type = models.MessageFile
	}
	return in, true
}
