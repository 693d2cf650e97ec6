package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/omnidesk/backend/internal/models"

	_ "modernc.org/sqlite"
)

// WhatsmeowPool keeps one multi-device client per channel. Devices live in a
// SQLite store and must already be paired.
type WhatsmeowPool struct {
	DBPath string
	Logger zerolog.Logger
	// OnMessage receives inbound messages for the channel the client belongs to.
	OnMessage func(ch models.Channel, msg InboundMessage)

	mu        sync.Mutex
	container *sqlstore.Container
	clients   map[string]*whatsmeow.Client
}

func (p *WhatsmeowPool) Factory(ctx context.Context, ch models.Channel) (Sender, error) {
	client, err := p.Client(ctx, ch)
	if err != nil {
		return nil, err
	}
	return &WhatsmeowSender{Client: client}, nil
}

func (p *WhatsmeowPool) Client(ctx context.Context, ch models.Channel) (*whatsmeow.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[ch.ID]; ok {
		return c, nil
	}
	if p.container == nil {
		container, err := sqlstore.New(ctx, "sqlite", "file:"+p.DBPath+"?_pragma=foreign_keys(1)", waLog.Stdout("Database", "WARN", true))
		if err != nil {
			return nil, fmt.Errorf("open whatsmeow store: %w", err)
		}
		p.container = container
		p.clients = map[string]*whatsmeow.Client{}
	}

	device, err := p.device(ctx, ch)
	if err != nil {
		return nil, err
	}
	if device.ID == nil {
		return nil, fmt.Errorf("whatsapp channel %s: device not paired", ch.ID)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client", "WARN", true))
	if p.OnMessage != nil {
		client.AddEventHandler(func(evt any) {
			if m, ok := evt.(*events.Message); ok {
				if in, ok := ParseWhatsmeowMessage(m); ok {
					p.OnMessage(ch, in)
				}
			}
		})
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("whatsapp channel %s: connect: %w", ch.ID, err)
	}
	p.Logger.Info().Str("channel_id", ch.ID).Str("jid", device.ID.String()).Msg("whatsmeow client connected")
	p.clients[ch.ID] = client
	return client, nil
}

func (p *WhatsmeowPool) device(ctx context.Context, ch models.Channel) (*wastore.Device, error) {
	raw := ch.ConfigString("jid")
	if raw == "" {
		return p.container.GetFirstDevice(ctx)
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return nil, fmt.Errorf("whatsapp channel %s: invalid jid: %w", ch.ID, err)
	}
	device, err := p.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, fmt.Errorf("whatsapp channel %s: no device for %s", ch.ID, raw)
	}
	return device, nil
}

func (p *WhatsmeowPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range p.clients {
		c.Disconnect()
		delete(p.clients, id)
	}
}

type WhatsmeowSender struct {
	Client *whatsmeow.Client
}

func (w *WhatsmeowSender) SendText(ctx context.Context, dest Destination, text string) (string, error) {
	return w.send(ctx, dest, &waE2E.Message{Conversation: proto.String(text)})
}

// SendMedia sends the link as text. Uploading media to the WhatsApp servers is not supported.
func (w *WhatsmeowSender) SendMedia(ctx context.Context, dest Destination, mediaURL, caption string, mediaType models.MessageType) (string, error) {
	text := mediaURL
	if caption != "" {
		text = caption + "\n" + mediaURL
	}
	return w.send(ctx, dest, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String(text)},
	})
}

func (w *WhatsmeowSender) send(ctx context.Context, dest Destination, msg *waE2E.Message) (string, error) {
	if dest.ExternalID == "" {
		return "", ErrMissingDestination
	}
	jid, err := phoneJID(dest.ExternalID)
	if err != nil {
		return "", err
	}
	resp, err := w.Client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("whatsmeow send: %w", err)
	}
	return string(resp.ID), nil
}

func phoneJID(v string) (types.JID, error) {
	if !strings.Contains(v, "@") {
		v += "@s.whatsapp.net"
	}
	jid, err := types.ParseJID(v)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid number format: %w", err)
	}
	return jid, nil
}
