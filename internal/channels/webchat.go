package channels

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/realtime"
)

// WebchatSender pushes replies to the visitor's widget through the broadcaster.
type WebchatSender struct {
	Broadcaster realtime.Broadcaster
}

type VisitorMessage struct {
	ID        string             `json:"id"`
	Content   string             `json:"content"`
	Type      models.MessageType `json:"type"`
	Sender    models.Sender      `json:"sender"`
	URL       string             `json:"url,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

func NewWebchatFactory(b realtime.Broadcaster) Factory {
	return func(ctx context.Context, ch models.Channel) (Sender, error) {
		return &WebchatSender{Broadcaster: b}, nil
	}
}

func (w *WebchatSender) SendText(ctx context.Context, dest Destination, text string) (string, error) {
	return w.emit(ctx, dest, VisitorMessage{Content: text, Type: models.MessageText})
}

func (w *WebchatSender) SendMedia(ctx context.Context, dest Destination, mediaURL, caption string, mediaType models.MessageType) (string, error) {
	return w.emit(ctx, dest, VisitorMessage{Content: caption, Type: mediaType, URL: mediaURL})
}

func (w *WebchatSender) emit(ctx context.Context, dest Destination, msg VisitorMessage) (string, error) {
	if dest.ContactID == "" {
		return "", ErrMissingDestination
	}
	msg.ID = uuid.NewString()
	msg.Sender = models.SenderAgent
	msg.CreatedAt = time.Now().UTC()
	w.Broadcaster.EmitToVisitor(ctx, dest.ContactID, realtime.EventNewMessage, msg)
	return "", nil
}
