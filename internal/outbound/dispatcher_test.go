package outbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/backend/internal/channels"
	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/store"
)

type fakeSender struct {
	texts []string
	media []string
	dests []channels.Destination
	extID string
	err   error
	block bool
}

func (f *fakeSender) SendText(ctx context.Context, dest channels.Destination, text string) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.texts = append(f.texts, text)
	f.dests = append(f.dests, dest)
	return f.extID, f.err
}

func (f *fakeSender) SendMedia(ctx context.Context, dest channels.Destination, url, caption string, mediaType models.MessageType) (string, error) {
	f.media = append(f.media, url)
	f.dests = append(f.dests, dest)
	return f.extID, f.err
}

type fixture struct {
	store  *store.MemoryStore
	sender *fakeSender
	disp   *Dispatcher
}

func newFixture(t *testing.T, chType models.ChannelType, contactExternalID string) fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveChannel(ctx, &models.Channel{ID: "ch1", TenantID: "t1", Type: chType, IsActive: true}))
	require.NoError(t, st.SaveContact(ctx, &models.Contact{ID: "k1", TenantID: "t1", ExternalID: contactExternalID, Email: "ana@example.com"}))
	require.NoError(t, st.SaveConversation(ctx, &models.Conversation{
		ID: "c1", TenantID: "t1", ChannelID: "ch1", ContactID: "k1",
		Status: models.ConversationAssigned, AssignedToID: "a1", Subject: "Order 55",
		Metadata: map[string]any{"packId": "P-9"},
	}))

	sender := &fakeSender{extID: "ext-1"}
	reg := channels.NewRegistry()
	reg.Register(chType, func(ctx context.Context, ch models.Channel) (channels.Sender, error) { return sender, nil })

	return fixture{
		store:  st,
		sender: sender,
		disp:   &Dispatcher{Store: st, Registry: reg, Logger: zerolog.Nop()},
	}
}

func (f fixture) addMessage(t *testing.T, m models.Message) {
	t.Helper()
	m.ConversationID = "c1"
	if m.Status == "" {
		m.Status = models.MessagePending
	}
	require.NoError(t, f.store.SaveMessage(context.Background(), &m))
}

func (f fixture) status(t *testing.T, id string) models.Message {
	t.Helper()
	m, err := f.store.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return m
}

func TestDispatchTextMarksDelivered(t *testing.T) {
	f := newFixture(t, models.ChannelWhatsApp, "5511999")
	f.addMessage(t, models.Message{ID: "m1", Sender: models.SenderAgent, Type: models.MessageText, Content: "hello"})

	res := f.disp.Dispatch(context.Background(), "t1", "c1", "m1")
	require.True(t, res.Sent, res.Error)
	assert.Equal(t, "ext-1", res.ExternalID)
	assert.Equal(t, []string{"hello"}, f.sender.texts)
	assert.Equal(t, "5511999", f.sender.dests[0].ExternalID)
	assert.Equal(t, "P-9", f.sender.dests[0].PackID)
	assert.Equal(t, "Order 55", f.sender.dests[0].Subject)

	m := f.status(t, "m1")
	assert.Equal(t, models.MessageDelivered, m.Status)
	assert.Equal(t, "ext-1", m.ExternalID)
}

func TestDispatchMediaUsesFirstAttachment(t *testing.T) {
	f := newFixture(t, models.ChannelInstagram, "igsid")
	f.addMessage(t, models.Message{
		ID: "m1", Sender: models.SenderAgent, Type: models.MessageImage, Content: "look",
		Attachments: []models.Attachment{{URL: "https://cdn/a.png"}, {URL: "https://cdn/b.png"}},
	})

	res := f.disp.Dispatch(context.Background(), "t1", "c1", "m1")
	require.True(t, res.Sent)
	assert.Equal(t, []string{"https://cdn/a.png"}, f.sender.media)
	assert.Empty(t, f.sender.texts)
}

func TestDispatchMediaWithoutAttachmentFallsBackToText(t *testing.T) {
	f := newFixture(t, models.ChannelFacebook, "psid")
	f.addMessage(t, models.Message{ID: "m1", Sender: models.SenderAgent, Type: models.MessageImage, Content: "no file"})

	res := f.disp.Dispatch(context.Background(), "t1", "c1", "m1")
	require.True(t, res.Sent)
	assert.Equal(t, []string{"no file"}, f.sender.texts)
}

func TestDispatchMissingExternalIdentity(t *testing.T) {
	f := newFixture(t, models.ChannelWhatsApp, "")
	f.addMessage(t, models.Message{ID: "m1", Sender: models.SenderAgent, Type: models.MessageText, Content: "hello"})

	res := f.disp.Dispatch(context.Background(), "t1", "c1", "m1")
	assert.False(t, res.Sent)
	assert.ErrorIs(t, res.Err, ErrMissingExternalIdentity)
	assert.Empty(t, f.sender.texts)
	assert.Equal(t, models.MessageFailed, f.status(t, "m1").Status)
}

func TestDispatchSenderFailureMarksFailed(t *testing.T) {
	f := newFixture(t, models.ChannelWhatsApp, "5511999")
	f.sender.err = errors.New("provider down")
	f.addMessage(t, models.Message{ID: "m1", Sender: models.SenderBot, Type: models.MessageText, Content: "hi"})

	res := f.disp.Dispatch(context.Background(), "t1", "c1", "m1")
	assert.False(t, res.Sent)
	assert.ErrorIs(t, res.Err, ErrChannelSend)
	assert.Contains(t, res.Error, "provider down")
	assert.Equal(t, models.MessageFailed, f.status(t, "m1").Status)
}

func TestDispatchTimeoutIsFailure(t *testing.T) {
	f := newFixture(t, models.ChannelWhatsApp, "5511999")
	f.sender.block = true
	f.disp.SendTimeout = 20 * time.Millisecond
	f.addMessage(t, models.Message{ID: "m1", Sender: models.SenderAgent, Type: models.MessageText, Content: "hi"})

	res := f.disp.Dispatch(context.Background(), "t1", "c1", "m1")
	assert.False(t, res.Sent)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, models.MessageFailed, f.status(t, "m1").Status)
}

func TestDispatchUnsupportedChannel(t *testing.T) {
	f := newFixture(t, models.ChannelWhatsApp, "5511999")
	f.disp.Registry = channels.NewRegistry()
	f.addMessage(t, models.Message{ID: "m1", Sender: models.SenderAgent, Type: models.MessageText, Content: "hi"})

	res := f.disp.Dispatch(context.Background(), "t1", "c1", "m1")
	assert.ErrorIs(t, res.Err, ErrUnsupportedChannel)
	assert.Equal(t, models.MessageFailed, f.status(t, "m1").Status)
}

func TestDispatchUnknownMessageOrTenant(t *testing.T) {
	f := newFixture(t, models.ChannelWhatsApp, "5511999")

	res := f.disp.Dispatch(context.Background(), "t1", "c1", "missing")
	assert.ErrorIs(t, res.Err, store.ErrNotFound)

	f.addMessage(t, models.Message{ID: "m1", Sender: models.SenderAgent, Type: models.MessageText, Content: "hi"})
	res = f.disp.Dispatch(context.Background(), "other-tenant", "c1", "m1")
	assert.ErrorIs(t, res.Err, store.ErrNotFound)
	assert.Empty(t, f.sender.texts)
	m1, err := f.store.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MessagePending, m1.Status, "another tenant must not change the message")

	f.addMessage(t, models.Message{ID: "m2", Sender: models.SenderAgent, Type: models.MessageText, Content: "hey"})
	require.NoError(t, f.store.SaveConversation(context.Background(), &models.Conversation{ID: "c2", TenantID: "t1", ChannelID: "ch1", ContactID: "k1", Status: models.ConversationOpen}))
	res = f.disp.Dispatch(context.Background(), "t1", "c2", "m2")
	assert.ErrorIs(t, res.Err, store.ErrNotFound)
	m2, err := f.store.GetMessage(context.Background(), "m2")
	require.NoError(t, err)
	assert.Equal(t, models.MessagePending, m2.Status)
}

// ctxCheckingStore refuses writes on a finished context, like a database driver does.
type ctxCheckingStore struct {
	*store.MemoryStore
}

func (s ctxCheckingStore) UpdateMessageDelivery(ctx context.Context, id string, status models.MessageStatus, externalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.UpdateMessageDelivery(ctx, id, status, externalID)
}

func TestDispatchRecordsFailureWhenCallerCancels(t *testing.T) {
	f := newFixture(t, models.ChannelWhatsApp, "5511999")
	f.addMessage(t, models.Message{ID: "m1", Sender: models.SenderAgent, Type: models.MessageText, Content: "hi"})
	f.sender.block = true
	f.disp.Store = ctxCheckingStore{MemoryStore: f.store}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := f.disp.Dispatch(ctx, "t1", "c1", "m1")
	assert.False(t, res.Sent)
	assert.ErrorIs(t, res.Err, ErrChannelSend)

	m1, err := f.store.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MessageFailed, m1.Status)
}

func TestDispatchThreadsEmailReply(t *testing.T) {
	f := newFixture(t, models.ChannelEmail, "ana@example.com")
	f.addMessage(t, models.Message{
		ID: "in1", Sender: models.SenderContact, Type: models.MessageText, Status: models.MessageSent,
		Content: "help", ExternalID: "<orig@mail>", Metadata: map[string]any{"messageId": "<orig@mail>"},
	})
	f.addMessage(t, models.Message{ID: "m1", Sender: models.SenderAgent, Type: models.MessageText, Content: "on it"})

	res := f.disp.Dispatch(context.Background(), "t1", "c1", "m1")
	require.True(t, res.Sent)
	assert.Equal(t, "<orig@mail>", f.sender.dests[0].InReplyTo)
	assert.Equal(t, "ana@example.com", f.sender.dests[0].Email)
}

func TestLimitersDisabledWithZeroRate(t *testing.T) {
	var l *Limiters
	require.NoError(t, l.Wait(context.Background(), models.ChannelWhatsApp))

	l = NewLimiters(1, 1)
	require.NoError(t, l.Wait(context.Background(), models.ChannelWhatsApp))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, models.ChannelWhatsApp))
	require.NoError(t, l.Wait(context.Background(), models.ChannelEmail))
}
