package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/realtime"
	"github.com/omnidesk/backend/internal/store"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to models.ConversationStatus
		ok       bool
	}{
		{models.ConversationOpen, models.ConversationPending, true},
		{models.ConversationOpen, models.ConversationAssigned, true},
		{models.ConversationOpen, models.ConversationClosed, true},
		{models.ConversationPending, models.ConversationOpen, true},
		{models.ConversationPending, models.ConversationAssigned, true},
		{models.ConversationAssigned, models.ConversationOpen, true},
		{models.ConversationAssigned, models.ConversationClosed, true},
		{models.ConversationClosed, models.ConversationArchived, true},
		{models.ConversationAssigned, models.ConversationPending, false},
		{models.ConversationClosed, models.ConversationOpen, false},
		{models.ConversationArchived, models.ConversationOpen, false},
		{models.ConversationOpen, models.ConversationArchived, false},
	}
	for _, tc := range cases {
		conv := models.Conversation{Status: tc.from, AssignedToID: "a1"}
		err := Transition(&conv, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok {
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected invalid transition, got %v", tc.from, tc.to, err)
			}
			if conv.Status != tc.from {
				t.Fatalf("rejected transition must leave status unchanged")
			}
		}
	}
}

func TestTransitionClearsAssigneeWhenLeavingAssigned(t *testing.T) {
	conv := models.Conversation{Status: models.ConversationAssigned, AssignedToID: "a1"}
	if err := Transition(&conv, models.ConversationOpen); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if conv.AssignedToID != "" {
		t.Fatalf("expected assignee to be cleared, got %q", conv.AssignedToID)
	}
}

func TestFindOrCreateReusesActiveConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := InboundContact{TenantID: tenant, ChannelID: "ch1", ExternalID: "5511", Name: "Ana"}

	first, created, err := h.conversations.FindOrCreate(ctx, in)
	if err != nil || !created {
		t.Fatalf("expected new conversation, got created=%v err=%v", created, err)
	}
	if first.Status != models.ConversationOpen || first.QueueStatus != models.QueueRouting || first.Priority != models.PriorityNormal {
		t.Fatalf("unexpected defaults: %+v", first)
	}
	if first.IsBot {
		t.Fatalf("bot must stay off without an assistant")
	}

	again, created, err := h.conversations.FindOrCreate(ctx, in)
	if err != nil || created || again.ID != first.ID {
		t.Fatalf("expected to reuse %s, got %s created=%v err=%v", first.ID, again.ID, created, err)
	}

	if _, err := h.conversations.Close(ctx, tenant, first.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	fresh, created, err := h.conversations.FindOrCreate(ctx, in)
	if err != nil || !created || fresh.ID == first.ID {
		t.Fatalf("closed conversation must not be reused, got %s created=%v", fresh.ID, created)
	}
	if fresh.ContactID != first.ContactID {
		t.Fatalf("expected the same contact to be reused")
	}
}

func TestAddMessageStatusesAndReopen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.conversation(t, "c1", func(c *models.Conversation) { c.Status = models.ConversationPending })

	in, err := h.conversations.AddMessage(ctx, NewMessage{
		TenantID: tenant, ConversationID: "c1", Sender: models.SenderContact, Content: "hi",
		Metadata: map[string]any{"packId": "P1"},
	})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}
	if in.Status != models.MessageSent || in.Type != models.MessageText {
		t.Fatalf("unexpected contact message: %+v", in)
	}
	conv := h.get(t, "c1")
	if conv.Status != models.ConversationOpen {
		t.Fatalf("customer message must reopen a pending conversation, got %s", conv.Status)
	}
	if conv.Metadata["packId"] != "P1" {
		t.Fatalf("expected pack id to be copied, got %+v", conv.Metadata)
	}
	if conv.LastMessageAt == nil || !conv.LastMessageAt.Equal(h.clock.Now()) {
		t.Fatalf("expected lastMessageAt to be stamped")
	}

	out, _ := h.conversations.AddMessage(ctx, NewMessage{TenantID: tenant, ConversationID: "c1", Sender: models.SenderAgent, Content: "hello"})
	if out.Status != models.MessagePending {
		t.Fatalf("agent message must start pending, got %s", out.Status)
	}
	sys, _ := h.conversations.AddMessage(ctx, NewMessage{TenantID: tenant, ConversationID: "c1", Sender: models.SenderSystem, Content: "note"})
	if sys.Type != models.MessageSystem {
		t.Fatalf("system message must default to system type, got %s", sys.Type)
	}

	if n := len(h.events.Find(realtime.EventNewMessage)); n != 3 {
		t.Fatalf("expected three new_message events, got %d", n)
	}
}

func TestCustomerMessageKeepsAssignedAndClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, st := range []models.ConversationStatus{models.ConversationAssigned, models.ConversationClosed} {
		conv := h.conversation(t, string(st), func(c *models.Conversation) { c.Status = st })
		if err := h.conversations.RecordInboundMessage(ctx, &conv, models.SenderContact, time.Now()); err != nil {
			t.Fatalf("record: %v", err)
		}
		if conv.Status != st {
			t.Fatalf("customer message must not change %s, got %s", st, conv.Status)
		}
		if h.get(t, string(st)).LastMessageAt == nil {
			t.Fatalf("expected last message time on %s", st)
		}
	}
}

func TestCustomerMessageReopensPending(t *testing.T) {
	h := newHarness(t)
	conv := h.conversation(t, "c1", func(c *models.Conversation) { c.Status = models.ConversationPending })
	if err := h.conversations.RecordInboundMessage(context.Background(), &conv, models.SenderContact, time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if conv.Status != models.ConversationOpen || h.get(t, "c1").Status != models.ConversationOpen {
		t.Fatalf("expected pending conversation to reopen, got %s", conv.Status)
	}
}

// interleavingStore runs hook right after a message is stored, before the
// conversation activity is written.
type interleavingStore struct {
	*store.MemoryStore
	hook func()
}

func (s *interleavingStore) SaveMessage(ctx context.Context, m *models.Message) error {
	if err := s.MemoryStore.SaveMessage(ctx, m); err != nil {
		return err
	}
	if s.hook != nil {
		hook := s.hook
		s.hook = nil
		hook()
	}
	return nil
}

func TestAddMessageKeepsConcurrentAssignment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "a1", 3, models.AgentOnline)
	h.conversation(t, "c1", func(c *models.Conversation) { c.Status = models.ConversationPending })

	wrapped := &interleavingStore{MemoryStore: h.store}
	svc := *h.conversations
	svc.Store = wrapped
	wrapped.hook = func() {
		res, err := h.router.Route(ctx, tenant, "c1", "")
		if err != nil || !res.Assigned {
			t.Fatalf("route between load and save: %+v %v", res, err)
		}
	}

	if _, err := svc.AddMessage(ctx, NewMessage{TenantID: tenant, ConversationID: "c1", Sender: models.SenderContact, Content: "hello"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	got := h.get(t, "c1")
	if got.Status != models.ConversationAssigned || got.AssignedToID != "a1" || got.QueueStatus != models.QueueRouted {
		t.Fatalf("assignment lost: status=%s assigned=%q queue=%s", got.Status, got.AssignedToID, got.QueueStatus)
	}
	if got.LastMessageAt == nil {
		t.Fatalf("expected last message time")
	}
}

func TestAddMessageKeepsConcurrentFirstResponse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.conversation(t, "c1")
	start := h.clock.Now()

	wrapped := &interleavingStore{MemoryStore: h.store}
	svc := *h.conversations
	svc.Store = wrapped
	wrapped.hook = func() {
		if err := h.conversations.TrackFirstResponse(ctx, tenant, "c1"); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	h.clock.Advance(time.Minute)

	if _, err := svc.AddMessage(ctx, NewMessage{TenantID: tenant, ConversationID: "c1", Sender: models.SenderContact, Content: "still there?"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	got := h.get(t, "c1").FirstResponseAt
	if got == nil || !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("expected first response kept at %v, got %v", start.Add(time.Minute), got)
	}
}

func TestFirstResponseIsSetOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.conversation(t, "c1")
	start := h.clock.Now()

	if err := h.conversations.TrackFirstResponse(ctx, tenant, "c1"); err != nil {
		t.Fatalf("track: %v", err)
	}
	h.clock.Advance(time.Hour)
	if err := h.conversations.TrackFirstResponse(ctx, tenant, "c1"); err != nil {
		t.Fatalf("track again: %v", err)
	}
	if _, err := h.conversations.AddMessage(ctx, NewMessage{TenantID: tenant, ConversationID: "c1", Sender: models.SenderBot, Content: "later"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	got := h.get(t, "c1").FirstResponseAt
	if got == nil || !got.Equal(start) {
		t.Fatalf("expected first response at %v, got %v", start, got)
	}

	if err := h.conversations.TrackFirstResponse(ctx, "other", "c1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for another tenant, got %v", err)
	}
}

func TestReplyAsAgentDispatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "a1", 3, models.AgentOnline)
	h.conversation(t, "c1", func(c *models.Conversation) {
		c.Status = models.ConversationAssigned
		c.AssignedToID = "a1"
	})

	msg, res, err := h.conversations.ReplyAsAgent(ctx, tenant, "c1", "a1", "on it", "", nil)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !res.Sent {
		t.Fatalf("expected dispatch result to be returned, got %+v", res)
	}
	if calls := h.dispatcher.Calls(); len(calls) != 1 || calls[0] != msg.ID {
		t.Fatalf("expected one dispatch for %s, got %v", msg.ID, calls)
	}
	if msg.AgentID != "a1" || msg.Sender != models.SenderAgent {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if h.get(t, "c1").FirstResponseAt == nil {
		t.Fatalf("agent reply must set first response")
	}

	if _, _, err := h.conversations.ReplyAsAgent(ctx, tenant, "c1", "a1", "  ", "", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty reply to be rejected, got %v", err)
	}
}

type failingQueue struct{}

func (failingQueue) EnqueueDispatch(ctx context.Context, tenantID, conversationID, messageID string) error {
	return errors.New("queue down")
}

type acceptingQueue struct{ ids []string }

func (q *acceptingQueue) EnqueueDispatch(ctx context.Context, tenantID, conversationID, messageID string) error {
	q.ids = append(q.ids, messageID)
	return nil
}

func TestDeliverPrefersQueueAndFallsBackInline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q := &acceptingQueue{}
	h.conversations.DispatchQueue = q
	res := h.conversations.Deliver(ctx, tenant, "c1", "m1")
	if !res.Queued || len(q.ids) != 1 || len(h.dispatcher.Calls()) != 0 {
		t.Fatalf("expected the message to be queued, got %+v", res)
	}

	h.conversations.DispatchQueue = failingQueue{}
	res = h.conversations.Deliver(ctx, tenant, "c1", "m2")
	if !res.Sent || len(h.dispatcher.Calls()) != 1 {
		t.Fatalf("expected inline dispatch after queue failure, got %+v", res)
	}
}

func TestAssignAndClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "a1", 3, models.AgentOffline)
	h.conversation(t, "c1")

	conv, err := h.conversations.Assign(ctx, tenant, "c1", "a1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if conv.Status != models.ConversationAssigned || conv.QueueStatus != models.QueueManual || conv.AssignedToID != "a1" {
		t.Fatalf("unexpected assigned conversation: %+v", conv)
	}

	closed, err := h.conversations.Close(ctx, tenant, "c1")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != models.ConversationClosed || closed.AssignedToID != "" {
		t.Fatalf("unexpected closed conversation: %+v", closed)
	}
	if closed.Metadata["last_agent_id"] != "a1" {
		t.Fatalf("expected last agent to be kept, got %+v", closed.Metadata)
	}
	msgs := h.messages(t, "c1")
	if len(msgs) != 1 || msgs[0].Content != "Conversation closed" || msgs[0].Sender != models.SenderSystem {
		t.Fatalf("expected close note, got %+v", msgs)
	}

	if _, _, err := h.conversations.ReplyAsAgent(ctx, tenant, "c1", "a1", "hello?", "", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected reply to closed conversation to fail, got %v", err)
	}
	if _, err := h.conversations.Close(ctx, tenant, "c1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected double close to fail, got %v", err)
	}
	archived, err := h.conversations.Archive(ctx, tenant, "c1")
	if err != nil || archived.Status != models.ConversationArchived {
		t.Fatalf("expected archive, got %+v err=%v", archived, err)
	}
}

func TestListPagesNewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := h.clock.Now()
	for i, id := range []string{"c1", "c2", "c3"} {
		at := base.Add(time.Duration(i) * time.Minute)
		h.conversation(t, id, func(c *models.Conversation) { c.LastMessageAt = &at })
	}

	page1, err := h.conversations.List(ctx, store.ConversationFilter{TenantID: tenant, Limit: 2}, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page1.Total != 3 || len(page1.Conversations) != 2 || page1.Conversations[0].ID != "c3" {
		t.Fatalf("unexpected first page: %+v", page1)
	}
	page2, _ := h.conversations.List(ctx, store.ConversationFilter{TenantID: tenant, Limit: 2}, 2)
	if len(page2.Conversations) != 1 || page2.Conversations[0].ID != "c1" {
		t.Fatalf("unexpected second page: %+v", page2)
	}

	def, _ := h.conversations.List(ctx, store.ConversationFilter{TenantID: tenant}, 0)
	if def.Limit != DefaultPageSize || def.Page != 1 {
		t.Fatalf("expected default paging, got page=%d limit=%d", def.Page, def.Limit)
	}
}

func TestHistoryMapsRolesOldestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.conversation(t, "c1")
	for _, m := range []NewMessage{
		{Sender: models.SenderContact, Content: "where is my order"},
		{Sender: models.SenderSystem, Content: "assigned"},
		{Sender: models.SenderBot, Content: "let me check"},
		{Sender: models.SenderContact, Content: "thanks"},
	} {
		m.TenantID = tenant
		m.ConversationID = "c1"
		if _, err := h.conversations.AddMessage(ctx, m); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	hist, err := h.conversations.History(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("expected system messages to be skipped, got %+v", hist)
	}
	if hist[0].Role != "user" || hist[0].Content != "where is my order" || hist[1].Role != "assistant" || hist[2].Content != "thanks" {
		t.Fatalf("unexpected history: %+v", hist)
	}
}
