package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/outbound"
	"github.com/omnidesk/backend/internal/presence"
	"github.com/omnidesk/backend/internal/realtime"
	"github.com/omnidesk/backend/internal/store"
)

const tenant = "t1"

type harness struct {
	store         *store.MemoryStore
	online        *presence.MemoryStore
	events        *realtime.Recorder
	dispatcher    *recordingDispatcher
	queue         *QueueManager
	router        *Router
	conversations *ConversationService
	transfers     *TransferManager
	processing    *ProcessingService
	inbox         *Inbox
	clock         *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	online := presence.NewMemoryStore()
	events := &realtime.Recorder{}
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	log := zerolog.Nop()

	h := &harness{store: st, online: online, events: events, clock: clock}
	h.dispatcher = &recordingDispatcher{result: outbound.Result{Sent: true}}
	h.queue = &QueueManager{Store: st, Broadcaster: events, Logger: log, Now: clock.Now}
	h.router = &Router{
		Store:       st,
		Presence:    presence.NewTracker(online, log, time.Second),
		Queue:       h.queue,
		Broadcaster: events,
		Logger:      log,
	}
	h.conversations = &ConversationService{
		Store:       st,
		Router:      h.router,
		Broadcaster: events,
		Dispatcher:  h.dispatcher,
		Logger:      log,
		Now:         clock.Now,
	}
	h.transfers = &TransferManager{Store: st, Router: h.router, Conversations: h.conversations, Broadcaster: events, Logger: log}
	h.processing = &ProcessingService{Store: st, Router: h.router, Queue: h.queue, Logger: log}
	h.inbox = &Inbox{Store: st, Conversations: h.conversations, Router: h.router, Logger: log}
	return h
}

func (h *harness) agent(t *testing.T, id string, capacity int, status models.AgentStatus) models.Agent {
	t.Helper()
	a := models.Agent{ID: id, TenantID: tenant, Name: "Agent " + id, Status: status, MaxConcurrentChats: capacity, IsActive: true}
	if err := h.store.SaveAgent(context.Background(), &a); err != nil {
		t.Fatalf("save agent: %v", err)
	}
	if status == models.AgentOnline || status == models.AgentAway {
		if err := h.online.Add(context.Background(), tenant, id); err != nil {
			t.Fatalf("mark online: %v", err)
		}
	}
	return a
}

func (h *harness) department(t *testing.T, id string, priority int, autoAssign ...string) models.Department {
	t.Helper()
	d := models.Department{ID: id, TenantID: tenant, Name: "Dept " + id, Priority: priority, AutoAssignChannels: autoAssign, IsActive: true}
	if err := h.store.SaveDepartment(context.Background(), &d); err != nil {
		t.Fatalf("save department: %v", err)
	}
	return d
}

func (h *harness) member(t *testing.T, deptID, agentID string, skill int) {
	t.Helper()
	m := models.Membership{ID: deptID + agentID, DepartmentID: deptID, AgentID: agentID, SkillLevel: skill, IsActive: true}
	if err := h.store.SaveMembership(context.Background(), &m); err != nil {
		t.Fatalf("save membership: %v", err)
	}
}

func (h *harness) channel(t *testing.T, id string, config map[string]any) models.Channel {
	t.Helper()
	ch := models.Channel{ID: id, TenantID: tenant, Type: models.ChannelWhatsApp, Name: "WhatsApp", Config: config, IsActive: true}
	if err := h.store.SaveChannel(context.Background(), &ch); err != nil {
		t.Fatalf("save channel: %v", err)
	}
	return ch
}

// conversation stores an open conversation for a fresh contact.
func (h *harness) conversation(t *testing.T, id string, mutate ...func(*models.Conversation)) models.Conversation {
	t.Helper()
	ctx := context.Background()
	contact := models.Contact{ID: "k-" + id, TenantID: tenant, ExternalID: "ext-" + id, Name: "Customer " + id}
	if err := h.store.SaveContact(ctx, &contact); err != nil {
		t.Fatalf("save contact: %v", err)
	}
	c := models.Conversation{
		ID:          id,
		TenantID:    tenant,
		ChannelID:   "ch1",
		ContactID:   contact.ID,
		Status:      models.ConversationOpen,
		QueueStatus: models.QueueRouting,
		Priority:    models.PriorityNormal,
	}
	for _, m := range mutate {
		m(&c)
	}
	if err := h.store.SaveConversation(ctx, &c); err != nil {
		t.Fatalf("save conversation: %v", err)
	}
	return c
}

// busy gives the agent n assigned conversations.
func (h *harness) busy(t *testing.T, agentID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h.conversation(t, agentID+"-busy-"+string(rune('a'+i)), func(c *models.Conversation) {
			c.Status = models.ConversationAssigned
			c.AssignedToID = agentID
			c.QueueStatus = models.QueueRouted
		})
	}
}

func (h *harness) get(t *testing.T, id string) models.Conversation {
	t.Helper()
	c, err := h.store.GetConversation(context.Background(), tenant, id)
	if err != nil {
		t.Fatalf("get conversation %s: %v", id, err)
	}
	return c
}

func (h *harness) messages(t *testing.T, convID string) []models.Message {
	t.Helper()
	out, err := h.store.FindMessages(context.Background(), store.MessageFilter{ConversationID: convID})
	if err != nil {
		t.Fatalf("find messages: %v", err)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	calls  []string
	result outbound.Result
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, tenantID, conversationID, messageID string) outbound.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, messageID)
	return d.result
}

func (d *recordingDispatcher) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}
