package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/http/middleware"
	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/outbound"
	"github.com/omnidesk/backend/internal/presence"
	"github.com/omnidesk/backend/internal/realtime"
	"github.com/omnidesk/backend/internal/service"
	"github.com/omnidesk/backend/internal/store"
)

const tenant = "t1"

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDispatcher struct {
	mu     sync.Mutex
	calls  []string
	result outbound.Result
}

func (d *stubDispatcher) Dispatch(ctx context.Context, tenantID, conversationID, messageID string) outbound.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, messageID)
	return d.result
}

func (d *stubDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type testEnv struct {
	store      *store.MemoryStore
	online     *presence.MemoryStore
	dispatcher *stubDispatcher
	handler    *Handler
	engine     *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	online := presence.NewMemoryStore()
	events := &realtime.Recorder{}
	log := zerolog.Nop()
	tracker := presence.NewTracker(online, log, time.Second)

	queue := &service.QueueManager{Store: st, Broadcaster: events, Logger: log}
	router := &service.Router{Store: st, Presence: tracker, Queue: queue, Broadcaster: events, Logger: log}
	dispatcher := &stubDispatcher{result: outbound.Result{Sent: true, ExternalID: "ext-1"}}
	convs := &service.ConversationService{Store: st, Router: router, Broadcaster: events, Dispatcher: dispatcher, Logger: log}
	processing := &service.ProcessingService{Store: st, Router: router, Queue: queue, Logger: log}

	h := &Handler{
		Store:           st,
		Conversations:   convs,
		Router:          router,
		Transfers:       &service.TransferManager{Store: st, Router: router, Conversations: convs, Broadcaster: events, Logger: log},
		Queue:           queue,
		Processing:      processing,
		Departments:     &service.DepartmentService{Store: st, Logger: log},
		Agents:          &service.AgentService{Store: st, Presence: tracker, Processing: processing, Logger: log},
		Inbox:           &service.Inbox{Store: st, Conversations: convs, Router: router, Logger: log},
		Presence:        tracker,
		Validator:       validator.New(),
		Logger:          log,
		MetaVerifyToken: "verify-me",
	}

	r := gin.New()
	r.GET("/healthz", h.Healthz)
	hooks := r.Group("/webhooks")
	hooks.POST("/whatsapp/:channelId", h.WebhookWhatsApp)
	hooks.GET("/meta/:channelId", h.WebhookMetaVerify)
	hooks.POST("/instagram/:channelId", h.WebhookInstagram)
	hooks.POST("/marketplace/:channelId", h.WebhookMarketplace)
	hooks.POST("/webchat/:channelId", h.WebhookWebchat)
	hooks.POST("/email/:channelId", h.WebhookEmail)

	api := r.Group("/api", middleware.Tenant())
	api.GET("/conversations", h.ConversationsList)
	api.GET("/conversations/:id", h.ConversationGet)
	api.POST("/conversations/:id/messages", h.ConversationReply)
	api.POST("/conversations/:id/messages/:messageId/dispatch", h.ConversationDispatch)
	api.POST("/conversations/:id/close", h.ConversationClose)
	api.POST("/conversations/:id/route", h.ConversationRoute)
	api.POST("/conversations/:id/transfer", h.ConversationTransfer)
	api.POST("/departments", h.DepartmentCreate)
	api.POST("/departments/:id/members", h.DepartmentAddMember)
	api.POST("/agents", h.AgentCreate)
	api.POST("/agents/:id/presence", h.AgentPresence)
	api.GET("/queue/stats", h.QueueStats)
	api.POST("/channels", h.ChannelCreate)
	api.GET("/debug/routing", h.DebugRouting)

	return &testEnv{store: st, online: online, dispatcher: dispatcher, handler: h, engine: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.TenantHeader, tenant)
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *testEnv) channel(t *testing.T, id string, typ models.ChannelType, config map[string]any) {
	t.Helper()
	ch := models.Channel{ID: id, TenantID: tenant, Type: typ, Name: string(typ), Config: config, IsActive: true}
	if err := e.store.SaveChannel(context.Background(), &ch); err != nil {
		t.Fatalf("save channel: %v", err)
	}
}

func (e *testEnv) agent(t *testing.T, id string, status models.AgentStatus) {
	t.Helper()
	a := models.Agent{ID: id, TenantID: tenant, Name: "Agent " + id, Status: status, MaxConcurrentChats: 3, IsActive: true}
	if err := e.store.SaveAgent(context.Background(), &a); err != nil {
		t.Fatalf("save agent: %v", err)
	}
	if status != models.AgentOffline {
		if err := e.online.Add(context.Background(), tenant, id); err != nil {
			t.Fatalf("mark online: %v", err)
		}
	}
}

func (e *testEnv) conversation(t *testing.T, id string, mutate func(*models.Conversation)) {
	t.Helper()
	ctx := context.Background()
	contact := models.Contact{ID: "k-" + id, TenantID: tenant, ExternalID: "5511" + id, Name: "Customer"}
	if err := e.store.SaveContact(ctx, &contact); err != nil {
		t.Fatalf("save contact: %v", err)
	}
	c := models.Conversation{
		ID:          id,
		TenantID:    tenant,
		ChannelID:   "wa",
		ContactID:   contact.ID,
		Status:      models.ConversationOpen,
		QueueStatus: models.QueueRouting,
		Priority:    models.PriorityNormal,
	}
	if mutate != nil {
		mutate(&c)
	}
	if err := e.store.SaveConversation(ctx, &c); err != nil {
		t.Fatalf("save conversation: %v", err)
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}](t, w)
	return body.Error.Code
}
