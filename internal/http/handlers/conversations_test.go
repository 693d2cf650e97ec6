package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/http/middleware"
	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/outbound"
	"github.com/omnidesk/backend/internal/service"
)

func TestTenantHeaderRequired(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if code := errorCode(t, w); code != "MISSING_TENANT" {
		t.Fatalf("expected MISSING_TENANT, got %s", code)
	}
}

func TestConversationGetIsTenantScoped(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "c1", nil)

	if w := env.do(t, http.MethodGet, "/api/conversations/c1", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/c1", nil)
	req.Header.Set(middleware.TenantHeader, "other")
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another tenant, got %d", w.Code)
	}
	if code := errorCode(t, w); code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", code)
	}
}

func TestConversationsListFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "c1", nil)
	env.conversation(t, "c2", func(c *models.Conversation) { c.Status = models.ConversationClosed })

	w := env.do(t, http.MethodGet, "/api/conversations?status=open,pending", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	res := decode[service.ListResult](t, w)
	if res.Total != 1 || len(res.Conversations) != 1 || res.Conversations[0].ID != "c1" {
		t.Fatalf("expected only c1, got %+v", res)
	}
	if res.Page != 1 || res.Limit != service.DefaultPageSize {
		t.Fatalf("unexpected paging %d/%d", res.Page, res.Limit)
	}
}

func TestReplyDispatchesMessage(t *testing.T) {
	env := newTestEnv(t)
	env.agent(t, "a1", models.AgentOnline)
	env.conversation(t, "c1", func(c *models.Conversation) {
		c.Status = models.ConversationAssigned
		c.AssignedToID = "a1"
	})

	w := env.do(t, http.MethodPost, "/api/conversations/c1/messages", map[string]any{"agent_id": "a1", "content": "Hello!"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	body := decode[struct {
		Message  models.Message  `json:"message"`
		Dispatch outbound.Result `json:"dispatch"`
	}](t, w)
	if body.Message.Sender != models.SenderAgent || body.Message.Status != models.MessagePending {
		t.Fatalf("unexpected stored message %+v", body.Message)
	}
	if !body.Dispatch.Sent || body.Dispatch.ExternalID != "ext-1" {
		t.Fatalf("unexpected dispatch result %+v", body.Dispatch)
	}
	if env.dispatcher.count() != 1 {
		t.Fatalf("expected one dispatch, got %d", env.dispatcher.count())
	}

	retry := env.do(t, http.MethodPost, "/api/conversations/c1/messages/"+body.Message.ID+"/dispatch", nil)
	if retry.Code != http.StatusOK {
		t.Fatalf("expected retry 200, got %d: %s", retry.Code, retry.Body.String())
	}
	if env.dispatcher.count() != 2 {
		t.Fatalf("expected a second dispatch, got %d", env.dispatcher.count())
	}
}

func TestReplyValidation(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "c1", nil)

	w := env.do(t, http.MethodPost, "/api/conversations/c1/messages", map[string]any{"content": "hi"})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/conversations/c1/messages", "{not json")
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST, got %d %s", w.Code, w.Body.String())
	}
}

func TestReplyToClosedConversationIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.agent(t, "a1", models.AgentOnline)
	env.conversation(t, "c1", func(c *models.Conversation) {
		c.Status = models.ConversationAssigned
		c.AssignedToID = "a1"
	})

	w := env.do(t, http.MethodPost, "/api/conversations/c1/close", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on close, got %d: %s", w.Code, w.Body.String())
	}
	closed := decode[models.Conversation](t, w)
	if closed.Status != models.ConversationClosed || closed.AssignedToID != "" {
		t.Fatalf("unexpected closed conversation %+v", closed)
	}

	w = env.do(t, http.MethodPost, "/api/conversations/c1/messages", map[string]any{"agent_id": "a1", "content": "still there?"})
	if w.Code != http.StatusConflict || errorCode(t, w) != "INVALID_STATE" {
		t.Fatalf("expected 409 INVALID_STATE, got %d %s", w.Code, w.Body.String())
	}
	if env.dispatcher.count() != 0 {
		t.Fatalf("nothing should be dispatched")
	}

	w = env.do(t, http.MethodPost, "/api/conversations/c1/close", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("closing twice should conflict, got %d", w.Code)
	}
}

func TestRouteQueuesWhenNobodyOnline(t *testing.T) {
	env := newTestEnv(t)
	env.agent(t, "a1", models.AgentOffline)
	env.conversation(t, "c1", nil)

	w := env.do(t, http.MethodPost, "/api/conversations/c1/route", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	res := decode[service.RouteResult](t, w)
	if res.Assigned || res.QueuePosition != 1 || res.ReasonCode != service.ReasonNoOnlineAgents {
		t.Fatalf("expected queued at position 1, got %+v", res)
	}

	w = env.do(t, http.MethodPost, "/api/conversations/c1/route", map[string]any{"department_id": "missing"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown department should be 404, got %d", w.Code)
	}
}

func TestTransferNeedsExactlyOneTarget(t *testing.T) {
	env := newTestEnv(t)
	env.conversation(t, "c1", nil)

	for _, body := range []map[string]any{
		{},
		{"department_id": "d1", "agent_id": "a1"},
	} {
		w := env.do(t, http.MethodPost, "/api/conversations/c1/transfer", body)
		if w.Code != http.StatusBadRequest || errorCode(t, w) != "VALIDATION_ERROR" {
			t.Fatalf("body %v: expected VALIDATION_ERROR, got %d %s", body, w.Code, w.Body.String())
		}
	}
}

func TestTransferToAgent(t *testing.T) {
	env := newTestEnv(t)
	env.agent(t, "a1", models.AgentOnline)
	env.agent(t, "a2", models.AgentOnline)
	env.conversation(t, "c1", func(c *models.Conversation) {
		c.Status = models.ConversationAssigned
		c.AssignedToID = "a1"
	})

	w := env.do(t, http.MethodPost, "/api/conversations/c1/transfer", map[string]any{"agent_id": "a2", "from_agent_id": "a1", "reason": "billing"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode[struct {
		Conversation models.Conversation `json:"conversation"`
	}](t, w)
	if body.Conversation.AssignedToID != "a2" {
		t.Fatalf("expected a2, got %+v", body.Conversation)
	}
}

func TestDebugRoutingExplains(t *testing.T) {
	env := newTestEnv(t)
	env.agent(t, "a1", models.AgentOnline)
	env.conversation(t, "c1", nil)

	if w := env.do(t, http.MethodGet, "/api/debug/routing", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without conversation_id, got %d", w.Code)
	}
	w := env.do(t, http.MethodGet, "/api/debug/routing?conversation_id=c1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := decode[service.RoutingExplanation](t, w)
	if out.Selected != "a1" {
		t.Fatalf("expected a1 selected, got %+v", out)
	}
	conv := env.do(t, http.MethodGet, "/api/conversations/c1", nil)
	if got := decode[models.Conversation](t, conv); got.AssignedToID != "" {
		t.Fatalf("explain must not assign, got %q", got.AssignedToID)
	}
}

func TestHealthz(t *testing.T) {
	h := &Handler{Logger: zerolog.Nop()}
	r := gin.New()
	r.GET("/healthz", h.Healthz)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
