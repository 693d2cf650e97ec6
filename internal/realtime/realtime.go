package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/models"
)

const (
	EventConversationAssigned    = "conversation_assigned"
	EventNewAssignment           = "new_assignment"
	EventQueueUpdated            = "queue_updated"
	EventQueuePosition           = "queue_position"
	EventConversationTransferred = "conversation_transferred"
	EventConversationUpdated     = "conversation_updated"
	EventNewMessage              = "new_message"
)

// Broadcaster pushes events to connected clients. Delivery is best effort: methods
// never return errors and callers never wait on the outcome.
type Broadcaster interface {
	EmitToTenant(ctx context.Context, tenantID, event string, payload any)
	EmitToAgent(ctx context.Context, agentID, event string, payload any)
	EmitToVisitor(ctx context.Context, contactID, event string, payload any)
}

type ConversationAssigned struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
	AgentName      string `json:"agent_name"`
}

type NewAssignment struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message,omitempty"`
}

type QueueUpdated struct {
	ConversationID string `json:"conversation_id"`
	Position       int    `json:"position"`
	DepartmentID   string `json:"department_id,omitempty"`
}

type QueuePosition struct {
	Position int    `json:"position"`
	Message  string `json:"message"`
}

type ConversationTransferred struct {
	ConversationID string `json:"conversation_id"`
	ToDepartmentID string `json:"to_department_id,omitempty"`
	ToAgentID      string `json:"to_agent_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type NewMessage struct {
	ConversationID string         `json:"conversation_id"`
	Message        models.Message `json:"message"`
}

type ConversationUpdated struct {
	ConversationID string                    `json:"conversation_id"`
	Status         models.ConversationStatus `json:"status"`
	QueueStatus    models.QueueStatus        `json:"queue_status"`
	AssignedToID   string                    `json:"assigned_to_id,omitempty"`
	DepartmentID   string                    `json:"department_id,omitempty"`
}

type Nop struct{}

func (Nop) EmitToTenant(ctx context.Context, tenantID, event string, payload any)   {}
func (Nop) EmitToAgent(ctx context.Context, agentID, event string, payload any)     {}
func (Nop) EmitToVisitor(ctx context.Context, contactID, event string, payload any) {}

// LogBroadcaster writes events to the log. Used when no broker is configured.
type LogBroadcaster struct {
	Logger zerolog.Logger
}

func (l LogBroadcaster) EmitToTenant(ctx context.Context, tenantID, event string, payload any) {
	l.Logger.Debug().Str("tenant_id", tenantID).Str("event", event).Interface("payload", payload).Msg("emit")
}

func (l LogBroadcaster) EmitToAgent(ctx context.Context, agentID, event string, payload any) {
	l.Logger.Debug().Str("agent_id", agentID).Str("event", event).Interface("payload", payload).Msg("emit")
}

func (l LogBroadcaster) EmitToVisitor(ctx context.Context, contactID, event string, payload any) {
	l.Logger.Debug().Str("contact_id", contactID).Str("event", event).Interface("payload", payload).Msg("emit")
}

// Fanout sends every event to all wrapped broadcasters.
type Fanout []Broadcaster

func (f Fanout) EmitToTenant(ctx context.Context, tenantID, event string, payload any) {
	for _, b := range f {
		b.EmitToTenant(ctx, tenantID, event, payload)
	}
}

func (f Fanout) EmitToAgent(ctx context.Context, agentID, event string, payload any) {
	for _, b := range f {
		b.EmitToAgent(ctx, agentID, event, payload)
	}
}

func (f Fanout) EmitToVisitor(ctx context.Context, contactID, event string, payload any) {
	for _, b := range f {
		b.EmitToVisitor(ctx, contactID, event, payload)
	}
}

type Scope string

const (
	ScopeTenant  Scope = "tenant"
	ScopeAgent   Scope = "agent"
	ScopeVisitor Scope = "visitor"
)

type RecordedEvent struct {
	Scope   Scope
	Target  string
	Event   string
	Payload any
}

// Recorder keeps emitted events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

func (r *Recorder) EmitToTenant(ctx context.Context, tenantID, event string, payload any) {
	r.add(RecordedEvent{Scope: ScopeTenant, Target: tenantID, Event: event, Payload: payload})
}

func (r *Recorder) EmitToAgent(ctx context.Context, agentID, event string, payload any) {
	r.add(RecordedEvent{Scope: ScopeAgent, Target: agentID, Event: event, Payload: payload})
}

func (r *Recorder) EmitToVisitor(ctx context.Context, contactID, event string, payload any) {
	r.add(RecordedEvent{Scope: ScopeVisitor, Target: contactID, Event: event, Payload: payload})
}

func (r *Recorder) add(e RecordedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedEvent(nil), r.events...)
}

// Find returns the recorded events with the given name.
func (r *Recorder) Find(event string) []RecordedEvent {
	var out []RecordedEvent
	for _, e := range r.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
