package store

import (
	"context"
	"errors"
	"time"

	"github.com/omnidesk/backend/internal/models"
)

var (
	// ErrNotFound is returned when a requested entity does not exist for the tenant.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("already exists")
)

type ConversationOrder int

const (
	OrderLastMessageDesc ConversationOrder = iota
	OrderQueuedAtAsc
	OrderCreatedAtAsc
)

type ConversationFilter struct {
	TenantID     string
	ExcludeID    string
	ContactID    string
	ChannelID    string
	AssignedToID string
	DepartmentID string
	// NoDepartment restricts to conversations without a department.
	NoDepartment bool
	Statuses     []models.ConversationStatus
	QueueStatus  models.QueueStatus
	Order        ConversationOrder
	Limit        int
	Offset       int
}

type MessageFilter struct {
	ConversationID string
	Sender         models.Sender
	ExternalID     string
	// Newest returns messages newest first instead of oldest first.
	Newest bool
	Limit  int
}

// ConversationPatch changes only the activity fields of a conversation, applied
// atomically against the stored row so concurrent routing or assignment survives.
type ConversationPatch struct {
	LastMessageAt *time.Time
	// FirstResponseAt is written only when the stored value is still empty.
	FirstResponseAt *time.Time
	// ReopenPending moves a pending conversation back to open; other statuses stay.
	ReopenPending bool
	// Subject is written only when the stored subject is empty.
	Subject string
	// Metadata keys are merged into the stored metadata.
	Metadata map[string]any
	ClearBot bool
}

type ConversationRepository interface {
	GetConversation(ctx context.Context, tenantID, id string) (models.Conversation, error)
	FindConversations(ctx context.Context, f ConversationFilter) ([]models.Conversation, error)
	CountConversations(ctx context.Context, f ConversationFilter) (int, error)
	SaveConversation(ctx context.Context, c *models.Conversation) error
	PatchConversation(ctx context.Context, tenantID, id string, p ConversationPatch) (models.Conversation, error)
	ListQueuedTenants(ctx context.Context) ([]string, error)
}

type ContactRepository interface {
	GetContact(ctx context.Context, tenantID, id string) (models.Contact, error)
	FindContactByExternalID(ctx context.Context, tenantID, externalID string) (models.Contact, error)
	SaveContact(ctx context.Context, c *models.Contact) error
}

type ChannelRepository interface {
	// GetChannel is keyed by id only; webhooks resolve the tenant from the channel.
	GetChannel(ctx context.Context, id string) (models.Channel, error)
	ListChannels(ctx context.Context, tenantID string) ([]models.Channel, error)
	SaveChannel(ctx context.Context, ch *models.Channel) error
	UpdateChannelConfig(ctx context.Context, id string, config map[string]any) error
}

type DepartmentRepository interface {
	GetDepartment(ctx context.Context, tenantID, id string) (models.Department, error)
	// ListDepartments orders by priority descending, then creation time.
	ListDepartments(ctx context.Context, tenantID string, activeOnly bool) ([]models.Department, error)
	SaveDepartment(ctx context.Context, d *models.Department) error
	DeleteDepartment(ctx context.Context, tenantID, id string) error

	ListMemberships(ctx context.Context, departmentID string) ([]models.Membership, error)
	// SaveMembership upserts on (department, agent).
	SaveMembership(ctx context.Context, m *models.Membership) error
	DeleteMembership(ctx context.Context, departmentID, agentID string) error
}

type AgentRepository interface {
	GetAgent(ctx context.Context, tenantID, id string) (models.Agent, error)
	// ListAgents orders by creation time, then id. Routing relies on this order for ties.
	ListAgents(ctx context.Context, tenantID string) ([]models.Agent, error)
	SaveAgent(ctx context.Context, a *models.Agent) error
}

type MessageRepository interface {
	GetMessage(ctx context.Context, id string) (models.Message, error)
	FindMessages(ctx context.Context, f MessageFilter) ([]models.Message, error)
	SaveMessage(ctx context.Context, m *models.Message) error
	UpdateMessageDelivery(ctx context.Context, id string, status models.MessageStatus, externalID string) error
}

type TransferRepository interface {
	SaveTransfer(ctx context.Context, t *models.Transfer) error
	// ListTransfers orders by transferred_at ascending.
	ListTransfers(ctx context.Context, tenantID, conversationID string) ([]models.Transfer, error)
}

type Repository interface {
	ConversationRepository
	ContactRepository
	ChannelRepository
	DepartmentRepository
	AgentRepository
	MessageRepository
	TransferRepository
}

// TenantLocker serializes work per tenant across all processes sharing the store.
type TenantLocker interface {
	WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error
}

func HasStatus(statuses []models.ConversationStatus, s models.ConversationStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}
