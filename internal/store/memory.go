package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/omnidesk/backend/internal/models"
)

// MemoryStore is an in-memory Repository used by tests and by the server when no
// database is configured. Returned values are copies.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
	contacts      map[string]models.Contact
	channels      map[string]models.Channel
	departments   map[string]models.Department
	memberships   map[string]models.Membership // keyed by departmentID + "/" + agentID
	agents        map[string]models.Agent
	messages      map[string]models.Message
	messageOrder  []string
	transfers     []models.Transfer

	lockMu      sync.Mutex
	tenantLocks map[string]*sync.Mutex

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]models.Conversation{},
		contacts:      map[string]models.Contact{},
		channels:      map[string]models.Channel{},
		departments:   map[string]models.Department{},
		memberships:   map[string]models.Membership{},
		agents:        map[string]models.Agent{},
		messages:      map[string]models.Message{},
		tenantLocks:   map[string]*sync.Mutex{},
		now:           time.Now,
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) GetConversation(ctx context.Context, tenantID, id string) (models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok || c.TenantID != tenantID {
		return models.Conversation{}, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (m *MemoryStore) FindConversations(ctx context.Context, f ConversationFilter) ([]models.Conversation, error) {
	m.mu.RLock()
	out := make([]models.Conversation, 0)
	for _, c := range m.conversations {
		if matchConversation(c, f) {
			out = append(out, cloneConversation(c))
		}
	}
	m.mu.RUnlock()

	sortConversations(out, f.Order)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.Conversation{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) CountConversations(ctx context.Context, f ConversationFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.conversations {
		if matchConversation(c, f) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SaveConversation(ctx context.Context, c *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.conversations[c.ID] = cloneConversation(*c)
	return nil
}

func (m *MemoryStore) PatchConversation(ctx context.Context, tenantID, id string, p ConversationPatch) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.TenantID != tenantID {
		return models.Conversation{}, ErrNotFound
	}
	c = cloneConversation(c)
	if p.LastMessageAt != nil {
		at := p.LastMessageAt.UTC()
		c.LastMessageAt = &at
	}
	if p.FirstResponseAt != nil && c.FirstResponseAt == nil {
		at := p.FirstResponseAt.UTC()
		c.FirstResponseAt = &at
	}
	if p.ReopenPending && c.Status == models.ConversationPending {
		c.Status = models.ConversationOpen
	}
	if p.Subject != "" && c.Subject == "" {
		c.Subject = p.Subject
	}
	if len(p.Metadata) > 0 {
		if c.Metadata == nil {
			c.Metadata = map[string]any{}
		}
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	if p.ClearBot {
		c.IsBot = false
	}
	c.UpdatedAt = m.now().UTC()
	m.conversations[id] = c
	return cloneConversation(c), nil
}

func (m *MemoryStore) ListQueuedTenants(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	for _, c := range m.conversations {
		if c.QueueStatus != models.QueueQueued {
			continue
		}
		if _, ok := seen[c.TenantID]; ok {
			continue
		}
		seen[c.TenantID] = struct{}{}
		out = append(out, c.TenantID)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) GetContact(ctx context.Context, tenantID, id string) (models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID {
		return models.Contact{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) FindContactByExternalID(ctx context.Context, tenantID, externalID string) (models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.contacts {
		if c.TenantID == tenantID && c.ExternalID == externalID && externalID != "" {
			return c, nil
		}
	}
	return models.Contact{}, ErrNotFound
}

func (m *MemoryStore) SaveContact(ctx context.Context, c *models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ExternalID != "" {
		for _, existing := range m.contacts {
			if existing.ID != c.ID && existing.TenantID == c.TenantID && existing.ExternalID == c.ExternalID {
				return ErrConflict
			}
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now().UTC()
	}
	m.contacts[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetChannel(ctx context.Context, id string) (models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	if !ok {
		return models.Channel{}, ErrNotFound
	}
	ch.Config = cloneMap(ch.Config)
	return ch, nil
}

func (m *MemoryStore) ListChannels(ctx context.Context, tenantID string) ([]models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Channel, 0)
	for _, ch := range m.channels {
		if ch.TenantID == tenantID {
			ch.Config = cloneMap(ch.Config)
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) SaveChannel(ctx context.Context, ch *models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = m.now().UTC()
	}
	saved := *ch
	saved.Config = cloneMap(ch.Config)
	m.channels[ch.ID] = saved
	return nil
}

func (m *MemoryStore) UpdateChannelConfig(ctx context.Context, id string, config map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return ErrNotFound
	}
	ch.Config = cloneMap(config)
	m.channels[id] = ch
	return nil
}

func (m *MemoryStore) GetDepartment(ctx context.Context, tenantID, id string) (models.Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.departments[id]
	if !ok || d.TenantID != tenantID {
		return models.Department{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) ListDepartments(ctx context.Context, tenantID string, activeOnly bool) ([]models.Department, error) {
	m.mu.RLock()
	out := make([]models.Department, 0)
	for _, d := range m.departments {
		if d.TenantID != tenantID || (activeOnly && !d.IsActive) {
			continue
		}
		out = append(out, d)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) SaveDepartment(ctx context.Context, d *models.Department) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.now().UTC()
	}
	m.departments[d.ID] = *d
	return nil
}

func (m *MemoryStore) DeleteDepartment(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.departments[id]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.departments, id)
	for key, ms := range m.memberships {
		if ms.DepartmentID == id {
			delete(m.memberships, key)
		}
	}
	return nil
}

func (m *MemoryStore) ListMemberships(ctx context.Context, departmentID string) ([]models.Membership, error) {
	m.mu.RLock()
	out := make([]models.Membership, 0)
	for _, ms := range m.memberships {
		if ms.DepartmentID == departmentID {
			out = append(out, ms)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}

func (m *MemoryStore) SaveMembership(ctx context.Context, ms *models.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ms.DepartmentID + "/" + ms.AgentID
	if existing, ok := m.memberships[key]; ok {
		ms.ID = existing.ID
		ms.CreatedAt = existing.CreatedAt
	}
	if ms.CreatedAt.IsZero() {
		ms.CreatedAt = m.now().UTC()
	}
	m.memberships[key] = *ms
	return nil
}

func (m *MemoryStore) DeleteMembership(ctx context.Context, departmentID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := departmentID + "/" + agentID
	if _, ok := m.memberships[key]; !ok {
		return ErrNotFound
	}
	delete(m.memberships, key)
	return nil
}

func (m *MemoryStore) GetAgent(ctx context.Context, tenantID, id string) (models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok || a.TenantID != tenantID {
		return models.Agent{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) ListAgents(ctx context.Context, tenantID string) ([]models.Agent, error) {
	m.mu.RLock()
	out := make([]models.Agent, 0)
	for _, a := range m.agents {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) SaveAgent(ctx context.Context, a *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.agents[a.ID]; ok && a.CreatedAt.IsZero() {
		a.CreatedAt = existing.CreatedAt
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now().UTC()
	}
	m.agents[a.ID] = *a
	return nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, id string) (models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	return msg, nil
}

func (m *MemoryStore) FindMessages(ctx context.Context, f MessageFilter) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Message, 0)
	for _, id := range m.messageOrder {
		msg := m.messages[id]
		if f.ConversationID != "" && msg.ConversationID != f.ConversationID {
			continue
		}
		if f.Sender != "" && msg.Sender != f.Sender {
			continue
		}
		if f.ExternalID != "" && msg.ExternalID != f.ExternalID {
			continue
		}
		out = append(out, msg)
	}
	if f.Newest {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now().UTC()
	}
	if _, ok := m.messages[msg.ID]; !ok {
		m.messageOrder = append(m.messageOrder, msg.ID)
	}
	m.messages[msg.ID] = *msg
	return nil
}

func (m *MemoryStore) UpdateMessageDelivery(ctx context.Context, id string, status models.MessageStatus, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Status = status
	if externalID != "" {
		msg.ExternalID = externalID
	}
	m.messages[id] = msg
	return nil
}

func (m *MemoryStore) SaveTransfer(ctx context.Context, t *models.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.TransferredAt.IsZero() {
		t.TransferredAt = m.now().UTC()
	}
	m.transfers = append(m.transfers, *t)
	return nil
}

func (m *MemoryStore) ListTransfers(ctx context.Context, tenantID, conversationID string) ([]models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Transfer, 0)
	for _, t := range m.transfers {
		if t.TenantID == tenantID && t.ConversationID == conversationID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TransferredAt.Before(out[j].TransferredAt)
	})
	return out, nil
}

func (m *MemoryStore) WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	m.lockMu.Lock()
	l, ok := m.tenantLocks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		m.tenantLocks[tenantID] = l
	}
	m.lockMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

func matchConversation(c models.Conversation, f ConversationFilter) bool {
	if f.TenantID != "" && c.TenantID != f.TenantID {
		return false
	}
	if f.ExcludeID != "" && c.ID == f.ExcludeID {
		return false
	}
	if f.ContactID != "" && c.ContactID != f.ContactID {
		return false
	}
	if f.ChannelID != "" && c.ChannelID != f.ChannelID {
		return false
	}
	if f.AssignedToID != "" && c.AssignedToID != f.AssignedToID {
		return false
	}
	if f.DepartmentID != "" && c.DepartmentID != f.DepartmentID {
		return false
	}
	if f.NoDepartment && c.DepartmentID != "" {
		return false
	}
	if f.QueueStatus != "" && c.QueueStatus != f.QueueStatus {
		return false
	}
	return HasStatus(f.Statuses, c.Status)
}

func sortConversations(out []models.Conversation, order ConversationOrder) {
	switch order {
	case OrderQueuedAtAsc:
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].QueuedAt, out[j].QueuedAt
			switch {
			case a == nil && b == nil:
			case a == nil:
				return false
			case b == nil:
				return true
			case !a.Equal(*b):
				return a.Before(*b)
			}
			return out[i].ID < out[j].ID
		})
	case OrderCreatedAtAsc:
		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			}
			return out[i].ID < out[j].ID
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].LastMessageAt, out[j].LastMessageAt
			switch {
			case a == nil && b == nil:
			case a == nil:
				return false
			case b == nil:
				return true
			case !a.Equal(*b):
				return a.After(*b)
			}
			return out[i].ID < out[j].ID
		})
	}
}

func cloneConversation(c models.Conversation) models.Conversation {
	c.Metadata = cloneMap(c.Metadata)
	if c.Tags != nil {
		c.Tags = append([]string(nil), c.Tags...)
	}
	return c
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
