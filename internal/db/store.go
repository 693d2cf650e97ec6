package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/store"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const conversationColumns = `id, tenant_id, channel_id, contact_id, assigned_to_id, department_id, status, queue_status,
	queue_position, queued_at, last_message_at, first_response_at, is_bot, priority, subject, tags, metadata,
	created_at, updated_at`

func (s *Store) GetConversation(ctx context.Context, tenantID, id string) (models.Conversation, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	c, err := scanConversation(row)
	return c, mapErr(err)
}

func (s *Store) FindConversations(ctx context.Context, f store.ConversationFilter) ([]models.Conversation, error) {
	where, args := conversationWhere(f)
	query := `SELECT ` + conversationColumns + ` FROM conversations` + where
	switch f.Order {
	case store.OrderQueuedAtAsc:
		query += " ORDER BY queued_at ASC NULLS LAST, id ASC"
	case store.OrderCreatedAtAsc:
		query += " ORDER BY created_at ASC, id ASC"
	default:
		query += " ORDER BY last_message_at DESC NULLS LAST, id ASC"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CountConversations(ctx context.Context, f store.ConversationFilter) (int, error) {
	where, args := conversationWhere(f)
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`+where, args...).Scan(&n)
	return n, err
}

func conversationWhere(f store.ConversationFilter) (string, []any) {
	var args []any
	var wheres []string
	add := func(cond string, v any) {
		args = append(args, v)
		wheres = append(wheres, fmt.Sprintf(cond, len(args)))
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.ExcludeID != "" {
		add("id <> $%d", f.ExcludeID)
	}
	if f.ContactID != "" {
		add("contact_id = $%d", f.ContactID)
	}
	if f.ChannelID != "" {
		add("channel_id = $%d", f.ChannelID)
	}
	if f.AssignedToID != "" {
		add("assigned_to_id = $%d", f.AssignedToID)
	}
	if f.DepartmentID != "" {
		add("department_id = $%d", f.DepartmentID)
	}
	if f.NoDepartment {
		wheres = append(wheres, "department_id IS NULL")
	}
	if f.QueueStatus != "" {
		add("queue_status = $%d", string(f.QueueStatus))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		add("status = ANY($%d)", statuses)
	}
	if len(wheres) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(wheres, " AND "), args
}

func (s *Store) SaveConversation(ctx context.Context, c *models.Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO conversations (id, tenant_id, channel_id, contact_id, assigned_to_id, department_id, status, queue_status,
			queue_position, queued_at, last_message_at, first_response_at, is_bot, priority, subject, tags, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW())
		ON CONFLICT (id) DO UPDATE SET
			assigned_to_id = EXCLUDED.assigned_to_id,
			department_id = EXCLUDED.department_id,
			status = EXCLUDED.status,
			queue_status = EXCLUDED.queue_status,
			queue_position = EXCLUDED.queue_position,
			queued_at = EXCLUDED.queued_at,
			last_message_at = EXCLUDED.last_message_at,
			first_response_at = EXCLUDED.first_response_at,
			is_bot = EXCLUDED.is_bot,
			priority = EXCLUDED.priority,
			subject = EXCLUDED.subject,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		WHERE conversations.tenant_id = EXCLUDED.tenant_id
		RETURNING updated_at
	`, c.ID, c.TenantID, c.ChannelID, c.ContactID, nullable(c.AssignedToID), nullable(c.DepartmentID), string(c.Status), string(c.QueueStatus),
		c.QueuePosition, c.QueuedAt, c.LastMessageAt, c.FirstResponseAt, c.IsBot, string(c.Priority), c.Subject, tags, jsonObject(c.Metadata), c.CreatedAt,
	).Scan(&c.UpdatedAt)
	return mapErr(err)
}

// PatchConversation applies the activity fields in one UPDATE so that columns it
// does not own (assignment, queue state) are never written from a stale copy.
func (s *Store) PatchConversation(ctx context.Context, tenantID, id string, p store.ConversationPatch) (models.Conversation, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE conversations SET
			last_message_at = COALESCE($3, last_message_at),
			first_response_at = COALESCE(first_response_at, $4),
			status = CASE WHEN $5 AND status = 'pending' THEN 'open' ELSE status END,
			subject = CASE WHEN subject = '' THEN $6 ELSE subject END,
			metadata = metadata || $7::jsonb,
			is_bot = CASE WHEN $8 THEN FALSE ELSE is_bot END,
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+conversationColumns,
		tenantID, id, p.LastMessageAt, p.FirstResponseAt, p.ReopenPending, p.Subject, jsonObject(p.Metadata), p.ClearBot)
	c, err := scanConversation(row)
	return c, mapErr(err)
}

func (s *Store) ListQueuedTenants(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT DISTINCT tenant_id FROM conversations WHERE queue_status = $1 ORDER BY tenant_id`, string(models.QueueQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) GetContact(ctx context.Context, tenantID, id string) (models.Contact, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, tenant_id, external_id, name, email, phone, source, metadata, created_at FROM contacts WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	c, err := scanContact(row)
	return c, mapErr(err)
}

func (s *Store) FindContactByExternalID(ctx context.Context, tenantID, externalID string) (models.Contact, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, tenant_id, external_id, name, email, phone, source, metadata, created_at FROM contacts WHERE tenant_id = $1 AND external_id = $2`, tenantID, externalID)
	c, err := scanContact(row)
	return c, mapErr(err)
}

func (s *Store) SaveContact(ctx context.Context, c *models.Contact) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO contacts (id, tenant_id, external_id, name, email, phone, source, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			source = EXCLUDED.source,
			metadata = EXCLUDED.metadata
	`, c.ID, c.TenantID, nullable(c.ExternalID), c.Name, c.Email, c.Phone, c.Source, jsonObject(c.Metadata), c.CreatedAt)
	return mapErr(err)
}

func (s *Store) GetChannel(ctx context.Context, id string) (models.Channel, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, tenant_id, type, name, config, is_active, created_at FROM channels WHERE id = $1`, id)
	ch, err := scanChannel(row)
	return ch, mapErr(err)
}

func (s *Store) ListChannels(ctx context.Context, tenantID string) ([]models.Channel, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, tenant_id, type, name, config, is_active, created_at FROM channels WHERE tenant_id = $1 ORDER BY created_at ASC, id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Channel, 0)
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *Store) SaveChannel(ctx context.Context, ch *models.Channel) error {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO channels (id, tenant_id, type, name, config, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			name = EXCLUDED.name,
			config = EXCLUDED.config,
			is_active = EXCLUDED.is_active
		WHERE channels.tenant_id = EXCLUDED.tenant_id
	`, ch.ID, ch.TenantID, string(ch.Type), ch.Name, jsonObject(ch.Config), ch.IsActive, ch.CreatedAt)
	return err
}

func (s *Store) UpdateChannelConfig(ctx context.Context, id string, config map[string]any) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE channels SET config = $2 WHERE id = $1`, id, jsonObject(config))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const departmentColumns = `id, tenant_id, name, description, priority, auto_assign_channels, welcome_message, is_active, created_at`

func (s *Store) GetDepartment(ctx context.Context, tenantID, id string) (models.Department, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+departmentColumns+` FROM departments WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	d, err := scanDepartment(row)
	return d, mapErr(err)
}

func (s *Store) ListDepartments(ctx context.Context, tenantID string, activeOnly bool) ([]models.Department, error) {
	query := `SELECT ` + departmentColumns + ` FROM departments WHERE tenant_id = $1`
	if activeOnly {
		query += " AND is_active"
	}
	query += " ORDER BY priority DESC, created_at ASC, id ASC"

	rows, err := s.Pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Department, 0)
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) SaveDepartment(ctx context.Context, d *models.Department) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	channels := d.AutoAssignChannels
	if channels == nil {
		channels = []string{}
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO departments (`+departmentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			priority = EXCLUDED.priority,
			auto_assign_channels = EXCLUDED.auto_assign_channels,
			welcome_message = EXCLUDED.welcome_message,
			is_active = EXCLUDED.is_active
		WHERE departments.tenant_id = EXCLUDED.tenant_id
	`, d.ID, d.TenantID, d.Name, d.Description, d.Priority, channels, d.WelcomeMessage, d.IsActive, d.CreatedAt)
	return err
}

func (s *Store) DeleteDepartment(ctx context.Context, tenantID, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM departments WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListMemberships(ctx context.Context, departmentID string) ([]models.Membership, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, department_id, agent_id, skills, skill_level, is_active, created_at
		FROM department_members WHERE department_id = $1
		ORDER BY created_at ASC, agent_id ASC
	`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Membership, 0)
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.ID, &m.DepartmentID, &m.AgentID, &m.Skills, &m.SkillLevel, &m.IsActive, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) SaveMembership(ctx context.Context, m *models.Membership) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	skills := m.Skills
	if skills == nil {
		skills = []string{}
	}
	return s.Pool.QueryRow(ctx, `
		INSERT INTO department_members (id, department_id, agent_id, skills, skill_level, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (department_id, agent_id) DO UPDATE SET
			skills = EXCLUDED.skills,
			skill_level = EXCLUDED.skill_level,
			is_active = EXCLUDED.is_active
		RETURNING id, created_at
	`, m.ID, m.DepartmentID, m.AgentID, skills, m.SkillLevel, m.IsActive, m.CreatedAt).Scan(&m.ID, &m.CreatedAt)
}

func (s *Store) DeleteMembership(ctx context.Context, departmentID, agentID string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM department_members WHERE department_id = $1 AND agent_id = $2`, departmentID, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, tenantID, id string) (models.Agent, error) {
	var a models.Agent
	err := s.Pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, email, status, max_concurrent_chats, is_active, created_at
		FROM agents WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&a.ID, &a.TenantID, &a.Name, &a.Email, &a.Status, &a.MaxConcurrentChats, &a.IsActive, &a.CreatedAt)
	return a, mapErr(err)
}

func (s *Store) ListAgents(ctx context.Context, tenantID string) ([]models.Agent, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, tenant_id, name, email, status, max_concurrent_chats, is_active, created_at
		FROM agents WHERE tenant_id = $1
		ORDER BY created_at ASC, id ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Agent, 0)
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.Email, &a.Status, &a.MaxConcurrentChats, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveAgent(ctx context.Context, a *models.Agent) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return s.Pool.QueryRow(ctx, `
		INSERT INTO agents (id, tenant_id, name, email, status, max_concurrent_chats, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			status = EXCLUDED.status,
			max_concurrent_chats = EXCLUDED.max_concurrent_chats,
			is_active = EXCLUDED.is_active
		RETURNING created_at
	`, a.ID, a.TenantID, a.Name, a.Email, string(a.Status), a.MaxConcurrentChats, a.IsActive, a.CreatedAt).Scan(&a.CreatedAt)
}

const messageColumns = `id, conversation_id, sender, type, status, content, agent_id, external_id, attachments, metadata, created_at`

func (s *Store) GetMessage(ctx context.Context, id string) (models.Message, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	return m, mapErr(err)
}

func (s *Store) FindMessages(ctx context.Context, f store.MessageFilter) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages`
	var args []any
	var wheres []string
	if f.ConversationID != "" {
		args = append(args, f.ConversationID)
		wheres = append(wheres, fmt.Sprintf("conversation_id = $%d", len(args)))
	}
	if f.Sender != "" {
		args = append(args, string(f.Sender))
		wheres = append(wheres, fmt.Sprintf("sender = $%d", len(args)))
	}
	if f.ExternalID != "" {
		args = append(args, f.ExternalID)
		wheres = append(wheres, fmt.Sprintf("external_id = $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	if f.Newest {
		query += " ORDER BY seq DESC"
	} else {
		query += " ORDER BY seq ASC"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) SaveMessage(ctx context.Context, m *models.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	attachments := m.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			content = EXCLUDED.content,
			external_id = EXCLUDED.external_id,
			attachments = EXCLUDED.attachments,
			metadata = EXCLUDED.metadata
	`, m.ID, m.ConversationID, string(m.Sender), string(m.Type), string(m.Status), m.Content, nullable(m.AgentID), m.ExternalID, raw, jsonObject(m.Metadata), m.CreatedAt)
	return err
}

func (s *Store) UpdateMessageDelivery(ctx context.Context, id string, status models.MessageStatus, externalID string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE messages SET status = $2, external_id = COALESCE(NULLIF($3, ''), external_id)
		WHERE id = $1
	`, id, string(status), externalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SaveTransfer(ctx context.Context, t *models.Transfer) error {
	if t.TransferredAt.IsZero() {
		t.TransferredAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO conversation_transfers (id, conversation_id, tenant_id, from_department_id, to_department_id, from_agent_id, to_agent_id, reason, transferred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, t.ID, t.ConversationID, t.TenantID, nullable(t.FromDepartmentID), nullable(t.ToDepartmentID), nullable(t.FromAgentID), nullable(t.ToAgentID), t.Reason, t.TransferredAt)
	return err
}

func (s *Store) ListTransfers(ctx context.Context, tenantID, conversationID string) ([]models.Transfer, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, conversation_id, tenant_id, from_department_id, to_department_id, from_agent_id, to_agent_id, reason, transferred_at
		FROM conversation_transfers WHERE tenant_id = $1 AND conversation_id = $2
		ORDER BY transferred_at ASC, id ASC
	`, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Transfer, 0)
	for rows.Next() {
		var (
			t                  models.Transfer
			fromDept, toDept   *string
			fromAgent, toAgent *string
		)
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.TenantID, &fromDept, &toDept, &fromAgent, &toAgent, &t.Reason, &t.TransferredAt); err != nil {
			return nil, err
		}
		t.FromDepartmentID = derefString(fromDept)
		t.ToDepartmentID = derefString(toDept)
		t.FromAgentID = derefString(fromAgent)
		t.ToAgentID = derefString(toAgent)
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanConversation(row pgx.Row) (models.Conversation, error) {
	var (
		c            models.Conversation
		assignedTo   *string
		departmentID *string
		metadata     []byte
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.ChannelID, &c.ContactID, &assignedTo, &departmentID, &c.Status, &c.QueueStatus,
		&c.QueuePosition, &c.QueuedAt, &c.LastMessageAt, &c.FirstResponseAt, &c.IsBot, &c.Priority, &c.Subject, &c.Tags, &metadata,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.Conversation{}, err
	}
	c.AssignedToID = derefString(assignedTo)
	c.DepartmentID = derefString(departmentID)
	c.Metadata = decodeObject(metadata)
	return c, nil
}

func scanContact(row pgx.Row) (models.Contact, error) {
	var (
		c          models.Contact
		externalID *string
		metadata   []byte
	)
	if err := row.Scan(&c.ID, &c.TenantID, &externalID, &c.Name, &c.Email, &c.Phone, &c.Source, &metadata, &c.CreatedAt); err != nil {
		return models.Contact{}, err
	}
	c.ExternalID = derefString(externalID)
	c.Metadata = decodeObject(metadata)
	return c, nil
}

func scanChannel(row pgx.Row) (models.Channel, error) {
	var (
		ch     models.Channel
		config []byte
	)
	if err := row.Scan(&ch.ID, &ch.TenantID, &ch.Type, &ch.Name, &config, &ch.IsActive, &ch.CreatedAt); err != nil {
		return models.Channel{}, err
	}
	ch.Config = decodeObject(config)
	return ch, nil
}

func scanDepartment(row pgx.Row) (models.Department, error) {
	var d models.Department
	err := row.Scan(&d.ID, &d.TenantID, &d.Name, &d.Description, &d.Priority, &d.AutoAssignChannels, &d.WelcomeMessage, &d.IsActive, &d.CreatedAt)
	return d, err
}

func scanMessage(row pgx.Row) (models.Message, error) {
	var (
		m           models.Message
		agentID     *string
		attachments []byte
		metadata    []byte
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Type, &m.Status, &m.Content, &agentID, &m.ExternalID, &attachments, &metadata, &m.CreatedAt); err != nil {
		return models.Message{}, err
	}
	m.AgentID = derefString(agentID)
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return models.Message{}, err
		}
	}
	m.Metadata = decodeObject(metadata)
	return m, nil
}

// mapErr translates driver errors into the store's sentinel errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrConflict)
	}
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonObject(m map[string]any) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return raw
}

func decodeObject(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
