package db

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	type TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	config JSONB NOT NULL DEFAULT '{}'::jsonb,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS channels_tenant_idx ON channels (tenant_id);

CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	external_id TEXT,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (tenant_id, external_id)
);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'offline',
	max_concurrent_chats INT NOT NULL DEFAULT 5,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS agents_tenant_idx ON agents (tenant_id, created_at, id);

CREATE TABLE IF NOT EXISTS departments (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	priority INT NOT NULL DEFAULT 0,
	auto_assign_channels TEXT[] NOT NULL DEFAULT '{}',
	welcome_message TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS departments_tenant_idx ON departments (tenant_id, priority DESC);

CREATE TABLE IF NOT EXISTS department_members (
	id TEXT PRIMARY KEY,
	department_id TEXT NOT NULL REFERENCES departments(id) ON DELETE CASCADE,
	agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	skills TEXT[] NOT NULL DEFAULT '{}',
	skill_level INT NOT NULL DEFAULT 5 CHECK (skill_level BETWEEN 1 AND 10),
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (department_id, agent_id)
);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	contact_id TEXT NOT NULL,
	assigned_to_id TEXT,
	department_id TEXT,
	status TEXT NOT NULL DEFAULT 'open',
	queue_status TEXT NOT NULL DEFAULT 'routing',
	queue_position INT NOT NULL DEFAULT 0,
	queued_at TIMESTAMPTZ,
	last_message_at TIMESTAMPTZ,
	first_response_at TIMESTAMPTZ,
	is_bot BOOLEAN NOT NULL DEFAULT FALSE,
	priority TEXT NOT NULL DEFAULT 'normal',
	subject TEXT NOT NULL DEFAULT '',
	tags TEXT[] NOT NULL DEFAULT '{}',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS conversations_contact_idx ON conversations (tenant_id, contact_id, channel_id);
CREATE INDEX IF NOT EXISTS conversations_assignee_idx ON conversations (tenant_id, assigned_to_id, status);
CREATE INDEX IF NOT EXISTS conversations_queue_idx ON conversations (tenant_id, queue_status, queued_at);

CREATE TABLE IF NOT EXISTS messages (
	seq BIGSERIAL,
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	sender TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 'text',
	status TEXT NOT NULL DEFAULT 'sent',
	content TEXT NOT NULL DEFAULT '',
	agent_id TEXT,
	external_id TEXT NOT NULL DEFAULT '',
	attachments JSONB NOT NULL DEFAULT '[]'::jsonb,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, seq);
CREATE INDEX IF NOT EXISTS messages_external_idx ON messages (conversation_id, external_id);

CREATE TABLE IF NOT EXISTS conversation_transfers (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	tenant_id TEXT NOT NULL,
	from_department_id TEXT,
	to_department_id TEXT,
	from_agent_id TEXT,
	to_agent_id TEXT,
	reason TEXT NOT NULL DEFAULT '',
	transferred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS transfers_conversation_idx ON conversation_transfers (tenant_id, conversation_id, transferred_at);

CREATE TABLE IF NOT EXISTS agent_presence (
	tenant_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (tenant_id, agent_id)
);
`

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return err
}
