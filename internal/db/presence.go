package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnidesk/backend/internal/utils"
)

// PresenceStore keeps online agents in the agent_presence table so every server
// process sees the same set.
type PresenceStore struct {
	pool *pgxpool.Pool
}

func (s *Store) Presence() *PresenceStore {
	return &PresenceStore{pool: s.Pool}
}

func (p *PresenceStore) Add(ctx context.Context, tenantID, agentID string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO agent_presence (tenant_id, agent_id, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (tenant_id, agent_id) DO UPDATE SET updated_at = NOW()
	`, tenantID, agentID)
	return err
}

func (p *PresenceStore) Remove(ctx context.Context, tenantID, agentID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM agent_presence WHERE tenant_id = $1 AND agent_id = $2`, tenantID, agentID)
	return err
}

func (p *PresenceStore) Members(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT agent_id FROM agent_presence WHERE tenant_id = $1 ORDER BY agent_id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// WithTenantLock holds a session advisory lock for the tenant while fn runs.
func (s *Store) WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	key := utils.TenantLockKey(tenantID)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		return err
	}
	defer func() {
		// the caller's context may be done already; the lock must still be released
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
	}()
	return fn(ctx)
}
