package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencawt/court/pkg/contracts"
)

// AgentRepo persists Agent and APIKey records.
type AgentRepo struct {
	db *sql.DB
}

func NewAgentRepo(db *sql.DB) *AgentRepo { return &AgentRepo{db: db} }

func (r *AgentRepo) Create(ctx context.Context, a *contracts.Agent) error {
	bans, err := json.Marshal(a.Bans)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, notify_url, status, bans, juror_eligible, profile, weekly_jury_cap, webhook_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AgentID, a.NotifyURL, a.Status, string(bans), boolToInt(a.JurorEligible), a.Profile, a.WeeklyJuryCap, a.WebhookSecret,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (r *AgentRepo) Get(ctx context.Context, agentID string) (*contracts.Agent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT agent_id, notify_url, status, bans, juror_eligible, profile, weekly_jury_cap, webhook_secret, created_at, updated_at
		FROM agents WHERE agent_id = ?`, agentID)

	var a contracts.Agent
	var bansJSON sql.NullString
	var jurorEligible int
	var createdAt, updatedAt string
	if err := row.Scan(&a.AgentID, &a.NotifyURL, &a.Status, &bansJSON, &jurorEligible, &a.Profile, &a.WeeklyJuryCap, &a.WebhookSecret, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("agent not found: %s", agentID)
		}
		return nil, err
	}
	a.JurorEligible = jurorEligible != 0
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	if bansJSON.Valid && bansJSON.String != "" {
		_ = json.Unmarshal([]byte(bansJSON.String), &a.Bans)
	}
	return &a, nil
}

// Update applies a self-service profile change: notify URL, profile text,
// weekly jury cap and juror-eligibility opt-in. Status is operator-only
// and goes through UpdateStatus instead; bans are not changed here.
func (r *AgentRepo) Update(ctx context.Context, a *contracts.Agent) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE agents SET notify_url = ?, juror_eligible = ?, profile = ?, weekly_jury_cap = ?, updated_at = ?
		WHERE agent_id = ?`,
		a.NotifyURL, boolToInt(a.JurorEligible), a.Profile, a.WeeklyJuryCap, a.UpdatedAt.UTC(), a.AgentID)
	return err
}

func (r *AgentRepo) UpdateStatus(ctx context.Context, agentID string, status contracts.AgentStatus, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE agents SET status = ?, updated_at = ? WHERE agent_id = ?`, status, at.UTC(), agentID)
	return err
}

// EnsureRegistered inserts a minimal active, non-juror-eligible agent row
// if one doesn't already exist, for cross-registering an OCP counterparty
// that signed an agreement without ever filing a court registration.
func (r *AgentRepo) EnsureRegistered(ctx context.Context, agentID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, notify_url, status, bans, juror_eligible, profile, weekly_jury_cap, webhook_secret, created_at, updated_at)
		VALUES (?, '', ?, '{}', 0, '', 0, '', ?, ?)
		ON CONFLICT(agent_id) DO NOTHING`,
		agentID, contracts.AgentStatusActive, at.UTC(), at.UTC())
	return err
}

// EligiblePool returns the agent_ids of active, jury-eligible, non-banned
// agents, excluding the case's filing and defence parties. The caller sorts
// the result lexicographically before hashing the pool snapshot.
func (r *AgentRepo) EligiblePool(ctx context.Context, excludeAgentIDs []string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_id FROM agents
		WHERE status = ? AND juror_eligible = 1
		  AND json_extract(bans, '$.jury') IS NOT 1`, contracts.AgentStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exclude := make(map[string]bool, len(excludeAgentIDs))
	for _, id := range excludeAgentIDs {
		exclude[id] = true
	}

	var pool []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if !exclude[id] {
			pool = append(pool, id)
		}
	}
	return pool, rows.Err()
}

func (r *AgentRepo) CreateAPIKey(ctx context.Context, k *contracts.APIKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, agent_id, key_hash, prefix, label, created_at, revoked_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.AgentID, k.KeyHash, k.Prefix, k.Label, k.CreatedAt.UTC(), nullTime(k.RevokedAt), nullTime(k.LastUsedAt))
	return err
}

func (r *AgentRepo) RevokeAPIKey(ctx context.Context, keyID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at = ? WHERE id = ?`, at.UTC(), keyID)
	return err
}

// ListAPIKeys returns every API key ever issued to agentID, newest first.
// KeyHash is never populated by the scan (json:"-" on the struct field, and
// the column isn't even selected here).
func (r *AgentRepo) ListAPIKeys(ctx context.Context, agentID string) ([]*contracts.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, agent_id, prefix, label, created_at, revoked_at, last_used_at
		FROM api_keys WHERE agent_id = ? ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*contracts.APIKey
	for rows.Next() {
		var k contracts.APIKey
		var createdAt string
		var revokedAt, lastUsedAt sql.NullString
		if err := rows.Scan(&k.ID, &k.AgentID, &k.Prefix, &k.Label, &createdAt, &revokedAt, &lastUsedAt); err != nil {
			return nil, err
		}
		k.CreatedAt = parseTime(createdAt)
		k.RevokedAt = nullableTime(revokedAt.Valid, revokedAt.String)
		k.LastUsedAt = nullableTime(lastUsedAt.Valid, lastUsedAt.String)
		out = append(out, &k)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
