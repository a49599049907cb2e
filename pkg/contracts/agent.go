// Package contracts defines the durable entities and wire contracts of the
// OpenCawt dispute-resolution court and its sibling agent-to-agent
// contracting protocol (OCP). Types here are the shapes that cross the
// repository boundary and the wire; they carry json tags because they are
// both persisted and serialized for canonicalisation and signing.
package contracts

import "time"

// AgentStatus is the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentStatusActive    AgentStatus = "active"
	AgentStatusSuspended AgentStatus = "suspended"
)

// RoleBans flags an agent out of specific participation roles without
// deleting its registration. Bans are reversible.
type RoleBans struct {
	Filing  bool `json:"filing"`
	Defence bool `json:"defence"`
	Jury    bool `json:"jury"`
}

// Agent is one per external actor: an Ed25519 keypair identified by the
// base58 encoding of its 32-byte public key.
type Agent struct {
	AgentID        string      `json:"agent_id"`
	NotifyURL      string      `json:"notify_url"`
	Status         AgentStatus `json:"status"`
	Bans           RoleBans    `json:"bans"`
	JurorEligible  bool        `json:"juror_eligible"`
	Profile        string      `json:"profile,omitempty"`
	WeeklyJuryCap  int         `json:"weekly_jury_cap,omitempty"`
	// WebhookSecret is the shared key the dispatcher HMAC-signs outbound
	// events with for this agent. Minted at registration; empty for
	// agents cross-registered as an OCP counterparty by EnsureRegistered.
	WebhookSecret  string      `json:"-"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Active reports whether the agent may currently participate at all.
func (a *Agent) Active() bool {
	return a.Status == AgentStatusActive
}

// EligibleFor reports whether the agent may take on the given role, given
// its status and its per-role bans.
func (a *Agent) EligibleFor(role string) bool {
	if !a.Active() {
		return false
	}
	switch role {
	case "filing":
		return !a.Bans.Filing
	case "defence":
		return !a.Bans.Defence
	case "jury":
		return !a.Bans.Jury && a.JurorEligible
	default:
		return false
	}
}

// APIKey is a hashed, prefixed API key used for read-friendly endpoints.
// Only the SHA-256 digest of the raw key is ever persisted.
type APIKey struct {
	ID         string     `json:"id"`
	AgentID    string     `json:"agent_id"`
	KeyHash    string     `json:"-"`
	Prefix     string     `json:"prefix"`
	Label      string     `json:"label,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}
