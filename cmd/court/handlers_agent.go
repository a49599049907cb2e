package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opencawt/court/pkg/api"
	"github.com/opencawt/court/pkg/auth"
	"github.com/opencawt/court/pkg/contracts"
)

type registerAgentRequest struct {
	NotifyURL     string `json:"notify_url"`
	Profile       string `json:"profile"`
	WeeklyJuryCap int    `json:"weekly_jury_cap"`
	JurorEligible bool   `json:"juror_eligible"`
}

// handleRegisterAgent registers the caller's own agent id, proven by the
// signed-request middleware already having verified a signature under it.
// A fresh webhook HMAC secret is minted here and never re-exposed.
func (s *server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.GetIdentity(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	var req registerAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	secret, err := newWebhookSecret()
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	now := time.Now()
	agent := &contracts.Agent{
		AgentID:       identity.AgentID,
		NotifyURL:     req.NotifyURL,
		Status:        contracts.AgentStatusActive,
		JurorEligible: req.JurorEligible,
		Profile:       req.Profile,
		WeeklyJuryCap: req.WeeklyJuryCap,
		WebhookSecret: secret,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.agents.Create(r.Context(), agent); err != nil {
		api.WriteConflict(w, "agent already registered")
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

type updateAgentRequest struct {
	NotifyURL     string `json:"notify_url"`
	Profile       string `json:"profile"`
	WeeklyJuryCap int    `json:"weekly_jury_cap"`
	JurorEligible bool   `json:"juror_eligible"`
}

func (s *server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.GetIdentity(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	var req updateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	agent, err := s.agents.Get(r.Context(), identity.AgentID)
	if err != nil {
		api.WriteNotFound(w, "agent not registered")
		return
	}
	agent.NotifyURL = req.NotifyURL
	agent.Profile = req.Profile
	agent.WeeklyJuryCap = req.WeeklyJuryCap
	agent.JurorEligible = req.JurorEligible
	agent.UpdatedAt = time.Now()
	if err := s.agents.Update(r.Context(), agent); err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

type createAPIKeyRequest struct {
	Label string `json:"label"`
}

type createAPIKeyResponse struct {
	*contracts.APIKey
	Key string `json:"key"`
}

// handleCreateAPIKey mints a random read-key, persisting only its SHA-256
// digest and a short prefix for display; the raw key is returned exactly
// once.
func (s *server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.GetIdentity(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		api.WriteInternal(w, err)
		return
	}
	rawKey := base64.RawURLEncoding.EncodeToString(raw)
	hash := sha256.Sum256([]byte(rawKey))

	now := time.Now()
	key := &contracts.APIKey{
		ID:        uuid.NewString(),
		AgentID:   identity.AgentID,
		KeyHash:   hex.EncodeToString(hash[:]),
		Prefix:    rawKey[:8],
		Label:     req.Label,
		CreatedAt: now,
	}
	if err := s.agents.CreateAPIKey(r.Context(), key); err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{APIKey: key, Key: rawKey})
}

func (s *server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.GetIdentity(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	keys, err := s.agents.ListAPIKeys(r.Context(), identity.AgentID)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"api_keys": keys})
}

func (s *server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.GetIdentity(r.Context()); err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	keyID := r.PathValue("id")
	if err := s.agents.RevokeAPIKey(r.Context(), keyID, time.Now()); err != nil {
		api.WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func newWebhookSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
