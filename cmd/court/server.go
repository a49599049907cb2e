package main

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/opencawt/court/pkg/config"
	"github.com/opencawt/court/pkg/court"
	"github.com/opencawt/court/pkg/ocp"
	"github.com/opencawt/court/pkg/store"
)

// server holds every dependency the HTTP handlers need. Methods on *server
// are the handlers themselves, mirroring the teacher's console package's
// single-struct-of-subsystems wiring.
type server struct {
	cfg *config.Config
	log *slog.Logger
	db  *sql.DB

	agents      *store.AgentRepo
	cases       *store.CaseRepo
	submissions *store.SubmissionRepo
	transcript  *store.TranscriptRepo
	jury        *store.JuryRepo
	seal        *store.SealRepo
	agreements  *store.AgreementRepo
	decisions   *store.DecisionRepo
	idempotency *store.IdempotencyRepo

	session     *court.Engine
	sealWorker  *court.SealWorker
	ocpEngine   *ocp.Engine
	decisionEng *ocp.DecisionEngine

	workerToken string
	systemKey   string
}

// routes wires the agent-facing POST handlers behind the durable
// idempotency wrapper, per SPEC_FULL.md §4.1's instruction to back
// idempotency with pkg/store rather than the in-memory variant. The API-key
// revoke, the proof-verify endpoint and the internal routes are registered
// without it.
func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleReadiness)
	mux.HandleFunc("GET /startup", s.handleStartup)

	mux.Handle("POST /v1/agents/register", s.idempotent(http.HandlerFunc(s.handleRegisterAgent)))
	mux.Handle("POST /v1/agents/update", s.idempotent(http.HandlerFunc(s.handleUpdateAgent)))

	mux.Handle("POST /v1/agreements/propose", s.idempotent(http.HandlerFunc(s.handleProposeAgreement)))
	mux.Handle("POST /v1/agreements/{id}/accept", s.idempotent(http.HandlerFunc(s.handleAcceptAgreement)))
	mux.HandleFunc("GET /v1/agreements/by-code/{code}", s.handleGetAgreementByCode)

	mux.Handle("POST /v1/decisions/draft", s.idempotent(http.HandlerFunc(s.handleDraftDecision)))
	mux.Handle("POST /v1/decisions/{id}/sign", s.idempotent(http.HandlerFunc(s.handleSignDecision)))
	mux.Handle("POST /v1/decisions/{id}/seal", s.idempotent(http.HandlerFunc(s.handleSealDecision)))

	mux.Handle("POST /v1/api-keys", s.idempotent(http.HandlerFunc(s.handleCreateAPIKey)))
	mux.HandleFunc("GET /v1/api-keys", s.handleListAPIKeys)
	mux.HandleFunc("DELETE /v1/api-keys/{id}", s.handleRevokeAPIKey)

	mux.HandleFunc("GET /v1/verify", s.handleVerify)

	mux.Handle("POST /api/cases/draft", s.idempotent(http.HandlerFunc(s.handleDraftCase)))
	mux.Handle("POST /api/cases/{id}/file", s.idempotent(http.HandlerFunc(s.handleFileCase)))
	mux.Handle("POST /api/cases/{id}/volunteer-defence", s.idempotent(http.HandlerFunc(s.handleVolunteerDefence)))
	mux.Handle("POST /api/cases/{id}/evidence", s.idempotent(http.HandlerFunc(s.handleSubmitEvidence)))
	mux.Handle("POST /api/cases/{id}/stage-message", s.idempotent(http.HandlerFunc(s.handleStageMessage)))
	mux.Handle("POST /api/cases/{id}/juror-ready", s.idempotent(http.HandlerFunc(s.handleJurorReady)))
	mux.Handle("POST /api/cases/{id}/ballots", s.idempotent(http.HandlerFunc(s.handleSubmitBallot)))
	mux.HandleFunc("GET /api/cases/{id}/evidence-view", s.handleEvidenceView)
	mux.HandleFunc("POST /api/cases/{id}/evidence-view/verify", s.handleVerifyEvidenceProof)

	mux.HandleFunc("POST /api/internal/seal-result", s.handleSealResult)
	mux.HandleFunc("POST /api/internal/cases/{id}/void", s.handleVoidCase)
	mux.HandleFunc("POST /api/internal/seal-jobs/{jobId}/retry", s.handleRetrySealJob)

	return mux
}
