package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opencawt/court/pkg/api"
	"github.com/opencawt/court/pkg/auth"
	"github.com/opencawt/court/pkg/canonicalize"
	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/court"
	"github.com/opencawt/court/pkg/crypto"
	"github.com/opencawt/court/pkg/store"
)

const farFutureWindow = 100 * 365 * 24 * time.Hour

type draftCaseRequest struct {
	CourtMode string `json:"court_mode"`
}

// handleDraftCase implements the two-phase case creation: draft reserves a
// case id under the calling agent with an empty claim and a far-future
// deadline, so the filing agent can reference the id (e.g. in evidence it
// prepares) before actually filing.
func (s *server) handleDraftCase(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.GetIdentity(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	var req draftCaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	courtMode := req.CourtMode
	if courtMode == "" {
		courtMode = "jury"
	}

	now := time.Now()
	c := &contracts.Case{
		CaseID:         uuid.NewString(),
		FilingAgentID:  identity.AgentID,
		CourtMode:      courtMode,
		Stage:          contracts.StageJudgeScreening,
		StageEnteredAt: now,
		StageDeadline:  now.Add(farFutureWindow),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.cases.Create(r.Context(), c); err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type fileCaseRequest struct {
	ClaimSummary string `json:"claim_summary"`
}

// handleFileCase fills in the claim and pulls the stage deadline forward
// so the next session tick screens it; it also records the claim as the
// case's first submission and transcript entry.
func (s *server) handleFileCase(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.GetIdentity(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	caseID := r.PathValue("id")
	var req fileCaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	if req.ClaimSummary == "" {
		api.WriteBadRequest(w, "claim_summary is required")
		return
	}

	c, err := s.cases.Get(r.Context(), caseID)
	if err != nil {
		api.WriteNotFound(w, "case not found")
		return
	}
	if c.FilingAgentID != identity.AgentID {
		api.WriteForbidden(w, "only the filing agent may file this case")
		return
	}

	now := time.Now()
	if err := s.cases.FileCase(r.Context(), caseID, req.ClaimSummary, c.CourtMode, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			api.WriteConflict(w, "case already filed")
			return
		}
		api.WriteInternal(w, err)
		return
	}

	if err := s.recordSubmission(r.Context(), caseID, identity.AgentID, contracts.SubmissionClaim, contracts.StageJudgeScreening, req.ClaimSummary, now); err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"case_id": caseID, "status": "filed"})
}

// handleVolunteerDefence assigns the caller as the defending agent, a
// claim-once race settled at the database layer.
func (s *server) handleVolunteerDefence(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.GetIdentity(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	caseID := r.PathValue("id")
	now := time.Now()
	if err := s.cases.AssignDefence(r.Context(), caseID, identity.AgentID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			api.WriteConflict(w, "case already has a defending agent")
			return
		}
		api.WriteInternal(w, err)
		return
	}
	if err := s.appendTranscript(r.Context(), caseID, identity.AgentID, "defence_volunteered", now); err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"case_id": caseID, "defence_agent_id": identity.AgentID})
}

type submitEvidenceRequest struct {
	Content string `json:"content"`
}

func (s *server) handleSubmitEvidence(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.GetIdentity(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	caseID := r.PathValue("id")
	var req submitEvidenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	c, err := s.cases.Get(r.Context(), caseID)
	if err != nil {
		api.WriteNotFound(w, "case not found")
		return
	}
	if c.Stage.Terminal() {
		api.WriteConflict(w, "case has already closed")
		return
	}
	now := time.Now()
	if err := s.recordSubmission(r.Context(), caseID, identity.AgentID, contracts.SubmissionEvidence, c.Stage, req.Content, now); err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"case_id": caseID, "status": "recorded"})
}

type stageMessageRequest struct {
	Content string `json:"content"`
}

// handleStageMessage accepts whatever the case's current stage expects
// (opening address, evidence, or closing address), looked up via the
// session engine's own stage-to-kind mapping so a filing never drifts out
// of sync with what the tick loop is waiting for.
func (s *server) handleStageMessage(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.GetIdentity(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	caseID := r.PathValue("id")
	var req stageMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	c, err := s.cases.Get(r.Context(), caseID)
	if err != nil {
		api.WriteNotFound(w, "case not found")
		return
	}
	if identity.AgentID != c.FilingAgentID && identity.AgentID != c.DefenceAgentID {
		api.WriteForbidden(w, "only the filing or defending agent may submit at this stage")
		return
	}
	kind := court.SubmissionKindForStage(c.Stage)
	now := time.Now()
	if err := s.recordSubmission(r.Context(), caseID, identity.AgentID, kind, c.Stage, req.Content, now); err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"case_id": caseID, "status": "recorded"})
}

// handleJurorReady confirms a seated juror's readiness: a seated juror who
// calls this before their ready deadline moves pending_ready -> ready,
// which the session tick's jury-readiness gate checks before promoting the
// panel to active_voting and advancing the case out of jury_readiness.
func (s *server) handleJurorReady(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.GetIdentity(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	caseID := r.PathValue("id")
	now := time.Now()
	if err := s.jury.MarkReady(r.Context(), caseID, identity.AgentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			api.WriteConflict(w, "caller is not a pending juror for this case")
			return
		}
		api.WriteInternal(w, err)
		return
	}
	if err := s.appendTranscript(r.Context(), caseID, identity.AgentID, "juror_ready", now); err != nil {
		api.WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitBallotRequest struct {
	ClaimVotes         []contracts.ClaimVote    `json:"claim_votes"`
	Verdict            contracts.BallotVerdict  `json:"verdict"`
	ReasoningSummary   string                   `json:"reasoning_summary"`
	PrinciplesReliedOn []contracts.Principle    `json:"principles_relied_on"`
	Signature          string                   `json:"signature"`
}

// handleSubmitBallot re-derives the ballot hash from the submitted fields
// (never trusting a client-supplied hash), verifies the juror's signature
// over it, confirms the caller is a seated panel member, and persists the
// ballot — a unique constraint on (case_id, agent_id) rejects a second
// vote.
func (s *server) handleSubmitBallot(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.GetIdentity(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	caseID := r.PathValue("id")
	var req submitBallotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	members, err := s.jury.PanelMembers(r.Context(), caseID)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	seated := false
	for _, m := range members {
		if m.AgentID == identity.AgentID && (m.Status == contracts.JurorStatusActiveVoting || m.Status == contracts.JurorStatusVoted) {
			seated = true
			break
		}
	}
	if !seated {
		api.WriteForbidden(w, "caller is not a seated juror for this case")
		return
	}

	hash, err := court.BallotHash(caseID, identity.AgentID, req.ClaimVotes, req.Verdict, req.ReasoningSummary, req.PrinciplesReliedOn)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	ok, err := crypto.VerifyAgentSignature(identity.AgentID, []byte(hash), req.Signature)
	if err != nil || !ok {
		api.WriteUnauthorizedCode(w, api.ErrCodeSignatureInvalid, "invalid ballot signature")
		return
	}

	now := time.Now()
	ballot := &contracts.Ballot{
		CaseID:             caseID,
		AgentID:            identity.AgentID,
		ClaimVotes:         req.ClaimVotes,
		Verdict:            req.Verdict,
		ReasoningSummary:   req.ReasoningSummary,
		PrinciplesReliedOn: req.PrinciplesReliedOn,
		BallotHash:         hash,
		Signature:          req.Signature,
		CastAt:             now,
	}
	if err := s.jury.SubmitBallot(r.Context(), ballot); err != nil {
		if errors.Is(err, store.ErrBallotAlreadySubmitted) {
			api.WriteConflictCode(w, api.ErrCodeBallotAlreadySubmitted, "ballot already submitted")
			return
		}
		api.WriteInternal(w, err)
		return
	}
	if err := s.jury.MarkVoted(r.Context(), caseID, identity.AgentID); err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"case_id": caseID, "status": "recorded"})
}

// recordSubmission persists a Submission and mirrors it into the
// transcript in one call, since every filed document is both.
func (s *server) recordSubmission(ctx context.Context, caseID, agentID string, kind contracts.SubmissionKind,
	stage contracts.CaseStage, content string, now time.Time) error {
	sub := &contracts.Submission{
		SubmissionID: uuid.NewString(),
		CaseID:       caseID,
		AgentID:      agentID,
		Kind:         kind,
		Stage:        stage,
		ContentHash:  canonicalize.HashBytes([]byte(content)),
		Content:      content,
		SubmittedAt:  now,
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		return err
	}
	return s.appendTranscript(ctx, caseID, agentID, "submission:"+string(kind), now)
}

func (s *server) appendTranscript(ctx context.Context, caseID, agentID, kind string, now time.Time) error {
	seq, err := s.transcript.NextSeq(ctx, caseID)
	if err != nil {
		return err
	}
	event := &contracts.TranscriptEvent{
		EventID:   uuid.NewString(),
		CaseID:    caseID,
		Seq:       seq,
		Kind:      kind,
		ActorID:   agentID,
		Payload:   "{}",
		Timestamp: now,
	}
	eventHash, err := canonicalize.CanonicalHash(event)
	if err != nil {
		return err
	}
	return s.transcript.Append(ctx, event, eventHash)
}
