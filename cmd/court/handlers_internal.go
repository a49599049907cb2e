package main

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/opencawt/court/pkg/api"
	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/court"
)

// authorizeBearer reports whether the request's bearer token matches want,
// in constant time, and writes a 401 itself on mismatch so callers can
// just `if !s.authorizeBearer(...) { return }`.
func (s *server) authorizeBearer(w http.ResponseWriter, r *http.Request, want string) bool {
	got := bearerToken(r)
	if want == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		api.WriteUnauthorized(w, "invalid or missing bearer token")
		return false
	}
	return true
}

type sealResultRequest struct {
	JobID         string `json:"job_id"`
	CaseID        string `json:"case_id"`
	VerdictHash   string `json:"verdict_hash"`
	MintJobRef    string `json:"mint_job_ref"`
	TreasuryTxRef string `json:"treasury_tx_ref"`
}

// handleSealResult accepts the mint worker's out-of-band callback for a
// dispatched seal job. Authenticated by worker token rather than an agent
// signature, since the caller here is the worker, not a party to the case.
func (s *server) handleSealResult(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeBearer(w, r, s.workerToken) {
		return
	}
	var req sealResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	if req.JobID == "" || req.CaseID == "" {
		api.WriteBadRequest(w, "job_id and case_id are required")
		return
	}

	err := s.sealWorker.ApplyExternalResult(r.Context(), req.JobID, req.CaseID, req.VerdictHash, req.MintJobRef, req.TreasuryTxRef)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"job_id": req.JobID, "status": "sealed"})
	case errors.Is(err, court.ErrSealResultConflict):
		api.WriteConflict(w, err.Error())
	default:
		api.WriteInternal(w, err)
	}
}

// handleVoidCase force-voids a case, operator-only.
func (s *server) handleVoidCase(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeBearer(w, r, s.systemKey) {
		return
	}
	caseID := r.PathValue("id")
	if err := s.session.VoidCase(r.Context(), caseID, contracts.VoidReasonWithdrawn, time.Now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			api.WriteNotFound(w, "case not found")
			return
		}
		api.WriteConflict(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"case_id": caseID, "status": "voided"})
}

// handleRetrySealJob forces an immediate retry of a failed seal job,
// bypassing its scheduled backoff, operator-only.
func (s *server) handleRetrySealJob(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeBearer(w, r, s.systemKey) {
		return
	}
	jobID := r.PathValue("jobId")
	job, err := s.seal.Get(r.Context(), jobID)
	if err != nil {
		api.WriteNotFound(w, "seal job not found")
		return
	}
	if job.Status != contracts.SealJobFailed {
		api.WriteConflict(w, "seal job is not in a failed state")
		return
	}
	if err := s.sealWorker.Retry(r.Context(), job); err != nil {
		api.WriteBadGateway(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "retried"})
}
