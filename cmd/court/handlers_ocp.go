package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/opencawt/court/pkg/api"
	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/ocp"
)

type proposeAgreementRequest struct {
	ProposalID    string                   `json:"proposal_id"`
	PartyAID      string                   `json:"party_a_id"`
	PartyBID      string                   `json:"party_b_id"`
	Mode          contracts.AgreementMode  `json:"mode"`
	Terms         map[string]any           `json:"terms"`
	SignatureA    string                   `json:"signature_a"`
	TreasuryTxSig string                   `json:"treasury_tx_sig,omitempty"`
	ExpiresAt     *time.Time               `json:"expires_at,omitempty"`
}

func (s *server) handleProposeAgreement(w http.ResponseWriter, r *http.Request) {
	var req proposeAgreementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	var expiresAt time.Time
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}

	agreement, err := s.ocpEngine.Propose(r.Context(), ocp.ProposeRequest{
		ProposalID:    req.ProposalID,
		PartyAID:      req.PartyAID,
		PartyBID:      req.PartyBID,
		Mode:          req.Mode,
		Terms:         req.Terms,
		SignatureA:    req.SignatureA,
		TreasuryTxSig: req.TreasuryTxSig,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		writeOCPError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agreement)
}

type acceptAgreementRequest struct {
	CallerID   string `json:"caller_id"`
	SignatureB string `json:"signature_b"`
}

func (s *server) handleAcceptAgreement(w http.ResponseWriter, r *http.Request) {
	agreementID := r.PathValue("id")
	var req acceptAgreementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	agreement, err := s.ocpEngine.Accept(r.Context(), ocp.AcceptRequest{
		AgreementID: agreementID,
		CallerID:    req.CallerID,
		SignatureB:  req.SignatureB,
	})
	if err != nil {
		writeOCPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

func (s *server) handleGetAgreementByCode(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	agreement, err := s.agreements.GetByCode(r.Context(), code)
	if err != nil {
		api.WriteNotFound(w, "agreement not found")
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

// handleVerify answers GET /v1/verify?proposalId=...|code=..., a
// read-only lookup for third parties checking an agreement's status
// without needing either party's signature.
func (s *server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var (
		agreement *contracts.CanonicalAgreement
		err       error
	)
	if id := r.URL.Query().Get("proposalId"); id != "" {
		agreement, err = s.agreements.Get(r.Context(), id)
	} else if code := r.URL.Query().Get("code"); code != "" {
		agreement, err = s.agreements.GetByCode(r.Context(), code)
	} else {
		api.WriteBadRequest(w, "proposalId or code query parameter required")
		return
	}
	if err != nil {
		api.WriteNotFound(w, "agreement not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agreement_id":   agreement.AgreementID,
		"agreement_code": agreement.AgreementCode,
		"status":         agreement.Status,
		"terms_hash":     agreement.TermsHash,
		"party_a_id":     agreement.PartyAID,
		"party_b_id":     agreement.PartyBID,
	})
}

type draftDecisionRequest struct {
	AgreementID     string                         `json:"agreement_id"`
	Outcome         contracts.AttestationOutcome   `json:"outcome"`
	PayloadHash     string                         `json:"payload_hash"`
	RequiredSigners []string                       `json:"required_signers"`
	Threshold       int                            `json:"threshold"`
}

func (s *server) handleDraftDecision(w http.ResponseWriter, r *http.Request) {
	var req draftDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	draft, err := s.decisionEng.Draft(r.Context(), req.AgreementID, req.Outcome, req.PayloadHash, req.RequiredSigners, req.Threshold)
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

type signDecisionRequest struct {
	SignerID  string `json:"signer_id"`
	Signature string `json:"signature"`
}

func (s *server) handleSignDecision(w http.ResponseWriter, r *http.Request) {
	decisionID := r.PathValue("id")
	var req signDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	draft, err := s.decisionEng.Sign(r.Context(), decisionID, req.SignerID, req.Signature)
	if err != nil {
		writeOCPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *server) handleSealDecision(w http.ResponseWriter, r *http.Request) {
	decisionID := r.PathValue("id")
	attestation, err := s.decisionEng.Seal(r.Context(), decisionID)
	if err != nil {
		writeOCPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attestation)
}

// writeOCPError maps the ocp package's sentinel errors to the wire error
// envelope; anything unrecognized falls back to 500.
func writeOCPError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ocp.ErrSignatureInvalid):
		api.WriteUnauthorizedCode(w, api.ErrCodeSignatureInvalid, err.Error())
	case errors.Is(err, ocp.ErrDuplicateActive):
		api.WriteConflictCode(w, api.ErrCodeDuplicateAgreement, err.Error())
	case errors.Is(err, ocp.ErrFeeNotVerified):
		api.WriteBadRequest(w, err.Error())
	case errors.Is(err, ocp.ErrNotPartyB), errors.Is(err, ocp.ErrNotRequiredSigner):
		api.WriteForbidden(w, err.Error())
	case errors.Is(err, ocp.ErrWrongStatus), errors.Is(err, ocp.ErrAgreementExpired), errors.Is(err, ocp.ErrDecisionSealed):
		api.WriteConflict(w, err.Error())
	default:
		api.WriteInternal(w, err)
	}
}
