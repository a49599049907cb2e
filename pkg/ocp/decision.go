package ocp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/store"
)

var (
	ErrNotRequiredSigner = errors.New("ocp: signer is not part of this decision's required set")
	ErrDecisionSealed    = errors.New("ocp: decision is already sealed")
)

// DecisionEngine drives the draft -> sign (N-of-M) -> seal lifecycle for
// multisig decisions against an agreement (e.g. recording a fulfilled or
// breached outcome), persisting the sealed result as an Attestation.
type DecisionEngine struct {
	decisions  *store.DecisionRepo
	agreements *store.AgreementRepo
	clock      func() time.Time
}

func NewDecisionEngine(decisions *store.DecisionRepo, agreements *store.AgreementRepo) *DecisionEngine {
	return &DecisionEngine{decisions: decisions, agreements: agreements, clock: time.Now}
}

// Draft opens a new decision requiring at least threshold signatures from
// requiredSigners before it seals.
func (e *DecisionEngine) Draft(ctx context.Context, agreementID string, outcome contracts.AttestationOutcome,
	payloadHash string, requiredSigners []string, threshold int) (*contracts.DecisionDraft, error) {
	if threshold < 1 || threshold > len(requiredSigners) {
		return nil, fmt.Errorf("ocp: draft decision: invalid threshold %d for %d signers", threshold, len(requiredSigners))
	}
	now := e.clock()
	d := &contracts.DecisionDraft{
		DecisionID:      uuid.NewString(),
		AgreementID:     agreementID,
		Outcome:         outcome,
		PayloadHash:     payloadHash,
		RequiredSigners: requiredSigners,
		Threshold:       threshold,
		Status:          contracts.DecisionStatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.decisions.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("ocp: draft decision: %w", err)
	}
	return d, nil
}

// Sign records one required signer's signature over the decision's
// payloadHash digest. It does not seal automatically — callers seal
// explicitly once satisfied, or Seal itself verifies the threshold has
// been met.
func (e *DecisionEngine) Sign(ctx context.Context, decisionID, signerID, signatureB64 string) (*contracts.DecisionDraft, error) {
	d, err := e.decisions.Get(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("ocp: sign decision: %w", err)
	}
	if d.Status == contracts.DecisionStatusSealed {
		return nil, ErrDecisionSealed
	}
	if !contains(d.RequiredSigners, signerID) {
		return nil, ErrNotRequiredSigner
	}
	digest := DecisionDigest(d.PayloadHash)
	ok, err := VerifySignature(signerID, digest, signatureB64)
	if err != nil {
		return nil, fmt.Errorf("ocp: sign decision: %w", err)
	}
	if !ok {
		return nil, ErrSignatureInvalid
	}
	now := e.clock()
	if err := e.decisions.AddSignature(ctx, decisionID, contracts.AgreementSignature{
		SignerID: signerID, Signature: signatureB64, SignedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("ocp: sign decision: %w", err)
	}
	return e.decisions.Get(ctx, decisionID)
}

// Seal checks the threshold has been reached and persists the sealed
// result as an Attestation row bound to the agreement.
func (e *DecisionEngine) Seal(ctx context.Context, decisionID string) (*contracts.Attestation, error) {
	d, err := e.decisions.Get(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("ocp: seal decision: %w", err)
	}
	if d.Status == contracts.DecisionStatusSealed {
		return nil, ErrDecisionSealed
	}
	if len(d.Signatures) < d.Threshold {
		return nil, fmt.Errorf("ocp: seal decision: %d of %d required signatures", len(d.Signatures), d.Threshold)
	}

	now := e.clock()
	attestationHash, err := TermsHash(map[string]any{
		"decision_id":  d.DecisionID,
		"agreement_id": d.AgreementID,
		"outcome":      d.Outcome,
		"payload_hash": d.PayloadHash,
	})
	if err != nil {
		return nil, fmt.Errorf("ocp: seal decision: %w", err)
	}
	attestation := &contracts.Attestation{
		AttestationID:   uuid.NewString(),
		AgreementID:     d.AgreementID,
		Outcome:         d.Outcome,
		Signatures:      d.Signatures,
		AttestationHash: attestationHash,
		CreatedAt:       now,
	}
	if err := e.agreements.SaveAttestation(ctx, attestation); err != nil {
		return nil, fmt.Errorf("ocp: seal decision: %w", err)
	}
	if err := e.decisions.UpdateStatus(ctx, decisionID, contracts.DecisionStatusSealed, now); err != nil {
		return nil, fmt.Errorf("ocp: seal decision: %w", err)
	}
	return attestation, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
