package ocp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/mintworker"
	"github.com/opencawt/court/pkg/solanafee"
	"github.com/opencawt/court/pkg/store"
	"github.com/opencawt/court/pkg/webhook"
)

var (
	ErrSignatureInvalid   = errors.New("ocp: signature invalid")
	ErrDuplicateActive    = errors.New("ocp: active agreement already exists for these parties and terms")
	ErrFeeNotVerified     = errors.New("ocp: treasury fee not verified")
	ErrNotPartyB          = errors.New("ocp: caller is not the declared counterparty")
	ErrWrongStatus        = errors.New("ocp: agreement is not in the required status")
	ErrAgreementExpired   = errors.New("ocp: agreement proposal has expired")
)

const proposalTTL = 72 * time.Hour

// Engine implements the OCP agreement lifecycle: propose, accept, cancel,
// and suspend.
type Engine struct {
	agreements *store.AgreementRepo
	agents     *store.AgentRepo
	mint       mintworker.Client
	fee        solanafee.Client
	dispatcher *webhook.Dispatcher
	feeRequired    bool
	feeMinLamports int64
	clock func() time.Time
	log   *slog.Logger
}

func NewEngine(agreements *store.AgreementRepo, agents *store.AgentRepo, mint mintworker.Client, fee solanafee.Client,
	dispatcher *webhook.Dispatcher, feeRequired bool, feeMinLamports int64, log *slog.Logger) *Engine {
	return &Engine{
		agreements: agreements, agents: agents, mint: mint, fee: fee, dispatcher: dispatcher,
		feeRequired: feeRequired, feeMinLamports: feeMinLamports, clock: time.Now, log: log,
	}
}

// ProposeRequest is the propose endpoint's validated input. Terms is the
// raw (pre-canonicalisation) terms document.
type ProposeRequest struct {
	// ProposalID is chosen by the proposing client so it can be included
	// in the digest it signs before ever calling this endpoint; the
	// server adopts it as the agreement's id rather than minting its own,
	// since the signature is only verifiable against the id the signer
	// actually used.
	ProposalID      string
	PartyAID        string
	PartyBID        string
	Mode            contracts.AgreementMode
	Terms           map[string]any
	SignatureA      string
	TreasuryTxSig   string
	ExpiresAt       time.Time
}

// Propose verifies partyA's signature over the attestation digest,
// rejects a duplicate active proposal for the same ordered pair and
// terms, optionally checks a treasury fee payment, then creates the
// agreement at status pending and notifies partyB.
func (e *Engine) Propose(ctx context.Context, req ProposeRequest) (*contracts.CanonicalAgreement, error) {
	now := e.clock()
	terms := BuildCanonicalTerms(req.Terms)
	termsHash, err := TermsHash(terms)
	if err != nil {
		return nil, fmt.Errorf("ocp: propose: %w", err)
	}
	agreementCode := AgreementCode(termsHash)
	agreementID := req.ProposalID
	if agreementID == "" {
		return nil, fmt.Errorf("ocp: propose: proposal id required")
	}

	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(proposalTTL)
	}

	digest := AgreementDigest(agreementID, termsHash, agreementCode, req.PartyAID, req.PartyBID, expiresAt.UTC().Format(time.RFC3339))
	ok, err := VerifySignature(req.PartyAID, digest, req.SignatureA)
	if err != nil {
		return nil, fmt.Errorf("ocp: propose: %w", err)
	}
	if !ok {
		return nil, ErrSignatureInvalid
	}

	exists, err := e.agreements.ExistsActiveForPartiesTerms(ctx, req.PartyAID, req.PartyBID, termsHash)
	if err != nil {
		return nil, fmt.Errorf("ocp: propose: check duplicate: %w", err)
	}
	if exists {
		return nil, ErrDuplicateActive
	}

	if e.feeRequired {
		if err := e.verifyFee(ctx, req.TreasuryTxSig, agreementID); err != nil {
			return nil, err
		}
	}

	mode := req.Mode
	if mode == "" {
		mode = contracts.AgreementModePrivate
	}

	agreement := &contracts.CanonicalAgreement{
		AgreementID:   agreementID,
		AgreementCode: agreementCode,
		PartyAID:      req.PartyAID,
		PartyBID:      req.PartyBID,
		Mode:          mode,
		Terms:         terms,
		TermsHash:     termsHash,
		Status:        contracts.AgreementPending,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.agreements.Create(ctx, agreement); err != nil {
		return nil, fmt.Errorf("ocp: propose: create: %w", err)
	}
	if err := e.agreements.AddSignature(ctx, &contracts.AgreementSignature{
		AgreementID: agreementID, SignerID: req.PartyAID, Signature: req.SignatureA, SignedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("ocp: propose: store signature: %w", err)
	}

	e.notify(ctx, req.PartyBID, "agreement_proposed", agreement)
	return agreement, nil
}

func (e *Engine) verifyFee(ctx context.Context, txSig, agreementID string) error {
	if txSig == "" {
		return ErrFeeNotVerified
	}
	status, err := e.fee.VerifyTx(ctx, txSig)
	if err != nil {
		return fmt.Errorf("ocp: verify fee: %w", err)
	}
	if !status.Finalized || status.AmountPaid < e.feeMinLamports {
		return ErrFeeNotVerified
	}
	return nil
}

// AcceptRequest is the accept endpoint's validated input.
type AcceptRequest struct {
	AgreementID string
	CallerID    string
	SignatureB  string
}

// Accept verifies the caller is the declared partyB, expires stale
// proposals before acting on them, re-verifies both signatures against the
// same canonical digest, mints a receipt, cross-registers both agents into
// the court's agent table, and dispatches agreement_sealed to both
// parties.
func (e *Engine) Accept(ctx context.Context, req AcceptRequest) (*contracts.CanonicalAgreement, error) {
	now := e.clock()
	agreement, err := e.agreements.Get(ctx, req.AgreementID)
	if err != nil {
		return nil, fmt.Errorf("ocp: accept: %w", err)
	}
	if req.CallerID != agreement.PartyBID {
		return nil, ErrNotPartyB
	}
	if agreement.Status != contracts.AgreementPending {
		if agreement.Status == contracts.AgreementExpired {
			return nil, ErrAgreementExpired
		}
		return nil, ErrWrongStatus
	}
	if now.After(agreement.ExpiresAt) {
		if err := e.agreements.UpdateStatus(ctx, agreement.AgreementID, contracts.AgreementExpired, now); err != nil {
			return nil, fmt.Errorf("ocp: accept: expire: %w", err)
		}
		return nil, ErrAgreementExpired
	}

	digest := AgreementDigest(agreement.AgreementID, agreement.TermsHash, agreement.AgreementCode,
		agreement.PartyAID, agreement.PartyBID, agreement.ExpiresAt.UTC().Format(time.RFC3339))

	okB, err := VerifySignature(agreement.PartyBID, digest, req.SignatureB)
	if err != nil {
		return nil, fmt.Errorf("ocp: accept: %w", err)
	}
	if !okB {
		return nil, ErrSignatureInvalid
	}

	signatures, err := e.agreements.Signatures(ctx, agreement.AgreementID)
	if err != nil {
		return nil, fmt.Errorf("ocp: accept: load signatures: %w", err)
	}
	var sigA string
	for _, s := range signatures {
		if s.SignerID == agreement.PartyAID {
			sigA = s.Signature
		}
	}
	okA, err := VerifySignature(agreement.PartyAID, digest, sigA)
	if err != nil {
		return nil, fmt.Errorf("ocp: accept: re-verify partyA: %w", err)
	}
	if !okA {
		return nil, ErrSignatureInvalid
	}

	if err := e.agreements.AddSignature(ctx, &contracts.AgreementSignature{
		AgreementID: agreement.AgreementID, SignerID: agreement.PartyBID, Signature: req.SignatureB, SignedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("ocp: accept: store signature: %w", err)
	}
	if err := e.agreements.UpdateStatus(ctx, agreement.AgreementID, contracts.AgreementAccepted, now); err != nil {
		return nil, fmt.Errorf("ocp: accept: transition: %w", err)
	}

	result, err := e.mint.Seal(ctx, mintworker.SealRequest{
		JobID:    agreement.AgreementID,
		SealHash: agreement.TermsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("ocp: accept: mint: %w", err)
	}
	if err := e.agreements.Seal(ctx, agreement.AgreementID, result.AssetID, result.TxSig, now); err != nil {
		return nil, fmt.Errorf("ocp: accept: seal: %w", err)
	}

	if err := e.agents.EnsureRegistered(ctx, agreement.PartyAID, now); err != nil {
		return nil, fmt.Errorf("ocp: accept: cross-register partyA: %w", err)
	}
	if err := e.agents.EnsureRegistered(ctx, agreement.PartyBID, now); err != nil {
		return nil, fmt.Errorf("ocp: accept: cross-register partyB: %w", err)
	}

	sealed, err := e.agreements.Get(ctx, agreement.AgreementID)
	if err != nil {
		return nil, fmt.Errorf("ocp: accept: reload: %w", err)
	}

	e.notify(ctx, sealed.PartyAID, "agreement_sealed", sealed)
	e.notify(ctx, sealed.PartyBID, "agreement_sealed", sealed)
	return sealed, nil
}

// Cancel and Suspend are system-key-only operations; both reject any
// agreement not currently pending.
func (e *Engine) Cancel(ctx context.Context, agreementID string) error {
	return e.terminate(ctx, agreementID, contracts.AgreementCancelled)
}

func (e *Engine) Suspend(ctx context.Context, agreementID string) error {
	return e.terminate(ctx, agreementID, contracts.AgreementCancelled)
}

func (e *Engine) terminate(ctx context.Context, agreementID string, to contracts.AgreementStatus) error {
	now := e.clock()
	agreement, err := e.agreements.Get(ctx, agreementID)
	if err != nil {
		return fmt.Errorf("ocp: terminate: %w", err)
	}
	if agreement.Status != contracts.AgreementPending {
		return ErrWrongStatus
	}
	if err := e.agreements.UpdateStatus(ctx, agreementID, to, now); err != nil {
		return fmt.Errorf("ocp: terminate: %w", err)
	}
	return nil
}

// notify dispatches a webhook event to an agent's registered notify URL.
// A missing URL or delivery failure is logged and swallowed: webhook
// delivery is never load-bearing for the agreement's own state, per the
// "signed event record is the source of truth" rule.
func (e *Engine) notify(ctx context.Context, agentID, kind string, agreement *contracts.CanonicalAgreement) {
	agent, err := e.agents.Get(ctx, agentID)
	if err != nil || agent.NotifyURL == "" {
		return
	}
	event := webhook.Event{
		EventID: uuid.NewString(),
		Kind:    kind,
		Payload: map[string]any{
			"agreement_id":   agreement.AgreementID,
			"agreement_code": agreement.AgreementCode,
			"party_a_id":     agreement.PartyAID,
			"party_b_id":     agreement.PartyBID,
			"status":         agreement.Status,
			"terms_hash":     agreement.TermsHash,
		},
		CreatedAt: e.clock(),
	}
	if err := e.dispatcher.Deliver(ctx, agent.NotifyURL, agent.WebhookSecret, event); err != nil {
		e.log.Warn("ocp: webhook delivery failed", "agent_id", agentID, "kind", kind, "error", err)
	}
}
