package contracts

import "time"

// AgreementStatus is the lifecycle of an OCP agreement.
type AgreementStatus string

const (
	AgreementPending   AgreementStatus = "pending"
	AgreementAccepted  AgreementStatus = "accepted"
	AgreementSealed    AgreementStatus = "sealed"
	AgreementExpired   AgreementStatus = "expired"
	AgreementCancelled AgreementStatus = "cancelled"
)

// AgreementMode controls whether a sealed agreement's terms are
// discoverable by third parties (public) or only by its two parties and
// the court (private).
type AgreementMode string

const (
	AgreementModePublic  AgreementMode = "public"
	AgreementModePrivate AgreementMode = "private"
)

// CanonicalAgreement is an OCP agreement's canonical terms plus the
// derived identifiers computed from them: termsHash over the canonicalised
// terms object, and agreementCode, a 10-character Crockford base32
// rendering of the first 8 bytes of sha256("OPENCAWT_AGREEMENT_CODE_V1" +
// termsHash).
type CanonicalAgreement struct {
	AgreementID   string          `json:"agreement_id"`
	AgreementCode string          `json:"agreement_code"`
	PartyAID      string          `json:"party_a_id"`
	PartyBID      string          `json:"party_b_id"`
	Mode          AgreementMode   `json:"mode"`
	Terms         map[string]any  `json:"terms"`
	TermsHash     string          `json:"terms_hash"`
	Status        AgreementStatus `json:"status"`
	MintAssetID   string          `json:"mint_asset_id,omitempty"`
	MintTxSig     string          `json:"mint_tx_sig,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// AgreementSignature is one signer's signature over an agreement's
// OPENCAWT_AGREEMENT_V1 attestation digest (ocp.AgreementDigest), or, for
// a decision draft, over its OPENCAWT_DECISION_V1 digest
// (ocp.DecisionDigest).
type AgreementSignature struct {
	AgreementID string    `json:"agreement_id"`
	SignerID    string    `json:"signer_id"`
	Signature   string    `json:"signature"`
	SignedAt    time.Time `json:"signed_at"`
}

// AttestationOutcome is the outcome an Attestation records.
type AttestationOutcome string

const (
	AttestationFulfilled AttestationOutcome = "fulfilled"
	AttestationBreached  AttestationOutcome = "breached"
	AttestationDisputed  AttestationOutcome = "disputed"
)

// Attestation is a sealed, multi-party-signed statement binding an
// agreement's termsHash to an outcome (fulfilled, breached, disputed),
// analogous to a court verdict seal but for the bilateral OCP path.
type Attestation struct {
	AttestationID string              `json:"attestation_id"`
	AgreementID   string              `json:"agreement_id"`
	Outcome       AttestationOutcome  `json:"outcome"`
	Signatures    []AgreementSignature `json:"signatures"`
	AttestationHash string            `json:"attestation_hash"`
	CreatedAt     time.Time           `json:"created_at"`
}

// DecisionStatus is the lifecycle of an N-of-M multisig decision draft.
type DecisionStatus string

const (
	DecisionStatusDraft  DecisionStatus = "draft"
	DecisionStatusSealed DecisionStatus = "sealed"
)

// DecisionDraft accumulates signatures toward the threshold required to
// seal a decision (an attestation outcome) for an agreement. Once
// len(Signatures) reaches Threshold, an explicit DecisionEngine.Seal call
// seals the draft into an Attestation row; signing alone does not seal it.
type DecisionDraft struct {
	DecisionID      string              `json:"decision_id"`
	AgreementID     string              `json:"agreement_id"`
	Outcome         AttestationOutcome  `json:"outcome"`
	PayloadHash     string              `json:"payload_hash"`
	RequiredSigners []string            `json:"required_signers"`
	Threshold       int                 `json:"threshold"`
	Status          DecisionStatus      `json:"status"`
	Signatures      []AgreementSignature `json:"signatures"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}
