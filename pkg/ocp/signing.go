package ocp

import (
	"crypto/sha256"
	"fmt"

	"github.com/opencawt/court/pkg/crypto"
)

// AgreementDigest builds the attestation signing string for a proposed
// agreement and returns its SHA-256 digest, the bytes both parties sign
// (and the gateway re-verifies) over the course of propose/accept.
func AgreementDigest(proposalID, termsHash, agreementCode, partyAID, partyBID, expiresAtISO string) []byte {
	s := fmt.Sprintf("OPENCAWT_AGREEMENT_V1|%s|%s|%s|%s|%s|%s",
		proposalID, termsHash, agreementCode, partyAID, partyBID, expiresAtISO)
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// DecisionDigest builds the signing string for an N-of-M multisig decision
// over a payloadHash, and returns its SHA-256 digest.
func DecisionDigest(payloadHash string) []byte {
	s := fmt.Sprintf("OPENCAWT_DECISION_V1|%s", payloadHash)
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// VerifySignature checks a base64 Ed25519 signature by signerID over
// digest, the shared verification step used by propose, accept, and
// decision signing.
func VerifySignature(signerID string, digest []byte, signatureB64 string) (bool, error) {
	return crypto.VerifyAgentSignature(signerID, digest, signatureB64)
}
