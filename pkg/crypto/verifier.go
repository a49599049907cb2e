package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// VerifyAgentSignature verifies a base64-encoded Ed25519 signature against
// an agentId (base58 of the public key) and the exact message bytes that
// were signed. This is the single verification primitive used by both the
// request-signing middleware and OCP agreement/ballot signature checks.
func VerifyAgentSignature(agentID string, message []byte, signatureB64 string) (bool, error) {
	pubKey, err := DecodeAgentID(agentID)
	if err != nil {
		return false, err
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size: %d", len(sig))
	}
	return ed25519.Verify(pubKey, message, sig), nil
}
