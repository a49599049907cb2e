package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"
)

// Signer produces Ed25519 signatures over arbitrary message bytes. Domain
// packages build their own canonical signing strings (request signing
// strings, ballot hashes, agreement terms hashes) and hand the resulting
// bytes to Sign; this package has no knowledge of court or OCP domain
// types.
type Signer interface {
	Sign(message []byte) (string, error)
	AgentID() string
	PublicKeyBytes() ed25519.PublicKey
}

// Ed25519Signer signs with a held private key. Signatures are rendered as
// base64 of the raw 64-byte signature, and the agent identity is the
// base58 encoding of the 32-byte public key, per the wire scheme.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
	}
}

func (s *Ed25519Signer) Sign(message []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, message)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// AgentID is the base58 encoding of the public key, the agent's identity
// on the wire.
func (s *Ed25519Signer) AgentID() string {
	return base58.Encode(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() ed25519.PublicKey {
	return s.pubKey
}

// DecodeAgentID recovers the raw Ed25519 public key bytes from an agentId.
func DecodeAgentID(agentID string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(agentID)
	if err != nil {
		return nil, fmt.Errorf("invalid agent id: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid agent id: want %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
