package ocp_test

import (
	"context"
	"encoding/base64"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/crypto"
	"github.com/opencawt/court/pkg/mintworker"
	"github.com/opencawt/court/pkg/ocp"
	"github.com/opencawt/court/pkg/solanafee"
	"github.com/opencawt/court/pkg/store"
	"github.com/opencawt/court/pkg/webhook"
)

func newTestEngine(t *testing.T) *ocp.Engine {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "ocp_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	agreements := store.NewAgreementRepo(db)
	agents := store.NewAgentRepo(db)
	return ocp.NewEngine(agreements, agents, mintworker.NewStubClient(), solanafee.NewStubClient(),
		webhook.NewDispatcher(), false, 0, slog.Default())
}

// buildProposal mirrors what a client does before calling Propose: derive
// termsHash/agreementCode locally, pick a proposal id and expiry, then sign
// the same digest the server will re-derive.
func buildProposal(t *testing.T, partyA, partyB *crypto.Ed25519Signer, terms map[string]any) ocp.ProposeRequest {
	t.Helper()
	canonical := ocp.BuildCanonicalTerms(terms)
	termsHash, err := ocp.TermsHash(canonical)
	require.NoError(t, err)
	agreementCode := ocp.AgreementCode(termsHash)
	proposalID := uuid.NewString()
	expiresAt := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)

	digest := ocp.AgreementDigest(proposalID, termsHash, agreementCode, partyA.AgentID(), partyB.AgentID(), expiresAt.Format(time.RFC3339))
	sigA, err := partyA.Sign(digest)
	require.NoError(t, err)

	return ocp.ProposeRequest{
		ProposalID: proposalID,
		PartyAID:   partyA.AgentID(),
		PartyBID:   partyB.AgentID(),
		Terms:      terms,
		SignatureA: sigA,
		ExpiresAt:  expiresAt,
	}
}

func TestProposeThenAccept_SealsAgreement(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	partyA, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	partyB, err := crypto.NewEd25519Signer()
	require.NoError(t, err)

	terms := map[string]any{
		"item": "widgets",
		"obligations": []any{
			map[string]any{"actorAgentId": partyA.AgentID(), "action": "deliver"},
		},
	}
	req := buildProposal(t, partyA, partyB, terms)

	proposed, err := engine.Propose(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, contracts.AgreementPending, proposed.Status)
	assert.Len(t, proposed.AgreementCode, 10)

	digest := ocp.AgreementDigest(proposed.AgreementID, proposed.TermsHash, proposed.AgreementCode,
		proposed.PartyAID, proposed.PartyBID, proposed.ExpiresAt.UTC().Format(time.RFC3339))
	sigB, err := partyB.Sign(digest)
	require.NoError(t, err)

	sealed, err := engine.Accept(ctx, ocp.AcceptRequest{
		AgreementID: proposed.AgreementID,
		CallerID:    partyB.AgentID(),
		SignatureB:  sigB,
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.AgreementSealed, sealed.Status)
	assert.NotEmpty(t, sealed.MintTxSig)
	assert.NotEmpty(t, sealed.MintAssetID)
}

func TestPropose_RejectsInvalidSignature(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	partyA, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	partyB, err := crypto.NewEd25519Signer()
	require.NoError(t, err)

	req := buildProposal(t, partyA, partyB, map[string]any{"item": "widgets"})
	raw, err := base64.StdEncoding.DecodeString(req.SignatureA)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	req.SignatureA = base64.StdEncoding.EncodeToString(raw)

	_, err = engine.Propose(ctx, req)
	assert.ErrorIs(t, err, ocp.ErrSignatureInvalid)
}

func TestPropose_RejectsDuplicateActiveTerms(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	partyA, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	partyB, err := crypto.NewEd25519Signer()
	require.NoError(t, err)

	terms := map[string]any{"item": "widgets"}
	first := buildProposal(t, partyA, partyB, terms)
	_, err = engine.Propose(ctx, first)
	require.NoError(t, err)

	second := buildProposal(t, partyA, partyB, terms)
	_, err = engine.Propose(ctx, second)
	assert.ErrorIs(t, err, ocp.ErrDuplicateActive)
}

func TestAccept_RejectsWrongCaller(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	partyA, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	partyB, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	impostor, err := crypto.NewEd25519Signer()
	require.NoError(t, err)

	req := buildProposal(t, partyA, partyB, map[string]any{"item": "widgets"})
	proposed, err := engine.Propose(ctx, req)
	require.NoError(t, err)

	digest := ocp.AgreementDigest(proposed.AgreementID, proposed.TermsHash, proposed.AgreementCode,
		proposed.PartyAID, proposed.PartyBID, proposed.ExpiresAt.UTC().Format(time.RFC3339))
	sig, err := impostor.Sign(digest)
	require.NoError(t, err)

	_, err = engine.Accept(ctx, ocp.AcceptRequest{
		AgreementID: proposed.AgreementID,
		CallerID:    impostor.AgentID(),
		SignatureB:  sig,
	})
	assert.ErrorIs(t, err, ocp.ErrNotPartyB)
}
