package ocp_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/crypto"
	"github.com/opencawt/court/pkg/ocp"
	"github.com/opencawt/court/pkg/store"
)

func newDecisionEngine(t *testing.T) (*ocp.DecisionEngine, *store.AgreementRepo) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "decisions_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	agreements := store.NewAgreementRepo(db)
	decisions := store.NewDecisionRepo(db)
	return ocp.NewDecisionEngine(decisions, agreements), agreements
}

func TestDecision_SealsOnceThresholdReached(t *testing.T) {
	engine, agreements := newDecisionEngine(t)
	ctx := context.Background()

	signerA, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	signerB, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	signerC, err := crypto.NewEd25519Signer()
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, agreements.Create(ctx, &contracts.CanonicalAgreement{
		AgreementID: "agr-1", AgreementCode: "ABCDEFGHJK", PartyAID: signerA.AgentID(), PartyBID: signerB.AgentID(),
		Mode: contracts.AgreementModePrivate, Terms: map[string]any{}, TermsHash: "deadbeef",
		Status: contracts.AgreementAccepted, ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now,
	}))

	draft, err := engine.Draft(ctx, "agr-1", contracts.AttestationFulfilled, "payload-hash-1",
		[]string{signerA.AgentID(), signerB.AgentID(), signerC.AgentID()}, 2)
	require.NoError(t, err)

	digest := ocp.DecisionDigest(draft.PayloadHash)
	sigA, err := signerA.Sign(digest)
	require.NoError(t, err)

	_, err = engine.Seal(ctx, draft.DecisionID)
	require.Error(t, err) // not enough signatures yet

	_, err = engine.Sign(ctx, draft.DecisionID, signerA.AgentID(), sigA)
	require.NoError(t, err)

	_, err = engine.Seal(ctx, draft.DecisionID)
	require.Error(t, err) // still below threshold

	sigB, err := signerB.Sign(digest)
	require.NoError(t, err)
	updated, err := engine.Sign(ctx, draft.DecisionID, signerB.AgentID(), sigB)
	require.NoError(t, err)
	assert.Len(t, updated.Signatures, 2)

	attestation, err := engine.Seal(ctx, draft.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, contracts.AttestationFulfilled, attestation.Outcome)
	assert.Len(t, attestation.Signatures, 2)

	_, err = engine.Seal(ctx, draft.DecisionID)
	assert.ErrorIs(t, err, ocp.ErrDecisionSealed)
}

func TestDecision_RejectsSignerOutsideRequiredSet(t *testing.T) {
	engine, agreements := newDecisionEngine(t)
	ctx := context.Background()

	signerA, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	outsider, err := crypto.NewEd25519Signer()
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, agreements.Create(ctx, &contracts.CanonicalAgreement{
		AgreementID: "agr-2", AgreementCode: "ZZZZZZZZZZ", PartyAID: signerA.AgentID(), PartyBID: signerA.AgentID(),
		Mode: contracts.AgreementModePrivate, Terms: map[string]any{}, TermsHash: "cafef00d",
		Status: contracts.AgreementAccepted, ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now,
	}))

	draft, err := engine.Draft(ctx, "agr-2", contracts.AttestationBreached, "payload-hash-2", []string{signerA.AgentID()}, 1)
	require.NoError(t, err)

	digest := ocp.DecisionDigest(draft.PayloadHash)
	sig, err := outsider.Sign(digest)
	require.NoError(t, err)

	_, err = engine.Sign(ctx, draft.DecisionID, outsider.AgentID(), sig)
	assert.ErrorIs(t, err, ocp.ErrNotRequiredSigner)
}
