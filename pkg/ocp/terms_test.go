package ocp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencawt/court/pkg/ocp"
)

func TestBuildCanonicalTerms_WhitespaceAndNulls(t *testing.T) {
	raw := map[string]any{
		"description": "  pay   upon   delivery  ",
		"dropped":     nil,
		"amount":      100,
	}
	out := ocp.BuildCanonicalTerms(raw)

	assert.Equal(t, "pay upon delivery", out["description"])
	assert.NotContains(t, out, "dropped")
	assert.Equal(t, 100, out["amount"])
}

func TestBuildCanonicalTerms_SortsObligationsByActorAndAction(t *testing.T) {
	raw := map[string]any{
		"obligations": []any{
			map[string]any{"actorAgentId": "bob", "action": "deliver"},
			map[string]any{"actorAgentId": "alice", "action": "pay"},
			map[string]any{"actorAgentId": "alice", "action": "approve"},
		},
	}
	out := ocp.BuildCanonicalTerms(raw)
	obligations := out["obligations"].([]any)
	require.Len(t, obligations, 3)

	first := obligations[0].(map[string]any)
	second := obligations[1].(map[string]any)
	third := obligations[2].(map[string]any)
	assert.Equal(t, "alice", first["actorAgentId"])
	assert.Equal(t, "approve", first["action"])
	assert.Equal(t, "alice", second["actorAgentId"])
	assert.Equal(t, "pay", second["action"])
	assert.Equal(t, "bob", third["actorAgentId"])
}

func TestTermsHash_DeterministicAcrossKeyOrder(t *testing.T) {
	a := ocp.BuildCanonicalTerms(map[string]any{"b": 2, "a": 1})
	b := ocp.BuildCanonicalTerms(map[string]any{"a": 1, "b": 2})

	hashA, err := ocp.TermsHash(a)
	require.NoError(t, err)
	hashB, err := ocp.TermsHash(b)
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)
}

func TestAgreementCode_StableAndTenChars(t *testing.T) {
	terms := ocp.BuildCanonicalTerms(map[string]any{"item": "widgets", "qty": 5})
	hash, err := ocp.TermsHash(terms)
	require.NoError(t, err)

	code1 := ocp.AgreementCode(hash)
	code2 := ocp.AgreementCode(hash)
	assert.Equal(t, code1, code2)
	assert.Len(t, code1, 10)
}
