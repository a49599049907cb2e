package court_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/court"
)

func TestBallotHash_StableAndSensitiveToContent(t *testing.T) {
	votes := []contracts.ClaimVote{{ClaimID: "claim-1", Finding: contracts.FindingProven, Severity: 2}}
	principles := []contracts.Principle{"P1"}

	h1, err := court.BallotHash("case-1", "agentA", votes, contracts.BallotForFiling, "reasoning", principles)
	require.NoError(t, err)
	h2, err := court.BallotHash("case-1", "agentA", votes, contracts.BallotForFiling, "reasoning", principles)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := court.BallotHash("case-1", "agentA", votes, contracts.BallotForDefence, "reasoning", principles)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
