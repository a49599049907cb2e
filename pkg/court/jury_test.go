package court_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencawt/court/pkg/court"
)

func TestBuildSelectionRun_Deterministic(t *testing.T) {
	pool := []string{"agentC", "agentA", "agentB", "agentD"}

	first, err := court.BuildSelectionRun("case-1", pool, "deadbeef", 42, 3)
	require.NoError(t, err)
	second, err := court.BuildSelectionRun("case-1", pool, "deadbeef", 42, 3)
	require.NoError(t, err)

	require.Len(t, first.Candidates, len(pool))
	require.Len(t, second.Candidates, len(pool))
	for i := range first.Candidates {
		assert.Equal(t, first.Candidates[i].AgentID, second.Candidates[i].AgentID)
		assert.Equal(t, first.Candidates[i].ScoreHash, second.Candidates[i].ScoreHash)
		assert.Equal(t, first.Candidates[i].Rank, i)
	}
	assert.Equal(t, first.PoolSnapshotHash, second.PoolSnapshotHash)
}

func TestBuildSelectionRun_DifferentRandomnessReordersPanel(t *testing.T) {
	pool := []string{"agentA", "agentB", "agentC", "agentD", "agentE"}

	a, err := court.BuildSelectionRun("case-1", pool, "round-a-randomness", 1, 3)
	require.NoError(t, err)
	b, err := court.BuildSelectionRun("case-1", pool, "round-b-randomness", 2, 3)
	require.NoError(t, err)

	assert.Equal(t, a.PoolSnapshotHash, b.PoolSnapshotHash, "pool snapshot hash depends only on the pool, not the randomness")
	differs := false
	for i := range a.Candidates {
		if a.Candidates[i].AgentID != b.Candidates[i].AgentID {
			differs = true
			break
		}
	}
	assert.True(t, differs, "different drand randomness should reorder the panel")
}

func TestReplacementFrom_SkipsIneligibleInRankOrder(t *testing.T) {
	run, err := court.BuildSelectionRun("case-1", []string{"a", "b", "c", "d"}, "r", 1, 2)
	require.NoError(t, err)

	ineligible := map[string]bool{}
	for _, c := range run.Candidates[:2] {
		ineligible[c.AgentID] = true
	}

	replacement, ok := court.ReplacementFrom(run, ineligible)
	require.True(t, ok)
	assert.Equal(t, run.Candidates[2].AgentID, replacement)
}

func TestReplacementFrom_ExhaustedPoolReturnsFalse(t *testing.T) {
	run, err := court.BuildSelectionRun("case-1", []string{"a", "b"}, "r", 1, 2)
	require.NoError(t, err)

	ineligible := map[string]bool{"a": true, "b": true}
	_, ok := court.ReplacementFrom(run, ineligible)
	assert.False(t, ok)
}
