package court_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/court"
	"github.com/opencawt/court/pkg/judge"
)

func vote(claimID string, finding contracts.ClaimFinding) contracts.ClaimVote {
	return contracts.ClaimVote{ClaimID: claimID, Finding: finding, Severity: 1}
}

func TestTallyClaim_StrictMajority(t *testing.T) {
	outcome, needsTiebreak := court.TallyClaim("claim-1", []contracts.ClaimVote{
		vote("claim-1", contracts.FindingProven),
		vote("claim-1", contracts.FindingProven),
		vote("claim-1", contracts.FindingNotProven),
	})
	assert.False(t, needsTiebreak)
	assert.Equal(t, contracts.FindingProven, outcome.Finding)
	assert.Equal(t, 2, outcome.Proven)
	assert.Equal(t, 1, outcome.NotProven)
}

func TestTallyClaim_TieNeedsTiebreak(t *testing.T) {
	outcome, needsTiebreak := court.TallyClaim("claim-1", []contracts.ClaimVote{
		vote("claim-1", contracts.FindingProven),
		vote("claim-1", contracts.FindingNotProven),
	})
	assert.True(t, needsTiebreak)
	assert.Equal(t, contracts.FindingInsufficient, outcome.Finding)
}

func TestTallyClaim_AllInsufficient(t *testing.T) {
	outcome, needsTiebreak := court.TallyClaim("claim-1", []contracts.ClaimVote{
		vote("claim-1", contracts.FindingInsufficient),
		vote("claim-1", contracts.FindingInsufficient),
	})
	assert.False(t, needsTiebreak)
	assert.Equal(t, contracts.FindingInsufficient, outcome.Finding)
}

// stubJudge always answers a tiebreak in favor of "proven", so jury-mode
// cases (which never call it) can be distinguished from judge-mode cases
// (which do) in TestCompute_JudgeModeResolvesTie.
type stubJudge struct {
	judge.StubClient
	tiebreakCalled bool
}

func (s *stubJudge) Tiebreak(ctx context.Context, req judge.TiebreakRequest) judge.Outcome[judge.TiebreakResult] {
	s.tiebreakCalled = true
	return judge.Outcome[judge.TiebreakResult]{OK: true, Data: judge.TiebreakResult{Finding: "proven"}}
}

func TestCompute_VerdictHashIsStableAcrossRuns(t *testing.T) {
	c := &contracts.Case{
		CaseID:        "case-1",
		FilingAgentID: "agentA",
		DefenceAgentID: "agentB",
		CourtMode:     "jury",
	}
	ballots := []*contracts.Ballot{
		{AgentID: "j1", ClaimVotes: []contracts.ClaimVote{vote("claim-1", contracts.FindingProven)}},
		{AgentID: "j2", ClaimVotes: []contracts.ClaimVote{vote("claim-1", contracts.FindingProven)}},
		{AgentID: "j3", ClaimVotes: []contracts.ClaimVote{vote("claim-1", contracts.FindingNotProven)}},
	}
	engine := court.NewVerdictEngine(nil, judge.NewStubClient())
	closedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tally1, _, err := engine.Compute(context.Background(), c, []string{"claim-1"}, ballots, nil, nil, closedAt)
	require.NoError(t, err)
	tally2, _, err := engine.Compute(context.Background(), c, []string{"claim-1"}, ballots, nil, nil, closedAt)
	require.NoError(t, err)

	assert.Equal(t, tally1.VerdictHash, tally2.VerdictHash)
	assert.Equal(t, contracts.OutcomeForProsecution, tally1.Outcome)
}

func TestCompute_JudgeModeResolvesTie(t *testing.T) {
	c := &contracts.Case{CaseID: "case-1", FilingAgentID: "a", DefenceAgentID: "b", CourtMode: "judge"}
	ballots := []*contracts.Ballot{
		{AgentID: "j1", ClaimVotes: []contracts.ClaimVote{vote("claim-1", contracts.FindingProven)}},
		{AgentID: "j2", ClaimVotes: []contracts.ClaimVote{vote("claim-1", contracts.FindingNotProven)}},
	}
	sj := &stubJudge{}
	engine := court.NewVerdictEngine(nil, sj)

	tally, _, err := engine.Compute(context.Background(), c, []string{"claim-1"}, ballots, nil, nil, time.Now())
	require.NoError(t, err)
	assert.True(t, sj.tiebreakCalled)
	assert.Equal(t, contracts.FindingProven, tally.ClaimOutcomes[0].Finding)
	assert.True(t, tally.ClaimOutcomes[0].JudgeTiebreak)
}
