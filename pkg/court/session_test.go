package court_test

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/court"
	"github.com/opencawt/court/pkg/drand"
	"github.com/opencawt/court/pkg/judge"
	"github.com/opencawt/court/pkg/store"
)

func newTestCaseRepo(t *testing.T) *store.CaseRepo {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "session_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewCaseRepo(db)
}

func newOpenCase(t *testing.T, cases *store.CaseRepo, caseID string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, cases.Create(context.Background(), &contracts.Case{
		CaseID:         caseID,
		FilingAgentID:  "agentA",
		CourtMode:      "jury",
		Stage:          contracts.StageEvidence,
		StageEnteredAt: now,
		StageDeadline:  now.Add(time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

func TestEngine_VoidCase_MarksTerminal(t *testing.T) {
	cases := newTestCaseRepo(t)
	engine := court.NewEngine(cases, nil, nil, nil, nil, nil, judge.NewStubClient(), slog.Default())
	ctx := context.Background()
	newOpenCase(t, cases, "case-void-1")

	require.NoError(t, engine.VoidCase(ctx, "case-void-1", contracts.VoidReasonWithdrawn, time.Now()))

	c, err := cases.Get(ctx, "case-void-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StageVoid, c.Stage)
	assert.Equal(t, contracts.VoidReasonWithdrawn, c.VoidReason)
	assert.True(t, c.Stage.Terminal())
}

func TestEngine_VoidCase_RejectsAlreadyTerminal(t *testing.T) {
	cases := newTestCaseRepo(t)
	engine := court.NewEngine(cases, nil, nil, nil, nil, nil, judge.NewStubClient(), slog.Default())
	ctx := context.Background()
	newOpenCase(t, cases, "case-void-2")

	require.NoError(t, engine.VoidCase(ctx, "case-void-2", contracts.VoidReasonWithdrawn, time.Now()))
	err := engine.VoidCase(ctx, "case-void-2", contracts.VoidReasonWithdrawn, time.Now())
	assert.Error(t, err, "voiding an already-terminal case must fail rather than silently re-void it")
}

func TestEngine_VoidCase_OnlyOneOfTwoConcurrentCallersWins(t *testing.T) {
	cases := newTestCaseRepo(t)
	engine := court.NewEngine(cases, nil, nil, nil, nil, nil, judge.NewStubClient(), slog.Default())
	ctx := context.Background()
	newOpenCase(t, cases, "case-void-3")

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- engine.VoidCase(ctx, "case-void-3", contracts.VoidReasonWithdrawn, time.Now())
		}()
	}
	first, second := <-results, <-results

	successes := 0
	for _, err := range []error{first, second} {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one of two concurrent voids on the same case may win")

	c, err := cases.Get(ctx, "case-void-3")
	require.NoError(t, err)
	assert.Equal(t, contracts.StageVoid, c.Stage)
}

// forceDue rewinds a case's stage_deadline into the past so the next Tick
// picks it up immediately, without changing its stage.
func forceDue(t *testing.T, cases *store.CaseRepo, caseID string) {
	t.Helper()
	c, err := cases.Get(context.Background(), caseID)
	require.NoError(t, err)
	expected := c.Version
	c.StageDeadline = time.Now().Add(-time.Minute)
	c.UpdatedAt = time.Now()
	require.NoError(t, cases.CompareAndAdvance(context.Background(), c, expected))
}

// TestEngine_Tick_HappyPathReachesOpeningAddress drives a case from
// preSession through jury readiness using the real tick loop and a
// real jury engine, asserting it reaches openingAddr rather than
// incorrectly voiding. This guards the preSession stage's defence-agent
// check and jury readiness's ready-gating, both of which previously
// skipped straight to a void.
func TestEngine_Tick_HappyPathReachesOpeningAddress(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "session_tick_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cases := store.NewCaseRepo(db)
	agents := store.NewAgentRepo(db)
	juryRepo := store.NewJuryRepo(db)
	juryEngine := court.NewJuryEngine(agents, juryRepo, drand.NewStubClient())
	engine := court.NewEngine(cases, nil, nil, juryEngine, nil, nil, judge.NewStubClient(), slog.Default())

	const panelSize = 11
	var jurorIDs []string
	now := time.Now()
	for i := 0; i < panelSize; i++ {
		id := fmt.Sprintf("juror-%02d", i)
		jurorIDs = append(jurorIDs, id)
		require.NoError(t, agents.Create(ctx, &contracts.Agent{
			AgentID:       id,
			Status:        contracts.AgentStatusActive,
			JurorEligible: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}))
	}

	caseID := "case-tick-1"
	require.NoError(t, cases.Create(ctx, &contracts.Case{
		CaseID:         caseID,
		FilingAgentID:  "agentF",
		DefenceAgentID: "agentD",
		CourtMode:      "jury",
		Stage:          contracts.StagePreSession,
		StageEnteredAt: now,
		StageDeadline:  now.Add(-time.Minute),
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	// Tick 1: preSession, defence already assigned -> advances to juryReadiness.
	require.NoError(t, engine.Tick(ctx))
	c, err := cases.Get(ctx, caseID)
	require.NoError(t, err)
	require.Equal(t, contracts.StageJuryReadiness, c.Stage, "a case with a defence agent must advance, not void")

	// Tick 2: juryReadiness, no panel yet -> seats the panel as pending_ready.
	forceDue(t, cases, caseID)
	require.NoError(t, engine.Tick(ctx))
	members, err := juryRepo.PanelMembers(ctx, caseID)
	require.NoError(t, err)
	require.Len(t, members, panelSize)
	for _, m := range members {
		assert.Equal(t, contracts.JurorStatusPendingReady, m.Status)
	}

	// Every juror confirms readiness.
	for _, id := range jurorIDs {
		require.NoError(t, juryRepo.MarkReady(ctx, caseID, id))
	}

	// Tick 3: juryReadiness, every seat ready -> promotes and advances.
	forceDue(t, cases, caseID)
	require.NoError(t, engine.Tick(ctx))
	c, err = cases.Get(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StageOpeningAddr, c.Stage, "a fully-ready panel must advance the case, not void it")

	members, err = juryRepo.PanelMembers(ctx, caseID)
	require.NoError(t, err)
	for _, m := range members {
		assert.Equal(t, contracts.JurorStatusActiveVoting, m.Status)
	}
}

// TestEngine_Tick_MissingDefenceVoids confirms the other half of the
// preSession fix: a case that never got a defence volunteer voids with
// missingDefence instead of advancing.
func TestEngine_Tick_MissingDefenceVoids(t *testing.T) {
	ctx := context.Background()
	cases := newTestCaseRepo(t)
	engine := court.NewEngine(cases, nil, nil, nil, nil, nil, judge.NewStubClient(), slog.Default())

	now := time.Now()
	caseID := "case-tick-nodefence"
	require.NoError(t, cases.Create(ctx, &contracts.Case{
		CaseID:         caseID,
		FilingAgentID:  "agentF",
		CourtMode:      "jury",
		Stage:          contracts.StagePreSession,
		StageEnteredAt: now,
		StageDeadline:  now.Add(-time.Minute),
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	require.NoError(t, engine.Tick(ctx))

	c, err := cases.Get(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StageVoid, c.Stage)
	assert.Equal(t, contracts.VoidReasonMissingDefence, c.VoidReason)
}
