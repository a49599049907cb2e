package court

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/judge"
	"github.com/opencawt/court/pkg/store"
)

const (
	maxScreeningAttempts = 3
	panelSize            = 11
	maxJuryWindows       = 3
	juryReadyWindow      = time.Hour
	jurorVotingWindow    = 24 * time.Hour
)

// Engine is the session tick loop: each tick scans all non-terminal cases
// and evaluates their stage gate, mirroring the teacher's escalation
// manager's CheckTimeouts scan-and-transition shape but driven from
// durable storage instead of an in-memory intent map, since case stage
// transitions must survive a process restart.
type Engine struct {
	cases       *store.CaseRepo
	submissions *store.SubmissionRepo
	transcript  *store.TranscriptRepo
	jury        *JuryEngine
	verdict     *VerdictEngine
	seal        *SealWorker
	judge       judge.Client
	clock       func() time.Time
	log         *slog.Logger
}

func NewEngine(cases *store.CaseRepo, submissions *store.SubmissionRepo, transcript *store.TranscriptRepo,
	jury *JuryEngine, verdict *VerdictEngine, seal *SealWorker, j judge.Client, log *slog.Logger) *Engine {
	return &Engine{
		cases: cases, submissions: submissions, transcript: transcript,
		jury: jury, verdict: verdict, seal: seal, judge: j,
		clock: time.Now, log: log,
	}
}

// Tick evaluates every non-terminal case whose stage_deadline has passed
// and advances, replaces jurors, or voids it.
func (e *Engine) Tick(ctx context.Context) error {
	due, err := e.cases.DueForTick(ctx)
	if err != nil {
		return fmt.Errorf("session: scan due cases: %w", err)
	}
	for _, c := range due {
		if err := e.evaluate(ctx, c); err != nil {
			e.log.Error("session: evaluate case failed", "case_id", c.CaseID, "error", err)
		}
	}
	return nil
}

func (e *Engine) evaluate(ctx context.Context, c *contracts.Case) error {
	now := e.clock()
	switch c.Stage {
	case contracts.StageJudgeScreening:
		return e.evaluateScreening(ctx, c, now)
	case contracts.StagePreSession:
		if c.DefenceAgentID == "" {
			return e.voidCase(ctx, c, contracts.VoidReasonMissingDefence, now)
		}
		return e.advance(ctx, c, contracts.StageJuryReadiness, now)
	case contracts.StageJuryReadiness:
		return e.evaluateJuryReadiness(ctx, c, now)
	case contracts.StageOpeningAddr, contracts.StageEvidence, contracts.StageClosingAddr, contracts.StageSummingUp:
		return e.evaluateSubmissionStage(ctx, c, now)
	case contracts.StageVoting:
		return e.evaluateVoting(ctx, c, now)
	}
	return nil
}

func (e *Engine) evaluateScreening(ctx context.Context, c *contracts.Case, now time.Time) error {
	result := e.judge.Screen(ctx, judge.ScreeningRequest{CaseID: c.CaseID, ClaimSummary: c.ClaimSummary})
	if !result.OK {
		attempts, err := e.cases.IncrementScreeningAttempt(ctx, c.CaseID)
		if err != nil {
			return fmt.Errorf("session: record screening attempt: %w", err)
		}
		if attempts >= maxScreeningAttempts {
			c.ScreeningAttempts = attempts
			return e.voidCase(ctx, c, contracts.VoidReasonScreeningFailed, now)
		}
		return nil // retried on the next tick, fixed-interval
	}
	if !result.Data.Accept {
		return e.voidCase(ctx, c, contracts.VoidReasonScreeningRejected, now)
	}
	return e.advance(ctx, c, contracts.StagePreSession, now)
}

// evaluateJuryReadiness gates the jury_readiness stage on every seated
// candidate actually confirming readiness (via the juror-ready endpoint)
// within its window. A seat that misses its ready deadline is replaced per
// the juror replacement protocol; once every remaining seat is ready the
// panel is promoted to active_voting and the case advances. A seat that
// exhausts its replacement cap, or a panel that exhausts maxJuryWindows
// without every seat going ready, voids the case.
func (e *Engine) evaluateJuryReadiness(ctx context.Context, c *contracts.Case, now time.Time) error {
	members, err := e.jury.jury.PanelMembers(ctx, c.CaseID)
	if err != nil {
		return fmt.Errorf("session: panel members: %w", err)
	}

	if len(members) == 0 {
		run, err := e.jury.Select(ctx, c.CaseID, []string{c.FilingAgentID, c.DefenceAgentID}, panelSize)
		if err != nil {
			return fmt.Errorf("session: jury selection: %w", err)
		}
		if err := e.jury.SeatPanel(ctx, run, now, now.Add(juryReadyWindow)); err != nil {
			return fmt.Errorf("session: seat panel: %w", err)
		}
		c.DrandRound = run.RandomnessRound
		c.DrandRandomness = run.Randomness
		c.PoolSnapshotHash = run.PoolSnapshotHash
		c.JuryReadinessWindows = 1
		return e.extendDeadline(ctx, c, now.Add(juryReadyWindow), now)
	}

	for _, m := range members {
		if m.Status != contracts.JurorStatusPendingReady {
			continue
		}
		if m.ReadyDeadline == nil || now.Before(*m.ReadyDeadline) {
			continue
		}
		if err := e.jury.jury.MarkTimedOut(ctx, c.CaseID, m.AgentID); err != nil {
			return fmt.Errorf("session: mark juror timed out: %w", err)
		}
		depth := replacementDepth(members, m.AgentID)
		_, ok, err := e.jury.Replace(ctx, c.CaseID, m.AgentID, panelSize, depth,
			contracts.JurorStatusPendingReady, now.Add(juryReadyWindow), now)
		if err != nil {
			return fmt.Errorf("session: replace unready juror: %w", err)
		}
		if !ok {
			return e.voidCase(ctx, c, contracts.VoidReasonJuryReadinessTimeout, now)
		}
	}

	activeSeats, readySeats := 0, 0
	for _, m := range members {
		switch m.Status {
		case contracts.JurorStatusPendingReady, contracts.JurorStatusReady:
			activeSeats++
			if m.Status == contracts.JurorStatusReady {
				readySeats++
			}
		}
	}
	if activeSeats > 0 && readySeats == activeSeats {
		if err := e.jury.jury.PromoteReadyToActiveVoting(ctx, c.CaseID); err != nil {
			return fmt.Errorf("session: promote ready jurors: %w", err)
		}
		return e.advance(ctx, c, contracts.StageOpeningAddr, now)
	}

	if c.JuryReadinessWindows >= maxJuryWindows {
		return e.voidCase(ctx, c, contracts.VoidReasonJuryReadinessTimeout, now)
	}
	c.JuryReadinessWindows++
	return e.extendDeadline(ctx, c, now.Add(juryReadyWindow), now)
}

func (e *Engine) evaluateSubmissionStage(ctx context.Context, c *contracts.Case, now time.Time) error {
	kind := submissionKindForStage(c.Stage)
	subs, err := e.submissions.ListByCase(ctx, c.CaseID)
	if err != nil {
		return fmt.Errorf("session: list submissions: %w", err)
	}

	var filingSubmitted, defenceSubmitted bool
	for _, s := range subs {
		if s.Stage != c.Stage || s.Kind != kind {
			continue
		}
		if s.AgentID == c.FilingAgentID {
			filingSubmitted = true
		}
		if s.AgentID == c.DefenceAgentID {
			defenceSubmitted = true
		}
	}
	if !filingSubmitted || !defenceSubmitted {
		return e.voidCase(ctx, c, voidReasonForStage(c.Stage), now)
	}
	return e.advance(ctx, c, nextStage(c.Stage), now)
}

// evaluateVoting starts each active juror's personal voting window on first
// entry, replaces any seat that defaults past its own voting deadline, and
// otherwise defers to closeCasePipeline to decide whether enough ballots
// are in (or the stage's hard deadline has passed) to tally a verdict.
func (e *Engine) evaluateVoting(ctx context.Context, c *contracts.Case, now time.Time) error {
	if err := e.jury.jury.StartVotingWindow(ctx, c.CaseID, now.Add(jurorVotingWindow)); err != nil {
		return fmt.Errorf("session: start voting window: %w", err)
	}
	members, err := e.jury.jury.PanelMembers(ctx, c.CaseID)
	if err != nil {
		return fmt.Errorf("session: panel members: %w", err)
	}
	ballots, err := e.jury.jury.BallotsByCase(ctx, c.CaseID)
	if err != nil {
		return fmt.Errorf("session: ballots: %w", err)
	}
	voted := make(map[string]bool, len(ballots))
	for _, b := range ballots {
		voted[b.AgentID] = true
	}

	for _, m := range members {
		if m.Status != contracts.JurorStatusActiveVoting || voted[m.AgentID] {
			continue
		}
		if m.VotingDeadline == nil || now.Before(*m.VotingDeadline) {
			continue
		}
		if err := e.jury.jury.MarkTimedOut(ctx, c.CaseID, m.AgentID); err != nil {
			return fmt.Errorf("session: mark juror timed out: %w", err)
		}
		depth := replacementDepth(members, m.AgentID)
		_, ok, err := e.jury.Replace(ctx, c.CaseID, m.AgentID, panelSize, depth,
			contracts.JurorStatusActiveVoting, now.Add(jurorVotingWindow), now)
		if err != nil {
			return fmt.Errorf("session: replace defaulting juror: %w", err)
		}
		if !ok {
			return e.voidCase(ctx, c, contracts.VoidReasonVotingTimeout, now)
		}
	}

	return e.closeCasePipeline(ctx, c, now)
}

// closeCasePipeline computes the verdict and hands off to the seal worker.
// Reentrancy is prevented by the case's CAS version: a concurrent tick that
// loses the race on CompareAndAdvance simply no-ops.
func (e *Engine) closeCasePipeline(ctx context.Context, c *contracts.Case, now time.Time) error {
	members, err := e.jury.jury.PanelMembers(ctx, c.CaseID)
	if err != nil {
		return fmt.Errorf("session: panel members: %w", err)
	}
	ballots, err := e.jury.jury.BallotsByCase(ctx, c.CaseID)
	if err != nil {
		return fmt.Errorf("session: ballots: %w", err)
	}
	activeRoster := 0
	for _, m := range members {
		if m.Status == contracts.JurorStatusActiveVoting || m.Status == contracts.JurorStatusVoted {
			activeRoster++
		}
	}
	if len(ballots) < activeRoster && now.Before(c.StageDeadline) {
		return nil
	}

	claimIDs := claimIDsFromBallots(ballots)
	tally, _, err := e.verdict.Compute(ctx, c, claimIDs, ballots, nil, nil, now)
	if err != nil {
		return fmt.Errorf("session: compute verdict: %w", err)
	}
	allInsufficient := true
	for _, o := range tally.ClaimOutcomes {
		if o.Finding != contracts.FindingInsufficient {
			allInsufficient = false
			break
		}
	}
	if tally.Outcome == contracts.OutcomeInconclusive && allInsufficient {
		return e.voidCase(ctx, c, contracts.VoidReasonInconclusiveVerdict, now)
	}
	if err := e.jury.jury.SaveVerdictTally(ctx, tally); err != nil {
		return fmt.Errorf("session: save verdict: %w", err)
	}

	if err := e.advance(ctx, c, contracts.StageClosed, now); err != nil {
		return err
	}
	return e.seal.Enqueue(ctx, c.CaseID, tally.VerdictHash, now)
}

func (e *Engine) advance(ctx context.Context, c *contracts.Case, to contracts.CaseStage, now time.Time) error {
	expected := c.Version
	c.Stage = to
	c.StageEnteredAt = now
	c.StageDeadline = now.Add(stageWindow(to))
	c.UpdatedAt = now
	if err := e.cases.CompareAndAdvance(ctx, c, expected); err != nil {
		return fmt.Errorf("session: advance case %s to %s: %w", c.CaseID, to, err)
	}
	return nil
}

// extendDeadline persists a new stage_deadline without changing stage,
// for a stage (like jury_readiness) that re-evaluates itself across
// multiple windows before advancing or voiding.
func (e *Engine) extendDeadline(ctx context.Context, c *contracts.Case, deadline, now time.Time) error {
	expected := c.Version
	c.StageDeadline = deadline
	c.UpdatedAt = now
	if err := e.cases.CompareAndAdvance(ctx, c, expected); err != nil {
		return fmt.Errorf("session: extend deadline for case %s: %w", c.CaseID, err)
	}
	return nil
}

func (e *Engine) voidCase(ctx context.Context, c *contracts.Case, reason contracts.VoidReason, now time.Time) error {
	expected := c.Version
	c.Stage = contracts.StageVoid
	c.VoidReason = reason
	c.UpdatedAt = now
	if err := e.cases.CompareAndAdvance(ctx, c, expected); err != nil {
		return fmt.Errorf("session: void case %s: %w", c.CaseID, err)
	}
	return nil
}

// VoidCase force-voids a case outside the tick loop, for an operator
// shutting one down (e.g. for abuse or an off-platform settlement). Subject
// to the same compare-and-swap as every other stage transition, so it
// loses cleanly to a concurrent tick that already moved the case on.
func (e *Engine) VoidCase(ctx context.Context, caseID string, reason contracts.VoidReason, now time.Time) error {
	c, err := e.cases.Get(ctx, caseID)
	if err != nil {
		return err
	}
	if c.Stage.Terminal() {
		return fmt.Errorf("session: case %s already terminal", caseID)
	}
	return e.voidCase(ctx, c, reason, now)
}

// SubmissionKindForStage reports the submission kind a case's current stage
// expects, for handlers accepting stage-scoped filings from outside the
// session tick loop.
func SubmissionKindForStage(stage contracts.CaseStage) contracts.SubmissionKind {
	return submissionKindForStage(stage)
}

func submissionKindForStage(stage contracts.CaseStage) contracts.SubmissionKind {
	switch stage {
	case contracts.StageOpeningAddr:
		return contracts.SubmissionOpeningAddress
	case contracts.StageClosingAddr:
		return contracts.SubmissionClosingAddress
	case contracts.StageEvidence:
		return contracts.SubmissionEvidence
	default:
		return contracts.SubmissionEvidence
	}
}

func voidReasonForStage(stage contracts.CaseStage) contracts.VoidReason {
	switch stage {
	case contracts.StageOpeningAddr:
		return contracts.VoidReasonMissingOpening
	case contracts.StageEvidence:
		return contracts.VoidReasonMissingEvidence
	case contracts.StageClosingAddr:
		return contracts.VoidReasonMissingClosing
	case contracts.StageSummingUp:
		return contracts.VoidReasonMissingSumming
	default:
		return contracts.VoidReasonTimeout
	}
}

func nextStage(stage contracts.CaseStage) contracts.CaseStage {
	switch stage {
	case contracts.StageOpeningAddr:
		return contracts.StageEvidence
	case contracts.StageEvidence:
		return contracts.StageClosingAddr
	case contracts.StageClosingAddr:
		return contracts.StageSummingUp
	case contracts.StageSummingUp:
		return contracts.StageVoting
	default:
		return stage
	}
}

func stageWindow(stage contracts.CaseStage) time.Duration {
	switch stage {
	case contracts.StagePreSession:
		return 24 * time.Hour
	case contracts.StageJuryReadiness:
		return juryReadyWindow
	case contracts.StageVoting:
		return 48 * time.Hour
	default:
		return 6 * time.Hour
	}
}

func claimIDsFromBallots(ballots []*contracts.Ballot) []string {
	seen := map[string]bool{}
	var out []string
	for _, b := range ballots {
		for _, v := range b.ClaimVotes {
			if !seen[v.ClaimID] {
				seen[v.ClaimID] = true
				out = append(out, v.ClaimID)
			}
		}
	}
	return out
}
