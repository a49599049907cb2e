package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opencawt/court/pkg/contracts"
)

// JuryRepo persists JurySelectionRun, JuryPanelMember, Ballot and
// VerdictTally records.
type JuryRepo struct{ db *sql.DB }

func NewJuryRepo(db *sql.DB) *JuryRepo { return &JuryRepo{db: db} }

func (r *JuryRepo) SaveSelectionRun(ctx context.Context, run *contracts.JurySelectionRun) error {
	candidates, err := json.Marshal(run.Candidates)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jury_selection_runs (run_id, case_id, randomness, randomness_round, pool_snapshot_hash, panel_size, candidates, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.CaseID, run.Randomness, run.RandomnessRound, run.PoolSnapshotHash, run.PanelSize, string(candidates), run.CreatedAt.UTC())
	return err
}

func (r *JuryRepo) LatestSelectionRun(ctx context.Context, caseID string) (*contracts.JurySelectionRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT run_id, case_id, randomness, randomness_round, pool_snapshot_hash, panel_size, candidates, created_at
		FROM jury_selection_runs WHERE case_id = ? ORDER BY created_at DESC LIMIT 1`, caseID)

	var run contracts.JurySelectionRun
	var candidatesJSON string
	var createdAt string
	if err := row.Scan(&run.RunID, &run.CaseID, &run.Randomness, &run.RandomnessRound, &run.PoolSnapshotHash,
		&run.PanelSize, &candidatesJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no selection run for case %s", caseID)
		}
		return nil, err
	}
	run.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(candidatesJSON), &run.Candidates); err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *JuryRepo) SeatPanelMember(ctx context.Context, m *contracts.JuryPanelMember) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jury_panel_members (case_id, agent_id, rank, status, seated_at, ready_deadline, voting_deadline, replacement_of, replaced_at, replaced_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(case_id, agent_id) DO UPDATE SET rank=excluded.rank, status=excluded.status, seated_at=excluded.seated_at,
			ready_deadline=excluded.ready_deadline, voting_deadline=excluded.voting_deadline, replacement_of=excluded.replacement_of`,
		m.CaseID, m.AgentID, m.Rank, m.Status, m.SeatedAt.UTC(), nullTime(m.ReadyDeadline), nullTime(m.VotingDeadline),
		nullString(m.ReplacementOfJurorID), nullTime(m.ReplacedAt), nullString(m.ReplacedBy))
	return err
}

func (r *JuryRepo) MarkReplaced(ctx context.Context, caseID, agentID, replacementAgentID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jury_panel_members SET status = ?, replaced_by = ? WHERE case_id = ? AND agent_id = ?`,
		contracts.JurorStatusReplaced, replacementAgentID, caseID, agentID)
	return err
}

// MarkTimedOut flags a panel seat whose readiness or voting deadline has
// passed, immediately ahead of JuryEngine.Replace seating its successor.
func (r *JuryRepo) MarkTimedOut(ctx context.Context, caseID, agentID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jury_panel_members SET status = ? WHERE case_id = ? AND agent_id = ?`,
		contracts.JurorStatusTimedOut, caseID, agentID)
	return err
}

// MarkReady promotes a pending_ready seat to ready; it only matches rows
// still pending, so a late juror-ready call after a seat has already timed
// out or been replaced is a no-op (zero rows affected, surfaced to the
// caller as sql.ErrNoRows).
func (r *JuryRepo) MarkReady(ctx context.Context, caseID, agentID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jury_panel_members SET status = ? WHERE case_id = ? AND agent_id = ? AND status = ?`,
		contracts.JurorStatusReady, caseID, agentID, contracts.JurorStatusPendingReady)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkVoted flips a seated juror to voted once their ballot is recorded, so
// the active-roster count used to gate verdict tallying excludes jurors who
// have already cast a ballot.
func (r *JuryRepo) MarkVoted(ctx context.Context, caseID, agentID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jury_panel_members SET status = ? WHERE case_id = ? AND agent_id = ? AND status = ?`,
		contracts.JurorStatusVoted, caseID, agentID, contracts.JurorStatusActiveVoting)
	return err
}

// PromoteReadyToActiveVoting advances every ready seat on a case to
// active_voting once the full panel has confirmed readiness, called right
// before the case advances out of jury_readiness.
func (r *JuryRepo) PromoteReadyToActiveVoting(ctx context.Context, caseID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jury_panel_members SET status = ? WHERE case_id = ? AND status = ?`,
		contracts.JurorStatusActiveVoting, caseID, contracts.JurorStatusReady)
	return err
}

// StartVotingWindow sets each active_voting seat's per-juror voting
// deadline once, on the first tick a case spends in the voting stage;
// later ticks are no-ops since the WHERE clause only matches unset
// deadlines.
func (r *JuryRepo) StartVotingWindow(ctx context.Context, caseID string, deadline time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jury_panel_members SET voting_deadline = ? WHERE case_id = ? AND status = ? AND voting_deadline IS NULL`,
		deadline.UTC(), caseID, contracts.JurorStatusActiveVoting)
	return err
}

func (r *JuryRepo) PanelMembers(ctx context.Context, caseID string) ([]*contracts.JuryPanelMember, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT case_id, agent_id, rank, status, seated_at, ready_deadline, voting_deadline, replacement_of, replaced_at, replaced_by
		FROM jury_panel_members WHERE case_id = ? ORDER BY rank ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*contracts.JuryPanelMember
	for rows.Next() {
		var m contracts.JuryPanelMember
		var seatedAt string
		var readyDeadline, votingDeadline, replacementOf, replacedAt, replacedBy sql.NullString
		if err := rows.Scan(&m.CaseID, &m.AgentID, &m.Rank, &m.Status, &seatedAt, &readyDeadline, &votingDeadline, &replacementOf, &replacedAt, &replacedBy); err != nil {
			return nil, err
		}
		m.SeatedAt = parseTime(seatedAt)
		m.ReadyDeadline = nullableTime(readyDeadline.Valid, readyDeadline.String)
		m.VotingDeadline = nullableTime(votingDeadline.Valid, votingDeadline.String)
		m.ReplacementOfJurorID = replacementOf.String
		m.ReplacedAt = nullableTime(replacedAt.Valid, replacedAt.String)
		m.ReplacedBy = replacedBy.String
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *JuryRepo) SubmitBallot(ctx context.Context, b *contracts.Ballot) error {
	claimVotes, err := json.Marshal(b.ClaimVotes)
	if err != nil {
		return err
	}
	principles, err := json.Marshal(b.PrinciplesReliedOn)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ballots (case_id, agent_id, claim_votes, verdict, reasoning_summary, principles_relied_on, ballot_hash, signature, cast_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.CaseID, b.AgentID, string(claimVotes), b.Verdict, b.ReasoningSummary, string(principles), b.BallotHash, b.Signature, b.CastAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrBallotAlreadySubmitted
		}
		return fmt.Errorf("insert ballot: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

func (r *JuryRepo) BallotsByCase(ctx context.Context, caseID string) ([]*contracts.Ballot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT case_id, agent_id, claim_votes, verdict, reasoning_summary, principles_relied_on, ballot_hash, signature, cast_at
		FROM ballots WHERE case_id = ?`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*contracts.Ballot
	for rows.Next() {
		var b contracts.Ballot
		var claimVotesJSON, principlesJSON string
		var castAt string
		if err := rows.Scan(&b.CaseID, &b.AgentID, &claimVotesJSON, &b.Verdict, &b.ReasoningSummary, &principlesJSON, &b.BallotHash, &b.Signature, &castAt); err != nil {
			return nil, err
		}
		b.CastAt = parseTime(castAt)
		if err := json.Unmarshal([]byte(claimVotesJSON), &b.ClaimVotes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(principlesJSON), &b.PrinciplesReliedOn); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (r *JuryRepo) SaveVerdictTally(ctx context.Context, v *contracts.VerdictTally) error {
	claimOutcomes, err := json.Marshal(v.ClaimOutcomes)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO verdict_tallies (case_id, claim_outcomes, outcome, verdict_hash, tallied_at)
		VALUES (?, ?, ?, ?, ?)`,
		v.CaseID, string(claimOutcomes), v.Outcome, v.VerdictHash, v.TalliedAt.UTC())
	return err
}

func (r *JuryRepo) VerdictTally(ctx context.Context, caseID string) (*contracts.VerdictTally, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT case_id, claim_outcomes, outcome, verdict_hash, tallied_at
		FROM verdict_tallies WHERE case_id = ?`, caseID)

	var v contracts.VerdictTally
	var claimOutcomesJSON, talliedAt string
	if err := row.Scan(&v.CaseID, &claimOutcomesJSON, &v.Outcome, &v.VerdictHash, &talliedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no verdict tally for case %s", caseID)
		}
		return nil, err
	}
	v.TalliedAt = parseTime(talliedAt)
	if err := json.Unmarshal([]byte(claimOutcomesJSON), &v.ClaimOutcomes); err != nil {
		return nil, err
	}
	return &v, nil
}

// ErrBallotAlreadySubmitted is returned when a juror casts a
// second ballot on the same case; the primary key conflict on
// (case_id, agent_id) is the enforcement point.
var ErrBallotAlreadySubmitted = fmt.Errorf("ballot already submitted")
