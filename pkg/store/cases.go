package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opencawt/court/pkg/contracts"
)

// CaseRepo persists Case, Submission and TranscriptEvent records.
type CaseRepo struct {
	db *sql.DB
}

func NewCaseRepo(db *sql.DB) *CaseRepo { return &CaseRepo{db: db} }

func (r *CaseRepo) Create(ctx context.Context, c *contracts.Case) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cases (case_id, filing_agent_id, defence_agent_id, claim_summary, court_mode, stage,
			stage_entered_at, stage_deadline, created_at, updated_at, screening_attempts, jury_readiness_windows, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CaseID, c.FilingAgentID, nullString(c.DefenceAgentID), c.ClaimSummary, c.CourtMode, c.Stage,
		c.StageEnteredAt.UTC(), c.StageDeadline.UTC(), c.CreatedAt.UTC(), c.UpdatedAt.UTC(), c.ScreeningAttempts, c.JuryReadinessWindows, c.Version)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (r *CaseRepo) Get(ctx context.Context, caseID string) (*contracts.Case, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT case_id, filing_agent_id, defence_agent_id, claim_summary, court_mode, stage, void_reason,
			stage_entered_at, stage_deadline, drand_round, drand_randomness, pool_snapshot_hash,
			selection_proof, created_at, updated_at, seal_job_id, screening_attempts, jury_readiness_windows, version
		FROM cases WHERE case_id = ?`, caseID)
	return scanCase(row)
}

// CompareAndAdvance applies a compare-and-swap transition on the case's
// version and stage: the session engine reads a case, decides a transition,
// and writes it back only if no concurrent writer advanced the version
// first. Returns sql.ErrNoRows if the CAS lost the race.
func (r *CaseRepo) CompareAndAdvance(ctx context.Context, c *contracts.Case, expectedVersion int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cases SET stage = ?, void_reason = ?, stage_entered_at = ?, stage_deadline = ?,
			drand_round = ?, drand_randomness = ?, pool_snapshot_hash = ?, selection_proof = ?,
			updated_at = ?, seal_job_id = ?, screening_attempts = ?, jury_readiness_windows = ?, version = version + 1
		WHERE case_id = ? AND version = ?`,
		c.Stage, nullString(string(c.VoidReason)), c.StageEnteredAt.UTC(), c.StageDeadline.UTC(),
		nullInt64(c.DrandRound), nullString(c.DrandRandomness), nullString(c.PoolSnapshotHash), nullString(c.SelectionProof),
		c.UpdatedAt.UTC(), nullString(c.SealJobID), c.ScreeningAttempts, c.JuryReadinessWindows, c.CaseID, expectedVersion)
	if err != nil {
		return fmt.Errorf("advance case: %w", err)
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

// AssignDefence claim-once assigns a defending agent to a case: it only
// succeeds while defence_agent_id is still unset, so two concurrent
// volunteer-defence calls can never both win.
func (r *CaseRepo) AssignDefence(ctx context.Context, caseID, agentID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cases SET defence_agent_id = ?, updated_at = ?, version = version + 1
		WHERE case_id = ? AND defence_agent_id IS NULL`,
		agentID, now.UTC(), caseID)
	if err != nil {
		return fmt.Errorf("assign defence: %w", err)
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

// FileCase fills in a drafted case's claim and pulls its stage deadline to
// now so the next session tick screens it immediately. Guarded on the case
// still being an empty draft so a case can only be filed once.
func (r *CaseRepo) FileCase(ctx context.Context, caseID, claimSummary, courtMode string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cases SET claim_summary = ?, court_mode = ?, stage_deadline = ?, updated_at = ?, version = version + 1
		WHERE case_id = ? AND stage = ? AND claim_summary = ''`,
		claimSummary, courtMode, now.UTC(), now.UTC(), caseID, contracts.StageJudgeScreening)
	if err != nil {
		return fmt.Errorf("file case: %w", err)
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

// IncrementScreeningAttempt records one failed/pending judge screening call
// without otherwise touching the case's stage or CAS version, so
// concurrent screening retries don't contend with stage transitions.
func (r *CaseRepo) IncrementScreeningAttempt(ctx context.Context, caseID string) (int, error) {
	_, err := r.db.ExecContext(ctx, `UPDATE cases SET screening_attempts = screening_attempts + 1 WHERE case_id = ?`, caseID)
	if err != nil {
		return 0, fmt.Errorf("increment screening attempt: %w", err)
	}
	var attempts int
	row := r.db.QueryRowContext(ctx, `SELECT screening_attempts FROM cases WHERE case_id = ?`, caseID)
	if err := row.Scan(&attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

// DueForTick returns cases whose stage_deadline has passed and which have
// not reached a terminal stage, for the session engine's tick loop.
func (r *CaseRepo) DueForTick(ctx context.Context) ([]*contracts.Case, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT case_id, filing_agent_id, defence_agent_id, claim_summary, court_mode, stage, void_reason,
			stage_entered_at, stage_deadline, drand_round, drand_randomness, pool_snapshot_hash,
			selection_proof, created_at, updated_at, seal_job_id, screening_attempts, jury_readiness_windows, version
		FROM cases
		WHERE stage NOT IN (?, ?, ?) AND stage_deadline <= CURRENT_TIMESTAMP`,
		contracts.StageClosed, contracts.StageSealed, contracts.StageVoid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*contracts.Case
	for rows.Next() {
		c, err := scanCaseRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCase(row *sql.Row) (*contracts.Case, error) {
	var c contracts.Case
	var defenceAgentID, voidReason, drandRandomness, poolSnapshotHash, selectionProof, sealJobID sql.NullString
	var drandRound sql.NullInt64
	var stageEnteredAt, stageDeadline, createdAt, updatedAt string

	err := row.Scan(&c.CaseID, &c.FilingAgentID, &defenceAgentID, &c.ClaimSummary, &c.CourtMode, &c.Stage, &voidReason,
		&stageEnteredAt, &stageDeadline, &drandRound, &drandRandomness, &poolSnapshotHash, &selectionProof,
		&createdAt, &updatedAt, &sealJobID, &c.ScreeningAttempts, &c.JuryReadinessWindows, &c.Version)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("case not found")
		}
		return nil, err
	}
	fillCase(&c, defenceAgentID, voidReason, drandRandomness, poolSnapshotHash, selectionProof, sealJobID,
		drandRound, stageEnteredAt, stageDeadline, createdAt, updatedAt)
	return &c, nil
}

func scanCaseRows(rows *sql.Rows) (*contracts.Case, error) {
	var c contracts.Case
	var defenceAgentID, voidReason, drandRandomness, poolSnapshotHash, selectionProof, sealJobID sql.NullString
	var drandRound sql.NullInt64
	var stageEnteredAt, stageDeadline, createdAt, updatedAt string

	err := rows.Scan(&c.CaseID, &c.FilingAgentID, &defenceAgentID, &c.ClaimSummary, &c.CourtMode, &c.Stage, &voidReason,
		&stageEnteredAt, &stageDeadline, &drandRound, &drandRandomness, &poolSnapshotHash, &selectionProof,
		&createdAt, &updatedAt, &sealJobID, &c.ScreeningAttempts, &c.JuryReadinessWindows, &c.Version)
	if err != nil {
		return nil, err
	}
	fillCase(&c, defenceAgentID, voidReason, drandRandomness, poolSnapshotHash, selectionProof, sealJobID,
		drandRound, stageEnteredAt, stageDeadline, createdAt, updatedAt)
	return &c, nil
}

func fillCase(c *contracts.Case, defenceAgentID, voidReason, drandRandomness, poolSnapshotHash, selectionProof, sealJobID sql.NullString,
	drandRound sql.NullInt64, stageEnteredAt, stageDeadline, createdAt, updatedAt string) {
	c.DefenceAgentID = defenceAgentID.String
	c.VoidReason = contracts.VoidReason(voidReason.String)
	c.DrandRandomness = drandRandomness.String
	c.PoolSnapshotHash = poolSnapshotHash.String
	c.SelectionProof = selectionProof.String
	c.SealJobID = sealJobID.String
	c.DrandRound = drandRound.Int64
	c.StageEnteredAt = parseTime(stageEnteredAt)
	c.StageDeadline = parseTime(stageDeadline)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
}

// SubmissionRepo persists Submission records.
type SubmissionRepo struct{ db *sql.DB }

func NewSubmissionRepo(db *sql.DB) *SubmissionRepo { return &SubmissionRepo{db: db} }

func (r *SubmissionRepo) Create(ctx context.Context, s *contracts.Submission) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO submissions (submission_id, case_id, agent_id, kind, content_hash, body, submitted_at, stage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SubmissionID, s.CaseID, s.AgentID, s.Kind, s.ContentHash, s.Content, s.SubmittedAt.UTC(), s.Stage)
	return err
}

func (r *SubmissionRepo) ListByCase(ctx context.Context, caseID string) ([]*contracts.Submission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT submission_id, case_id, agent_id, kind, content_hash, body, submitted_at, stage
		FROM submissions WHERE case_id = ? ORDER BY submitted_at ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*contracts.Submission
	for rows.Next() {
		var s contracts.Submission
		var submittedAt string
		if err := rows.Scan(&s.SubmissionID, &s.CaseID, &s.AgentID, &s.Kind, &s.ContentHash, &s.Content, &submittedAt, &s.Stage); err != nil {
			return nil, err
		}
		s.SubmittedAt = parseTime(submittedAt)
		out = append(out, &s)
	}
	return out, rows.Err()
}

// TranscriptRepo persists append-only TranscriptEvent records.
type TranscriptRepo struct{ db *sql.DB }

func NewTranscriptRepo(db *sql.DB) *TranscriptRepo { return &TranscriptRepo{db: db} }

// NextSeq returns the next transcript sequence number for a case. Safe
// under the store's single-writer SQLite connection; callers append
// immediately after reading it within the same request.
func (r *TranscriptRepo) NextSeq(ctx context.Context, caseID string) (int64, error) {
	var max sql.NullInt64
	row := r.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM transcript_events WHERE case_id = ?`, caseID)
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64 + 1, nil
}

func (r *TranscriptRepo) Append(ctx context.Context, e *contracts.TranscriptEvent, eventHash string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transcript_events (event_id, case_id, seq, kind, body, event_hash, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.CaseID, e.Seq, e.Kind, e.Payload, eventHash, e.Timestamp.UTC())
	return err
}

func (r *TranscriptRepo) ListByCase(ctx context.Context, caseID string) ([]*contracts.TranscriptEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, case_id, seq, kind, body, recorded_at
		FROM transcript_events WHERE case_id = ? ORDER BY seq ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*contracts.TranscriptEvent
	for rows.Next() {
		var e contracts.TranscriptEvent
		var recordedAt string
		if err := rows.Scan(&e.EventID, &e.CaseID, &e.Seq, &e.Kind, &e.Payload, &recordedAt); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(recordedAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}
