package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opencawt/court/pkg/contracts"
)

// SealRepo persists SealJob and UsedTreasuryTx records.
type SealRepo struct{ db *sql.DB }

func NewSealRepo(db *sql.DB) *SealRepo { return &SealRepo{db: db} }

func (r *SealRepo) Create(ctx context.Context, j *contracts.SealJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO seal_jobs (job_id, case_id, status, attempt, verdict_hash, transcript_root_hash, seal_hash, treasury_tx_ref,
			mint_job_ref, last_error, next_attempt_at, created_at, updated_at, sealed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.JobID, j.CaseID, j.Status, j.Attempt, j.VerdictHash, nullString(j.TranscriptRootHash), nullString(j.SealHash),
		nullString(j.TreasuryTxRef), nullString(j.MintJobRef), nullString(j.LastError), nullTimeVal(j.NextAttemptAt),
		j.CreatedAt.UTC(), j.UpdatedAt.UTC(), nullTime(j.SealedAt))
	return err
}

func (r *SealRepo) Get(ctx context.Context, jobID string) (*contracts.SealJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT job_id, case_id, status, attempt, verdict_hash, transcript_root_hash, seal_hash, treasury_tx_ref, mint_job_ref,
			last_error, next_attempt_at, created_at, updated_at, sealed_at
		FROM seal_jobs WHERE job_id = ?`, jobID)
	return scanSealJob(row)
}

func (r *SealRepo) GetByCase(ctx context.Context, caseID string) (*contracts.SealJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT job_id, case_id, status, attempt, verdict_hash, transcript_root_hash, seal_hash, treasury_tx_ref, mint_job_ref,
			last_error, next_attempt_at, created_at, updated_at, sealed_at
		FROM seal_jobs WHERE case_id = ?`, caseID)
	return scanSealJob(row)
}

// ListFailedDue returns failed seal jobs whose next_attempt_at has passed,
// for the seal worker's retry ticker.
func (r *SealRepo) ListFailedDue(ctx context.Context) ([]*contracts.SealJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, case_id, status, attempt, verdict_hash, transcript_root_hash, seal_hash, treasury_tx_ref, mint_job_ref,
			last_error, next_attempt_at, created_at, updated_at, sealed_at
		FROM seal_jobs WHERE status = ? AND next_attempt_at <= CURRENT_TIMESTAMP`, contracts.SealJobFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*contracts.SealJob
	for rows.Next() {
		j, err := scanSealJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanSealJobRows(rows *sql.Rows) (*contracts.SealJob, error) {
	var j contracts.SealJob
	var transcriptRootHash, sealHash, treasuryTxRef, mintJobRef, lastError, nextAttemptAt, sealedAt sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(&j.JobID, &j.CaseID, &j.Status, &j.Attempt, &j.VerdictHash, &transcriptRootHash, &sealHash, &treasuryTxRef,
		&mintJobRef, &lastError, &nextAttemptAt, &createdAt, &updatedAt, &sealedAt)
	if err != nil {
		return nil, err
	}
	j.TranscriptRootHash = transcriptRootHash.String
	j.SealHash = sealHash.String
	j.TreasuryTxRef = treasuryTxRef.String
	j.MintJobRef = mintJobRef.String
	j.LastError = lastError.String
	if nextAttemptAt.Valid {
		j.NextAttemptAt = parseTime(nextAttemptAt.String)
	}
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	j.SealedAt = nullableTime(sealedAt.Valid, sealedAt.String)
	return &j, nil
}

func scanSealJob(row *sql.Row) (*contracts.SealJob, error) {
	var j contracts.SealJob
	var transcriptRootHash, sealHash, treasuryTxRef, mintJobRef, lastError, nextAttemptAt, sealedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.JobID, &j.CaseID, &j.Status, &j.Attempt, &j.VerdictHash, &transcriptRootHash, &sealHash, &treasuryTxRef,
		&mintJobRef, &lastError, &nextAttemptAt, &createdAt, &updatedAt, &sealedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("seal job not found")
		}
		return nil, err
	}
	j.TranscriptRootHash = transcriptRootHash.String
	j.SealHash = sealHash.String
	j.TreasuryTxRef = treasuryTxRef.String
	j.MintJobRef = mintJobRef.String
	j.LastError = lastError.String
	if nextAttemptAt.Valid {
		j.NextAttemptAt = parseTime(nextAttemptAt.String)
	}
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	j.SealedAt = nullableTime(sealedAt.Valid, sealedAt.String)
	return &j, nil
}

// UpdateAttempt records a seal-worker attempt outcome: advance attempt
// count, set status/error/next-attempt, and on success fill in the sealing
// hashes and timestamp.
func (r *SealRepo) UpdateAttempt(ctx context.Context, j *contracts.SealJob) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE seal_jobs SET status = ?, attempt = ?, verdict_hash = ?, transcript_root_hash = ?, seal_hash = ?, treasury_tx_ref = ?,
			mint_job_ref = ?, last_error = ?, next_attempt_at = ?, updated_at = ?, sealed_at = ?
		WHERE job_id = ?`,
		j.Status, j.Attempt, j.VerdictHash, nullString(j.TranscriptRootHash), nullString(j.SealHash), nullString(j.TreasuryTxRef),
		nullString(j.MintJobRef), nullString(j.LastError), nullTimeVal(j.NextAttemptAt), j.UpdatedAt.UTC(),
		nullTime(j.SealedAt), j.JobID)
	return err
}

// ClaimTreasuryTx atomically records a treasury transaction signature as
// consumed. A unique-constraint failure means the signature was already
// used to seal a different case — the caller must treat the seal attempt
// as a conflict, not retry with the same signature.
func (r *SealRepo) ClaimTreasuryTx(ctx context.Context, tx *contracts.UsedTreasuryTx) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO used_treasury_tx (tx_signature, case_id, consumed_at) VALUES (?, ?, ?)`,
		tx.TxSignature, tx.CaseID, tx.ConsumedAt.UTC())
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("treasury tx already used: %w", err)
	}
	return err
}

func nullTimeVal(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
