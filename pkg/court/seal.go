package court

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opencawt/court/pkg/canonicalize"
	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/infra"
	"github.com/opencawt/court/pkg/infra/retry"
	"github.com/opencawt/court/pkg/mintworker"
	"github.com/opencawt/court/pkg/store"
)

const sealBackoffPolicyID = "seal-worker-v1"

var sealBackoffPolicy = retry.BackoffPolicy{
	PolicyID:    sealBackoffPolicyID,
	BaseMs:      1000,
	MaxMs:       5 * 60 * 1000,
	MaxJitterMs: 2000,
	MaxAttempts: 8,
}

// SealWorker runs the post-verdict pipeline: Merkleize the transcript,
// mint a seal receipt, and advance the case to sealed. A failed attempt
// marks the job failed with a deterministic next-attempt time rather than
// retrying inline; the worker tick picks it back up, so a process restart
// never loses a pending seal.
type SealWorker struct {
	seal       *store.SealRepo
	cases      *store.CaseRepo
	transcript *store.TranscriptRepo
	jury       *store.JuryRepo
	mint       mintworker.Client
	clock      func() time.Time
	log        *slog.Logger
}

func NewSealWorker(seal *store.SealRepo, cases *store.CaseRepo, transcript *store.TranscriptRepo, jury *store.JuryRepo,
	mint mintworker.Client, log *slog.Logger) *SealWorker {
	return &SealWorker{
		seal: seal, cases: cases, transcript: transcript, jury: jury,
		mint: mint, clock: time.Now, log: log,
	}
}

// Enqueue creates a seal job for a newly closed case, idempotently: a
// second Enqueue for a case that already has a job creates no new job and
// re-attempts the existing one (returning at once if it has sealed), since the
// session engine's own CAS on the case's stage already prevents the
// close pipeline from running twice, but a crash between advance and
// enqueue would otherwise retry the whole pipeline.
func (w *SealWorker) Enqueue(ctx context.Context, caseID, verdictHash string, now time.Time) error {
	existing, err := w.seal.GetByCase(ctx, caseID)
	if err == nil && existing != nil {
		return w.attempt(ctx, existing, verdictHash)
	}
	if err != nil && err.Error() != "seal job not found" {
		return fmt.Errorf("seal: lookup existing job: %w", err)
	}

	job := &contracts.SealJob{
		JobID:       uuid.NewString(),
		CaseID:      caseID,
		Status:      contracts.SealJobPending,
		VerdictHash: verdictHash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.seal.Create(ctx, job); err != nil {
		return fmt.Errorf("seal: create job: %w", err)
	}
	return w.attempt(ctx, job, verdictHash)
}

// RetryDue re-attempts every seal job whose next_attempt_at has elapsed.
// Jobs are fed through a deterministic scheduler keyed by next-attempt
// time (ties broken by job id) rather than processed in whatever order
// the caller's slice happens to be in, so a repeated run over the same
// due set always retries jobs in the same order.
func (w *SealWorker) RetryDue(ctx context.Context, jobs []*contracts.SealJob) {
	now := w.clock()
	sched := infra.NewInMemoryScheduler()
	byID := map[string]*contracts.SealJob{}
	for _, j := range jobs {
		if j.Status != contracts.SealJobFailed || j.NextAttemptAt.After(now) {
			continue
		}
		byID[j.JobID] = j
		_ = sched.Schedule(ctx, &infra.SchedulerEvent{
			EventID:     j.JobID,
			EventType:   "seal_retry",
			ScheduledAt: j.NextAttemptAt,
			SortKey:     j.JobID,
		})
	}
	for sched.Len() > 0 {
		event, err := sched.Next(ctx)
		if err != nil {
			return
		}
		j := byID[event.EventID]
		if err := w.attempt(ctx, j, j.VerdictHash); err != nil {
			w.log.Error("seal: retry failed", "job_id", j.JobID, "case_id", j.CaseID, "error", err)
		}
	}
}

func (w *SealWorker) attempt(ctx context.Context, job *contracts.SealJob, verdictHash string) error {
	if job.Status == contracts.SealJobSealed {
		return nil
	}
	now := w.clock()
	job.Status = contracts.SealJobRunning
	job.Attempt++
	job.UpdatedAt = now
	if err := w.seal.UpdateAttempt(ctx, job); err != nil {
		return fmt.Errorf("seal: mark running: %w", err)
	}

	rootHash, err := w.transcriptRootHash(ctx, job.CaseID)
	if err != nil {
		return w.fail(ctx, job, fmt.Sprintf("transcript root: %v", err))
	}
	job.TranscriptRootHash = rootHash

	selectionProofHash, err := w.jurySelectionProofHash(ctx, job.CaseID)
	if err != nil {
		return w.fail(ctx, job, fmt.Sprintf("jury selection proof: %v", err))
	}

	sealHash, err := canonicalize.CanonicalHash(map[string]string{
		"case_id":                  job.CaseID,
		"verdict_hash":             verdictHash,
		"transcript_root_hash":     rootHash,
		"jury_selection_proof_hash": selectionProofHash,
	})
	if err != nil {
		return w.fail(ctx, job, fmt.Sprintf("seal hash: %v", err))
	}
	job.SealHash = sealHash

	result, err := w.mint.Seal(ctx, mintworker.SealRequest{
		JobID:    job.JobID,
		SealHash: sealHash,
	})
	if err != nil {
		return w.fail(ctx, job, fmt.Sprintf("mint worker: %v", err))
	}

	job.MintJobRef = result.MintJobRef
	job.TreasuryTxRef = result.TxSig
	job.Status = contracts.SealJobSealed
	job.LastError = ""
	sealedAt := now
	job.SealedAt = &sealedAt
	job.UpdatedAt = now
	if err := w.seal.UpdateAttempt(ctx, job); err != nil {
		return fmt.Errorf("seal: mark sealed: %w", err)
	}

	c, err := w.cases.Get(ctx, job.CaseID)
	if err != nil {
		return fmt.Errorf("seal: load case: %w", err)
	}
	c.SealJobID = job.JobID
	c.Stage = contracts.StageSealed
	c.UpdatedAt = now
	if err := w.cases.CompareAndAdvance(ctx, c, c.Version); err != nil {
		return fmt.Errorf("seal: advance case to sealed: %w", err)
	}
	return nil
}

// ErrSealResultConflict is returned when a worker callback's reported
// result disagrees with a job already marked terminal for a different
// outcome.
var ErrSealResultConflict = fmt.Errorf("seal: result conflicts with stored job")

// ApplyExternalResult applies a mint worker's asynchronous callback for a
// job that was dispatched but whose completion arrives out-of-band rather
// than from a synchronous mint.Seal call. It is replay-safe: a callback
// repeating the same mintJobRef/treasuryTxRef for an already-sealed job is
// a no-op success, while one disagreeing with the stored result is a
// conflict.
func (w *SealWorker) ApplyExternalResult(ctx context.Context, jobID, caseID, verdictHash, mintJobRef, treasuryTxRef string) error {
	job, err := w.seal.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("seal: load job: %w", err)
	}
	if job.CaseID != caseID {
		return fmt.Errorf("%w: case id mismatch", ErrSealResultConflict)
	}
	if job.VerdictHash != verdictHash {
		return fmt.Errorf("%w: verdict hash mismatch", ErrSealResultConflict)
	}
	if job.Status == contracts.SealJobSealed {
		if job.MintJobRef == mintJobRef && job.TreasuryTxRef == treasuryTxRef {
			return nil
		}
		return fmt.Errorf("%w: job already sealed with a different result", ErrSealResultConflict)
	}

	now := w.clock()
	job.MintJobRef = mintJobRef
	job.TreasuryTxRef = treasuryTxRef
	job.Status = contracts.SealJobSealed
	job.LastError = ""
	sealedAt := now
	job.SealedAt = &sealedAt
	job.UpdatedAt = now
	if err := w.seal.UpdateAttempt(ctx, job); err != nil {
		return fmt.Errorf("seal: mark sealed: %w", err)
	}

	c, err := w.cases.Get(ctx, job.CaseID)
	if err != nil {
		return fmt.Errorf("seal: load case: %w", err)
	}
	c.SealJobID = job.JobID
	c.Stage = contracts.StageSealed
	c.UpdatedAt = now
	return w.cases.CompareAndAdvance(ctx, c, c.Version)
}

// Retry re-attempts a single job immediately, bypassing its scheduled
// next-attempt time, for an operator-triggered retry.
func (w *SealWorker) Retry(ctx context.Context, job *contracts.SealJob) error {
	return w.attempt(ctx, job, job.VerdictHash)
}

func (w *SealWorker) fail(ctx context.Context, job *contracts.SealJob, reason string) error {
	now := w.clock()
	job.Status = contracts.SealJobFailed
	job.LastError = reason
	job.UpdatedAt = now
	job.NextAttemptAt = now.Add(retry.ComputeBackoff(retry.BackoffParams{
		PolicyID:     sealBackoffPolicyID,
		AdapterID:    "mintworker",
		EffectID:     job.JobID,
		AttemptIndex: job.Attempt,
	}, sealBackoffPolicy))
	if err := w.seal.UpdateAttempt(ctx, job); err != nil {
		return fmt.Errorf("seal: record failure: %w", err)
	}
	return fmt.Errorf("seal: %s", reason)
}

// transcriptRootHash Merkleizes a case's append-only transcript into a
// single root, using the same domain-separated tree the teacher's evidence
// packs use for selective disclosure.
func (w *SealWorker) transcriptRootHash(ctx context.Context, caseID string) (string, error) {
	_, tree, err := w.TranscriptEvidenceTree(ctx, caseID)
	if err != nil {
		return "", err
	}
	return tree.Root, nil
}

// TranscriptEvidenceTree builds the same Merkle tree a seal job roots, for
// a caller (the evidence-view handler) that needs the full tree and pack
// rather than just its root hash.
func (w *SealWorker) TranscriptEvidenceTree(ctx context.Context, caseID string) (map[string]any, *infra.MerkleTree, error) {
	events, err := w.transcript.ListByCase(ctx, caseID)
	if err != nil {
		return nil, nil, fmt.Errorf("list transcript events: %w", err)
	}
	obj := map[string]any{"case_id": caseID, "events": make([]any, 0, len(events))}
	entries := obj["events"].([]any)
	for _, e := range events {
		entries = append(entries, map[string]any{
			"event_id": e.EventID,
			"seq":      e.Seq,
			"kind":     e.Kind,
			"actor_id": e.ActorID,
			"payload":  e.Payload,
		})
	}
	obj["events"] = entries

	tree, err := infra.NewMerkleTreeBuilder().BuildTree(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("build merkle tree: %w", err)
	}
	return obj, tree, nil
}

// jurySelectionProofHash hashes the case's latest jury selection run (the
// full score-sorted candidate list), anchoring the seal to a reproducible
// record of who sat in judgment. Judge-mode cases have no selection run and
// hash to a fixed empty marker instead.
func (w *SealWorker) jurySelectionProofHash(ctx context.Context, caseID string) (string, error) {
	run, err := w.jury.LatestSelectionRun(ctx, caseID)
	if err != nil {
		if strings.HasPrefix(err.Error(), "no selection run for case") {
			return canonicalize.CanonicalHash(map[string]string{"selection": "none"})
		}
		return "", fmt.Errorf("load selection run: %w", err)
	}
	return canonicalize.CanonicalHash(run)
}

