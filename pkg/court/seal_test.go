package court_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/court"
	"github.com/opencawt/court/pkg/mintworker"
	"github.com/opencawt/court/pkg/store"
)

func newTestSealWorker(t *testing.T) (*court.SealWorker, *store.SealRepo, *store.CaseRepo, string) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "seal_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cases := store.NewCaseRepo(db)
	transcript := store.NewTranscriptRepo(db)
	jury := store.NewJuryRepo(db)
	seal := store.NewSealRepo(db)
	worker := court.NewSealWorker(seal, cases, transcript, jury, mintworker.NewStubClient(), slog.Default())

	now := time.Now()
	c := &contracts.Case{
		CaseID:         "case-seal-1",
		FilingAgentID:  "agentA",
		DefenceAgentID: "agentB",
		CourtMode:      "jury",
		Stage:          contracts.StageClosed,
		StageEnteredAt: now,
		StageDeadline:  now.Add(time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, cases.Create(context.Background(), c))

	return worker, seal, cases, c.CaseID
}

func TestSealWorker_EnqueueIsIdempotent(t *testing.T) {
	worker, seal, cases, caseID := newTestSealWorker(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, worker.Enqueue(ctx, caseID, "verdict-hash-1", now))
	job, err := seal.GetByCase(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, contracts.SealJobSealed, job.Status)
	firstMintRef := job.MintJobRef

	// A second Enqueue for the same case must not mint again or fail.
	require.NoError(t, worker.Enqueue(ctx, caseID, "verdict-hash-1", now))
	job2, err := seal.GetByCase(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, firstMintRef, job2.MintJobRef)

	c, err := cases.Get(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StageSealed, c.Stage)
}

func TestSealWorker_ApplyExternalResult_ReplaySafeAndConflicting(t *testing.T) {
	worker, seal, _, caseID := newTestSealWorker(t)
	ctx := context.Background()
	now := time.Now()

	job := &contracts.SealJob{
		JobID:       "job-ext-1",
		CaseID:      caseID,
		Status:      contracts.SealJobPending,
		VerdictHash: "verdict-hash-ext",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, seal.Create(ctx, job))

	require.NoError(t, worker.ApplyExternalResult(ctx, job.JobID, caseID, "verdict-hash-ext", "mint-ref-1", "tx-ref-1"))

	sealed, err := seal.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, contracts.SealJobSealed, sealed.Status)
	assert.Equal(t, "mint-ref-1", sealed.MintJobRef)

	// Replaying the exact same result is a no-op success.
	require.NoError(t, worker.ApplyExternalResult(ctx, job.JobID, caseID, "verdict-hash-ext", "mint-ref-1", "tx-ref-1"))

	// A different reported result for an already-sealed job is a conflict.
	err = worker.ApplyExternalResult(ctx, job.JobID, caseID, "verdict-hash-ext", "mint-ref-2", "tx-ref-2")
	assert.ErrorIs(t, err, court.ErrSealResultConflict)

	// A mismatched verdict hash is also a conflict, regardless of job status.
	err = worker.ApplyExternalResult(ctx, job.JobID, caseID, "wrong-hash", "mint-ref-1", "tx-ref-1")
	assert.ErrorIs(t, err, court.ErrSealResultConflict)
}
