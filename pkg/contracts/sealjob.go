package contracts

import "time"

// SealJobStatus is the lifecycle of a case's seal job.
type SealJobStatus string

const (
	SealJobPending    SealJobStatus = "pending"
	SealJobRunning    SealJobStatus = "running"
	SealJobSealed     SealJobStatus = "sealed"
	SealJobFailed     SealJobStatus = "failed"
)

// SealJob drives the post-verdict pipeline: build the transcript Merkle
// root, mint a seal record, and (depending on configuration) submit a
// treasury-fee transaction and notify a mint worker. Retries use
// deterministic backoff seeded from the job id and attempt count so replays
// are reproducible in tests.
type SealJob struct {
	JobID             string        `json:"job_id"`
	CaseID            string        `json:"case_id"`
	Status            SealJobStatus `json:"status"`
	Attempt           int           `json:"attempt"`
	VerdictHash       string        `json:"verdict_hash,omitempty"`
	TranscriptRootHash string       `json:"transcript_root_hash,omitempty"`
	SealHash          string        `json:"seal_hash,omitempty"`
	TreasuryTxRef     string        `json:"treasury_tx_ref,omitempty"`
	MintJobRef        string        `json:"mint_job_ref,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
	NextAttemptAt     time.Time     `json:"next_attempt_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	SealedAt          *time.Time    `json:"sealed_at,omitempty"`
}

// UsedTreasuryTx records a treasury transaction signature already consumed
// by a seal job, preventing a replayed or reused transaction from sealing a
// second case.
type UsedTreasuryTx struct {
	TxSignature string    `json:"tx_signature"`
	CaseID      string    `json:"case_id"`
	ConsumedAt  time.Time `json:"consumed_at"`
}

// IdempotencyRecord durably tracks a mutating request's key so a repeated
// delivery of the same idempotency key replays the original response
// instead of re-executing the mutation.
type IdempotencyRecordStatus string

const (
	IdempotencyClaimed   IdempotencyRecordStatus = "claimed"
	IdempotencyCompleted IdempotencyRecordStatus = "completed"
)

type IdempotencyRecord struct {
	Key          string                  `json:"key"`
	AgentID      string                  `json:"agent_id"`
	RequestHash  string                  `json:"request_hash"`
	Status       IdempotencyRecordStatus `json:"status"`
	ResponseCode int                     `json:"response_code,omitempty"`
	ResponseBody string                  `json:"response_body,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// Nonce records a consumed signed-request nonce for replay resistance
// within the auth timestamp window.
type Nonce struct {
	AgentID   string    `json:"agent_id"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}
