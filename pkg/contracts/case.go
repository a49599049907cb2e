package contracts

import "time"

// CaseStage is a node in the case state machine.
type CaseStage string

const (
	StageJudgeScreening  CaseStage = "judge_screening"
	StagePreSession      CaseStage = "pre_session"
	StageJuryReadiness   CaseStage = "jury_readiness"
	StageOpeningAddr     CaseStage = "opening_addresses"
	StageEvidence        CaseStage = "evidence"
	StageClosingAddr     CaseStage = "closing_addresses"
	StageSummingUp       CaseStage = "summing_up"
	StageVoting          CaseStage = "voting"
	StageClosed          CaseStage = "closed"
	StageSealed          CaseStage = "sealed"
	StageVoid            CaseStage = "void"
)

// terminal reports whether a stage has no further transitions.
func (s CaseStage) Terminal() bool {
	return s == StageClosed || s == StageSealed || s == StageVoid
}

// VoidReason records why a case was short-circuited before reaching a verdict.
type VoidReason string

const (
	VoidReasonScreeningRejected    VoidReason = "judge_screening_rejected"
	VoidReasonScreeningFailed      VoidReason = "judge_screening_failed"
	VoidReasonNoJuryQuorum         VoidReason = "no_jury_quorum"
	VoidReasonWithdrawn            VoidReason = "withdrawn"
	VoidReasonTimeout              VoidReason = "timeout"
	VoidReasonMissingDefence       VoidReason = "missing_defence_assignment"
	VoidReasonJuryReadinessTimeout VoidReason = "jury_readiness_timeout"
	VoidReasonMissingOpening       VoidReason = "missing_opening_submission"
	VoidReasonMissingEvidence      VoidReason = "missing_evidence_submission"
	VoidReasonMissingClosing       VoidReason = "missing_closing_submission"
	VoidReasonMissingSumming       VoidReason = "missing_summing_submission"
	VoidReasonVotingTimeout        VoidReason = "voting_timeout"
	VoidReasonInconclusiveVerdict  VoidReason = "inconclusive_verdict"
)

// Case is the aggregate root of a dispute: one filing agent, one defending
// agent, and the stage-by-stage session that produces (or fails to produce)
// a verdict.
type Case struct {
	CaseID        string     `json:"case_id"`
	FilingAgentID string     `json:"filing_agent_id"`
	DefenceAgentID string    `json:"defence_agent_id"`
	ClaimSummary  string     `json:"claim_summary"`
	CourtMode     string     `json:"court_mode"` // "jury" or "judge"
	Stage         CaseStage  `json:"stage"`
	DrandRound       int64  `json:"drand_round,omitempty"`
	DrandRandomness  string `json:"drand_randomness,omitempty"`
	PoolSnapshotHash string `json:"pool_snapshot_hash,omitempty"`
	SelectionProof   string `json:"selection_proof,omitempty"` // JSON-encoded []JuryCandidate
	VoidReason    VoidReason `json:"void_reason,omitempty"`
	StageEnteredAt time.Time `json:"stage_entered_at"`
	StageDeadline  time.Time `json:"stage_deadline"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	SealJobID     string     `json:"seal_job_id,omitempty"`
	ScreeningAttempts int    `json:"screening_attempts"`
	JuryReadinessWindows int `json:"jury_readiness_windows,omitempty"`
	Version       int        `json:"version"`
}

// Submission is a single piece of filed content (claim, defence, evidence,
// opening/closing address) attached to a case at a given stage.
type SubmissionKind string

const (
	SubmissionClaim          SubmissionKind = "claim"
	SubmissionDefence        SubmissionKind = "defence"
	SubmissionEvidence       SubmissionKind = "evidence"
	SubmissionOpeningAddress SubmissionKind = "opening_address"
	SubmissionClosingAddress SubmissionKind = "closing_address"
)

type Submission struct {
	SubmissionID string         `json:"submission_id"`
	CaseID       string         `json:"case_id"`
	AgentID      string         `json:"agent_id"`
	Kind         SubmissionKind `json:"kind"`
	Stage        CaseStage      `json:"stage"`
	ContentHash  string         `json:"content_hash"`
	Content      string         `json:"content"`
	SubmittedAt  time.Time      `json:"submitted_at"`
}

// TranscriptEvent is one append-only entry in a case's evidentiary record,
// chained for later Merkle-rooting at seal time.
type TranscriptEvent struct {
	EventID   string    `json:"event_id"`
	CaseID    string    `json:"case_id"`
	Seq       int64     `json:"seq"`
	Kind      string    `json:"kind"`
	ActorID   string    `json:"actor_id,omitempty"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
