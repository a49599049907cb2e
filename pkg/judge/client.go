// Package judge is the court's bounded, never-throwing integration point
// with an LLM judge: screening, tiebreak, remedy recommendation and stage
// advisory calls. Every call has a hard timeout and returns an outcome
// envelope rather than propagating a judge-side failure as a Go error — a
// Go error return is reserved for the session engine's own bookkeeping
// (e.g. the context was already canceled), not for a judge that declined
// or timed out.
package judge

import "context"

// Outcome is the {ok, data | error} envelope every judge call returns.
type Outcome[T any] struct {
	OK    bool
	Data  T
	Error string
}

func ok[T any](data T) Outcome[T]          { return Outcome[T]{OK: true, Data: data} }
func failed[T any](reason string) Outcome[T] { return Outcome[T]{OK: false, Error: reason} }

// ScreeningRequest asks the judge whether a filed case should proceed past
// judge_screening.
type ScreeningRequest struct {
	CaseID       string
	ClaimSummary string
}

type ScreeningResult struct {
	Accept bool
	Reason string
}

// TiebreakRequest asks the judge to break a tied claim finding.
type TiebreakRequest struct {
	CaseID  string
	ClaimID string
	Proven  int
	NotProven int
}

type TiebreakResult struct {
	Finding string // "proven" | "not_proven" | "insufficient"
}

// RemedyRequest asks the judge for a non-binding remedy recommendation,
// stored on the case record only — never folded into the sealed verdict
// bundle, so the bundle hash stays stable regardless of remedy wording.
type RemedyRequest struct {
	CaseID  string
	Outcome string
}

type RemedyResult struct {
	Recommendation string
}

// StageAdvisoryRequest asks the judge for a non-binding note at a stage
// transition (e.g. a prompt nudging a stalled party).
type StageAdvisoryRequest struct {
	CaseID string
	Stage  string
}

type StageAdvisoryResult struct {
	Advisory string
}

// Client is implemented by both the deterministic stub and the RPC judge.
type Client interface {
	Screen(ctx context.Context, req ScreeningRequest) Outcome[ScreeningResult]
	Tiebreak(ctx context.Context, req TiebreakRequest) Outcome[TiebreakResult]
	Remedy(ctx context.Context, req RemedyRequest) Outcome[RemedyResult]
	StageAdvisory(ctx context.Context, req StageAdvisoryRequest) Outcome[StageAdvisoryResult]
}
