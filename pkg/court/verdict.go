package court

import (
	"context"
	"fmt"
	"time"

	"github.com/opencawt/court/pkg/canonicalize"
	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/judge"
	"github.com/opencawt/court/pkg/store"
)

// VerdictEngine computes the per-claim tally and overall outcome at case
// close, per spec §4.4.
type VerdictEngine struct {
	juryRepo *store.JuryRepo
	judge    judge.Client
}

func NewVerdictEngine(juryRepo *store.JuryRepo, j judge.Client) *VerdictEngine {
	return &VerdictEngine{juryRepo: juryRepo, judge: j}
}

// VerdictBundle is the canonical JSON document whose hash is the sealing
// anchor (spec §4.4): remedy recommendations are deliberately excluded so
// the bundle hash stays stable regardless of judge wording.
type VerdictBundle struct {
	CaseID               string                  `json:"case_id"`
	Parties              []string                `json:"parties"`
	Outcome              contracts.CaseOutcome   `json:"outcome"`
	ClosedAtISO          string                  `json:"closed_at_iso"`
	JurySize             int                     `json:"jury_size"`
	ClaimOutcomes        []contracts.ClaimOutcome `json:"claim_outcomes"`
	EvidenceContentHashes []string                `json:"evidence_content_hashes"`
	SubmissionContentHashes []string              `json:"submission_content_hashes"`
	DrandRound           int64                   `json:"drand_round"`
	DrandRandomness      string                  `json:"drand_randomness"`
	PoolSnapshotHash     string                  `json:"pool_snapshot_hash"`
}

// TallyClaim applies the plurality-with-strict-majority rule: proven wins
// only if strictly more jurors found proven than not_proven AND more than
// insufficient; symmetric for not_proven; otherwise insufficient. A true
// tie (equal proven/not_proven, both exceeding insufficient) is signaled
// via needsTiebreak so the caller can consult the judge when
// courtMode=judge.
func TallyClaim(claimID string, votes []contracts.ClaimVote) (outcome contracts.ClaimOutcome, needsTiebreak bool) {
	var proven, notProven, insufficient int
	for _, v := range votes {
		switch v.Finding {
		case contracts.FindingProven:
			proven++
		case contracts.FindingNotProven:
			notProven++
		default:
			insufficient++
		}
	}

	outcome = contracts.ClaimOutcome{ClaimID: claimID, Proven: proven, NotProven: notProven, Insufficient: insufficient}

	switch {
	case proven > notProven && proven > insufficient:
		outcome.Finding = contracts.FindingProven
	case notProven > proven && notProven > insufficient:
		outcome.Finding = contracts.FindingNotProven
	case proven == notProven && proven > insufficient:
		needsTiebreak = true
		outcome.Finding = contracts.FindingInsufficient
	default:
		outcome.Finding = contracts.FindingInsufficient
	}
	return outcome, needsTiebreak
}

// Compute tallies every claim, resolves ties via the judge when
// courtMode=judge, derives the overall outcome, and returns the verdict
// bundle and its hash.
func (e *VerdictEngine) Compute(ctx context.Context, c *contracts.Case, claimIDs []string, ballots []*contracts.Ballot,
	evidenceContentHashes, submissionContentHashes []string, closedAt time.Time) (*contracts.VerdictTally, *VerdictBundle, error) {

	votesByClaimID := map[string][]contracts.ClaimVote{}
	for _, b := range ballots {
		for _, v := range b.ClaimVotes {
			votesByClaimID[v.ClaimID] = append(votesByClaimID[v.ClaimID], v)
		}
	}

	outcomes := make([]contracts.ClaimOutcome, 0, len(claimIDs))
	for _, claimID := range claimIDs {
		outcome, needsTiebreak := TallyClaim(claimID, votesByClaimID[claimID])
		if needsTiebreak && c.CourtMode == "judge" {
			result := e.judge.Tiebreak(ctx, judge.TiebreakRequest{
				CaseID: c.CaseID, ClaimID: claimID, Proven: outcome.Proven, NotProven: outcome.NotProven,
			})
			if result.OK {
				outcome.Finding = contracts.ClaimFinding(result.Data.Finding)
				outcome.JudgeTiebreak = true
			}
		}
		outcomes = append(outcomes, outcome)
	}

	overallOutcome := deriveOverallOutcome(outcomes)

	bundle := &VerdictBundle{
		CaseID:                  c.CaseID,
		Parties:                 []string{c.FilingAgentID, c.DefenceAgentID},
		Outcome:                 overallOutcome,
		ClosedAtISO:             closedAt.UTC().Format(time.RFC3339Nano),
		JurySize:                len(ballots),
		ClaimOutcomes:           outcomes,
		EvidenceContentHashes:   evidenceContentHashes,
		SubmissionContentHashes: submissionContentHashes,
		DrandRound:              c.DrandRound,
		DrandRandomness:         c.DrandRandomness,
		PoolSnapshotHash:        c.PoolSnapshotHash,
	}

	verdictHash, err := canonicalize.CanonicalHash(bundle)
	if err != nil {
		return nil, nil, fmt.Errorf("verdict: hash bundle: %w", err)
	}

	tally := &contracts.VerdictTally{
		CaseID:        c.CaseID,
		ClaimOutcomes: outcomes,
		Outcome:       overallOutcome,
		VerdictHash:   verdictHash,
		TalliedAt:     closedAt,
	}
	return tally, bundle, nil
}

// deriveOverallOutcome applies spec §4.4's overall-outcome rule: majority
// of claim outcomes proven → for_prosecution; majority not_proven →
// for_defence; all insufficient → inconclusive.
func deriveOverallOutcome(outcomes []contracts.ClaimOutcome) contracts.CaseOutcome {
	var provenClaims, notProvenClaims, insufficientClaims int
	for _, o := range outcomes {
		switch o.Finding {
		case contracts.FindingProven:
			provenClaims++
		case contracts.FindingNotProven:
			notProvenClaims++
		default:
			insufficientClaims++
		}
	}
	if insufficientClaims == len(outcomes) {
		return contracts.OutcomeInconclusive
	}
	if provenClaims > notProvenClaims {
		return contracts.OutcomeForProsecution
	}
	if notProvenClaims > provenClaims {
		return contracts.OutcomeForDefence
	}
	return contracts.OutcomeInconclusive
}
