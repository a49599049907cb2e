package court

import (
	"github.com/opencawt/court/pkg/canonicalize"
	"github.com/opencawt/court/pkg/contracts"
)

// ballotBody is the exact set of fields a juror signs over when casting a
// ballot: everything but the hash and signature themselves.
type ballotBody struct {
	CaseID             string                  `json:"case_id"`
	AgentID            string                  `json:"agent_id"`
	ClaimVotes         []contracts.ClaimVote   `json:"claim_votes"`
	Verdict            contracts.BallotVerdict `json:"verdict"`
	ReasoningSummary   string                  `json:"reasoning_summary"`
	PrinciplesReliedOn []contracts.Principle   `json:"principles_relied_on"`
}

// BallotHash computes the canonical digest a juror signs before casting a
// ballot, so the gateway can re-derive and verify it from the submitted
// fields rather than trusting a client-supplied hash.
func BallotHash(caseID, agentID string, claimVotes []contracts.ClaimVote, verdict contracts.BallotVerdict,
	reasoningSummary string, principles []contracts.Principle) (string, error) {
	return canonicalize.CanonicalHash(ballotBody{
		CaseID:             caseID,
		AgentID:            agentID,
		ClaimVotes:         claimVotes,
		Verdict:            verdict,
		ReasoningSummary:   reasoningSummary,
		PrinciplesReliedOn: principles,
	})
}
