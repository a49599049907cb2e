package main

import (
	"net/http"
	"time"

	"github.com/opencawt/court/pkg/api"
	"github.com/opencawt/court/pkg/auth"
	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/infra"
)

// transcriptDisclosurePolicy discloses every transcript event with an
// inclusion proof against the sealed root, while sealing everything else
// (notably the bare case_id leaf) behind a commitment, per the "share a
// transcript with a third party after sealing" evidence-pack use case.
var transcriptDisclosurePolicy = infra.ViewPolicy{
	PolicyID: "transcript-disclose-v1",
	Name:     "disclose transcript events, seal the rest",
	DisclosureRules: []infra.DisclosureRule{
		{PathPattern: "/events/*", Action: "DISCLOSE"},
	},
}

// handleEvidenceView derives a selective-disclosure evidence view over a
// sealed case's transcript Merkle tree: every transcript event plus its
// inclusion proof against the sealed root. Only available once a case has
// actually sealed, since the view is meaningless without a committed root
// a counterparty can check it against.
func (s *server) handleEvidenceView(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.GetIdentity(r.Context()); err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	caseID := r.PathValue("id")
	c, err := s.cases.Get(r.Context(), caseID)
	if err != nil {
		api.WriteNotFound(w, "case not found")
		return
	}
	if c.Stage != contracts.StageSealed {
		api.WriteConflict(w, "evidence views are only available for sealed cases")
		return
	}

	pack, tree, err := s.sealWorker.TranscriptEvidenceTree(r.Context(), caseID)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	view, err := infra.DeriveEvidenceView(pack, tree, transcriptDisclosurePolicy, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type verifyEvidenceProofRequest struct {
	Proof        infra.InclusionProof `json:"proof"`
	ExpectedRoot string               `json:"expected_root"`
}

// handleVerifyEvidenceProof lets a third party holding a disclosed leaf and
// its inclusion proof check it against the root they were given separately
// (e.g. the case's sealed transcript_root_hash), without needing any
// access to the full transcript.
func (s *server) handleVerifyEvidenceProof(w http.ResponseWriter, r *http.Request) {
	var req verifyEvidenceProofRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": infra.VerifyProof(req.Proof, req.ExpectedRoot)})
}
