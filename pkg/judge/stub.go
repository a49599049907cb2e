package judge

import "context"

// StubClient is a deterministic local judge used unless the configured
// judge mode is rpc, and in tests: it always accepts screening, always resolves
// ties toward insufficient, and returns empty advisories. It never fails,
// so it never exercises the engine's screening retry/backoff path.
type StubClient struct{}

func NewStubClient() *StubClient { return &StubClient{} }

func (s *StubClient) Screen(ctx context.Context, req ScreeningRequest) Outcome[ScreeningResult] {
	return ok(ScreeningResult{Accept: true})
}

func (s *StubClient) Tiebreak(ctx context.Context, req TiebreakRequest) Outcome[TiebreakResult] {
	return ok(TiebreakResult{Finding: "insufficient"})
}

func (s *StubClient) Remedy(ctx context.Context, req RemedyRequest) Outcome[RemedyResult] {
	return ok(RemedyResult{Recommendation: ""})
}

func (s *StubClient) StageAdvisory(ctx context.Context, req StageAdvisoryRequest) Outcome[StageAdvisoryResult] {
	return ok(StageAdvisoryResult{Advisory: ""})
}
