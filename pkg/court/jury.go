package court

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/opencawt/court/pkg/canonicalize"
	"github.com/opencawt/court/pkg/contracts"
	"github.com/opencawt/court/pkg/drand"
	"github.com/opencawt/court/pkg/store"
)

// JuryEngine runs deterministic jury selection and replacement per spec
// §4.3/§4.2's juror replacement protocol.
type JuryEngine struct {
	agents *store.AgentRepo
	jury   *store.JuryRepo
	drand  drand.Client
}

func NewJuryEngine(agents *store.AgentRepo, jury *store.JuryRepo, d drand.Client) *JuryEngine {
	return &JuryEngine{agents: agents, jury: jury, drand: d}
}

// Select runs a fresh deterministic draw over the eligible pool (excluding
// ineligibleIDs) and persists the run.
func (e *JuryEngine) Select(ctx context.Context, caseID string, ineligibleIDs []string, panelSize int) (*contracts.JurySelectionRun, error) {
	pool, err := e.agents.EligiblePool(ctx, ineligibleIDs)
	if err != nil {
		return nil, fmt.Errorf("jury: eligible pool: %w", err)
	}

	round, err := e.drand.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("jury: drand round: %w", err)
	}

	run, err := BuildSelectionRun(caseID, pool, round.Randomness, round.Round, panelSize)
	if err != nil {
		return nil, err
	}
	if err := e.jury.SaveSelectionRun(ctx, run); err != nil {
		return nil, fmt.Errorf("jury: save run: %w", err)
	}
	return run, nil
}

// BuildSelectionRun is the pure deterministic core of selection, isolated
// from I/O so it can be unit-tested for bit-stability directly.
func BuildSelectionRun(caseID string, pool []string, randomness string, drandRound int64, panelSize int) (*contracts.JurySelectionRun, error) {
	sorted := append([]string(nil), pool...)
	sort.Strings(sorted)

	poolSnapshotHash, err := canonicalize.CanonicalHash(sorted)
	if err != nil {
		return nil, fmt.Errorf("jury: pool snapshot hash: %w", err)
	}

	candidates := make([]contracts.JuryCandidate, 0, len(sorted))
	for _, candidateID := range sorted {
		candidates = append(candidates, contracts.JuryCandidate{
			AgentID:   candidateID,
			ScoreHash: scoreHash(randomness, candidateID, caseID),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ScoreHash != candidates[j].ScoreHash {
			return candidates[i].ScoreHash < candidates[j].ScoreHash
		}
		return candidates[i].AgentID < candidates[j].AgentID
	})
	for i := range candidates {
		candidates[i].Rank = i
	}

	return &contracts.JurySelectionRun{
		RunID:            uuid.NewString(),
		CaseID:           caseID,
		Randomness:       randomness,
		RandomnessRound:  drandRound,
		PoolSnapshotHash: poolSnapshotHash,
		PanelSize:        panelSize,
		Candidates:       candidates,
	}, nil
}

func scoreHash(randomness, candidateID, caseID string) string {
	h := sha256.New()
	h.Write([]byte(randomness))
	h.Write([]byte(candidateID))
	h.Write([]byte(caseID))
	return hex.EncodeToString(h.Sum(nil))
}

// ReplacementFrom scans a selection run's proof in rank order and returns
// the first candidate not in the ineligible set, per spec §4.2 step 2.
func ReplacementFrom(run *contracts.JurySelectionRun, ineligible map[string]bool) (string, bool) {
	for _, c := range run.Candidates {
		if !ineligible[c.AgentID] {
			return c.AgentID, true
		}
	}
	return "", false
}

// SeatPanel persists the first panelSize candidates of a run as pending_ready
// panel members, each given until readyDeadline to confirm readiness before
// evaluateJuryReadiness treats the seat as timed out.
func (e *JuryEngine) SeatPanel(ctx context.Context, run *contracts.JurySelectionRun, now, readyDeadline time.Time) error {
	n := run.PanelSize
	if n > len(run.Candidates) {
		n = len(run.Candidates)
	}
	for _, c := range run.Candidates[:n] {
		deadline := readyDeadline
		member := &contracts.JuryPanelMember{
			CaseID:        run.CaseID,
			AgentID:       c.AgentID,
			Rank:          c.Rank,
			Status:        contracts.JurorStatusPendingReady,
			SeatedAt:      now,
			ReadyDeadline: &deadline,
		}
		if err := e.jury.SeatPanelMember(ctx, member); err != nil {
			return fmt.Errorf("jury: seat panel member %s: %w", c.AgentID, err)
		}
	}
	return nil
}

const maxReplacementsPerSeat = 3

// replacementDepth walks a seat's ReplacementOfJurorID chain back to its
// original draw, counting how many times it has already been replaced, so
// Replace can enforce maxReplacementsPerSeat per seat rather than per case.
func replacementDepth(members []*contracts.JuryPanelMember, agentID string) int {
	byAgent := make(map[string]*contracts.JuryPanelMember, len(members))
	for _, m := range members {
		byAgent[m.AgentID] = m
	}
	depth := 0
	cur := agentID
	for {
		m, ok := byAgent[cur]
		if !ok || m.ReplacementOfJurorID == "" {
			return depth
		}
		depth++
		cur = m.ReplacementOfJurorID
	}
}

// Replace implements the juror replacement protocol: try the stored proof
// first, fall back to a fresh draw over the eligible pool on exhaustion.
// The replacement seat is inserted as newStatus (pending_ready during the
// jury_readiness gate, active_voting during the voting stage) with its own
// deadline. Returns ok=false when the per-seat replacement cap is exceeded,
// which the caller must treat as grounds to void the case.
func (e *JuryEngine) Replace(ctx context.Context, caseID, timedOutAgentID string, panelSize, replacementCount int,
	newStatus contracts.JurorStatus, deadline, now time.Time) (string, bool, error) {
	if replacementCount >= maxReplacementsPerSeat {
		return "", false, nil
	}

	members, err := e.jury.PanelMembers(ctx, caseID)
	if err != nil {
		return "", false, fmt.Errorf("jury: panel members: %w", err)
	}
	ineligible := map[string]bool{}
	for _, m := range members {
		ineligible[m.AgentID] = true
	}

	seat := func(replacementID string) error {
		member := &contracts.JuryPanelMember{
			CaseID:               caseID,
			AgentID:              replacementID,
			Rank:                 len(members),
			Status:               newStatus,
			SeatedAt:             now,
			ReplacementOfJurorID: timedOutAgentID,
		}
		if newStatus == contracts.JurorStatusActiveVoting {
			member.VotingDeadline = &deadline
		} else {
			member.ReadyDeadline = &deadline
		}
		return e.jury.SeatPanelMember(ctx, member)
	}

	run, err := e.jury.LatestSelectionRun(ctx, caseID)
	if err == nil {
		if replacementID, ok := ReplacementFrom(run, ineligible); ok {
			if err := e.jury.MarkReplaced(ctx, caseID, timedOutAgentID, replacementID); err != nil {
				return "", false, fmt.Errorf("jury: mark replaced: %w", err)
			}
			if err := seat(replacementID); err != nil {
				return "", false, err
			}
			return replacementID, true, nil
		}
	}

	fresh, err := e.Select(ctx, caseID, keys(ineligible), panelSize)
	if err != nil {
		return "", false, fmt.Errorf("jury: fresh selection on replacement: %w", err)
	}
	if replacementID, ok := ReplacementFrom(fresh, ineligible); ok {
		if err := e.jury.MarkReplaced(ctx, caseID, timedOutAgentID, replacementID); err != nil {
			return "", false, err
		}
		if err := seat(replacementID); err != nil {
			return "", false, err
		}
		return replacementID, true, nil
	}
	return "", false, nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
