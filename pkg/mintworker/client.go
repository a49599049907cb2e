// Package mintworker is a thin, idempotent client over the on-chain seal
// minting service. Only the HTTP contract and idempotent result model are
// modeled here — the Solana program internals are explicitly out of scope
// (spec non-goal).
package mintworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const callTimeout = 15 * time.Second

// SealRequest asks the mint worker to mint an immutable receipt for a
// sealHash, idempotently keyed by jobID so a retried attempt after a
// timeout does not mint twice.
type SealRequest struct {
	JobID       string `json:"job_id"`
	SealHash    string `json:"seal_hash"`
	MetadataURI string `json:"metadata_uri,omitempty"`
}

type SealResult struct {
	MintJobRef string `json:"mint_job_ref"`
	AssetID    string `json:"asset_id"`
	TxSig      string `json:"tx_sig"`
}

// Client mints a seal receipt. A Go error means the attempt did not
// complete (timeout, transport failure, non-2xx) and the caller's retry
// loop should back off and try again with the same jobID.
type Client interface {
	Seal(ctx context.Context, req SealRequest) (SealResult, error)
}

// StubClient deterministically "mints" a seal by deriving asset/tx
// identifiers from the job id and seal hash, with no network dependency.
type StubClient struct{}

func NewStubClient() *StubClient { return &StubClient{} }

func (s *StubClient) Seal(ctx context.Context, req SealRequest) (SealResult, error) {
	return SealResult{
		MintJobRef: "stub-mint-" + req.JobID,
		AssetID:    "stub-asset-" + req.SealHash[:minInt(12, len(req.SealHash))],
		TxSig:      "stub-tx-" + req.JobID,
	}, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// RPCClient calls a real mint worker HTTP service, bearer-token
// authenticated.
type RPCClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewRPCClient(baseURL, token string) *RPCClient {
	return &RPCClient{baseURL: baseURL, token: token, http: &http.Client{Timeout: callTimeout}}
}

func (c *RPCClient) Seal(ctx context.Context, req SealRequest) (SealResult, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return SealResult{}, fmt.Errorf("mintworker: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return SealResult{}, fmt.Errorf("mintworker: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return SealResult{}, fmt.Errorf("mintworker: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return SealResult{}, fmt.Errorf("mintworker: unexpected status %d", resp.StatusCode)
	}
	var out SealResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SealResult{}, fmt.Errorf("mintworker: decode response: %w", err)
	}
	return out, nil
}
