// Package drand is a thin client over a public distributed-randomness
// beacon: the only non-deterministic input to jury selection. Grounded on
// the bounded-timeout, stub-or-rpc client shape used throughout the court's
// external integrations (judge, mint worker, Solana fee RPC).
package drand

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const callTimeout = 5 * time.Second

// Round is one drand beacon output: a round number and its randomness,
// hex-encoded.
type Round struct {
	Round      int64  `json:"round"`
	Randomness string `json:"randomness"`
}

// Client fetches the latest drand round.
type Client interface {
	Latest(ctx context.Context) (Round, error)
}

// StubClient derives a deterministic pseudo-round from the current wall
// clock's minute bucket, so repeated calls within a test within the same
// bucket return the same round without a network dependency.
type StubClient struct{}

func NewStubClient() *StubClient { return &StubClient{} }

func (s *StubClient) Latest(ctx context.Context) (Round, error) {
	bucket := time.Now().UTC().Unix() / 60 // new stub round every minute
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(bucket))
	digest := sha256.Sum256(buf[:])
	return Round{Round: bucket, Randomness: hex.EncodeToString(digest[:])}, nil
}

// RPCClient calls a real drand HTTP gateway (e.g. https://api.drand.sh).
type RPCClient struct {
	baseURL string
	http    *http.Client
}

func NewRPCClient(baseURL string) *RPCClient {
	return &RPCClient{baseURL: baseURL, http: &http.Client{Timeout: callTimeout}}
}

func (c *RPCClient) Latest(ctx context.Context) (Round, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return Round{}, fmt.Errorf("drand: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Round{}, fmt.Errorf("drand: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Round{}, fmt.Errorf("drand: unexpected status %d", resp.StatusCode)
	}
	var out Round
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Round{}, fmt.Errorf("drand: decode response: %w", err)
	}
	return out, nil
}
