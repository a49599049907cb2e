// Package solanafee verifies treasury-fee transactions referenced by OCP
// agreement proposals. Only fee-verification plumbing is modeled — Solana
// priority-fee estimation internals are explicitly out of scope (spec
// non-goal).
package solanafee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const callTimeout = 10 * time.Second

// TxStatus is the verified state of a referenced treasury transaction.
type TxStatus struct {
	Finalized   bool   `json:"finalized"`
	AmountPaid  int64  `json:"amount_paid"`
	PayerPubkey string `json:"payer_pubkey"`
}

// Client verifies a treasury transaction signature.
type Client interface {
	VerifyTx(ctx context.Context, txSignature string) (TxStatus, error)
}

// StubClient treats every referenced signature as a finalized payment of
// an arbitrarily large amount, for deployments that don't enforce fee
// verification.
type StubClient struct{}

func NewStubClient() *StubClient { return &StubClient{} }

func (s *StubClient) VerifyTx(ctx context.Context, txSignature string) (TxStatus, error) {
	return TxStatus{Finalized: true, AmountPaid: 1 << 30, PayerPubkey: ""}, nil
}

// RPCClient calls a real Solana JSON-RPC endpoint's getTransaction method.
type RPCClient struct {
	rpcURL string
	http   *http.Client
}

func NewRPCClient(rpcURL string) *RPCClient {
	return &RPCClient{rpcURL: rpcURL, http: &http.Client{Timeout: callTimeout}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result *struct {
		Meta struct {
			Err any `json:"err"`
		} `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	} `json:"result"`
}

func (c *RPCClient) VerifyTx(ctx context.Context, txSignature string) (TxStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params:  []any{txSignature, map[string]string{"encoding": "json"}},
	})
	if err != nil {
		return TxStatus{}, fmt.Errorf("solanafee: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return TxStatus{}, fmt.Errorf("solanafee: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return TxStatus{}, fmt.Errorf("solanafee: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return TxStatus{}, fmt.Errorf("solanafee: unexpected status %d", resp.StatusCode)
	}
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TxStatus{}, fmt.Errorf("solanafee: decode response: %w", err)
	}
	if out.Result == nil {
		return TxStatus{Finalized: false}, nil
	}
	return TxStatus{Finalized: out.Result.Meta.Err == nil}, nil
}
