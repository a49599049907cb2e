package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const callTimeout = 10 * time.Second

// RPCClient calls an external judge service over HTTP, one endpoint per
// call kind, each under its own bounded timeout. Grounded on the teacher's
// OpenAI HTTP client shape (request struct, timeout'd http.Client, decode
// response), generalized from chat completions to the court's four judge
// call kinds.
type RPCClient struct {
	baseURL string
	http    *http.Client
}

func NewRPCClient(baseURL string) *RPCClient {
	return &RPCClient{baseURL: baseURL, http: &http.Client{Timeout: callTimeout}}
}

func (c *RPCClient) Screen(ctx context.Context, req ScreeningRequest) Outcome[ScreeningResult] {
	var res ScreeningResult
	if err := c.call(ctx, "/screen", req, &res); err != nil {
		return failed[ScreeningResult](err.Error())
	}
	return ok(res)
}

func (c *RPCClient) Tiebreak(ctx context.Context, req TiebreakRequest) Outcome[TiebreakResult] {
	var res TiebreakResult
	if err := c.call(ctx, "/tiebreak", req, &res); err != nil {
		return failed[TiebreakResult](err.Error())
	}
	return ok(res)
}

func (c *RPCClient) Remedy(ctx context.Context, req RemedyRequest) Outcome[RemedyResult] {
	var res RemedyResult
	if err := c.call(ctx, "/remedy", req, &res); err != nil {
		return failed[RemedyResult](err.Error())
	}
	return ok(res)
}

func (c *RPCClient) StageAdvisory(ctx context.Context, req StageAdvisoryRequest) Outcome[StageAdvisoryResult] {
	var res StageAdvisoryResult
	if err := c.call(ctx, "/stage-advisory", req, &res); err != nil {
		return failed[StageAdvisoryResult](err.Error())
	}
	return ok(res)
}

func (c *RPCClient) call(ctx context.Context, path string, reqBody, respBody any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("judge: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("judge: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("judge: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("judge: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("judge: decode response: %w", err)
	}
	return nil
}
