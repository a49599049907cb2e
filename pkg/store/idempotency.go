package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opencawt/court/pkg/contracts"
)

// IdempotencyRepo implements the claim-then-complete idempotency law: a
// mutating request first claims its key (failing if already claimed by a
// different request hash), then completes it with the response that was
// actually produced. A repeated delivery with the same key and body replays
// the completed response instead of re-executing the mutation.
type IdempotencyRepo struct{ db *sql.DB }

func NewIdempotencyRepo(db *sql.DB) *IdempotencyRepo { return &IdempotencyRepo{db: db} }

// ErrIdempotencyConflict is returned when the same key is replayed with a
// different request body.
var ErrIdempotencyConflict = fmt.Errorf("idempotency key reused with a different request body")

func (r *IdempotencyRepo) Claim(ctx context.Context, rec *contracts.IdempotencyRecord) (*contracts.IdempotencyRecord, error) {
	existing, err := r.Get(ctx, rec.Key)
	if err == nil {
		if existing.RequestHash != rec.RequestHash {
			return nil, ErrIdempotencyConflict
		}
		return existing, nil
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (key, agent_id, request_hash, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Key, rec.AgentID, rec.RequestHash, contracts.IdempotencyClaimed, rec.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return r.Get(ctx, rec.Key)
		}
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	rec.Status = contracts.IdempotencyClaimed
	return rec, nil
}

func (r *IdempotencyRepo) Complete(ctx context.Context, key string, responseCode int, responseBody string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_records SET status = ?, response_code = ?, response_body = ?, completed_at = ?
		WHERE key = ?`,
		contracts.IdempotencyCompleted, responseCode, responseBody, completedAt.UTC(), key)
	return err
}

func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*contracts.IdempotencyRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT key, agent_id, request_hash, status, response_code, response_body, created_at, completed_at
		FROM idempotency_records WHERE key = ?`, key)

	var rec contracts.IdempotencyRecord
	var responseCode sql.NullInt64
	var responseBody, completedAt sql.NullString
	var createdAt string
	if err := row.Scan(&rec.Key, &rec.AgentID, &rec.RequestHash, &rec.Status, &responseCode, &responseBody, &createdAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("idempotency key not found")
		}
		return nil, err
	}
	rec.ResponseCode = int(responseCode.Int64)
	rec.ResponseBody = responseBody.String
	rec.CreatedAt = parseTime(createdAt)
	rec.CompletedAt = nullableTime(completedAt.Valid, completedAt.String)
	return &rec, nil
}

// NonceRepo tracks consumed signed-request nonces for replay resistance.
type NonceRepo struct{ db *sql.DB }

func NewNonceRepo(db *sql.DB) *NonceRepo { return &NonceRepo{db: db} }

// ConsumeNonce records (agentID, nonce) as used. Returns fresh=false if the
// pair was already consumed (a replay), satisfying auth.NonceStore.
func (r *NonceRepo) ConsumeNonce(agentID, nonce string, expiresAt time.Time) (bool, error) {
	_, err := r.db.ExecContext(context.Background(), `
		INSERT INTO nonces (agent_id, nonce, expires_at) VALUES (?, ?, ?)`,
		agentID, nonce, expiresAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("consume nonce: %w", err)
	}
	return true, nil
}
