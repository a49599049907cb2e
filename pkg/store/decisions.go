package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencawt/court/pkg/contracts"
)

// DecisionRepo persists DecisionDraft and its accumulating signatures for
// the OCP N-of-M multisig decision flow.
type DecisionRepo struct{ db *sql.DB }

func NewDecisionRepo(db *sql.DB) *DecisionRepo { return &DecisionRepo{db: db} }

func (r *DecisionRepo) Create(ctx context.Context, d *contracts.DecisionDraft) error {
	signers, err := json.Marshal(d.RequiredSigners)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO decision_drafts (decision_id, agreement_id, outcome, payload_hash, required_signers, threshold, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DecisionID, d.AgreementID, d.Outcome, d.PayloadHash, string(signers), d.Threshold, d.Status, d.CreatedAt.UTC(), d.UpdatedAt.UTC())
	return err
}

func (r *DecisionRepo) Get(ctx context.Context, decisionID string) (*contracts.DecisionDraft, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT decision_id, agreement_id, outcome, payload_hash, required_signers, threshold, status, created_at, updated_at
		FROM decision_drafts WHERE decision_id = ?`, decisionID)

	var d contracts.DecisionDraft
	var signersJSON string
	var createdAt, updatedAt string
	if err := row.Scan(&d.DecisionID, &d.AgreementID, &d.Outcome, &d.PayloadHash, &signersJSON, &d.Threshold, &d.Status, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("decision not found")
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(signersJSON), &d.RequiredSigners); err != nil {
		return nil, err
	}
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)

	signatures, err := r.signatures(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	d.Signatures = signatures
	return &d, nil
}

func (r *DecisionRepo) signatures(ctx context.Context, decisionID string) ([]contracts.AgreementSignature, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT decision_id, signer_id, signature, signed_at FROM decision_signatures WHERE decision_id = ?`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contracts.AgreementSignature
	for rows.Next() {
		var s contracts.AgreementSignature
		var decID, signedAt string
		if err := rows.Scan(&decID, &s.SignerID, &s.Signature, &signedAt); err != nil {
			return nil, err
		}
		s.AgreementID = decID
		s.SignedAt = parseTime(signedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// AddSignature records one signer's signature toward the threshold. A
// repeat signature from a signer who already signed this decision is
// ignored (ON CONFLICT DO NOTHING), so no signer counts twice.
func (r *DecisionRepo) AddSignature(ctx context.Context, decisionID string, s contracts.AgreementSignature) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO decision_signatures (decision_id, signer_id, signature, signed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(decision_id, signer_id) DO NOTHING`,
		decisionID, s.SignerID, s.Signature, s.SignedAt.UTC())
	return err
}

func (r *DecisionRepo) UpdateStatus(ctx context.Context, decisionID string, status contracts.DecisionStatus, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE decision_drafts SET status = ?, updated_at = ? WHERE decision_id = ?`, status, at.UTC(), decisionID)
	return err
}
