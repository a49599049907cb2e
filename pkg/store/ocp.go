package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencawt/court/pkg/contracts"
)

// ErrDuplicateAgreement is returned when a proposed agreement's termsHash
// (and therefore its derived agreementCode) collides with an existing one.
var ErrDuplicateAgreement = fmt.Errorf("duplicate agreement terms")

// AgreementRepo persists CanonicalAgreement, AgreementSignature and
// Attestation records for the OCP contracting protocol.
type AgreementRepo struct{ db *sql.DB }

func NewAgreementRepo(db *sql.DB) *AgreementRepo { return &AgreementRepo{db: db} }

func (r *AgreementRepo) Create(ctx context.Context, a *contracts.CanonicalAgreement) error {
	terms, err := json.Marshal(a.Terms)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agreements (agreement_id, agreement_code, party_a_id, party_b_id, mode, terms, terms_hash, status, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AgreementID, a.AgreementCode, a.PartyAID, a.PartyBID, a.Mode, string(terms), a.TermsHash, a.Status, nullTimeVal(a.ExpiresAt), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAgreement
		}
		return fmt.Errorf("insert agreement: %w", err)
	}
	return nil
}

func (r *AgreementRepo) Get(ctx context.Context, agreementID string) (*contracts.CanonicalAgreement, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT agreement_id, agreement_code, party_a_id, party_b_id, mode, terms, terms_hash, status, mint_asset_id, mint_tx_sig, expires_at, created_at, updated_at
		FROM agreements WHERE agreement_id = ?`, agreementID)
	return scanAgreement(row)
}

func (r *AgreementRepo) GetByCode(ctx context.Context, code string) (*contracts.CanonicalAgreement, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT agreement_id, agreement_code, party_a_id, party_b_id, mode, terms, terms_hash, status, mint_asset_id, mint_tx_sig, expires_at, created_at, updated_at
		FROM agreements WHERE agreement_code = ?`, code)
	return scanAgreement(row)
}

// ExistsActiveForPartiesTerms reports whether an agreement between the same
// ordered (partyA, partyB) pair with the same termsHash is still pending
// or accepted, per spec's duplicate-proposal rejection rule.
func (r *AgreementRepo) ExistsActiveForPartiesTerms(ctx context.Context, partyAID, partyBID, termsHash string) (bool, error) {
	var count int
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM agreements
		WHERE party_a_id = ? AND party_b_id = ? AND terms_hash = ? AND status IN (?, ?)`,
		partyAID, partyBID, termsHash, contracts.AgreementPending, contracts.AgreementAccepted)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanAgreement(row *sql.Row) (*contracts.CanonicalAgreement, error) {
	var a contracts.CanonicalAgreement
	var termsJSON string
	var mintAssetID, mintTxSig, expiresAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&a.AgreementID, &a.AgreementCode, &a.PartyAID, &a.PartyBID, &a.Mode, &termsJSON, &a.TermsHash, &a.Status,
		&mintAssetID, &mintTxSig, &expiresAt, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("agreement not found")
		}
		return nil, err
	}
	a.MintAssetID = mintAssetID.String
	a.MintTxSig = mintTxSig.String
	if expiresAt.Valid {
		a.ExpiresAt = parseTime(expiresAt.String)
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(termsJSON), &a.Terms); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AgreementRepo) UpdateStatus(ctx context.Context, agreementID string, status contracts.AgreementStatus, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE agreements SET status = ?, updated_at = ? WHERE agreement_id = ?`, status, at.UTC(), agreementID)
	return err
}

// Seal records a successful mint and transitions the agreement to its
// final sealed status.
func (r *AgreementRepo) Seal(ctx context.Context, agreementID, mintAssetID, mintTxSig string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE agreements SET status = ?, mint_asset_id = ?, mint_tx_sig = ?, updated_at = ? WHERE agreement_id = ?`,
		contracts.AgreementSealed, mintAssetID, mintTxSig, at.UTC(), agreementID)
	return err
}

func (r *AgreementRepo) AddSignature(ctx context.Context, s *contracts.AgreementSignature) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agreement_signatures (agreement_id, signer_id, signature, signed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agreement_id, signer_id) DO NOTHING`,
		s.AgreementID, s.SignerID, s.Signature, s.SignedAt.UTC())
	return err
}

func (r *AgreementRepo) Signatures(ctx context.Context, agreementID string) ([]*contracts.AgreementSignature, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agreement_id, signer_id, signature, signed_at FROM agreement_signatures WHERE agreement_id = ?`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*contracts.AgreementSignature
	for rows.Next() {
		var s contracts.AgreementSignature
		var signedAt string
		if err := rows.Scan(&s.AgreementID, &s.SignerID, &s.Signature, &signedAt); err != nil {
			return nil, err
		}
		s.SignedAt = parseTime(signedAt)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *AgreementRepo) SaveAttestation(ctx context.Context, at *contracts.Attestation) error {
	signatures, err := json.Marshal(at.Signatures)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO attestations (attestation_id, agreement_id, outcome, signatures, attestation_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		at.AttestationID, at.AgreementID, at.Outcome, string(signatures), at.AttestationHash, at.CreatedAt.UTC())
	return err
}
