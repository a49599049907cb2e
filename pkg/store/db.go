// Package store is the SQLite-backed durable persistence layer for the
// court: agents, cases, jury runs, ballots, seal jobs, idempotency records
// and nonces. One *sql.DB is shared across repositories; WAL mode is
// enabled at open time and migrations run in order at boot, mirroring the
// teacher's receipt store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"
)

// Open opens (creating if absent) the SQLite database at path, enables WAL
// mode and foreign keys, and runs pending migrations in order.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer: modernc.org/sqlite serializes writers anyway

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

var migrations = map[string]string{
	"0001_agents": `
		CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			notify_url TEXT,
			status TEXT NOT NULL,
			bans JSON,
			juror_eligible INTEGER NOT NULL DEFAULT 0,
			profile TEXT,
			weekly_jury_cap INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(agent_id),
			key_hash TEXT NOT NULL,
			prefix TEXT NOT NULL,
			label TEXT,
			created_at DATETIME NOT NULL,
			revoked_at DATETIME,
			last_used_at DATETIME
		);`,
	"0002_cases": `
		CREATE TABLE IF NOT EXISTS cases (
			case_id TEXT PRIMARY KEY,
			filing_agent_id TEXT NOT NULL,
			defence_agent_id TEXT,
			claim_summary TEXT,
			court_mode TEXT NOT NULL,
			stage TEXT NOT NULL,
			void_reason TEXT,
			stage_entered_at DATETIME NOT NULL,
			stage_deadline DATETIME,
			drand_round INTEGER,
			drand_randomness TEXT,
			pool_snapshot_hash TEXT,
			selection_proof JSON,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			seal_job_id TEXT,
			screening_attempts INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS submissions (
			submission_id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL REFERENCES cases(case_id),
			agent_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			body JSON NOT NULL,
			submitted_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS transcript_events (
			event_id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL REFERENCES cases(case_id),
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			body JSON NOT NULL,
			event_hash TEXT NOT NULL,
			recorded_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transcript_case_seq ON transcript_events(case_id, seq);`,
	"0003_jury": `
		CREATE TABLE IF NOT EXISTS jury_selection_runs (
			run_id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL REFERENCES cases(case_id),
			randomness TEXT NOT NULL,
			randomness_round INTEGER,
			pool_snapshot_hash TEXT NOT NULL,
			panel_size INTEGER NOT NULL,
			candidates JSON NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS jury_panel_members (
			case_id TEXT NOT NULL REFERENCES cases(case_id),
			agent_id TEXT NOT NULL,
			rank INTEGER NOT NULL,
			status TEXT NOT NULL,
			seated_at DATETIME NOT NULL,
			replaced_at DATETIME,
			replaced_by TEXT,
			PRIMARY KEY (case_id, agent_id)
		);
		CREATE TABLE IF NOT EXISTS ballots (
			case_id TEXT NOT NULL REFERENCES cases(case_id),
			agent_id TEXT NOT NULL,
			claim_votes JSON NOT NULL,
			verdict TEXT NOT NULL,
			reasoning_summary TEXT,
			principles_relied_on JSON,
			ballot_hash TEXT NOT NULL,
			signature TEXT NOT NULL,
			cast_at DATETIME NOT NULL,
			PRIMARY KEY (case_id, agent_id)
		);
		CREATE TABLE IF NOT EXISTS verdict_tallies (
			case_id TEXT PRIMARY KEY REFERENCES cases(case_id),
			claim_outcomes JSON NOT NULL,
			outcome TEXT NOT NULL,
			verdict_hash TEXT NOT NULL,
			tallied_at DATETIME NOT NULL
		);`,
	"0004_seal": `
		CREATE TABLE IF NOT EXISTS seal_jobs (
			job_id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL REFERENCES cases(case_id),
			status TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 0,
			transcript_root_hash TEXT,
			seal_hash TEXT,
			treasury_tx_ref TEXT,
			mint_job_ref TEXT,
			last_error TEXT,
			next_attempt_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			sealed_at DATETIME
		);
		CREATE TABLE IF NOT EXISTS used_treasury_tx (
			tx_signature TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			consumed_at DATETIME NOT NULL
		);`,
	"0005_idempotency": `
		CREATE TABLE IF NOT EXISTS idempotency_records (
			key TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			response_code INTEGER,
			response_body TEXT,
			created_at DATETIME NOT NULL,
			completed_at DATETIME
		);
		CREATE TABLE IF NOT EXISTS nonces (
			agent_id TEXT NOT NULL,
			nonce TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			PRIMARY KEY (agent_id, nonce)
		);`,
	"0006_ocp": `
		CREATE TABLE IF NOT EXISTS agreements (
			agreement_id TEXT PRIMARY KEY,
			agreement_code TEXT NOT NULL UNIQUE,
			party_a_id TEXT NOT NULL,
			party_b_id TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'private',
			terms JSON NOT NULL,
			terms_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			mint_asset_id TEXT,
			mint_tx_sig TEXT,
			expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_agreements_parties_terms ON agreements(party_a_id, party_b_id, terms_hash);
		CREATE TABLE IF NOT EXISTS agreement_signatures (
			agreement_id TEXT NOT NULL REFERENCES agreements(agreement_id),
			signer_id TEXT NOT NULL,
			signature TEXT NOT NULL,
			signed_at DATETIME NOT NULL,
			PRIMARY KEY (agreement_id, signer_id)
		);
		CREATE TABLE IF NOT EXISTS attestations (
			attestation_id TEXT PRIMARY KEY,
			agreement_id TEXT NOT NULL REFERENCES agreements(agreement_id),
			outcome TEXT NOT NULL,
			signatures JSON NOT NULL,
			attestation_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
	"0007_webhook_secret": `
		ALTER TABLE agents ADD COLUMN webhook_secret TEXT NOT NULL DEFAULT '';`,
	"0008_decisions": `
		CREATE TABLE IF NOT EXISTS decision_drafts (
			decision_id TEXT PRIMARY KEY,
			agreement_id TEXT NOT NULL REFERENCES agreements(agreement_id),
			outcome TEXT NOT NULL,
			payload_hash TEXT NOT NULL,
			required_signers JSON NOT NULL,
			threshold INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS decision_signatures (
			decision_id TEXT NOT NULL REFERENCES decision_drafts(decision_id),
			signer_id TEXT NOT NULL,
			signature TEXT NOT NULL,
			signed_at DATETIME NOT NULL,
			PRIMARY KEY (decision_id, signer_id)
		);`,
	"0009_submission_stage": `
			ALTER TABLE submissions ADD COLUMN stage TEXT NOT NULL DEFAULT '';`,
	"0010_seal_verdict_hash": `
			ALTER TABLE seal_jobs ADD COLUMN verdict_hash TEXT NOT NULL DEFAULT '';`,
	"0011_jury_readiness": `
			ALTER TABLE cases ADD COLUMN jury_readiness_windows INTEGER NOT NULL DEFAULT 0;
			ALTER TABLE jury_panel_members ADD COLUMN ready_deadline DATETIME;
			ALTER TABLE jury_panel_members ADD COLUMN voting_deadline DATETIME;
			ALTER TABLE jury_panel_members ADD COLUMN replacement_of TEXT;`,
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP);`); err != nil {
		return err
	}

	names := make([]string, 0, len(migrations))
	for name := range migrations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var exists int
		row := db.QueryRowContext(context.Background(), `SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name)
		if err := row.Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[name]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name) VALUES (?)`, name); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
