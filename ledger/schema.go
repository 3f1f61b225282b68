package ledger

// Schema works on both SQLite and PostgreSQL. Amounts are stored as decimal
// strings so no precision is lost in either engine.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	instance_id TEXT PRIMARY KEY,
	cumulative_spent TEXT NOT NULL,
	window_start TIMESTAMP NOT NULL,
	duration_days INTEGER NOT NULL,
	version BIGINT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_receipts (
	receipt_id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	proposal_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	cumulative_after TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL,
	PRIMARY KEY (instance_id, proposal_id)
);
`
