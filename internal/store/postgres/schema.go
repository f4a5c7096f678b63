package postgres

import (
	"context"
	"fmt"
)

// schemaSQL is the full schema. Every statement is idempotent so Migrate can
// run on each start.
var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS source_invoices (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL DEFAULT '',
		customer_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS source_invoice_lines (
		invoice_id TEXT NOT NULL REFERENCES source_invoices(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		position INT NOT NULL,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		unit_price NUMERIC(18,6) NOT NULL CHECK (unit_price >= 0),
		tax_rate_percent NUMERIC(9,4) NOT NULL CHECK (tax_rate_percent >= 0),
		qty INT NOT NULL CHECK (qty > 0),
		PRIMARY KEY (invoice_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_source_invoices_created_at ON source_invoices (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS returns (
		id TEXT PRIMARY KEY,
		return_number TEXT NOT NULL UNIQUE,
		invoice_id TEXT NOT NULL REFERENCES source_invoices(id),
		customer_name TEXT NOT NULL DEFAULT '',
		total_refund NUMERIC(18,2) NOT NULL CHECK (total_refund >= 0),
		reason_code TEXT NOT NULL,
		reason_detail TEXT NOT NULL DEFAULT '',
		evidence_ref TEXT NOT NULL CHECK (evidence_ref <> ''),
		status TEXT NOT NULL CHECK (status IN ('awaiting_reconciliation', 'settled', 'voided')),
		status_note TEXT NOT NULL DEFAULT '',
		status_changed_at TIMESTAMPTZ,
		processed_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_returns_created_at ON returns (created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_returns_invoice_id ON returns (invoice_id)`,
	`CREATE TABLE IF NOT EXISTS return_lines (
		return_id TEXT NOT NULL REFERENCES returns(id) ON DELETE CASCADE,
		position INT NOT NULL,
		line_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		qty INT NOT NULL CHECK (qty > 0),
		unit_price NUMERIC(18,6) NOT NULL,
		tax_rate_percent NUMERIC(9,4) NOT NULL,
		subtotal NUMERIC(30,12) NOT NULL,
		PRIMARY KEY (return_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schemaSQL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
