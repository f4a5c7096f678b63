// Package sqlite is the single-file repository used by one-counter
// deployments and by returnsctl. Money is stored as decimal TEXT and times as
// fixed-width UTC TEXT so that both compare correctly as strings.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/store"
	"apotekita/backend/internal/xid"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS source_invoices (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL DEFAULT '',
	customer_name TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS source_invoice_lines (
	invoice_id TEXT NOT NULL REFERENCES source_invoices(id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	position INTEGER NOT NULL,
	product_id TEXT NOT NULL,
	product_name TEXT NOT NULL,
	unit_price TEXT NOT NULL,
	tax_rate_percent TEXT NOT NULL,
	qty INTEGER NOT NULL CHECK (qty > 0),
	PRIMARY KEY (invoice_id, id)
);

CREATE TABLE IF NOT EXISTS returns (
	id TEXT PRIMARY KEY,
	return_number TEXT NOT NULL UNIQUE,
	invoice_id TEXT NOT NULL REFERENCES source_invoices(id),
	customer_name TEXT NOT NULL DEFAULT '',
	total_refund TEXT NOT NULL,
	reason_code TEXT NOT NULL,
	reason_detail TEXT NOT NULL DEFAULT '',
	evidence_ref TEXT NOT NULL CHECK (evidence_ref <> ''),
	status TEXT NOT NULL CHECK (status IN ('awaiting_reconciliation', 'settled', 'voided')),
	status_note TEXT NOT NULL DEFAULT '',
	status_changed_at TEXT,
	processed_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_returns_created_at ON returns (created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_returns_invoice_id ON returns (invoice_id);

CREATE TABLE IF NOT EXISTS return_lines (
	return_id TEXT NOT NULL REFERENCES returns(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	line_id TEXT NOT NULL,
	product_id TEXT NOT NULL,
	product_name TEXT NOT NULL,
	qty INTEGER NOT NULL CHECK (qty > 0),
	unit_price TEXT NOT NULL,
	tax_rate_percent TEXT NOT NULL,
	subtotal TEXT NOT NULL,
	PRIMARY KEY (return_id, position)
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	actor_username TEXT NOT NULL,
	actor_role TEXT NOT NULL,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS app_users (
	username TEXT PRIMARY KEY,
	password TEXT NOT NULL,
	role TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// driverName is go-sqlite3 with a fold() function that lowercases the way
// Go does, so keyword matching covers non-ASCII names. SQLite's own lower()
// only folds ASCII.
const driverName = "sqlite3_fold"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("fold", strings.ToLower, true)
		},
	})
}

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. ":memory:" gives a private
// in-memory database, used by tests.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file::memory:?_foreign_keys=on"
	if path != ":memory:" {
		dsn = "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	// SQLite has one writer; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

func (s *Store) CreateInvoice(ctx context.Context, invoice domain.SourceInvoice) error {
	if err := store.ValidateInvoice(invoice); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO source_invoices (id, customer_id, customer_name, created_at)
		VALUES (?,?,?,?)
	`, invoice.ID, invoice.CustomerID, invoice.CustomerName, formatTime(invoice.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	for i, line := range invoice.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO source_invoice_lines (invoice_id, id, position, product_id, product_name, unit_price, tax_rate_percent, qty)
			VALUES (?,?,?,?,?,?,?,?)
		`, invoice.ID, line.ID, i, line.ProductID, line.ProductName, line.UnitPrice.String(), line.TaxRatePercent.String(), line.Qty)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) FindInvoice(ctx context.Context, id string) (*domain.SourceInvoice, error) {
	invoices, err := s.queryInvoices(ctx, `
		SELECT id, customer_id, customer_name, created_at
		FROM source_invoices
		WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, store.ErrNotFound
	}
	return &invoices[0], nil
}

func (s *Store) SearchInvoices(ctx context.Context, keyword string, limit int) ([]domain.SourceInvoice, error) {
	if limit < 1 {
		limit = 25
	}
	pattern := "%" + escapeLike(strings.TrimSpace(keyword)) + "%"
	return s.queryInvoices(ctx, `
		SELECT id, customer_id, customer_name, created_at
		FROM source_invoices
		WHERE fold(id) LIKE fold(?) ESCAPE '\' OR fold(customer_name) LIKE fold(?) ESCAPE '\'
		ORDER BY created_at DESC, id ASC
		LIMIT ?
	`, pattern, pattern, limit)
}

func (s *Store) queryInvoices(ctx context.Context, query string, args ...any) ([]domain.SourceInvoice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	invoices := make([]domain.SourceInvoice, 0, 8)
	for rows.Next() {
		var invoice domain.SourceInvoice
		var createdAt string
		if err := rows.Scan(&invoice.ID, &invoice.CustomerID, &invoice.CustomerName, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		if invoice.CreatedAt, err = parseTime(createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		invoices = append(invoices, invoice)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range invoices {
		lines, err := s.invoiceLines(ctx, invoices[i].ID)
		if err != nil {
			return nil, err
		}
		invoices[i].Lines = lines
	}
	return invoices, nil
}

func (s *Store) invoiceLines(ctx context.Context, invoiceID string) ([]domain.SourceLineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, unit_price, tax_rate_percent, qty
		FROM source_invoice_lines
		WHERE invoice_id = ?
		ORDER BY position
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SourceLineItem, 0, 4)
	for rows.Next() {
		var line domain.SourceLineItem
		if err := rows.Scan(&line.ID, &line.ProductID, &line.ProductName, &line.UnitPrice, &line.TaxRatePercent, &line.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// CreateReturn checks cumulative quantities and writes header and lines in
// one transaction. The single connection serializes concurrent submits.
func (s *Store) CreateReturn(ctx context.Context, record domain.ReturnRecord) (*domain.ReturnRecord, error) {
	if record.ID == "" {
		record.ID = xid.New("ret")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if err := store.ValidateReturn(record); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sold, err := soldQty(ctx, tx, record.InvoiceID)
	if err != nil {
		return nil, err
	}
	if len(sold) == 0 {
		return nil, store.ErrNotFound
	}
	returned, err := returnedQty(ctx, tx, record.InvoiceID)
	if err != nil {
		return nil, err
	}
	if err := store.CheckReturnable(sold, returned, record.Lines); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO returns (
			id, return_number, invoice_id, customer_name, total_refund, reason_code, reason_detail,
			evidence_ref, status, status_note, processed_by, created_at
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`, record.ID, record.ReturnNumber, record.InvoiceID, record.CustomerName, record.TotalRefund.String(),
		string(record.Reason.Code), record.Reason.Detail, string(record.Evidence), record.Status,
		record.StatusNote, record.ProcessedBy, formatTime(record.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	for i, line := range record.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO return_lines (return_id, position, line_id, product_id, product_name, qty, unit_price, tax_rate_percent, subtotal)
			VALUES (?,?,?,?,?,?,?,?,?)
		`, record.ID, i, line.LineID, line.ProductID, line.ProductName, line.Qty,
			line.UnitPrice.String(), line.TaxRatePercent.String(), line.Subtotal.String())
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := record
	created.CreatedAt = record.CreatedAt.UTC()
	return &created, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func soldQty(ctx context.Context, q queryer, invoiceID string) (map[string]int, error) {
	return qtyMap(ctx, q, `SELECT id, qty FROM source_invoice_lines WHERE invoice_id = ?`, invoiceID)
}

func returnedQty(ctx context.Context, q queryer, invoiceID string) (map[string]int, error) {
	return qtyMap(ctx, q, `
		SELECT rl.line_id, COALESCE(SUM(rl.qty), 0)
		FROM returns r
		JOIN return_lines rl ON rl.return_id = r.id
		WHERE r.invoice_id = ? AND r.status <> 'voided'
		GROUP BY rl.line_id
	`, invoiceID)
}

func qtyMap(ctx context.Context, q queryer, query string, invoiceID string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var lineID string
		var qty int
		if err := rows.Scan(&lineID, &qty); err != nil {
			return nil, err
		}
		result[lineID] = qty
	}
	return result, rows.Err()
}

func (s *Store) GetReturnedQtyByInvoice(ctx context.Context, invoiceID string) (map[string]int, error) {
	return returnedQty(ctx, s.db, invoiceID)
}

const returnColumns = `id, return_number, invoice_id, customer_name, total_refund, reason_code, reason_detail,
	evidence_ref, status, status_note, status_changed_at, processed_by, created_at`

func (s *Store) GetReturn(ctx context.Context, id string) (*domain.ReturnRecord, error) {
	records, err := s.queryReturns(ctx, `SELECT `+returnColumns+` FROM returns WHERE id = ? OR return_number = ? LIMIT 1`, id, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	return &records[0], nil
}

func (s *Store) QueryReturns(ctx context.Context, filter domain.ReturnFilter, offset int, limit int) ([]domain.ReturnRecord, int64, error) {
	where, args := returnFilterClause(filter)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM returns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	if total == 0 || int64(offset) >= total {
		return []domain.ReturnRecord{}, total, nil
	}
	if limit < 1 {
		limit = int(total)
	}

	records, err := s.queryReturns(ctx,
		`SELECT `+returnColumns+` FROM returns`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func returnFilterClause(filter domain.ReturnFilter) (string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if filter.Keyword != "" {
		pattern := "%" + escapeLike(filter.Keyword) + "%"
		conditions = append(conditions, `(fold(return_number) LIKE fold(?) ESCAPE '\'
			OR fold(invoice_id) LIKE fold(?) ESCAPE '\'
			OR fold(COALESCE(NULLIF(trim(customer_name), ''), '`+domain.WalkInLabel+`')) LIKE fold(?) ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	if filter.Start != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, formatTime(*filter.Start))
	}
	if filter.End != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, formatTime(*filter.End))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (s *Store) queryReturns(ctx context.Context, query string, args ...any) ([]domain.ReturnRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	records := make([]domain.ReturnRecord, 0, 16)
	for rows.Next() {
		record, err := scanReturn(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, record)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		lines, err := s.returnLines(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Lines = lines
	}
	return records, nil
}

func scanReturn(rows *sql.Rows) (domain.ReturnRecord, error) {
	var record domain.ReturnRecord
	var reasonCode, evidence, createdAt string
	var changedAt sql.NullString
	err := rows.Scan(&record.ID, &record.ReturnNumber, &record.InvoiceID, &record.CustomerName, &record.TotalRefund,
		&reasonCode, &record.Reason.Detail, &evidence, &record.Status, &record.StatusNote, &changedAt,
		&record.ProcessedBy, &createdAt)
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	record.Reason.Code = domain.ReasonCode(reasonCode)
	record.Evidence = domain.EvidenceRef(evidence)
	if record.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.ReturnRecord{}, err
	}
	if changedAt.Valid {
		at, err := parseTime(changedAt.String)
		if err != nil {
			return domain.ReturnRecord{}, err
		}
		record.StatusChangedAt = &at
	}
	return record, nil
}

func (s *Store) returnLines(ctx context.Context, returnID string) ([]domain.ReturnLineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT line_id, product_id, product_name, qty, unit_price, tax_rate_percent, subtotal
		FROM return_lines
		WHERE return_id = ?
		ORDER BY position
	`, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.ReturnLineEntry, 0, 4)
	for rows.Next() {
		var line domain.ReturnLineEntry
		if err := rows.Scan(&line.LineID, &line.ProductID, &line.ProductName, &line.Qty, &line.UnitPrice, &line.TaxRatePercent, &line.Subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) UpdateReturnStatus(ctx context.Context, id string, target domain.ReturnStatus, note string, at time.Time) (*domain.ReturnRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current domain.ReturnStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM returns WHERE id = ?`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !current.CanTransitionTo(target) {
		return nil, store.ErrInvalidStatusTransition
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE returns SET status = ?, status_note = ?, status_changed_at = ? WHERE id = ?
	`, target, strings.TrimSpace(note), formatTime(at), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetReturn(ctx, id)
}

func (s *Store) ClearAllReturns(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lines are deleted explicitly in case foreign keys are off on this file.
	if _, err := tx.ExecContext(ctx, `DELETE FROM return_lines`); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM returns`)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return deleted, tx.Commit()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, formatTime(entry.CreatedAt))
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, formatTime(from), formatTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 16)
	for rows.Next() {
		var entry domain.AuditLog
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &createdAt); err != nil {
			return nil, err
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
	`, user.Username, user.Password, user.Role, user.Active, formatTime(user.CreatedAt), formatTime(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		var createdAt string
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &createdAt); err != nil {
			return nil, err
		}
		if user.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = ?, updated_at = ? WHERE username = ?
	`, password, formatTime(time.Now()), username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", raw, err)
	}
	return t, nil
}

func escapeLike(val string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(val)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
