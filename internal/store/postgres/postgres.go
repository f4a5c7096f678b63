package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/store"
	"apotekita/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
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
		VALUES ($1,$2,$3,$4)
	`, invoice.ID, invoice.CustomerID, invoice.CustomerName, invoice.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	for i, line := range invoice.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO source_invoice_lines (invoice_id, id, position, product_id, product_name, unit_price, tax_rate_percent, qty)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, invoice.ID, line.ID, i, line.ProductID, line.ProductName, line.UnitPrice, line.TaxRatePercent, line.Qty)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) FindInvoice(ctx context.Context, id string) (*domain.SourceInvoice, error) {
	var invoice domain.SourceInvoice
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, customer_name, created_at
		FROM source_invoices
		WHERE id = $1
	`, id).Scan(&invoice.ID, &invoice.CustomerID, &invoice.CustomerName, &invoice.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	invoice.CreatedAt = invoice.CreatedAt.UTC()

	lines, err := s.invoiceLines(ctx, []string{invoice.ID})
	if err != nil {
		return nil, err
	}
	invoice.Lines = lines[invoice.ID]
	return &invoice, nil
}

func (s *Store) SearchInvoices(ctx context.Context, keyword string, limit int) ([]domain.SourceInvoice, error) {
	if limit < 1 {
		limit = 25
	}
	pattern := "%" + escapeLike(strings.TrimSpace(keyword)) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, customer_name, created_at
		FROM source_invoices
		WHERE id ILIKE $1 OR customer_name ILIKE $1
		ORDER BY created_at DESC, id ASC
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.SourceInvoice, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var invoice domain.SourceInvoice
		if err := rows.Scan(&invoice.ID, &invoice.CustomerID, &invoice.CustomerName, &invoice.CreatedAt); err != nil {
			return nil, err
		}
		invoice.CreatedAt = invoice.CreatedAt.UTC()
		invoices = append(invoices, invoice)
		ids = append(ids, invoice.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return invoices, nil
	}

	lines, err := s.invoiceLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		invoices[i].Lines = lines[invoices[i].ID]
	}
	return invoices, nil
}

func (s *Store) invoiceLines(ctx context.Context, invoiceIDs []string) (map[string][]domain.SourceLineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT invoice_id, id, product_id, product_name, unit_price, tax_rate_percent, qty
		FROM source_invoice_lines
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, position
	`, invoiceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.SourceLineItem, len(invoiceIDs))
	for rows.Next() {
		var invoiceID string
		var line domain.SourceLineItem
		if err := rows.Scan(&invoiceID, &line.ID, &line.ProductID, &line.ProductName, &line.UnitPrice, &line.TaxRatePercent, &line.Qty); err != nil {
			return nil, err
		}
		result[invoiceID] = append(result[invoiceID], line)
	}
	return result, rows.Err()
}

// CreateReturn runs in a serializable transaction so two concurrent returns
// against the same invoice cannot both pass the cumulative quantity check.
// Serialization failures are retried a few times before surfacing.
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

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.createReturnTx(ctx, record)
		if !isSerializationFailure(err) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	created := record
	return &created, nil
}

func (s *Store) createReturnTx(ctx context.Context, record domain.ReturnRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	sold := make(map[string]int)
	rows, err := tx.QueryContext(ctx, `SELECT id, qty FROM source_invoice_lines WHERE invoice_id = $1`, record.InvoiceID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var lineID string
		var qty int
		if err := rows.Scan(&lineID, &qty); err != nil {
			rows.Close()
			return err
		}
		sold[lineID] = qty
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(sold) == 0 {
		return store.ErrNotFound
	}

	returned, err := returnedQty(ctx, tx, record.InvoiceID)
	if err != nil {
		return err
	}
	if err := store.CheckReturnable(sold, returned, record.Lines); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO returns (
			id, return_number, invoice_id, customer_name, total_refund, reason_code, reason_detail,
			evidence_ref, status, status_note, processed_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, record.ID, record.ReturnNumber, record.InvoiceID, record.CustomerName, record.TotalRefund,
		string(record.Reason.Code), record.Reason.Detail, string(record.Evidence), record.Status,
		record.StatusNote, record.ProcessedBy, record.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	for i, line := range record.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO return_lines (return_id, position, line_id, product_id, product_name, qty, unit_price, tax_rate_percent, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, record.ID, i, line.LineID, line.ProductID, line.ProductName, line.Qty, line.UnitPrice, line.TaxRatePercent, line.Subtotal)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func returnedQty(ctx context.Context, q queryer, invoiceID string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT rl.line_id, COALESCE(SUM(rl.qty), 0)::int
		FROM returns r
		JOIN return_lines rl ON rl.return_id = r.id
		WHERE r.invoice_id = $1 AND r.status <> 'voided'
		GROUP BY rl.line_id
	`, invoiceID)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReturn(row rowScanner) (domain.ReturnRecord, error) {
	var record domain.ReturnRecord
	var reasonCode, evidence string
	var changedAt sql.NullTime
	err := row.Scan(&record.ID, &record.ReturnNumber, &record.InvoiceID, &record.CustomerName, &record.TotalRefund,
		&reasonCode, &record.Reason.Detail, &evidence, &record.Status, &record.StatusNote, &changedAt,
		&record.ProcessedBy, &record.CreatedAt)
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	record.Reason.Code = domain.ReasonCode(reasonCode)
	record.Evidence = domain.EvidenceRef(evidence)
	record.CreatedAt = record.CreatedAt.UTC()
	if changedAt.Valid {
		at := changedAt.Time.UTC()
		record.StatusChangedAt = &at
	}
	return record, nil
}

// GetReturn accepts either the internal id or the return number.
func (s *Store) GetReturn(ctx context.Context, id string) (*domain.ReturnRecord, error) {
	record, err := scanReturn(s.db.QueryRowContext(ctx, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE id = $1 OR return_number = $1
		LIMIT 1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := s.attachReturnLines(ctx, []*domain.ReturnRecord{&record}); err != nil {
		return nil, err
	}
	return &record, nil
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

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM returns%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, returnColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]domain.ReturnRecord, 0, limit)
	for rows.Next() {
		record, err := scanReturn(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	ptrs := make([]*domain.ReturnRecord, len(records))
	for i := range records {
		ptrs[i] = &records[i]
	}
	if err := s.attachReturnLines(ctx, ptrs); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// returnFilterClause mirrors domain.ReturnFilter.Matches: inclusive bounds and
// a case-insensitive keyword over number, invoice and customer label.
func returnFilterClause(filter domain.ReturnFilter) (string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if filter.Keyword != "" {
		args = append(args, "%"+escapeLike(filter.Keyword)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(return_number ILIKE $%d OR invoice_id ILIKE $%d OR COALESCE(NULLIF(TRIM(customer_name), ''), '%s') ILIKE $%d)",
			n, n, domain.WalkInLabel, n))
	}
	if filter.Start != nil {
		args = append(args, filter.Start.UTC())
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.End != nil {
		args = append(args, filter.End.UTC())
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (s *Store) attachReturnLines(ctx context.Context, records []*domain.ReturnRecord) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	byID := make(map[string]*domain.ReturnRecord, len(records))
	for i, record := range records {
		ids[i] = record.ID
		byID[record.ID] = record
		record.Lines = []domain.ReturnLineEntry{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT return_id, line_id, product_id, product_name, qty, unit_price, tax_rate_percent, subtotal
		FROM return_lines
		WHERE return_id = ANY($1)
		ORDER BY return_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var returnID string
		var line domain.ReturnLineEntry
		if err := rows.Scan(&returnID, &line.LineID, &line.ProductID, &line.ProductName, &line.Qty, &line.UnitPrice, &line.TaxRatePercent, &line.Subtotal); err != nil {
			return err
		}
		if record, ok := byID[returnID]; ok {
			record.Lines = append(record.Lines, line)
		}
	}
	return rows.Err()
}

func (s *Store) UpdateReturnStatus(ctx context.Context, id string, target domain.ReturnStatus, note string, at time.Time) (*domain.ReturnRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current domain.ReturnStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM returns WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !current.CanTransitionTo(target) {
		return nil, store.ErrInvalidStatusTransition
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE returns
		SET status = $2, status_note = $3, status_changed_at = $4
		WHERE id = $1
	`, id, target, strings.TrimSpace(note), at.UTC())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetReturn(ctx, id)
}

func (s *Store) ClearAllReturns(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM returns`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
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
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
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

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
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
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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

func escapeLike(val string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(val)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}
