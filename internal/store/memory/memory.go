package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/logger"
	"apotekita/backend/internal/store"
	"apotekita/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	invoices        map[string]domain.SourceInvoice
	returnsByID     map[string]domain.ReturnRecord
	returnNumbers   map[string]string
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	log             zerolog.Logger
}

func New() *Store {
	return &Store{
		invoices:        make(map[string]domain.SourceInvoice),
		returnsByID:     make(map[string]domain.ReturnRecord),
		returnNumbers:   make(map[string]string),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
		log:             logger.WithComponent("store.memory"),
	}
}

// NewSeeded returns a store with demo invoices and dev user accounts.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and
// SEED_FINANCE_PASSWORD; dev defaults are used with a warning when unset.
// The server only uses this store when no database is configured.
func NewSeeded() *Store {
	s := New()
	for _, invoice := range store.DemoInvoices(time.Now()) {
		s.invoices[invoice.ID] = cloneInvoice(invoice)
	}
	s.usersByUsername = s.seedUsers()
	return s
}

func (s *Store) seedUsers() map[string]domain.UserAccount {
	seeds, usedDefaults := store.DemoUsers(os.Getenv)
	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range seeds {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			s.log.Error().Err(err).Str("username", u.Username).Msg("failed to hash seed password")
			continue
		}
		u.Password = string(hash)
		u.CreatedAt = now
		users[u.Username] = u
	}
	if usedDefaults {
		s.log.Warn().Msg("using default dev credentials; set SEED_*_PASSWORD to override")
	}
	return users
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.SourceInvoice) error {
	if err := store.ValidateInvoice(invoice); err != nil {
		return err
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[invoice.ID]; exists {
		return store.ErrDuplicate
	}
	s.invoices[invoice.ID] = cloneInvoice(invoice)
	return nil
}

func (s *Store) FindInvoice(_ context.Context, id string) (*domain.SourceInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoices[strings.TrimSpace(id)]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneInvoice(invoice)
	return &found, nil
}

func (s *Store) SearchInvoices(_ context.Context, keyword string, limit int) ([]domain.SourceInvoice, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return []domain.SourceInvoice{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SourceInvoice, 0, 16)
	for _, invoice := range s.invoices {
		if !strings.Contains(strings.ToLower(invoice.ID), keyword) &&
			!strings.Contains(strings.ToLower(invoice.CustomerName), keyword) {
			continue
		}
		result = append(result, cloneInvoice(invoice))
	}
	slices.SortFunc(result, func(a, b domain.SourceInvoice) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateReturn(_ context.Context, record domain.ReturnRecord) (*domain.ReturnRecord, error) {
	if record.ID == "" {
		record.ID = xid.New("ret")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if err := store.ValidateReturn(record); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[record.InvoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, exists := s.returnsByID[record.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if _, exists := s.returnNumbers[record.ReturnNumber]; exists {
		return nil, store.ErrDuplicate
	}
	sold := make(map[string]int, len(invoice.Lines))
	for _, line := range invoice.Lines {
		sold[line.ID] = line.Qty
	}
	if err := store.CheckReturnable(sold, s.returnedQtyLocked(record.InvoiceID), record.Lines); err != nil {
		return nil, err
	}

	s.returnsByID[record.ID] = cloneReturn(record)
	s.returnNumbers[record.ReturnNumber] = record.ID
	created := cloneReturn(record)
	return &created, nil
}

func (s *Store) GetReturn(_ context.Context, id string) (*domain.ReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.returnsByID[id]
	if !ok {
		if byNumber, found := s.returnNumbers[id]; found {
			record, ok = s.returnsByID[byNumber]
		}
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneReturn(record)
	return &found, nil
}

func (s *Store) GetReturnedQtyByInvoice(_ context.Context, invoiceID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.returnedQtyLocked(invoiceID), nil
}

func (s *Store) returnedQtyLocked(invoiceID string) map[string]int {
	result := make(map[string]int)
	for _, record := range s.returnsByID {
		if record.InvoiceID != invoiceID || !record.Status.CountsTowardReturned() {
			continue
		}
		for _, line := range record.Lines {
			result[line.LineID] += line.Qty
		}
	}
	return result
}

func (s *Store) QueryReturns(_ context.Context, filter domain.ReturnFilter, offset int, limit int) ([]domain.ReturnRecord, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.ReturnRecord, 0, len(s.returnsByID))
	for _, record := range s.returnsByID {
		if filter.Matches(record) {
			matched = append(matched, record)
		}
	}
	slices.SortFunc(matched, func(a, b domain.ReturnRecord) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})

	total := int64(len(matched))
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []domain.ReturnRecord{}, total, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := make([]domain.ReturnRecord, 0, end-offset)
	for _, record := range matched[offset:end] {
		page = append(page, cloneReturn(record))
	}
	return page, total, nil
}

func (s *Store) UpdateReturnStatus(_ context.Context, id string, target domain.ReturnStatus, note string, at time.Time) (*domain.ReturnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.returnsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !record.Status.CanTransitionTo(target) {
		return nil, store.ErrInvalidStatusTransition
	}
	changedAt := at.UTC()
	record.Status = target
	record.StatusNote = strings.TrimSpace(note)
	record.StatusChangedAt = &changedAt
	s.returnsByID[id] = record
	updated := cloneReturn(record)
	return &updated, nil
}

func (s *Store) ClearAllReturns(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := int64(len(s.returnsByID))
	s.returnsByID = make(map[string]domain.ReturnRecord)
	s.returnNumbers = make(map[string]string)
	return deleted, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func newestFirst(aAt time.Time, bAt time.Time, aID string, bID string) int {
	if aAt.Equal(bAt) {
		return strings.Compare(bID, aID)
	}
	if aAt.After(bAt) {
		return -1
	}
	return 1
}

func cloneInvoice(src domain.SourceInvoice) domain.SourceInvoice {
	out := src
	out.Lines = append([]domain.SourceLineItem(nil), src.Lines...)
	return out
}

func cloneReturn(src domain.ReturnRecord) domain.ReturnRecord {
	out := src
	out.Lines = append([]domain.ReturnLineEntry(nil), src.Lines...)
	if src.StatusChangedAt != nil {
		changed := *src.StatusChangedAt
		out.StatusChangedAt = &changed
	}
	return out
}
