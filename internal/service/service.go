package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/evidence"
	"apotekita/backend/internal/logger"
	"apotekita/backend/internal/lookup"
	"apotekita/backend/internal/pagination"
	"apotekita/backend/internal/returns"
	"apotekita/backend/internal/store"
	"apotekita/backend/internal/xid"
)

// ClearConfirmationPhrase must be echoed back verbatim to wipe every return.
const ClearConfirmationPhrase = "DELETE ALL RETURNS"

var (
	ErrForbidden            = errors.New("role not permitted")
	ErrConfirmationRequired = errors.New("confirmation phrase mismatch")
	ErrInvalidQuery         = errors.New("invalid return query")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// Now is the clock used for record timestamps; time.Now when nil.
	Now func() time.Time
}

type Service struct {
	repo     store.Repository
	lookup   *lookup.Engine
	evidence evidence.Store
	opts     Options
	log      zerolog.Logger
	audit    zerolog.Logger
}

func New(repo store.Repository, engine *lookup.Engine, evidenceStore evidence.Store, opts Options) *Service {
	if engine == nil {
		engine = lookup.NewEngine(nil, 0)
	}
	if opts.MaxPageSize < 1 {
		opts.MaxPageSize = pagination.MaxPerPage
	}
	if opts.DefaultPageSize < 1 {
		opts.DefaultPageSize = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:     repo,
		lookup:   engine,
		evidence: evidenceStore,
		opts:     opts,
		log:      logger.WithComponent("service"),
		audit:    logger.WithComponent("audit"),
	}
}

func (s *Service) FindInvoice(ctx context.Context, id string) (domain.SourceInvoice, error) {
	invoice, err := s.repo.FindInvoice(ctx, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return domain.SourceInvoice{}, fmt.Errorf("%w: %s", returns.ErrInvoiceNotFound, id)
	}
	if err != nil {
		return domain.SourceInvoice{}, err
	}
	return *invoice, nil
}

func (s *Service) SearchInvoices(ctx context.Context, keyword string, limit int) ([]domain.InvoiceSummary, error) {
	return s.lookup.Search(ctx, s.repo, keyword, limit)
}

// NewDraft starts an empty draft bound to this service's invoice source.
func (s *Service) NewDraft() *returns.Draft {
	return returns.NewDraft(s.repo)
}

// UploadEvidence stores the file and attaches the resulting reference to d.
// On failure d is left as it was.
func (s *Service) UploadEvidence(ctx context.Context, d *returns.Draft, upload evidence.Upload) (domain.EvidenceRef, error) {
	if s.evidence == nil {
		return "", fmt.Errorf("%w: no evidence store configured", returns.ErrUploadFailed)
	}
	ref, err := s.evidence.Put(ctx, upload)
	if err != nil {
		s.log.Warn().Err(err).Str("filename", upload.Filename).Msg("evidence upload failed")
		return "", fmt.Errorf("%w: %w", returns.ErrUploadFailed, err)
	}
	d.AttachEvidence(ref)
	return ref, nil
}

// SubmitWithEvidence uploads the evidence file first and submits only once
// its reference is attached. A failed upload leaves nothing persisted.
func (s *Service) SubmitWithEvidence(ctx context.Context, d *returns.Draft, upload evidence.Upload) (domain.ReturnRecord, error) {
	if _, err := s.UploadEvidence(ctx, d, upload); err != nil {
		return domain.ReturnRecord{}, err
	}
	return s.SubmitReturn(ctx, d)
}

// SubmitReturn validates d against the current invoice and persists it as a
// new return awaiting reconciliation. The draft is discarded on success and
// kept intact on any failure so the operator can correct or retry.
func (s *Service) SubmitReturn(ctx context.Context, d *returns.Draft) (domain.ReturnRecord, error) {
	if err := returns.CheckLocal(d); err != nil {
		return domain.ReturnRecord{}, err
	}
	loaded, _ := d.Invoice()

	var state returns.SourceState
	current, err := s.repo.FindInvoice(ctx, loaded.ID)
	switch {
	case err == nil:
		state.Current = current
	case errors.Is(err, store.ErrNotFound):
	default:
		return domain.ReturnRecord{}, fmt.Errorf("%w: refetch invoice: %w", returns.ErrPersistFailed, err)
	}
	state.Returned, err = s.repo.GetReturnedQtyByInvoice(ctx, loaded.ID)
	if err != nil {
		return domain.ReturnRecord{}, fmt.Errorf("%w: returned quantities: %w", returns.ErrPersistFailed, err)
	}

	submission, err := returns.Validate(d, state)
	if err != nil {
		return domain.ReturnRecord{}, err
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	now := s.opts.Now().UTC()

	var saved *domain.ReturnRecord
	for attempt := 0; attempt < 3; attempt++ {
		record := submission.Record(xid.New("ret"), xid.ReturnNumber(now), actor.Username, now)
		saved, err = s.repo.CreateReturn(ctx, record)
		if !errors.Is(err, store.ErrDuplicate) {
			break
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, store.ErrOverReturn):
		return domain.ReturnRecord{}, &returns.ValidationError{Reason: returns.ReasonExceedsReturnable}
	default:
		s.log.Error().Err(err).Str("invoice_id", loaded.ID).Msg("persist return failed")
		return domain.ReturnRecord{}, fmt.Errorf("%w: %w", returns.ErrPersistFailed, err)
	}

	d.Discard()
	s.logAudit(ctx, "return_submit", "return", saved.ID, fmt.Sprintf(
		"number=%s,invoice=%s,lines=%d,total=%s,reason=%s,evidence=%s",
		saved.ReturnNumber, saved.InvoiceID, len(saved.Lines), saved.TotalRefund.StringFixed(2), saved.Reason, saved.Evidence,
	))
	return *saved, nil
}

func (s *Service) GetReturn(ctx context.Context, id string) (domain.ReturnRecord, error) {
	record, err := s.repo.GetReturn(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	return *record, nil
}

// OpenEvidence streams the evidence file attached to a persisted return.
func (s *Service) OpenEvidence(ctx context.Context, returnID string) (io.ReadCloser, string, error) {
	record, err := s.repo.GetReturn(ctx, strings.TrimSpace(returnID))
	if err != nil {
		return nil, "", err
	}
	if s.evidence == nil {
		return nil, "", evidence.ErrNotFound
	}
	return s.evidence.Open(ctx, record.Evidence)
}

// QueryReturns lists persisted returns newest first. The page number and size
// are clamped; a page past the end is empty rather than an error.
func (s *Service) QueryReturns(ctx context.Context, q domain.ReturnQuery) (domain.ReturnPage, error) {
	if q.Start != nil && q.End != nil && q.Start.After(*q.End) {
		return domain.ReturnPage{}, fmt.Errorf("%w: start is after end", ErrInvalidQuery)
	}
	params := pagination.Params{Page: q.Page, PerPage: q.PageSize}.Normalize(s.opts.DefaultPageSize, s.opts.MaxPageSize)
	filter := domain.ReturnFilter{Keyword: strings.TrimSpace(q.Keyword), Start: q.Start, End: q.End}

	records, total, err := s.repo.QueryReturns(ctx, filter, params.Offset(), params.PerPage)
	if err != nil {
		return domain.ReturnPage{}, err
	}
	if records == nil {
		records = []domain.ReturnRecord{}
	}
	meta := pagination.New(params, total, len(records))
	return domain.ReturnPage{
		Records:    records,
		TotalCount: total,
		Page:       meta.CurrentPage,
		PageSize:   meta.PerPage,
		TotalPages: meta.TotalPages,
		From:       meta.From,
		To:         meta.To,
		HasNext:    meta.HasNext,
		HasPrev:    meta.HasPrev,
	}, nil
}

// TransitionReturn moves a return out of AwaitingReconciliation. It is driven
// by the finance and inventory processes, never by submission.
func (s *Service) TransitionReturn(ctx context.Context, id string, req domain.StatusTransitionRequest) (domain.ReturnRecord, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (actor.Role != domain.RoleFinance && actor.Role != domain.RoleAdmin) {
		return domain.ReturnRecord{}, fmt.Errorf("%w: finance or admin role required", ErrForbidden)
	}
	if !req.Status.IsValid() {
		return domain.ReturnRecord{}, fmt.Errorf("%w: %q", store.ErrUnknownStatus, string(req.Status))
	}

	// id may be the return number; the repository transitions by internal id.
	current, err := s.repo.GetReturn(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	updated, err := s.repo.UpdateReturnStatus(ctx, current.ID, req.Status, req.Note, s.opts.Now())
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	s.logAudit(ctx, "return_status", "return", updated.ID, fmt.Sprintf("status=%s,note=%s", updated.Status, updated.StatusNote))
	return *updated, nil
}

// ClearAllReturns deletes every persisted return. Evidence files are kept.
func (s *Service) ClearAllReturns(ctx context.Context, confirm string) (int64, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return 0, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	if strings.TrimSpace(confirm) != ClearConfirmationPhrase {
		return 0, ErrConfirmationRequired
	}

	deleted, err := s.repo.ClearAllReturns(ctx)
	if err != nil {
		return 0, err
	}
	s.logAudit(ctx, "returns_clear_all", "return", "*", fmt.Sprintf("deleted=%d", deleted))
	return deleted, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.opts.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidQuery)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.opts.Now().UTC(),
	}); err != nil {
		s.audit.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}
