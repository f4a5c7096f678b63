package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/evidence"
	"apotekita/backend/internal/logger"
	"apotekita/backend/internal/lookup"
	"apotekita/backend/internal/returns"
	"apotekita/backend/internal/service"
	"apotekita/backend/internal/store"
)

const maxJSONBody = 1 << 20

type Options struct {
	AllowedOrigin    string
	MaxEvidenceBytes int64
	// DraftIdleTTL discards an operator's draft after this long without use.
	DraftIdleTTL     time.Duration
	UploadsPerMinute int
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	maxEvidence   int64
	drafts        *draftRegistry
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	uploadLimiter *uploadLimiter
	csrfSecret    []byte
	log           zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		panic(fmt.Sprintf("httpapi: read csrf secret: %v", err))
	}
	if opts.MaxEvidenceBytes < 1 {
		opts.MaxEvidenceBytes = 5 << 20
	}
	if opts.UploadsPerMinute < 1 {
		opts.UploadsPerMinute = 10
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		maxEvidence:   opts.MaxEvidenceBytes,
		drafts:        newDraftRegistry(svc.NewDraft, opts.DraftIdleTTL),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(5, time.Minute),
		uploadLimiter: newUploadLimiter(opts.UploadsPerMinute, 3),
		csrfSecret:    csrfSecret,
		log:           logger.WithComponent("httpapi"),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/invoices/search", a.requireAuth(a.handleInvoiceSearch, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/invoices/", a.requireAuth(a.handleInvoice, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/returns/draft", a.requireAuth(a.handleDraft, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/returns/draft/", a.requireAuth(a.handleDraftAction, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/returns", a.requireAuth(a.handleReturns, domain.RoleCashier, domain.RoleFinance, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/returns/schema", a.requireAuth(a.handleReturnSchema))
	mux.HandleFunc("/api/v1/returns/clear", a.requireAuth(a.handleClearReturns, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/returns/", a.requireAuth(a.handleReturnActions, domain.RoleCashier, domain.RoleFinance, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.issueCSRFToken()})
}

func (a *API) handleInvoiceSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	keyword := r.URL.Query().Get("q")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), lookup.DefaultLimit, lookup.MaxLimit)
	invoices, err := a.service.SearchInvoices(r.Context(), keyword, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (a *API) handleInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	id := pathTail(r, "/api/v1/invoices/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, errors.New("invoice id required"))
		return
	}

	invoice, err := a.service.FindInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleDraft(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	a.withDraft(w, r, func(d *returns.Draft) error { return nil })
}

// handleDraftAction applies one edit to the caller's draft and answers with
// the refreshed view, also when the edit was rejected.
func (a *API) handleDraftAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	switch action := pathTail(r, "/api/v1/returns/draft/"); action {
	case "load":
		var req domain.LoadInvoiceRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		a.withDraft(w, r, func(d *returns.Draft) error {
			return d.LoadInvoice(r.Context(), strings.TrimSpace(req.InvoiceID))
		})
	case "toggle":
		var req domain.ToggleLineRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		a.withDraft(w, r, func(d *returns.Draft) error { return d.ToggleLine(req.LineID) })
	case "quantity":
		var req domain.SetQuantityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		a.withDraft(w, r, func(d *returns.Draft) error { return d.SetQuantity(req.LineID, req.Qty) })
	case "select-all":
		a.withDraft(w, r, func(d *returns.Draft) error { return d.SelectAll() })
	case "clear-all":
		a.withDraft(w, r, func(d *returns.Draft) error {
			d.ClearAll()
			return nil
		})
	case "reason":
		var req domain.SetReasonRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if !req.Code.IsValid() {
			writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("unknown reason code %q", req.Code))
			return
		}
		a.withDraft(w, r, func(d *returns.Draft) error {
			d.SetReason(domain.NewReason(req.Code, req.Detail))
			return nil
		})
	case "evidence":
		a.handleEvidenceUpload(w, r)
	case "discard":
		a.withDraft(w, r, func(d *returns.Draft) error {
			d.Discard()
			return nil
		})
	case "submit":
		a.handleSubmit(w, r)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown draft action %q", action))
	}
}

func (a *API) withDraft(w http.ResponseWriter, r *http.Request, edit func(d *returns.Draft) error) {
	session := a.drafts.acquire(draftOwner(r))
	defer session.release()

	if err := edit(session.draft); err != nil {
		status, body := errorBody(err)
		body["draft"] = session.draft.View()
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": session.draft.View()})
}

func (a *API) handleEvidenceUpload(w http.ResponseWriter, r *http.Request) {
	if !a.uploadLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many evidence uploads"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxEvidence+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, evidence.ErrTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("multipart field \"file\" required: %w", err))
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	session := a.drafts.acquire(draftOwner(r))
	defer session.release()

	ref, err := a.service.UploadEvidence(r.Context(), session.draft, evidence.Upload{
		Filename: header.Filename,
		Body:     file,
	})
	if err != nil {
		status, body := errorBody(err)
		body["draft"] = session.draft.View()
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"evidence": ref,
		"draft":    session.draft.View(),
	})
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	session := a.drafts.acquire(draftOwner(r))
	defer session.release()

	record, err := a.service.SubmitReturn(r.Context(), session.draft)
	if err != nil {
		status, body := errorBody(err)
		body["draft"] = session.draft.View()
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"return": record})
}

func (a *API) handleReturns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query, err := parseReturnQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page, err := a.service.QueryReturns(r.Context(), query)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleReturnActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r, "/api/v1/returns/")
	id, action, _ := strings.Cut(tail, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, errors.New("return id required"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		record, err := a.service.GetReturn(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"return": record})
	case "evidence":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		a.serveEvidence(w, r, id)
	case "status":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.StatusTransitionRequest
		if err := decodeJSON(r, &req); err != nil {
			if errors.Is(err, domain.ErrUnknownStatus) {
				writeServiceError(w, err)
				return
			}
			writeDecodeError(w, err)
			return
		}
		record, err := a.service.TransitionReturn(r.Context(), id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"return": record})
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown return action %q", action))
	}
}

func (a *API) serveEvidence(w http.ResponseWriter, r *http.Request, returnID string) {
	body, contentType, err := a.service.OpenEvidence(r.Context(), returnID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "evidence-"+returnID))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		a.log.Warn().Err(err).Str("return_id", returnID).Msg("evidence stream interrupted")
	}
}

func (a *API) handleClearReturns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.pinLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
		return
	}

	var req domain.ClearReturnsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("manager PIN rejected"))
		return
	}

	deleted, err := a.service.ClearAllReturns(r.Context(), req.Confirm)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ClearReturnsResponse{Deleted: deleted})
}

func (a *API) handleReturnSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, returnSchemas())
}

func returnSchemas() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	return map[string]*jsonschema.Schema{
		"load_invoice":      reflector.Reflect(&domain.LoadInvoiceRequest{}),
		"toggle_line":       reflector.Reflect(&domain.ToggleLineRequest{}),
		"set_quantity":      reflector.Reflect(&domain.SetQuantityRequest{}),
		"set_reason":        reflector.Reflect(&domain.SetReasonRequest{}),
		"status_transition": reflector.Reflect(&domain.StatusTransitionRequest{}),
		"clear_returns":     reflector.Reflect(&domain.ClearReturnsRequest{}),
	}
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(startedAt)).
			Msg("request")
	})
}

func draftOwner(r *http.Request) string {
	actor, _ := service.ActorFromContext(r.Context())
	return actor.Username
}

func pathTail(r *http.Request, prefix string) string {
	return strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
}

func parseReturnQuery(r *http.Request) (domain.ReturnQuery, error) {
	values := r.URL.Query()
	query := domain.ReturnQuery{Keyword: strings.TrimSpace(values.Get("keyword"))}

	var err error
	if query.Start, err = parseBound(values.Get("start"), false); err != nil {
		return domain.ReturnQuery{}, fmt.Errorf("start: %w", err)
	}
	if query.End, err = parseBound(values.Get("end"), true); err != nil {
		return domain.ReturnQuery{}, fmt.Errorf("end: %w", err)
	}
	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		if query.Page, err = strconv.Atoi(raw); err != nil {
			return domain.ReturnQuery{}, errors.New("page must be an integer")
		}
	}
	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		if query.PageSize, err = strconv.Atoi(raw); err != nil {
			return domain.ReturnQuery{}, errors.New("page_size must be an integer")
		}
	}
	return query, nil
}

// parseBound accepts RFC 3339 or a bare date. A bare end date covers the
// whole day.
func parseBound(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return &at, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, errors.New("expected RFC3339 or YYYY-MM-DD")
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}
	writeError(w, http.StatusBadRequest, err)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// errorStatus maps service and domain errors onto HTTP status codes. Evidence
// rejections are checked before the generic upload failure that wraps them.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, evidence.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, evidence.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, evidence.ErrEmpty):
		return http.StatusUnprocessableEntity
	case errors.Is(err, returns.ErrUploadFailed):
		return http.StatusBadGateway
	case errors.Is(err, returns.ErrPersistFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, returns.ErrStaleQuantity),
		errors.Is(err, returns.ErrNoInvoice),
		errors.Is(err, store.ErrInvalidStatusTransition):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound), errors.Is(err, evidence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, returns.ErrValidationFailed),
		errors.Is(err, returns.ErrUnknownLine),
		errors.Is(err, returns.ErrLineNotSelected),
		errors.Is(err, returns.ErrQuantityRejected),
		errors.Is(err, store.ErrUnknownStatus):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrConfirmationRequired),
		errors.Is(err, service.ErrInvalidQuery),
		errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the JSON error payload. Validation failures also carry the
// machine-readable reason so the client can point at the offending field.
func errorBody(err error) (int, map[string]any) {
	status := errorStatus(err)
	body := map[string]any{"error": err.Error()}
	if status >= 500 && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		log := logger.WithComponent("httpapi")
		log.Error().Err(err).Int("status", status).Msg("internal error")
		body["error"] = "internal server error"
	}

	var verr *returns.ValidationError
	var stale *returns.StaleSourceError
	switch {
	case errors.As(err, &verr):
		body["code"] = string(verr.Reason)
		if verr.LineID != "" {
			body["line_id"] = verr.LineID
		}
	case errors.As(err, &stale):
		body["code"] = "StaleQuantity"
		if stale.LineID != "" {
			body["line_id"] = stale.LineID
		}
	case errors.Is(err, returns.ErrUploadFailed):
		body["code"] = "UploadFailed"
		if status == http.StatusBadGateway {
			body["error"] = returns.ErrUploadFailed.Error()
		}
	case errors.Is(err, returns.ErrPersistFailed):
		body["code"] = "PersistFailed"
		body["error"] = returns.ErrPersistFailed.Error()
	case status == http.StatusNotFound:
		body["code"] = "NotFound"
	}
	return status, body
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	writeJSON(w, status, body)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the message of 5xx errors from the client.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log := logger.WithComponent("httpapi")
		log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
