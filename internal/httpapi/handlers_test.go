package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/evidence"
	"apotekita/backend/internal/returns"
	"apotekita/backend/internal/service"
	"apotekita/backend/internal/store/memory"
)

const testManagerPIN = "482913"

// newTestAPI wires the real service, auth and evidence store over the seeded
// in-memory repository so handler tests run the whole request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	ev, err := evidence.NewLocalStore(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("evidence store: %v", err)
	}
	svc := service.New(repo, nil, ev, service.Options{})
	auth := NewAuthManager("test-secret-key", time.Hour, testManagerPIN, repo)

	return New(svc, auth, Options{AllowedOrigin: "*", MaxEvidenceBytes: 1 << 20, UploadsPerMinute: 60})
}

type apiClient struct {
	t     *testing.T
	api   *API
	token string
	csrf  string
}

func newClient(t *testing.T, api *API, username string, password string) *apiClient {
	t.Helper()
	return &apiClient{t: t, api: api, token: login(t, api, username, password), csrf: fetchCSRFToken(t, api)}
}

func (c *apiClient) do(method string, path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			c.t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	res := httptest.NewRecorder()
	c.api.Handler().ServeHTTP(res, req)
	return res
}

func (c *apiClient) upload(filename string, content []byte) *httptest.ResponseRecorder {
	c.t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		c.t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(content)
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/returns/draft/evidence", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	res := httptest.NewRecorder()
	c.api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, res.Body.String())
	}
}

func expectStatus(t *testing.T, res *httptest.ResponseRecorder, want int) {
	t.Helper()
	if res.Code != want {
		t.Fatalf("expected %d, got %d (body: %s)", want, res.Code, res.Body.String())
	}
}

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

// preparedDraft loads INV-100 and selects two units with a Damage reason.
func preparedDraft(c *apiClient) {
	c.t.Helper()
	expectStatus(c.t, c.do(http.MethodPost, "/api/v1/returns/draft/load", domain.LoadInvoiceRequest{InvoiceID: "INV-100"}), http.StatusOK)
	expectStatus(c.t, c.do(http.MethodPost, "/api/v1/returns/draft/toggle", domain.ToggleLineRequest{LineID: "INV-100-1"}), http.StatusOK)
	expectStatus(c.t, c.do(http.MethodPost, "/api/v1/returns/draft/quantity", domain.SetQuantityRequest{LineID: "INV-100-1", Qty: 2}), http.StatusOK)
	expectStatus(c.t, c.do(http.MethodPost, "/api/v1/returns/draft/reason", domain.SetReasonRequest{Code: domain.ReasonDamage}), http.StatusOK)
}

func submitOne(t *testing.T, c *apiClient) domain.ReturnRecord {
	t.Helper()
	preparedDraft(c)
	expectStatus(t, c.upload("struk.pdf", samplePDF), http.StatusOK)
	res := c.do(http.MethodPost, "/api/v1/returns/draft/submit", nil)
	expectStatus(t, res, http.StatusCreated)

	var payload struct {
		Return domain.ReturnRecord `json:"return"`
	}
	decodeBody(t, res, &payload)
	return payload.Return
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	expectStatus(t, rec, http.StatusOK)
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestReturnFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	record := submitOne(t, cashier)
	if !record.TotalRefund.Equal(decimal.RequireFromString("224.00")) {
		t.Fatalf("expected refund 224.00, got %s", record.TotalRefund)
	}
	if record.Status != domain.ReturnStatusAwaitingReconciliation {
		t.Fatalf("expected awaiting status, got %s", record.Status)
	}
	if record.ProcessedBy != "cashier" {
		t.Fatalf("expected processed_by cashier, got %q", record.ProcessedBy)
	}

	res := cashier.do(http.MethodGet, "/api/v1/returns/draft", nil)
	expectStatus(t, res, http.StatusOK)
	var after struct {
		Draft returns.View `json:"draft"`
	}
	decodeBody(t, res, &after)
	if after.Draft.InvoiceID != "" || len(after.Draft.Lines) != 0 {
		t.Fatalf("expected the draft to be discarded after submit, got %+v", after.Draft)
	}

	res = cashier.do(http.MethodGet, "/api/v1/returns/"+record.ID, nil)
	expectStatus(t, res, http.StatusOK)

	res = cashier.do(http.MethodGet, "/api/v1/returns/"+record.ID+"/evidence", nil)
	expectStatus(t, res, http.StatusOK)
	if got := res.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", got)
	}
	if !bytes.Equal(res.Body.Bytes(), samplePDF) {
		t.Fatalf("evidence body does not match the upload")
	}

	res = cashier.do(http.MethodGet, "/api/v1/returns?keyword=walk-in&page=1&page_size=5", nil)
	expectStatus(t, res, http.StatusOK)
	var page domain.ReturnPage
	decodeBody(t, res, &page)
	if page.TotalCount != 1 || len(page.Records) != 1 || page.Records[0].ID != record.ID {
		t.Fatalf("expected the submitted return in the listing, got %+v", page)
	}
}

func TestSubmitWithoutEvidenceKeepsDraft(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")
	preparedDraft(cashier)

	res := cashier.do(http.MethodPost, "/api/v1/returns/draft/submit", nil)
	expectStatus(t, res, http.StatusUnprocessableEntity)

	var body struct {
		Code  string       `json:"code"`
		Draft returns.View `json:"draft"`
	}
	decodeBody(t, res, &body)
	if body.Code != string(returns.ReasonMissingEvidence) {
		t.Fatalf("expected MissingEvidence, got %q", body.Code)
	}
	if body.Draft.InvoiceID != "INV-100" || body.Draft.CanSubmit {
		t.Fatalf("expected the draft to stay loaded and blocked, got %+v", body.Draft)
	}
	if !body.Draft.RefundTotal.Equal(decimal.RequireFromString("224")) {
		t.Fatalf("expected running total 224, got %s", body.Draft.RefundTotal)
	}
}

func TestDraftRejectsOutOfRangeQuantity(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")
	preparedDraft(cashier)

	res := cashier.do(http.MethodPost, "/api/v1/returns/draft/quantity", domain.SetQuantityRequest{LineID: "INV-100-1", Qty: 6})
	expectStatus(t, res, http.StatusUnprocessableEntity)

	var body struct {
		Draft returns.View `json:"draft"`
	}
	decodeBody(t, res, &body)
	if body.Draft.Lines[0].RequestedQty != 2 {
		t.Fatalf("expected previous quantity 2 to be kept, got %d", body.Draft.Lines[0].RequestedQty)
	}
}

func TestDraftsAreScopedPerOperator(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")
	admin := newClient(t, api, "admin", "admin123")
	preparedDraft(cashier)

	res := admin.do(http.MethodGet, "/api/v1/returns/draft", nil)
	expectStatus(t, res, http.StatusOK)
	var body struct {
		Draft returns.View `json:"draft"`
	}
	decodeBody(t, res, &body)
	if body.Draft.InvoiceID != "" {
		t.Fatalf("admin should not see the cashier's draft, got %+v", body.Draft)
	}
}

func TestLoadUnknownInvoiceReturns404(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	res := cashier.do(http.MethodPost, "/api/v1/returns/draft/load", domain.LoadInvoiceRequest{InvoiceID: "INV-404"})
	expectStatus(t, res, http.StatusNotFound)

	res = cashier.do(http.MethodGet, "/api/v1/invoices/INV-404", nil)
	expectStatus(t, res, http.StatusNotFound)
}

func TestInvoiceSearchAndLookup(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	res := cashier.do(http.MethodGet, "/api/v1/invoices/search?q=siti", nil)
	expectStatus(t, res, http.StatusOK)
	var found struct {
		Invoices []domain.InvoiceSummary `json:"invoices"`
	}
	decodeBody(t, res, &found)
	if len(found.Invoices) != 1 || found.Invoices[0].ID != "INV-101" {
		t.Fatalf("expected INV-101 for siti, got %+v", found.Invoices)
	}

	res = cashier.do(http.MethodGet, "/api/v1/invoices/INV-101", nil)
	expectStatus(t, res, http.StatusOK)
}

func TestUnsupportedEvidenceIsRejected(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")
	preparedDraft(cashier)

	res := cashier.upload("notes.txt", []byte("just some plain text"))
	expectStatus(t, res, http.StatusUnsupportedMediaType)

	var body struct {
		Draft returns.View `json:"draft"`
	}
	decodeBody(t, res, &body)
	if body.Draft.Evidence != "" {
		t.Fatalf("expected no evidence attached, got %q", body.Draft.Evidence)
	}
}

func TestStatusTransitionsByRole(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")
	finance := newClient(t, api, "finance", "finance123")
	record := submitOne(t, cashier)
	path := "/api/v1/returns/" + record.ReturnNumber + "/status"

	res := cashier.do(http.MethodPost, path, domain.StatusTransitionRequest{Status: domain.ReturnStatusSettled})
	expectStatus(t, res, http.StatusForbidden)

	res = finance.do(http.MethodPost, path, map[string]string{"status": "refunded"})
	expectStatus(t, res, http.StatusUnprocessableEntity)

	res = finance.do(http.MethodPost, path, domain.StatusTransitionRequest{Status: domain.ReturnStatusSettled, Note: "credited"})
	expectStatus(t, res, http.StatusOK)
	var settled struct {
		Return domain.ReturnRecord `json:"return"`
	}
	decodeBody(t, res, &settled)
	if settled.Return.Status != domain.ReturnStatusSettled || !settled.Return.TotalRefund.Equal(record.TotalRefund) {
		t.Fatalf("unexpected settled record %+v", settled.Return)
	}

	res = finance.do(http.MethodPost, path, domain.StatusTransitionRequest{Status: domain.ReturnStatusVoided})
	expectStatus(t, res, http.StatusConflict)
}

func TestClearReturnsRequiresPINAndPhrase(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")
	admin := newClient(t, api, "admin", "admin123")
	submitOne(t, cashier)

	res := cashier.do(http.MethodPost, "/api/v1/returns/clear", domain.ClearReturnsRequest{ManagerPIN: testManagerPIN, Confirm: service.ClearConfirmationPhrase})
	expectStatus(t, res, http.StatusForbidden)

	res = admin.do(http.MethodPost, "/api/v1/returns/clear", domain.ClearReturnsRequest{ManagerPIN: "000000", Confirm: service.ClearConfirmationPhrase})
	expectStatus(t, res, http.StatusForbidden)

	res = admin.do(http.MethodPost, "/api/v1/returns/clear", domain.ClearReturnsRequest{ManagerPIN: testManagerPIN, Confirm: "yes"})
	expectStatus(t, res, http.StatusBadRequest)

	res = admin.do(http.MethodPost, "/api/v1/returns/clear", domain.ClearReturnsRequest{ManagerPIN: testManagerPIN, Confirm: service.ClearConfirmationPhrase})
	expectStatus(t, res, http.StatusOK)
	var cleared domain.ClearReturnsResponse
	decodeBody(t, res, &cleared)
	if cleared.Deleted != 1 {
		t.Fatalf("expected 1 deleted return, got %d", cleared.Deleted)
	}

	res = admin.do(http.MethodGet, "/api/v1/audit-logs", nil)
	expectStatus(t, res, http.StatusOK)
	if !strings.Contains(res.Body.String(), "returns_clear_all") {
		t.Fatalf("expected clear-all audit entry, got %s", res.Body.String())
	}
}

func TestReturnSchemaPublishesRequests(t *testing.T) {
	api := newTestAPI(t)
	finance := newClient(t, api, "finance", "finance123")

	res := finance.do(http.MethodGet, "/api/v1/returns/schema", nil)
	expectStatus(t, res, http.StatusOK)

	var schemas map[string]map[string]any
	decodeBody(t, res, &schemas)
	for _, name := range []string{"load_invoice", "set_quantity", "set_reason", "status_transition", "clear_returns"} {
		if _, ok := schemas[name]; !ok {
			t.Fatalf("expected schema %q", name)
		}
	}
	props, _ := schemas["set_quantity"]["properties"].(map[string]any)
	if _, ok := props["qty"]; !ok {
		t.Fatalf("expected qty property in set_quantity schema, got %v", schemas["set_quantity"])
	}
}

func TestParseBoundCoversWholeEndDay(t *testing.T) {
	end, err := parseBound("2026-03-01", true)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if end.Format(time.RFC3339Nano) != "2026-03-01T23:59:59.999999999Z" {
		t.Fatalf("unexpected end bound %s", end.Format(time.RFC3339Nano))
	}
	if _, err := parseBound("yesterday", false); err == nil {
		t.Fatalf("expected an error for a free-text bound")
	}
}
