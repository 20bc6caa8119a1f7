package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	auditservice "github.com/leaseworks/leaseworks/internal/audit/service"
	"github.com/leaseworks/leaseworks/internal/clock"
	"github.com/leaseworks/leaseworks/internal/config"
	invoicedomain "github.com/leaseworks/leaseworks/internal/invoice/domain"
	invoicerepository "github.com/leaseworks/leaseworks/internal/invoice/repository"
	invoiceservice "github.com/leaseworks/leaseworks/internal/invoice/service"
	paymentservice "github.com/leaseworks/leaseworks/internal/payment/service"
	recurringdomain "github.com/leaseworks/leaseworks/internal/recurring/domain"
	recurringservice "github.com/leaseworks/leaseworks/internal/recurring/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	landlordID = "1"
	tenantAID  = "100"
	tenantBID  = "101"
)

type testServer struct {
	srv   *Server
	clock *clock.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&invoicedomain.Invoice{},
		&invoicedomain.InvoicePayment{},
		&recurringdomain.RecurringInvoice{},
		&recurringdomain.RecurringInvoiceSplit{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fc := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fc,
		Repo:       invoicerepository.Provide(),
		BillingCfg: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
	})
	recurringSvc := recurringservice.NewService(recurringservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fc,
	})
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:         db,
		Log:        log,
		Clock:      fc,
		InvoiceSvc: invoiceSvc,
	})
	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:          engine,
		DB:           db,
		GenID:        node,
		AuditSvc:     auditSvc,
		InvoiceSvc:   invoiceSvc,
		RecurringSvc: recurringSvc,
		PaymentSvc:   paymentSvc,
	})
	return &testServer{srv: srv, clock: fc}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, actorType, actorID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actorType != "" {
		req.Header.Set("X-Actor-Type", actorType)
		req.Header.Set("X-Actor-Id", actorID)
	}
	w := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(w, req)
	return w
}

func createInvoiceBody() map[string]any {
	return map[string]any{
		"property_id":  "42",
		"type":         "RENT",
		"description":  "March rent",
		"total_amount": 150000,
		"due_date":     "2024-03-11T00:00:00Z",
		"splits": []map[string]any{
			{"user_id": tenantAID, "amount_owed": 90000},
			{"user_id": tenantBID, "amount_owed": 60000},
		},
	}
}

func decodeInvoice(t *testing.T, w *httptest.ResponseRecorder) invoicedomain.Invoice {
	t.Helper()
	var resp struct {
		Data invoicedomain.Invoice `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode invoice: %v (body %s)", err, w.Body.String())
	}
	return resp.Data
}

func TestIdentityRequired(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do(t, http.MethodGet, "/api/invoices", nil, "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no headers: expected 401, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/invoices", nil, "admin", landlordID); w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown actor type: expected 401, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/invoices", nil, "landlord", "not-a-number"); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad actor id: expected 401, got %d", w.Code)
	}
}

func TestLandlordOnlyRoutes(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/invoices", createInvoiceBody(), "tenant", tenantAID)
	if w.Code != http.StatusForbidden {
		t.Fatalf("tenant creating invoice: expected 403, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/recurring-invoices", nil, "tenant", tenantAID)
	if w.Code != http.StatusForbidden {
		t.Fatalf("tenant listing schedules: expected 403, got %d", w.Code)
	}
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	// Rejected split sums come back as validation errors.
	bad := createInvoiceBody()
	bad["total_amount"] = 999999
	w := ts.do(t, http.MethodPost, "/api/invoices", bad, "landlord", landlordID)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("split mismatch: expected 400, got %d (%s)", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/invoices", createInvoiceBody(), "landlord", landlordID)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	inv := decodeInvoice(t, w)
	if inv.Status != invoicedomain.InvoiceStatusOpen || len(inv.Payments) != 2 {
		t.Fatalf("unexpected created invoice: %+v", inv)
	}

	var shareA invoicedomain.InvoicePayment
	for _, p := range inv.Payments {
		if p.UserID.String() == tenantAID {
			shareA = p
		}
	}

	// Another tenant cannot claim this share.
	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/payments/%s/mark-paid", shareA.ID), map[string]any{"reference": "tx-1"}, "tenant", tenantBID)
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign share claim: expected 403, got %d", w.Code)
	}
	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/payments/%s/mark-paid", shareA.ID), map[string]any{"reference": "tx-1"}, "tenant", tenantAID)
	if w.Code != http.StatusOK {
		t.Fatalf("own share claim: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	// Landlord confirms both shares; invoice settles.
	for _, p := range inv.Payments {
		w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/payments/%s/confirm", p.ID), map[string]any{}, "landlord", landlordID)
		if w.Code != http.StatusOK {
			t.Fatalf("confirm: expected 200, got %d (%s)", w.Code, w.Body.String())
		}
	}
	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/invoices/%s", inv.ID), nil, "landlord", landlordID)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if got := decodeInvoice(t, w); got.Status != invoicedomain.InvoiceStatusPaid {
		t.Fatalf("expected PAID, got %s", got.Status)
	}

	w = ts.do(t, http.MethodGet, "/api/invoices/999999", nil, "landlord", landlordID)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing invoice: expected 404, got %d", w.Code)
	}
}

func TestListServesFreshStatuses(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/invoices", createInvoiceBody(), "landlord", landlordID)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}
	inv := decodeInvoice(t, w)

	// Nothing reconciles between creation and the read: the list itself
	// must refresh statuses the calendar has invalidated.
	ts.clock.Advance(12 * 24 * time.Hour)
	w = ts.do(t, http.MethodGet, "/api/invoices", nil, "landlord", landlordID)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var resp struct {
		Data []invoicedomain.Invoice `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != inv.ID {
		t.Fatalf("unexpected listing: %+v", resp.Data)
	}
	if resp.Data[0].Status != invoicedomain.InvoiceStatusOverdue {
		t.Fatalf("stale status on list path: want OVERDUE, got %s", resp.Data[0].Status)
	}
}

func TestVoidConflict(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/invoices", createInvoiceBody(), "landlord", landlordID)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}
	inv := decodeInvoice(t, w)

	path := fmt.Sprintf("/api/invoices/%s/void", inv.ID)
	if w := ts.do(t, http.MethodPost, path, map[string]any{"reason": "duplicate"}, "landlord", landlordID); w.Code != http.StatusOK {
		t.Fatalf("void: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if w := ts.do(t, http.MethodPost, path, nil, "landlord", landlordID); w.Code != http.StatusConflict {
		t.Fatalf("double void: expected 409, got %d (%s)", w.Code, w.Body.String())
	}
}

func TestTenantPaymentVisibility(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/invoices", createInvoiceBody(), "landlord", landlordID)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}
	inv := decodeInvoice(t, w)

	var shareA invoicedomain.InvoicePayment
	for _, p := range inv.Payments {
		if p.UserID.String() == tenantAID {
			shareA = p
		}
	}

	// A tenant sees only their own share.
	path := fmt.Sprintf("/api/payments/%s", shareA.ID)
	if w := ts.do(t, http.MethodGet, path, nil, "tenant", tenantAID); w.Code != http.StatusOK {
		t.Fatalf("own share: expected 200, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, path, nil, "tenant", tenantBID); w.Code != http.StatusForbidden {
		t.Fatalf("foreign share: expected 403, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, path, nil, "landlord", landlordID); w.Code != http.StatusOK {
		t.Fatalf("landlord view: expected 200, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/me/payments", nil, "tenant", tenantAID)
	if w.Code != http.StatusOK {
		t.Fatalf("me/payments: expected 200, got %d", w.Code)
	}
	var resp struct {
		Data []invoicedomain.InvoicePayment `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode payments: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].UserID.String() != tenantAID {
		t.Fatalf("unexpected share listing: %+v", resp.Data)
	}
}
