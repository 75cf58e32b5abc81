package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/service"
	"github.com/andy/invoicepay/internal/webhook"
)

// MockInvoiceService implements service.InvoiceService for testing
type MockInvoiceService struct {
	service.InvoiceService

	GetFunc  func(ctx context.Context, ref string) (*service.View, error)
	ListFunc func(ctx context.Context, filter service.ListFilter) ([]*service.View, error)
	SendFunc func(ctx context.Context, ref string) (*domain.Invoice, error)
	PayFunc  func(ctx context.Context, ref string) (*service.PaymentResult, error)
}

func (m *MockInvoiceService) Get(ctx context.Context, ref string) (*service.View, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, ref)
	}
	return nil, domain.ErrInvoiceNotFound
}

func (m *MockInvoiceService) List(ctx context.Context, filter service.ListFilter) ([]*service.View, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return nil, nil
}

func (m *MockInvoiceService) Send(ctx context.Context, ref string) (*domain.Invoice, error) {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, ref)
	}
	return nil, domain.ErrInvoiceNotFound
}

func (m *MockInvoiceService) Pay(ctx context.Context, ref string) (*service.PaymentResult, error) {
	if m.PayFunc != nil {
		return m.PayFunc(ctx, ref)
	}
	return nil, domain.ErrInvoiceNotFound
}

// MockWebhookService implements service.WebhookService for testing
type MockWebhookService struct {
	HandlePayloadFunc func(ctx context.Context, payload []byte, signature string) (service.Result, error)
}

func (m *MockWebhookService) Handle(ctx context.Context, ev webhook.Event) (service.Result, error) {
	return service.Result{Success: true}, nil
}

func (m *MockWebhookService) HandlePayload(ctx context.Context, payload []byte, signature string) (service.Result, error) {
	if m.HandlePayloadFunc != nil {
		return m.HandlePayloadFunc(ctx, payload, signature)
	}
	return service.Result{Success: true}, nil
}

func setupTestServer(invoices *MockInvoiceService, hooks *MockWebhookService) http.Handler {
	gin.SetMode(gin.TestMode)
	if invoices == nil {
		invoices = &MockInvoiceService{}
	}
	if hooks == nil {
		hooks = &MockWebhookService{}
	}
	return NewServer(invoices, hooks, zerolog.Nop()).Handler()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	return body
}

func testInvoice(status domain.InvoiceStatus) *domain.Invoice {
	issue := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inv := domain.NewInvoice("inv-1", "INV-2024-001", "Acme Corp", "Website", issue, issue.AddDate(0, 0, 29))
	inv.SetItems([]domain.LineItem{domain.NewLineItem("Build", 1, 25000)})
	inv.Status = status
	return inv
}

func TestHealth(t *testing.T) {
	router := setupTestServer(nil, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestWebhookPassesPayloadAndSignature(t *testing.T) {
	var gotPayload, gotSig string
	hooks := &MockWebhookService{
		HandlePayloadFunc: func(ctx context.Context, payload []byte, signature string) (service.Result, error) {
			gotPayload, gotSig = string(payload), signature
			return service.Result{Success: true, Duplicate: true, Message: "already paid"}, nil
		},
	}
	router := setupTestServer(nil, hooks)

	body := `{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(body))
	req.Header.Set(webhook.SignatureHeader, "t=1,v1=abc")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if gotPayload != body || gotSig != "t=1,v1=abc" {
		t.Errorf("payload %q signature %q", gotPayload, gotSig)
	}
	resp := decode(t, w)
	if resp["success"] != true || resp["duplicate"] != true {
		t.Errorf("response = %v", resp)
	}
}

func TestWebhookErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad signature", &domain.ValidationError{Field: webhook.SignatureHeader, Message: "signature rejected"}, http.StatusBadRequest},
		{"store failure", errors.New("disk full"), http.StatusInternalServerError},
		{"gateway down", domain.Unavailable(errors.New("timeout")), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hooks := &MockWebhookService{
				HandlePayloadFunc: func(ctx context.Context, payload []byte, signature string) (service.Result, error) {
					return service.Result{}, tt.err
				},
			}
			router := setupTestServer(nil, hooks)

			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString("{}"))
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
			if decode(t, w)["success"] != false {
				t.Error("Expected success=false")
			}
		})
	}
}

func TestWebhookRejectsOversizedPayload(t *testing.T) {
	router := setupTestServer(nil, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(make([]byte, maxPayloadSize+1)))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", w.Code)
	}
}

func TestListPassesFilter(t *testing.T) {
	var got service.ListFilter
	invoices := &MockInvoiceService{
		ListFunc: func(ctx context.Context, filter service.ListFilter) ([]*service.View, error) {
			got = filter
			inv := testInvoice(domain.InvoiceStatusSent)
			return []*service.View{{Invoice: inv, Overdue: domain.Overdue{IsOverdue: true, DaysOverdue: 6}, DisplayStatus: "overdue"}}, nil
		},
	}
	router := setupTestServer(invoices, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/invoices?status=overdue&client=Acme", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got.Status != "overdue" || got.Client != "Acme" {
		t.Errorf("filter = %+v", got)
	}
	resp := decode(t, w)
	if resp["count"] != float64(1) {
		t.Errorf("count = %v", resp["count"])
	}
}

func TestGetInvoice(t *testing.T) {
	invoices := &MockInvoiceService{
		GetFunc: func(ctx context.Context, ref string) (*service.View, error) {
			if ref != "INV-2024-001" {
				return nil, domain.ErrInvoiceNotFound
			}
			return &service.View{Invoice: testInvoice(domain.InvoiceStatusDraft), DisplayStatus: "draft"}, nil
		},
	}
	router := setupTestServer(invoices, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/invoices/INV-2024-001", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	data, _ := decode(t, w)["data"].(map[string]interface{})
	inv, _ := data["invoice"].(map[string]interface{})
	if inv["number"] != "INV-2024-001" || data["displayStatus"] != "draft" {
		t.Errorf("data = %v", data)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/invoices/missing", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestSendAndPayErrorMapping(t *testing.T) {
	invoices := &MockInvoiceService{
		SendFunc: func(ctx context.Context, ref string) (*domain.Invoice, error) {
			return nil, &domain.InvalidTransitionError{From: domain.InvoiceStatusPaid, Trigger: domain.TriggerSend}
		},
		PayFunc: func(ctx context.Context, ref string) (*service.PaymentResult, error) {
			return nil, &domain.PaymentDeclinedError{Reason: "card_declined"}
		},
	}
	router := setupTestServer(invoices, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/invoices/inv-1/send", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("send: expected status 409, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/invoices/inv-1/pay", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("pay: expected status 402, got %d", w.Code)
	}
	if resp := decode(t, w); resp["error"] != "Payment declined: card_declined" {
		t.Errorf("error = %v", resp["error"])
	}
}

func TestPayReturnsResult(t *testing.T) {
	invoices := &MockInvoiceService{
		PayFunc: func(ctx context.Context, ref string) (*service.PaymentResult, error) {
			inv := testInvoice(domain.InvoiceStatusPaid)
			now := time.Now()
			inv.PaidDate = &now
			inv.AmountPaid = decimal.NewFromInt(25000)
			return &service.PaymentResult{
				Invoice: inv,
				Intent:  &domain.PaymentIntent{ID: "pi_1", Status: domain.IntentStatusSucceeded},
				Result:  service.Applied,
			}, nil
		},
	}
	router := setupTestServer(invoices, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/invoices/inv-1/pay", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if resp := decode(t, w); resp["result"] != "applied" {
		t.Errorf("result = %v", resp["result"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrConfirmationRequired, http.StatusBadRequest},
		{domain.ErrIntentNotFound, http.StatusNotFound},
		{domain.ErrDuplicateNumber, http.StatusConflict},
		{domain.ErrAmountMismatch, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
