package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appmetering "github.com/erp/billing/internal/application/metering"
	"github.com/erp/billing/internal/application/reconciliation"
	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/domain/metering"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockIngestor struct{ mock.Mock }

func (m *mockIngestor) Emit(ctx context.Context, event metering.MeterEvent) (metering.MeterEvent, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(metering.MeterEvent), args.Error(1)
}

func (m *mockIngestor) Flush(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockIngestor) Pending() int {
	return m.Called().Int(0)
}

func (m *mockIngestor) DeadLetters(ctx context.Context) ([]metering.DeadLetter, error) {
	args := m.Called(ctx)
	letters, _ := args.Get(0).([]metering.DeadLetter)
	return letters, args.Error(1)
}

type mockAggregator struct{ mock.Mock }

func (m *mockAggregator) Aggregate(ctx context.Context) (appmetering.AggregateResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(appmetering.AggregateResult), args.Error(1)
}

func (m *mockAggregator) Summaries(ctx context.Context, filter metering.SummaryFilter) ([]metering.UsageSummary, error) {
	args := m.Called(ctx, filter)
	summaries, _ := args.Get(0).([]metering.UsageSummary)
	return summaries, args.Error(1)
}

type mockLedger struct{ mock.Mock }

func (m *mockLedger) Credit(ctx context.Context, req credit.CreditRequest) (*credit.CreditTransaction, error) {
	args := m.Called(ctx, req)
	tx, _ := args.Get(0).(*credit.CreditTransaction)
	return tx, args.Error(1)
}

func (m *mockLedger) Debit(ctx context.Context, req credit.DebitRequest) (*credit.CreditTransaction, error) {
	args := m.Called(ctx, req)
	tx, _ := args.Get(0).(*credit.CreditTransaction)
	return tx, args.Error(1)
}

func (m *mockLedger) Balance(ctx context.Context, tenantID string) (credit.Credit, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(credit.Credit), args.Error(1)
}

func (m *mockLedger) Transactions(ctx context.Context, filter credit.TransactionFilter) ([]credit.CreditTransaction, error) {
	args := m.Called(ctx, filter)
	txs, _ := args.Get(0).([]credit.CreditTransaction)
	return txs, args.Error(1)
}

func (m *mockLedger) MemberUsage(ctx context.Context, tenantID string) ([]credit.MemberUsage, error) {
	args := m.Called(ctx, tenantID)
	usage, _ := args.Get(0).([]credit.MemberUsage)
	return usage, args.Error(1)
}

func (m *mockLedger) TenantsWithBalance(ctx context.Context) ([]credit.TenantBalance, error) {
	args := m.Called(ctx)
	balances, _ := args.Get(0).([]credit.TenantBalance)
	return balances, args.Error(1)
}

type mockReconciler struct{ mock.Mock }

func (m *mockReconciler) Reconcile(ctx context.Context, start, end time.Time) (*reconciliation.Report, error) {
	args := m.Called(ctx, start, end)
	report, _ := args.Get(0).(*reconciliation.Report)
	return report, args.Error(1)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
	Meta *struct {
		Count int `json:"count"`
	} `json:"meta"`
}

func serve(t *testing.T, register func(rg *gin.RouterGroup), method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	engine := gin.New()
	register(engine.Group("/api/v1"))

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestMeteringHandler_Emit(t *testing.T) {
	ing := new(mockIngestor)
	h := NewMeteringHandler(ing, new(mockAggregator))

	stored := metering.MeterEvent{ID: "e1", TenantID: "t1", Capability: metering.CapabilityLLM, Provider: "openai", Charge: credit.FromUnits(2)}
	ing.On("Emit", mock.Anything, mock.MatchedBy(func(e metering.MeterEvent) bool {
		return e.TenantID == "t1" && e.Charge == credit.FromUnits(2)
	})).Return(stored, nil).Once()

	w, env := serve(t, h.RegisterRoutes, http.MethodPost, "/api/v1/meter-events", map[string]any{
		"tenant": "t1", "capability": "llm", "provider": "openai", "charge": 2_000_000,
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"id":"e1"`)
	ing.AssertExpectations(t)
}

func TestMeteringHandler_EmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid event", fmtErr(metering.ErrInvalidEvent), http.StatusBadRequest, "ERR_VALIDATION"},
		{"closed", metering.ErrIngestorClosed, http.StatusServiceUnavailable, "ERR_UNAVAILABLE"},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError, "ERR_INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := new(mockIngestor)
			ing.On("Emit", mock.Anything, mock.Anything).Return(metering.MeterEvent{}, tt.err)
			h := NewMeteringHandler(ing, new(mockAggregator))

			w, env := serve(t, h.RegisterRoutes, http.MethodPost, "/api/v1/meter-events", map[string]any{"tenant": "t1"})
			assert.Equal(t, tt.status, w.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func fmtErr(base error) error {
	return errors.Join(base, errors.New("provider is required"))
}

func TestMeteringHandler_FlushAndDeadLetters(t *testing.T) {
	ing := new(mockIngestor)
	ing.On("Flush", mock.Anything).Return(nil)
	ing.On("Pending").Return(0)
	ing.On("DeadLetters", mock.Anything).Return([]metering.DeadLetter{{Reason: "boom", Attempts: 4}}, nil)
	h := NewMeteringHandler(ing, new(mockAggregator))

	w, env := serve(t, h.RegisterRoutes, http.MethodPost, "/api/v1/meter-events/flush", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"pending":0}`, string(env.Data))

	w, env = serve(t, h.RegisterRoutes, http.MethodGet, "/api/v1/dead-letters", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Count)
}

func TestMeteringHandler_AggregateAndSummaries(t *testing.T) {
	agg := new(mockAggregator)
	agg.On("Aggregate", mock.Anything).Return(appmetering.AggregateResult{Windows: 2, Events: 5, Summaries: 3}, nil)
	agg.On("Summaries", mock.Anything, metering.SummaryFilter{TenantID: "t1", Limit: 10}).
		Return([]metering.UsageSummary{{TenantID: "t1"}}, nil)
	h := NewMeteringHandler(new(mockIngestor), agg)

	w, env := serve(t, h.RegisterRoutes, http.MethodPost, "/api/v1/aggregate", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"events":5`)

	w, env = serve(t, h.RegisterRoutes, http.MethodGet, "/api/v1/usage-summaries?tenant=t1&limit=10", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.Meta.Count)

	w, _ = serve(t, h.RegisterRoutes, http.MethodGet, "/api/v1/usage-summaries?limit=0x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	agg.AssertExpectations(t)
}

func TestLedgerHandler_Balance(t *testing.T) {
	l := new(mockLedger)
	l.On("Balance", mock.Anything, "t1").Return(credit.MustParseCredit("12.5"), nil)
	h := NewLedgerHandler(l)

	w, env := serve(t, h.RegisterRoutes, http.MethodGet, "/api/v1/tenants/t1/balance", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tenantId":"t1","balance":12500000,"display":"12.50"}`, string(env.Data))
}

func TestLedgerHandler_Credit(t *testing.T) {
	l := new(mockLedger)
	l.On("Credit", mock.Anything, credit.CreditRequest{
		TenantID:      "t1",
		Amount:        credit.FromUnits(10),
		Type:          credit.TransactionTypePurchase,
		ReferenceID:   "pay_1",
		FundingSource: "stripe",
	}).Return(&credit.CreditTransaction{ID: "tx1", TenantID: "t1", Amount: credit.FromUnits(10)}, nil)
	h := NewLedgerHandler(l)

	w, env := serve(t, h.RegisterRoutes, http.MethodPost, "/api/v1/tenants/t1/credits", map[string]any{
		"amount": "10", "type": "purchase", "referenceId": "pay_1", "fundingSource": "stripe",
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, string(env.Data), `"id":"tx1"`)
	l.AssertExpectations(t)
}

func TestLedgerHandler_CreditValidation(t *testing.T) {
	h := NewLedgerHandler(new(mockLedger))

	w, _ := serve(t, h.RegisterRoutes, http.MethodPost, "/api/v1/tenants/t1/credits", map[string]any{"type": "purchase"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = serve(t, h.RegisterRoutes, http.MethodPost, "/api/v1/tenants/t1/credits", map[string]any{"amount": "ten", "type": "purchase"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := serve(t, h.RegisterRoutes, http.MethodPost, "/api/v1/tenants/t1/credits", map[string]any{"amount": "1", "type": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ERR_VALIDATION", env.Error.Code)
}

func TestLedgerHandler_DebitInsufficient(t *testing.T) {
	l := new(mockLedger)
	l.On("Debit", mock.Anything, mock.Anything).Return(nil, &credit.InsufficientBalanceError{
		TenantID:  "t1",
		Available: credit.FromUnits(3),
		Requested: credit.FromUnits(5),
	})
	h := NewLedgerHandler(l)

	w, env := serve(t, h.RegisterRoutes, http.MethodPost, "/api/v1/tenants/t1/debits", map[string]any{
		"amount": "5", "type": "adapter_usage",
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ERR_INSUFFICIENT_BALANCE", env.Error.Code)
	assert.JSONEq(t, `{"available":3000000,"requested":5000000}`, string(env.Error.Details))
}

func TestLedgerHandler_DebitDuplicate(t *testing.T) {
	l := new(mockLedger)
	l.On("Debit", mock.Anything, mock.MatchedBy(func(r credit.DebitRequest) bool {
		return r.ReferenceID == "job-1" && r.AllowPartial && r.AttributedUserID == "u1"
	})).Return(nil, &credit.DuplicateReferenceError{ReferenceID: "job-1"})
	h := NewLedgerHandler(l)

	w, env := serve(t, h.RegisterRoutes, http.MethodPost, "/api/v1/tenants/t1/debits", map[string]any{
		"amount": "5", "type": "adapter_usage", "referenceId": "job-1", "allowPartial": true, "userId": "u1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ERR_DUPLICATE_REFERENCE", env.Error.Code)
	l.AssertExpectations(t)
}

func TestLedgerHandler_Reads(t *testing.T) {
	l := new(mockLedger)
	l.On("Transactions", mock.Anything, credit.TransactionFilter{
		TenantID: "t1", Type: credit.TransactionTypeDividend, Limit: 5,
	}).Return([]credit.CreditTransaction{{ID: "a"}, {ID: "b"}}, nil)
	l.On("MemberUsage", mock.Anything, "t1").Return(nil, nil)
	l.On("TenantsWithBalance", mock.Anything).Return([]credit.TenantBalance{{TenantID: "t1", Balance: 1}}, nil)
	h := NewLedgerHandler(l)

	w, env := serve(t, h.RegisterRoutes, http.MethodGet, "/api/v1/tenants/t1/transactions?type=dividend&limit=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, env.Meta.Count)

	w, env = serve(t, h.RegisterRoutes, http.MethodGet, "/api/v1/tenants/t1/member-usage", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", string(env.Data))

	w, env = serve(t, h.RegisterRoutes, http.MethodGet, "/api/v1/balances", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.Meta.Count)

	w, _ = serve(t, h.RegisterRoutes, http.MethodGet, "/api/v1/tenants/t1/transactions?type=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	l.AssertExpectations(t)
}

func TestReconciliationHandler(t *testing.T) {
	r := new(mockReconciler)
	h := NewReconciliationHandler(r)
	h.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

	dayStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	dayEnd := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	r.On("Reconcile", mock.Anything, dayStart, dayEnd).Return(&reconciliation.Report{
		WindowStart: dayStart, WindowEnd: dayEnd, TenantsCompared: 2,
	}, nil)

	w, env := serve(t, h.RegisterRoutes, http.MethodGet, "/api/v1/reconciliation", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"tenantsCompared":2`)

	w, _ = serve(t, h.RegisterRoutes, http.MethodGet,
		"/api/v1/reconciliation?start=2026-03-02T00:00:00Z&end=2026-03-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	r.AssertExpectations(t)
}

func TestHealthHandler(t *testing.T) {
	ok := NewHealthHandler(map[string]Pinger{"db": PingFunc(func(context.Context) error { return nil })})
	w, _ := serve(t, func(rg *gin.RouterGroup) { rg.GET("/healthz", ok.Health) }, http.MethodGet, "/api/v1/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	bad := NewHealthHandler(map[string]Pinger{"db": PingFunc(func(context.Context) error { return errors.New("down") })})
	w, _ = serve(t, func(rg *gin.RouterGroup) { rg.GET("/healthz", bad.Health) }, http.MethodGet, "/api/v1/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)
}
