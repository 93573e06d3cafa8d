package handler

import (
	"context"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// LedgerService is the slice of the ledger the API drives.
type LedgerService interface {
	Credit(ctx context.Context, req credit.CreditRequest) (*credit.CreditTransaction, error)
	Debit(ctx context.Context, req credit.DebitRequest) (*credit.CreditTransaction, error)
	Balance(ctx context.Context, tenantID string) (credit.Credit, error)
	Transactions(ctx context.Context, filter credit.TransactionFilter) ([]credit.CreditTransaction, error)
	MemberUsage(ctx context.Context, tenantID string) ([]credit.MemberUsage, error)
	TenantsWithBalance(ctx context.Context) ([]credit.TenantBalance, error)
}

// LedgerHandler serves balances, credits, debits and the audit trail.
type LedgerHandler struct {
	BaseHandler
	ledger LedgerService
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(ledger LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// RegisterRoutes implements router.RouteRegistrar
func (h *LedgerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/balances", h.Balances)

	tenants := rg.Group("/tenants/:tenant")
	tenants.GET("/balance", h.Balance)
	tenants.POST("/credits", h.Credit)
	tenants.POST("/debits", h.Debit)
	tenants.GET("/transactions", h.Transactions)
	tenants.GET("/member-usage", h.MemberUsage)
}

// Balance godoc
//
//	@Summary	Current balance of a tenant
//	@Router		/tenants/{tenant}/balance [get]
func (h *LedgerHandler) Balance(c *gin.Context) {
	tenant := c.Param("tenant")
	balance, err := h.ledger.Balance(c.Request.Context(), tenant)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewBalanceResponse(tenant, balance))
}

// Credit godoc
//
//	@Summary	Add credit to a tenant
//	@Router		/tenants/{tenant}/credits [post]
func (h *LedgerHandler) Credit(c *gin.Context) {
	var req dto.CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	amount, txType, ok := h.parseAmountAndType(c, req.Amount, req.Type)
	if !ok {
		return
	}

	tx, err := h.ledger.Credit(c.Request.Context(), credit.CreditRequest{
		TenantID:      c.Param("tenant"),
		Amount:        amount,
		Type:          txType,
		Description:   req.Description,
		ReferenceID:   req.ReferenceID,
		FundingSource: req.FundingSource,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, tx)
}

// Debit godoc
//
//	@Summary	Remove credit from a tenant
//	@Failure	402	{object}	dto.Response	"insufficient balance, details carry available and requested"
//	@Failure	409	{object}	dto.Response	"reference id already recorded"
//	@Router		/tenants/{tenant}/debits [post]
func (h *LedgerHandler) Debit(c *gin.Context) {
	var req dto.DebitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	amount, txType, ok := h.parseAmountAndType(c, req.Amount, req.Type)
	if !ok {
		return
	}

	tx, err := h.ledger.Debit(c.Request.Context(), credit.DebitRequest{
		TenantID:         c.Param("tenant"),
		Amount:           amount,
		Type:             txType,
		Description:      req.Description,
		ReferenceID:      req.ReferenceID,
		AllowPartial:     req.AllowPartial,
		AttributedUserID: req.UserID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, tx)
}

// Transactions lists a tenant's ledger entries, newest first.
func (h *LedgerHandler) Transactions(c *gin.Context) {
	var q dto.TransactionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	filter := credit.TransactionFilter{
		TenantID: c.Param("tenant"),
		From:     q.From,
		To:       q.To,
		Limit:    q.Limit,
		Offset:   q.Offset,
		OrderBy:  q.Sort,
		OrderDir: q.Order,
	}
	if q.Type != "" {
		t, err := credit.ParseTransactionType(q.Type)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		filter.Type = t
	}

	txs, err := h.ledger.Transactions(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if txs == nil {
		txs = []credit.CreditTransaction{}
	}
	h.List(c, txs, len(txs), q.Limit, q.Offset)
}

// MemberUsage reports debits per attributed user.
func (h *LedgerHandler) MemberUsage(c *gin.Context) {
	usage, err := h.ledger.MemberUsage(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if usage == nil {
		usage = []credit.MemberUsage{}
	}
	h.List(c, usage, len(usage), 0, 0)
}

// Balances lists tenants holding a positive balance.
func (h *LedgerHandler) Balances(c *gin.Context) {
	balances, err := h.ledger.TenantsWithBalance(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if balances == nil {
		balances = []credit.TenantBalance{}
	}
	h.List(c, balances, len(balances), 0, 0)
}

func (h *LedgerHandler) parseAmountAndType(c *gin.Context, rawAmount, rawType string) (credit.Credit, credit.TransactionType, bool) {
	amount, err := credit.ParseCredit(rawAmount)
	if err != nil {
		h.Error(c, dto.ErrCodeValidation, "amount: "+err.Error())
		return 0, "", false
	}
	txType, err := credit.ParseTransactionType(rawType)
	if err != nil {
		h.HandleError(c, err)
		return 0, "", false
	}
	return amount, txType, true
}
