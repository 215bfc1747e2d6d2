package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/exchangecore/internal/ledger/application"
	"github.com/wyfcoding/exchangecore/internal/ledger/domain"
	"github.com/wyfcoding/exchangecore/internal/ledger/interfaces/consumer"
	orderhttp "github.com/wyfcoding/exchangecore/internal/order/interfaces/http"
	"github.com/wyfcoding/exchangecore/pkg/logger"
	"github.com/wyfcoding/exchangecore/pkg/response"
)

// LedgerHandler 账户与结算 HTTP 处理器
type LedgerHandler struct {
	funds      *application.FundsService
	settlement *application.SettlementService
	trades     domain.TradeRepository
}

// NewLedgerHandler 创建处理器
func NewLedgerHandler(funds *application.FundsService, settlement *application.SettlementService, trades domain.TradeRepository) *LedgerHandler {
	return &LedgerHandler{funds: funds, settlement: settlement, trades: trades}
}

// RegisterRoutes 注册路由，admin 组由调用方挂载鉴权
func (h *LedgerHandler) RegisterRoutes(router *gin.RouterGroup, admin *gin.RouterGroup) {
	api := router.Group("/api/v1")
	{
		api.GET("/accounts", h.Balances)
		api.GET("/trades", h.MyTrades)
		api.GET("/markets/:market/latest_price", h.LatestPrice)
	}

	ops := admin.Group("/admin/v1")
	{
		ops.POST("/deposits", h.Deposit)
		ops.POST("/trades", h.SettleTrade)
	}
}

// DepositRequest 入金请求
type DepositRequest struct {
	MemberID  uint64          `json:"member_id" binding:"required"`
	Currency  string          `json:"currency" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// Deposit 入金
func (h *LedgerHandler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		response.ErrorWithStatus(c, http.StatusBadRequest, "amount must be positive", "")
		return
	}

	account, err := h.funds.Deposit(c.Request.Context(), req.MemberID, req.Currency, req.Amount, req.Reference)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, account)
}

// Balances 当前会员的账户余额
func (h *LedgerHandler) Balances(c *gin.Context) {
	memberID, ok := member(c)
	if !ok {
		return
	}
	accounts, err := h.funds.Balances(c.Request.Context(), memberID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, accounts)
}

// MyTrades 当前会员的成交，支持 market、limit、time_to(unix 秒)、order=asc
func (h *LedgerHandler) MyTrades(c *gin.Context) {
	memberID, ok := member(c)
	if !ok {
		return
	}

	filter := domain.TradeFilter{
		MarketID:  c.Query("market"),
		Ascending: c.Query("order") == "asc",
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 50
	}
	if ts, err := strconv.ParseInt(c.Query("time_to"), 10, 64); err == nil && ts > 0 {
		filter.TimeTo = time.Unix(ts, 0)
	}

	trades, err := h.trades.ListForMember(c.Request.Context(), memberID, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trades)
}

// LatestPrice 市场最新成交价，无成交时为 0
func (h *LedgerHandler) LatestPrice(c *gin.Context) {
	market := c.Param("market")
	price, err := h.trades.LatestPrice(c.Request.Context(), market)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"market": market, "price": price})
}

// SettleTrade 手工提交成交结算，与消息消费走同一入口
func (h *LedgerHandler) SettleTrade(c *gin.Context) {
	var msg consumer.TradeMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	trade := msg.ToTrade()
	if err := h.settlement.SettleTrade(c.Request.Context(), trade); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trade)
}

func member(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.GetHeader(orderhttp.MemberHeader), 10, 64)
	if err != nil || id == 0 {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "member is required", "")
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrAlreadySettled):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTrade):
		status = http.StatusBadRequest
	default:
		status = orderhttp.StatusOf(err)
	}

	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		response.ErrorWithStatus(c, status, "internal error", "")
		return
	}
	response.ErrorWithStatus(c, status, err.Error(), "")
}
