package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/exchangecore/internal/order/application"
	"github.com/wyfcoding/exchangecore/internal/order/domain"
	"github.com/wyfcoding/exchangecore/pkg/logger"
	"github.com/wyfcoding/exchangecore/pkg/response"
)

// MemberHeader 网关鉴权后注入的会员 ID
const MemberHeader = "X-Member-ID"

// OrderHandler HTTP 处理器
// 负责处理与订单相关的 HTTP 请求
type OrderHandler struct {
	cmd   *application.OrderCommandService
	query *application.OrderQueryService
}

// NewOrderHandler 创建 HTTP 处理器实例
func NewOrderHandler(cmd *application.OrderCommandService, query *application.OrderQueryService) *OrderHandler {
	return &OrderHandler{cmd: cmd, query: query}
}

// RegisterRoutes 注册路由
func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/orders")
	{
		api.POST("", h.CreateOrder)                    // 下单
		api.GET("", h.ListOrders)                      // 会员订单列表
		api.GET("/:id", h.GetOrder)                    // 订单详情
		api.POST("/:id/cancel", h.CancelOrder)         // 撤单
		api.GET("/:id/matching", h.MatchingAttributes) // 撮合属性
	}
}

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	Market       string              `json:"market" binding:"required"`
	Side         string              `json:"side" binding:"required,oneof=bid ask"`
	OrdType      string              `json:"ord_type" binding:"required,oneof=limit market"`
	Price        decimal.NullDecimal `json:"price"`
	Volume       decimal.Decimal     `json:"volume"`
	OriginVolume decimal.NullDecimal `json:"origin_volume"`
}

// CreateOrder 创建订单
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	memberID, ok := member(c)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	order, err := h.cmd.CreateOrder(c.Request.Context(), domain.CreateOrderRequest{
		MarketID:     req.Market,
		MemberID:     memberID,
		Side:         domain.Side(req.Side),
		OrdType:      domain.OrdType(req.OrdType),
		Price:        req.Price,
		Volume:       req.Volume,
		OriginVolume: req.OriginVolume,
	})
	if err != nil {
		WriteError(c, err)
		return
	}

	response.Success(c, order)
}

// CancelOrder 撤单
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, ok := h.owned(c)
	if !ok {
		return
	}

	canceled, err := h.cmd.TransitionOrder(c.Request.Context(), order.ID, domain.StateCancel)
	if err != nil {
		WriteError(c, err)
		return
	}
	response.Success(c, canceled)
}

// GetOrder 获取订单
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, ok := h.owned(c)
	if !ok {
		return
	}
	response.Success(c, order)
}

// MatchingAttributes 撮合属性
func (h *OrderHandler) MatchingAttributes(c *gin.Context) {
	order, ok := h.owned(c)
	if !ok {
		return
	}
	response.Success(c, order.ToMatchingAttributes())
}

// ListOrders 会员订单列表
func (h *OrderHandler) ListOrders(c *gin.Context) {
	memberID, ok := member(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, total, err := h.query.ListOrders(c.Request.Context(), memberID, domain.State(c.Query("state")), limit, offset)
	if err != nil {
		WriteError(c, err)
		return
	}
	response.Success(c, gin.H{"orders": orders, "total": total})
}

// owned 读取路径中的订单，非本人订单按不存在处理
func (h *OrderHandler) owned(c *gin.Context) (*domain.Order, bool) {
	memberID, ok := member(c)
	if !ok {
		return nil, false
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid order id", c.Param("id"))
		return nil, false
	}

	order, err := h.query.GetOrder(c.Request.Context(), uint(id))
	if err != nil {
		WriteError(c, err)
		return nil, false
	}
	if order.MemberID != memberID {
		WriteError(c, domain.ErrOrderNotFound)
		return nil, false
	}
	return order, true
}

func member(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.GetHeader(MemberHeader), 10, 64)
	if err != nil || id == 0 {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "member is required", "")
		return 0, false
	}
	return id, true
}

// WriteError 将领域错误映射为 HTTP 状态码
func WriteError(c *gin.Context, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		response.ErrorWithStatus(c, status, "internal error", "")
		return
	}
	response.ErrorWithStatus(c, status, err.Error(), "")
}

// StatusOf 错误对应的 HTTP 状态码
func StatusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientDepth),
		errors.Is(err, domain.ErrExcessiveSlippage),
		errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrOrderNotActive), errors.Is(err, domain.ErrStaleState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrMarketNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
