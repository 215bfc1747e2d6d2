package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 订单形态不合法，ValidationError 均匹配此错误
	ErrValidation = errors.New("order validation failed")
	// ErrInsufficientDepth 市价单对手盘深度不足
	ErrInsufficientDepth = errors.New("market is not deep enough")
	// ErrExcessiveSlippage 市价单吃单价格偏离超过熔断阈值
	ErrExcessiveSlippage = errors.New("volume too large")
	// ErrInsufficientFunds 可用余额不足以冻结
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotActive 订单已处于终态
	ErrOrderNotActive = errors.New("order is not active")
	// ErrStaleState 状态迁移时订单已被其他事务修改
	ErrStaleState = errors.New("order state is stale")
	// ErrMarketNotFound 市场不存在
	ErrMarketNotFound = errors.New("market not found")
	// ErrOverfill 成交量或成交金额超过订单剩余
	ErrOverfill = errors.New("fill exceeds order remainder")
)

// ValidationError 描述具体不合法的字段
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation.Error(), e.Field, e.Reason)
}

// Is 使 errors.Is(err, ErrValidation) 成立
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
