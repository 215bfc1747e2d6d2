package domain

import (
	"errors"

	orderdomain "github.com/wyfcoding/exchangecore/internal/order/domain"
)

var (
	// ErrAccountNotFound 结算涉及的会员账户不存在
	ErrAccountNotFound = errors.New("account not found")
	// ErrAlreadySettled 同一成交 ID 已经结算
	ErrAlreadySettled = errors.New("trade already settled")
	// ErrInvalidTrade 成交与订单不匹配或数值非法
	ErrInvalidTrade = errors.New("invalid trade")
	// ErrInsufficientFunds 与订单域共用同一哨兵错误
	ErrInsufficientFunds = orderdomain.ErrInsufficientFunds
)
