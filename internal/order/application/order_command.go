// Package application 订单服务的用例编排：下单冻结、状态迁移与查询
package application

import (
	"context"
	"errors"

	"github.com/wyfcoding/exchangecore/internal/order/domain"
	"github.com/wyfcoding/exchangecore/pkg/logger"
	"github.com/wyfcoding/exchangecore/pkg/metrics"
)

// OrderCommandService 处理订单相关的命令操作
type OrderCommandService struct {
	repo      domain.OrderRepository
	funds     domain.FundsLocker
	book      domain.OrderBookSource
	publisher domain.EventPublisher
	notifier  domain.Notifier
	tx        domain.TxManager
	markets   *domain.MarketRegistry
	metrics   *metrics.Metrics
}

// Deps OrderCommandService 的依赖，Metrics 可为空
type Deps struct {
	Repo      domain.OrderRepository
	Funds     domain.FundsLocker
	Book      domain.OrderBookSource
	Publisher domain.EventPublisher
	Notifier  domain.Notifier
	Tx        domain.TxManager
	Markets   *domain.MarketRegistry
	Metrics   *metrics.Metrics
}

// NewOrderCommandService 创建新的 OrderCommandService 实例
func NewOrderCommandService(deps Deps) *OrderCommandService {
	return &OrderCommandService{
		repo:      deps.Repo,
		funds:     deps.Funds,
		book:      deps.Book,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		tx:        deps.Tx,
		markets:   deps.Markets,
		metrics:   deps.Metrics,
	}
}

// CreateOrder 校验并归一化订单，估算冻结金额，在同一事务内冻结资金并保存订单。
// 限价单在事务内写入 order_created 事件；提交后推送会员界面。
func (s *OrderCommandService) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	market, err := s.markets.Get(req.MarketID)
	if err != nil {
		s.rejected("market")
		return nil, err
	}

	order := domain.NewOrder(req, market)
	if err := order.Validate(); err != nil {
		s.rejected("validation")
		return nil, err
	}

	var book domain.OrderBookSnapshot
	if order.OrdType == domain.OrdTypeMarket {
		snap, err := s.book.Snapshot(ctx, market.ID)
		if err != nil {
			logger.Error(ctx, "failed to load orderbook", "market", market.ID, "error", err)
			return nil, err
		}
		book = snap
	}

	locked, err := domain.ComputeLocked(order, book)
	if err != nil {
		s.rejected(rejectReason(err))
		logger.Info(ctx, "order rejected", "market", market.ID, "member_id", req.MemberID, "reason", err.Error())
		return nil, err
	}
	order.Reserve(locked)

	publication := domain.CreationPublication(order)
	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, order); err != nil {
			return err
		}
		if err := s.funds.LockFunds(ctx, order.MemberID, order.LockedCurrency(), locked, order.ID); err != nil {
			return err
		}
		if publication.Event != "" {
			return s.publisher.Notify(ctx, domain.Topic(order.MarketID, publication.Event), order.PushPayload())
		}
		return nil
	})
	if err != nil {
		s.rejected(rejectReason(err))
		logger.Warn(ctx, "create order failed", "market", market.ID, "member_id", req.MemberID, "error", err)
		return nil, err
	}

	if publication.Push {
		s.push(ctx, order)
	}
	if s.metrics != nil {
		s.metrics.OrdersCreated.WithLabelValues(order.MarketID, string(order.OrdType)).Inc()
	}
	logger.Info(ctx, "order created",
		"order_id", order.ID,
		"market", order.MarketID,
		"side", order.Side,
		"ord_type", order.OrdType,
		"locked", order.Locked.String(),
	)
	return order, nil
}

// TransitionOrder 将 wait 订单迁移到 done 或 cancel，并在同一事务内返还剩余冻结。
// 订单不在 wait 返回 ErrOrderNotActive；并发修改返回 ErrStaleState。
func (s *OrderCommandService) TransitionOrder(ctx context.Context, orderID uint, to domain.State) (*domain.Order, error) {
	var order *domain.Order
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		previous := o.State
		if err := o.Transition(to); err != nil {
			return err
		}

		remaining := o.ReleaseLocked()
		if err := s.repo.Update(ctx, o, previous); err != nil {
			return err
		}
		if remaining.IsPositive() {
			if err := s.funds.UnlockFunds(ctx, o.MemberID, o.LockedCurrency(), remaining, o.ID); err != nil {
				return err
			}
		}
		if event := domain.UpdateEvent(previous, o); event != "" {
			if err := s.publisher.Notify(ctx, domain.Topic(o.MarketID, event), o.PushPayload()); err != nil {
				return err
			}
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.push(ctx, order)
	if s.metrics != nil {
		s.metrics.OrderTransitions.WithLabelValues(string(order.State)).Inc()
	}
	logger.Info(ctx, "order transitioned", "order_id", order.ID, "state", order.State)
	return order, nil
}

// push 推送失败只记录日志，不影响已提交的结果
func (s *OrderCommandService) push(ctx context.Context, order *domain.Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Push(ctx, order.MemberID, domain.PushChannelOrder, order.PushPayload()); err != nil {
		logger.Warn(ctx, "order push failed", "order_id", order.ID, "member_id", order.MemberID, "error", err)
	}
}

func (s *OrderCommandService) rejected(reason string) {
	if s.metrics != nil {
		s.metrics.OrdersRejected.WithLabelValues(reason).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrInsufficientDepth):
		return "insufficient_depth"
	case errors.Is(err, domain.ErrExcessiveSlippage):
		return "excessive_slippage"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "internal"
	}
}
