package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/exchangecore/internal/ledger/domain"
	orderdomain "github.com/wyfcoding/exchangecore/internal/order/domain"
	"github.com/wyfcoding/exchangecore/pkg/logger"
	"github.com/wyfcoding/exchangecore/pkg/metrics"
)

// EventTrade 公开成交事件名
const EventTrade = "trade"

// PushChannelTrade 会员成交推送频道
const PushChannelTrade = "trade"

// SettlementDeps SettlementService 的依赖，Notifier 与 Metrics 可为空
type SettlementDeps struct {
	Tx          orderdomain.TxManager
	Orders      orderdomain.OrderRepository
	Liabilities domain.LiabilityStore
	Revenues    domain.RevenueStore
	Trades      domain.TradeRepository
	Publisher   orderdomain.EventPublisher
	Notifier    orderdomain.Notifier
	Metrics     *metrics.Metrics
}

// SettlementService 成交结算
type SettlementService struct {
	SettlementDeps
}

// NewSettlementService 创建结算服务
func NewSettlementService(deps SettlementDeps) *SettlementService {
	return &SettlementService{SettlementDeps: deps}
}

// SettleTrade 在一个事务内完成成交的全部账务：锁定两个订单，拒绝重复成交，
// 按账户顺序加锁记账，记录手续费收入，更新订单并保存成交。任一步失败整体回滚。
func (s *SettlementService) SettleTrade(ctx context.Context, trade *domain.Trade) error {
	start := time.Now()
	if trade.Funds.IsZero() {
		trade.Funds = trade.Price.Mul(trade.Volume)
	}

	var ask, bid *orderdomain.Order
	err := s.Tx.Transaction(ctx, func(ctx context.Context) error {
		var err error
		ask, bid, err = s.lockOrders(ctx, trade)
		if err != nil {
			return err
		}

		settled, err := s.Trades.Exists(ctx, trade.TradeID)
		if err != nil {
			return err
		}
		if settled {
			return fmt.Errorf("%w: %s", domain.ErrAlreadySettled, trade.TradeID)
		}
		for _, o := range []*orderdomain.Order{ask, bid} {
			if o.State != orderdomain.StateWait {
				return fmt.Errorf("%w: order %d is %s", orderdomain.ErrOrderNotActive, o.ID, o.State)
			}
		}

		plan, err := domain.PlanSettlement(trade, ask, bid)
		if err != nil {
			return err
		}
		if err := plan.ApplyFills(ask, bid); err != nil {
			return err
		}

		keys, groups := domain.GroupByAccount(plan.Postings)
		for _, k := range keys {
			if _, err := s.Liabilities.LockAndAdjust(ctx, k.MemberID, k.Currency, groups[k], domain.RefTrade, trade.TradeID); err != nil {
				return err
			}
		}
		for _, r := range plan.Revenues {
			if err := s.Revenues.Record(ctx, r); err != nil {
				return err
			}
		}

		for _, o := range []*orderdomain.Order{ask, bid} {
			if err := s.Orders.Update(ctx, o, orderdomain.StateWait); err != nil {
				return err
			}
			if event := orderdomain.UpdateEvent(orderdomain.StateWait, o); event != "" {
				if err := s.Publisher.Notify(ctx, orderdomain.Topic(o.MarketID, event), o.PushPayload()); err != nil {
					return err
				}
			}
		}

		now := time.Now()
		trade.SettledAt = &now
		if err := s.Trades.Create(ctx, trade); err != nil {
			return err
		}
		return s.Publisher.Notify(ctx, orderdomain.Topic(trade.MarketID, EventTrade), trade.ForNotify())
	})
	if err != nil {
		s.failed(ctx, trade, err)
		return err
	}

	s.pushAll(ctx, trade, ask, bid)
	if s.Metrics != nil {
		s.Metrics.TradesSettled.WithLabelValues(trade.MarketID).Inc()
		s.Metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	}
	logger.Info(ctx, "trade settled",
		"trade_id", trade.TradeID,
		"market", trade.MarketID,
		"ask_id", trade.AskOrderID,
		"bid_id", trade.BidOrderID,
		"volume", trade.Volume.String(),
		"funds", trade.Funds.String(),
	)
	return nil
}

// lockOrders 按订单 ID 升序加锁
func (s *SettlementService) lockOrders(ctx context.Context, trade *domain.Trade) (*orderdomain.Order, *orderdomain.Order, error) {
	if trade.AskOrderID == trade.BidOrderID {
		return nil, nil, fmt.Errorf("%w: ask and bid are the same order %d", domain.ErrInvalidTrade, trade.AskOrderID)
	}
	first, second := trade.AskOrderID, trade.BidOrderID
	if second < first {
		first, second = second, first
	}

	locked := make(map[uint]*orderdomain.Order, 2)
	for _, id := range []uint{first, second} {
		o, err := s.Orders.GetForUpdate(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = o
	}
	return locked[trade.AskOrderID], locked[trade.BidOrderID], nil
}

func (s *SettlementService) pushAll(ctx context.Context, trade *domain.Trade, ask, bid *orderdomain.Order) {
	if s.Notifier == nil {
		return
	}
	for _, o := range []*orderdomain.Order{ask, bid} {
		// 自成交时两边各推一次，方向取订单方向
		view := *trade
		view.Side = o.Side
		if err := s.Notifier.Push(ctx, o.MemberID, PushChannelTrade, view.ForNotify()); err != nil {
			logger.Warn(ctx, "trade push failed", "trade_id", trade.TradeID, "member_id", o.MemberID, "error", err)
		}
		if err := s.Notifier.Push(ctx, o.MemberID, orderdomain.PushChannelOrder, o.PushPayload()); err != nil {
			logger.Warn(ctx, "order push failed", "order_id", o.ID, "member_id", o.MemberID, "error", err)
		}
	}
}

func (s *SettlementService) failed(ctx context.Context, trade *domain.Trade, err error) {
	reason := failureReason(err)
	if s.Metrics != nil {
		s.Metrics.SettlementFailures.WithLabelValues(reason).Inc()
	}
	logger.Warn(ctx, "trade settlement failed", "trade_id", trade.TradeID, "reason", reason, "error", err)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, orderdomain.ErrOrderNotActive):
		return "order_not_active"
	case errors.Is(err, orderdomain.ErrStaleState):
		return "stale_state"
	case errors.Is(err, orderdomain.ErrOrderNotFound), errors.Is(err, domain.ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrInvalidTrade), errors.Is(err, orderdomain.ErrOverfill):
		return "invalid_trade"
	default:
		return "internal"
	}
}
