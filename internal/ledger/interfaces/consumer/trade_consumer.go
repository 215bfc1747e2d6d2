// Package consumer 消费撮合引擎发布的成交并驱动结算
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/exchangecore/internal/ledger/domain"
	orderdomain "github.com/wyfcoding/exchangecore/internal/order/domain"
	"github.com/wyfcoding/exchangecore/pkg/logger"
)

// Settler 结算入口
type Settler interface {
	SettleTrade(ctx context.Context, trade *domain.Trade) error
}

// Sender 死信投递，*mq.KafkaProducer 满足该接口
type Sender interface {
	Send(ctx context.Context, topic, key string, value []byte) error
}

// TradeMessage 撮合引擎的成交消息
type TradeMessage struct {
	ID          string          `json:"id"`
	Market      string          `json:"market"`
	Price       decimal.Decimal `json:"price"`
	Volume      decimal.Decimal `json:"volume"`
	Funds       decimal.Decimal `json:"funds"`
	AskID       uint            `json:"ask_id"`
	BidID       uint            `json:"bid_id"`
	AskMemberID uint64          `json:"ask_member_id"`
	BidMemberID uint64          `json:"bid_member_id"`
	// 撮合时间，unix 秒
	At int64 `json:"at"`
}

// ToTrade 转换为待结算成交，CreatedAt 取撮合时间，缺省时由落库时间填充
func (m TradeMessage) ToTrade() *domain.Trade {
	trade := &domain.Trade{
		TradeID:     m.ID,
		MarketID:    m.Market,
		AskOrderID:  m.AskID,
		BidOrderID:  m.BidID,
		AskMemberID: m.AskMemberID,
		BidMemberID: m.BidMemberID,
		Price:       m.Price,
		Volume:      m.Volume,
		Funds:       m.Funds,
	}
	if m.At > 0 {
		trade.CreatedAt = time.Unix(m.At, 0)
	}
	return trade
}

// TradeHandler 处理成交消息。
// 重复成交直接确认；业务上无法结算的消息转入死信主题后确认；
// 其余错误返回给消费循环，不提交偏移量。
type TradeHandler struct {
	settler  Settler
	dlq      Sender
	dlqTopic string
}

// NewTradeHandler 创建成交处理器，dlq 为空时业务失败仅记录日志
func NewTradeHandler(settler Settler, dlq Sender, dlqTopic string) *TradeHandler {
	return &TradeHandler{settler: settler, dlq: dlq, dlqTopic: dlqTopic}
}

// Handle 满足 mq.Handler
func (h *TradeHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var m TradeMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return h.deadLetter(ctx, msg, fmt.Errorf("decode trade: %w", err))
	}
	// 消息未带撮合时间时退回到消息的写入时间
	if m.At <= 0 && !msg.Time.IsZero() {
		m.At = msg.Time.Unix()
	}

	err := h.settler.SettleTrade(ctx, m.ToTrade())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrAlreadySettled):
		logger.Info(ctx, "duplicate trade skipped", "trade_id", m.ID)
		return nil
	case isPermanent(err):
		return h.deadLetter(ctx, msg, err)
	default:
		return err
	}
}

func (h *TradeHandler) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	logger.Error(ctx, "trade moved to dead letter",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", cause,
	)
	if h.dlq == nil {
		return nil
	}
	return h.dlq.Send(ctx, h.dlqTopic, string(msg.Key), msg.Value)
}

func isPermanent(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidTrade,
		domain.ErrAccountNotFound,
		domain.ErrInsufficientFunds,
		orderdomain.ErrOrderNotActive,
		orderdomain.ErrOrderNotFound,
		orderdomain.ErrOverfill,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
