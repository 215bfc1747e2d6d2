// Package messaging 提供订单生命周期事件的 Outbox 发布与会员推送
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/exchangecore/pkg/db"
	"github.com/wyfcoding/exchangecore/pkg/logger"
	"gorm.io/gorm"
)

// Outbox 消息状态
const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
)

// OutboxMessage 待投递的事件，ID 为写入序号，投递按序号进行
type OutboxMessage struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	MessageID string    `gorm:"type:varchar(36);uniqueIndex"`
	Topic     string    `gorm:"type:varchar(100);index"`
	Key       string    `gorm:"type:varchar(64)"`
	Payload   string    `gorm:"type:text"`
	Status    string    `gorm:"type:varchar(20);index;default:'pending'"`
	Attempts  int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName 指定表名
func (OutboxMessage) TableName() string {
	return "outbox_messages"
}

// Sender 将消息投递到消息队列，*mq.KafkaProducer 满足该接口
type Sender interface {
	Send(ctx context.Context, topic, key string, value []byte) error
}

// OutboxEventPublisher 实现 domain.EventPublisher，事件与业务数据在同一事务内落库，
// 由 ProcessOutboxMessages 异步投递。
type OutboxEventPublisher struct {
	db *gorm.DB
}

// NewOutboxEventPublisher 创建新的 OutboxEventPublisher 实例
func NewOutboxEventPublisher(db *gorm.DB) *OutboxEventPublisher {
	return &OutboxEventPublisher{db: db}
}

// Notify 记录一条事件，topic 形如 market.<market_id>.<event>
func (p *OutboxEventPublisher) Notify(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", topic, err)
	}

	now := time.Now()
	message := OutboxMessage{
		MessageID: uuid.NewString(),
		Topic:     topic,
		Key:       messageKey(payload),
		Payload:   string(data),
		Status:    OutboxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return db.Conn(ctx, p.db).Create(&message).Error
}

// ProcessOutboxMessages 按写入序号投递一批待处理消息，返回成功投递的条数。
// 单条投递失败时停止本批次，保持同一分区内的顺序。
func (p *OutboxEventPublisher) ProcessOutboxMessages(ctx context.Context, sender Sender, batchSize int) (int, error) {
	var messages []OutboxMessage
	if err := p.db.WithContext(ctx).
		Where("status = ?", OutboxStatusPending).
		Order("id asc").
		Limit(batchSize).
		Find(&messages).Error; err != nil {
		return 0, err
	}

	sent := 0
	for i := range messages {
		message := &messages[i]
		if err := sender.Send(ctx, message.Topic, message.Key, []byte(message.Payload)); err != nil {
			p.db.WithContext(ctx).Model(message).UpdateColumn("attempts", gorm.Expr("attempts + 1"))
			logger.Warn(ctx, "outbox delivery failed", "message_id", message.MessageID, "topic", message.Topic, "error", err)
			return sent, err
		}
		if err := p.db.WithContext(ctx).Model(message).Updates(map[string]any{
			"status":     OutboxStatusSent,
			"updated_at": time.Now(),
		}).Error; err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// CleanupProcessedMessages 清理已处理的消息
func (p *OutboxEventPublisher) CleanupProcessedMessages(ctx context.Context, before time.Time) error {
	return p.db.WithContext(ctx).Where("status = ? AND updated_at < ?", OutboxStatusSent, before).Delete(&OutboxMessage{}).Error
}

// messageKey 以市场作为分区键，同一市场的事件保持顺序
func messageKey(payload any) string {
	if m, ok := payload.(map[string]any); ok {
		if market, ok := m["market"].(string); ok {
			return market
		}
	}
	return ""
}
