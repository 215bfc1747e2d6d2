package messaging

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher Redis 发布命令，*cache.RedisCache 满足该接口
type Publisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// RedisNotifier 实现 domain.Notifier，推送到 member.<member_id>.<channel>
type RedisNotifier struct {
	pub Publisher
}

// NewRedisNotifier 创建会员推送器
func NewRedisNotifier(pub Publisher) *RedisNotifier {
	return &RedisNotifier{pub: pub}
}

// Push 推送一条消息
func (n *RedisNotifier) Push(ctx context.Context, memberID uint64, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return n.pub.Publish(ctx, MemberChannel(memberID, channel), data)
}

// MemberChannel 会员推送频道名
func MemberChannel(memberID uint64, channel string) string {
	return fmt.Sprintf("member.%d.%s", memberID, channel)
}
