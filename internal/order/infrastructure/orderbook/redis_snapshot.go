// Package orderbook 从 Redis 读取撮合引擎发布的盘口快照
package orderbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/exchangecore/internal/order/domain"
)

// KeyPrefix 快照键前缀，完整键为 orderbook:<market_id>
const KeyPrefix = "orderbook:"

// Store RedisSnapshotSource 依赖的最小命令集，*redis.Client 满足该接口
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// snapshotDoc 快照的存储格式，每档为 [price, volume] 字符串对
type snapshotDoc struct {
	At   int64       `json:"at"`
	Asks [][2]string `json:"asks"`
	Bids [][2]string `json:"bids"`
}

// RedisSnapshotSource 实现 domain.OrderBookSource
type RedisSnapshotSource struct {
	store Store
	ttl   time.Duration
}

// NewRedisSnapshotSource 创建快照源，ttl 为 Save 写入时的过期时间，0 表示不过期
func NewRedisSnapshotSource(store Store, ttl time.Duration) *RedisSnapshotSource {
	return &RedisSnapshotSource{store: store, ttl: ttl}
}

// Snapshot 读取市场快照；键不存在时返回空盘口，由估算逻辑判定深度不足
func (s *RedisSnapshotSource) Snapshot(ctx context.Context, marketID string) (*domain.Snapshot, error) {
	data, err := s.store.Get(ctx, KeyPrefix+marketID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.NewSnapshot(marketID, nil, nil, time.Now()), nil
		}
		return nil, fmt.Errorf("failed to load orderbook %s: %w", marketID, err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode orderbook %s: %w", marketID, err)
	}

	asks, err := parseLevels(doc.Asks)
	if err != nil {
		return nil, fmt.Errorf("orderbook %s asks: %w", marketID, err)
	}
	bids, err := parseLevels(doc.Bids)
	if err != nil {
		return nil, fmt.Errorf("orderbook %s bids: %w", marketID, err)
	}

	takenAt := time.Now()
	if doc.At > 0 {
		takenAt = time.Unix(doc.At, 0)
	}
	return domain.NewSnapshot(marketID, bids, asks, takenAt), nil
}

// Save 写入快照，供撮合侧或运维工具发布盘口
func (s *RedisSnapshotSource) Save(ctx context.Context, snap *domain.Snapshot) error {
	doc := snapshotDoc{
		At:   snap.TakenAt.Unix(),
		Asks: formatLevels(snap.Levels(domain.SideAsk)),
		Bids: formatLevels(snap.Levels(domain.SideBid)),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, KeyPrefix+snap.MarketID, data, s.ttl).Err()
}

func parseLevels(raw [][2]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for i, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		volume, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("level %d volume: %w", i, err)
		}
		levels = append(levels, domain.PriceLevel{Price: price, Volume: volume})
	}
	return levels, nil
}

func formatLevels(levels []domain.PriceLevel) [][2]string {
	out := make([][2]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, [2]string{l.Price.String(), l.Volume.String()})
	}
	return out
}
