// Package ratelimit 基于 Redis GCRA 的会员限流，按会员（无会员时按 IP）与路由分别计数
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix 限流计数的 Redis 键前缀
const KeyPrefix = "ratelimit"

// RateLimiter 限流器
type RateLimiter interface {
	Allow(ctx context.Context, subject Subject, limit Limit) (*Result, error)
}

// Subject 被限流的调用方与路由
type Subject struct {
	// 会员 ID，来自 X-Member-ID
	MemberID string
	// 客户端 IP，没有会员时使用
	IP string
	// "METHOD /path/:param" 形式的路由模板
	Route string
}

// Key 计数键：ratelimit:member:<id>:<route> 或 ratelimit:ip:<ip>:<route>
func (s Subject) Key() string {
	who := "ip:" + s.IP
	if s.MemberID != "" {
		who = "member:" + s.MemberID
	}
	return strings.Join([]string{KeyPrefix, who, s.Route}, ":")
}

// Limit 每秒令牌数与突发容量
type Limit struct {
	Rate  int
	Burst int
}

// Policy 默认额度，外加按路由覆盖的额度（例如下单）
type Policy struct {
	Default Limit
	Routes  map[string]Limit
}

// For 返回路由适用的额度
func (p Policy) For(route string) Limit {
	if l, ok := p.Routes[route]; ok {
		return l
	}
	return p.Default
}

// Result 限流结果
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RedisRateLimiter redis_rate 实现
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter 创建 Redis 限流器
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(rdb)}
}

// Allow 对 subject 消耗一个令牌。Rate 不大于 0 时不限流。
func (r *RedisRateLimiter) Allow(ctx context.Context, subject Subject, limit Limit) (*Result, error) {
	if limit.Rate <= 0 {
		return &Result{Allowed: true, Remaining: limit.Burst}, nil
	}
	burst := limit.Burst
	if burst < limit.Rate {
		burst = limit.Rate
	}

	res, err := r.limiter.Allow(ctx, subject.Key(), redis_rate.Limit{
		Rate:   limit.Rate,
		Period: time.Second,
		Burst:  burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", subject.Key(), err)
	}
	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}
