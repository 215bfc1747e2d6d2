package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectKey(t *testing.T) {
	assert.Equal(t, "ratelimit:member:42:POST /api/v1/orders",
		Subject{MemberID: "42", IP: "10.0.0.1", Route: "POST /api/v1/orders"}.Key())
	assert.Equal(t, "ratelimit:ip:10.0.0.1:GET /api/v1/trades",
		Subject{IP: "10.0.0.1", Route: "GET /api/v1/trades"}.Key())
}

func TestPolicyFor(t *testing.T) {
	p := Policy{
		Default: Limit{Rate: 50, Burst: 100},
		Routes:  map[string]Limit{"POST /api/v1/orders": {Rate: 5, Burst: 10}},
	}

	assert.Equal(t, Limit{Rate: 5, Burst: 10}, p.For("POST /api/v1/orders"))
	assert.Equal(t, Limit{Rate: 50, Burst: 100}, p.For("GET /api/v1/orders"))
	assert.Equal(t, Limit{}, Policy{}.For("GET /health"))
}

func TestAllowWithoutRateSkipsRedis(t *testing.T) {
	// 未配置额度时不访问 Redis
	r := &RedisRateLimiter{}
	res, err := r.Allow(context.Background(), Subject{MemberID: "1", Route: "GET /x"}, Limit{Burst: 3})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.Remaining)
}
