// Package ratelimit meters transform requests per client in redis. A request
// is charged by the size of the capture it uploads, so one client sending
// full-resolution photos runs out of budget before one sending thumbnails.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "vintagebooth:ratelimit"
	DefaultCostUnit  = 1 << 20
)

// chargeScript refills the bucket for the time elapsed since the last charge
// and takes ARGV[4] tokens when enough are left. It returns
// {allowed, remaining, retry_after_ms}.
var chargeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "updated_ms")
local tokens = tonumber(state[1]) or capacity
local updated = tonumber(state[2]) or now
if now > updated then
  tokens = math.min(capacity, tokens + (now - updated) * per_ms)
end

local wait_ms = 0
local ok = 0
if tokens >= cost then
  tokens = tokens - cost
  ok = 1
else
  wait_ms = math.ceil((cost - tokens) / per_ms)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "updated_ms", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {ok, math.floor(tokens), wait_ms}
`)

type Config struct {
	// Capacity is the number of tokens a client may spend per Window.
	Capacity int
	Window   time.Duration
	// CostUnit is the upload size charged one extra token. Every request
	// costs at least one token.
	CostUnit  int64
	KeyPrefix string
}

// Decision is the outcome of one charge. RetryAfter is set only when Allowed
// is false.
type Decision struct {
	Allowed    bool
	Cost       int64
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter struct {
	client    redis.UniversalClient
	capacity  int64
	perMS     float64
	costUnit  int64
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
}

func New(client redis.UniversalClient, cfg Config) (*Limiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}

	costUnit := cfg.CostUnit
	if costUnit <= 0 {
		costUnit = DefaultCostUnit
	}
	keyPrefix := strings.TrimSpace(cfg.KeyPrefix)
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	return &Limiter{
		client:    client,
		capacity:  int64(cfg.Capacity),
		perMS:     float64(cfg.Capacity) / float64(max(1, cfg.Window.Milliseconds())),
		costUnit:  costUnit,
		ttl:       2 * cfg.Window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

// Cost is the number of tokens a capture upload of size bytes is charged:
// one, plus one per started CostUnit. It never exceeds the capacity, so any
// single request can eventually pass. An unknown size costs one token.
func (l *Limiter) Cost(size int64) int64 {
	if size <= 0 {
		return 1
	}
	return min(l.capacity, 1+(size+l.costUnit-1)/l.costUnit)
}

// Charge takes Cost(size) tokens from subject's bucket.
func (l *Limiter) Charge(ctx context.Context, subject string, size int64) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	cost := l.Cost(size)

	raw, err := chargeScript.Run(
		ctx,
		l.client,
		[]string{l.keyPrefix + ":" + subject},
		l.capacity,
		l.perMS,
		l.now().UnixMilli(),
		cost,
		l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("charge %s: %w", subject, err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("charge %s: unexpected script reply %v", subject, raw)
	}
	var parsed [3]int64
	for i, v := range values {
		if parsed[i], err = toInt64(v); err != nil {
			return Decision{}, fmt.Errorf("charge %s: reply field %d: %w", subject, i, err)
		}
	}

	return Decision{
		Allowed:    parsed[0] == 1,
		Cost:       cost,
		Limit:      l.capacity,
		Remaining:  parsed[1],
		RetryAfter: time.Duration(parsed[2]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
