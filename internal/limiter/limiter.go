// Package limiter implements the daily AI-advisor call budget described in
// SPEC_FULL.md component C2. Unlike dedup, the limiter fails closed: any
// Redis error is treated as "limit exhausted" so a Redis outage can never
// let borderline traffic bypass the advisor budget.
package limiter

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeDailyScript is a direct translation of the original
// implementation's _LUA_CONSUME_DAILY: it increments today's counter,
// arms the TTL on first use, and rolls back the increment if the limit
// would be exceeded.
const consumeDailyScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl_seconds = tonumber(ARGV[2])

local current = redis.call('INCR', key)
if current == 1 then
  redis.call('EXPIRE', key, ttl_seconds)
end

if current > limit then
  redis.call('DECR', key)
  return {0, current - 1}
end

return {1, current}
`

// Result describes the outcome of one Consume call.
type Result struct {
	Allowed       bool
	UsedToday     int
	RemainingToday int
	DayKey        string
}

// DailyLimiter enforces a calendar-day cap on AI advisor calls, aligned to
// midnight in a configurable IANA timezone.
type DailyLimiter struct {
	client   *redis.Client
	keyPrefix string
	limit    int
	tzName   string
	consume  *redis.Script
	logger   *log.Logger
}

// New builds a DailyLimiter. An invalid tzName falls back to UTC, logged
// once at construction time rather than on every call.
func New(client *redis.Client, keyPrefix string, limit int, tzName string, logger *log.Logger) *DailyLimiter {
	if logger == nil {
		logger = log.New(log.Writer(), "[limiter] ", log.LstdFlags)
	}
	if _, err := time.LoadLocation(tzName); err != nil {
		logger.Printf("invalid timezone %q; falling back to UTC", tzName)
		tzName = "UTC"
	}
	return &DailyLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     limit,
		tzName:    tzName,
		consume:   redis.NewScript(consumeDailyScript),
		logger:    logger,
	}
}

// Consume attempts to take one unit from today's budget. A non-positive
// configured limit denies immediately without touching Redis. Any Redis
// error denies as well (fail closed).
func (d *DailyLimiter) Consume(ctx context.Context) Result {
	loc, err := time.LoadLocation(d.tzName)
	if err != nil {
		loc = time.UTC
	}

	dayKey := d.todayKey(loc)

	if d.limit <= 0 {
		return Result{Allowed: false, DayKey: dayKey}
	}

	ttlSeconds := secondsUntilNextMidnight(loc)

	raw, err := d.consume.Run(ctx, d.client, []string{dayKey}, d.limit, ttlSeconds).Slice()
	if err != nil {
		d.logger.Printf("redis daily limit check failed: %v", err)
		return Result{Allowed: false, DayKey: dayKey}
	}

	allowed := toInt64(raw[0]) == 1
	used := int(toInt64(raw[1]))
	remaining := d.limit - used
	if remaining < 0 {
		remaining = 0
	}

	return Result{Allowed: allowed, UsedToday: used, RemainingToday: remaining, DayKey: dayKey}
}

func (d *DailyLimiter) todayKey(loc *time.Location) string {
	return d.keyPrefix + ":" + time.Now().In(loc).Format("2006-01-02")
}

func secondsUntilNextMidnight(loc *time.Location) int {
	now := time.Now().In(loc)
	tomorrow := now.AddDate(0, 0, 1)
	nextMidnight := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, loc)
	seconds := int(nextMidnight.Sub(now).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
