// Pacote antifraude reúne as defesas síncronas do pipeline de voto: rate limit por janela
// deslizante no Redis, modo noop e a heurística de fingerprint.
package antifraude

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/marcelojr/provote/internal/domain"
	"github.com/marcelojr/provote/internal/platform/clock"
	"github.com/marcelojr/provote/internal/platform/logger"
	"github.com/marcelojr/provote/internal/platform/metrics"
)

// slidingWindow remove entradas com score <= now-window, conta e, se houver espaço e
// ARGV[5] == "1", registra a requisição atual. Devolve {permitido, contagem, score_mais_antigo}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local consume = ARGV[5] == "1"
local ttl = tonumber(ARGV[6])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = ''
if oldest[2] then
  oldestScore = oldest[2]
end

if count >= limit then
  return {0, count, oldestScore}
end

if consume then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, ttl)
end
return {1, count, oldestScore}
`)

// keyGrace mantém o sorted set vivo um pouco além da janela.
const keyGrace = 10 * time.Second

// RedisRateLimiter aplica janela deslizante com um sorted set por chave. Qualquer falha
// do Redis libera a requisição (fail open).
type RedisRateLimiter struct {
	client *redis.Client
	clock  domain.Clock
}

func NewRedisRateLimiter(client *redis.Client, clk domain.Clock) *RedisRateLimiter {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &RedisRateLimiter{client: client, clock: clk}
}

func (r *RedisRateLimiter) CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) (bool, domain.RateLimitInfo) {
	return r.run(ctx, key, limit, window, true)
}

func (r *RedisRateLimiter) GetInfo(ctx context.Context, key string, limit int, window time.Duration) domain.RateLimitInfo {
	_, info := r.run(ctx, key, limit, window, false)
	return info
}

func (r *RedisRateLimiter) run(ctx context.Context, key string, limit int, window time.Duration, consume bool) (bool, domain.RateLimitInfo) {
	now := r.clock.Agora()
	if limit < 0 {
		return true, domain.RateLimitInfo{Limit: limit, Remaining: limit, Reset: now}
	}

	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())
	consumeArg := "0"
	if consume {
		consumeArg = "1"
	}
	ttl := int64((window + keyGrace + time.Second - 1) / time.Second)

	raw, err := slidingWindow.Run(ctx, r.client, []string{key},
		nowMs, windowMs, limit, member, consumeArg, ttl,
	).Slice()
	if err != nil {
		return r.failOpen(key, limit, window, now, err)
	}

	allowed, count, oldest, err := parseWindowReply(raw)
	if err != nil {
		return r.failOpen(key, limit, window, now, err)
	}

	reset := now.Add(window)
	if oldest > 0 {
		reset = time.UnixMilli(oldest).Add(window).UTC()
	}

	info := domain.RateLimitInfo{Limit: limit, Reset: reset}
	switch {
	case !allowed:
		info.Remaining = 0
	case consume:
		info.Remaining = max(limit-count-1, 0)
	default:
		info.Remaining = max(limit-count, 0)
	}
	return allowed, info
}

func (r *RedisRateLimiter) failOpen(key string, limit int, window time.Duration, now time.Time, err error) (bool, domain.RateLimitInfo) {
	logger.Warn("rate limiter indisponivel, liberando requisicao", "key", key, "error", err)
	metrics.IncRateLimiterFailOpen()
	return true, domain.RateLimitInfo{Limit: limit, Remaining: limit, Reset: now.Add(window)}
}

func parseWindowReply(raw []any) (bool, int, int64, error) {
	if len(raw) != 3 {
		return false, 0, 0, fmt.Errorf("antifraude: resposta inesperada do script: %v", raw)
	}
	allowed, ok := raw[0].(int64)
	if !ok {
		return false, 0, 0, fmt.Errorf("antifraude: flag invalida %T", raw[0])
	}
	count, ok := raw[1].(int64)
	if !ok {
		return false, 0, 0, fmt.Errorf("antifraude: contagem invalida %T", raw[1])
	}

	var oldest int64
	if s, ok := raw[2].(string); ok && s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return false, 0, 0, fmt.Errorf("antifraude: score invalido %q: %w", s, err)
		}
		oldest = int64(f)
	}
	return allowed == 1, int(count), oldest, nil
}

var _ domain.RateLimiter = (*RedisRateLimiter)(nil)
