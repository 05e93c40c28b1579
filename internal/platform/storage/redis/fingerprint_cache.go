package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marcelojr/provote/internal/domain"
)

const (
	fieldCount     = "count"
	fieldFirstSeen = "first_seen"
	fieldLastSeen  = "last_seen"
	fieldAnalysis  = "analysis"
)

// FingerprintCache registra, por fingerprint e enquete, quantas vezes foi visto e por
// quais eleitores e IPs. Usa um hash e dois sets sob a mesma raiz de chave.
type FingerprintCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewFingerprintCache(client *redis.Client, prefix string, ttl time.Duration) *FingerprintCache {
	return &FingerprintCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *FingerprintCache) Get(ctx context.Context, fingerprint string, pollID domain.PollID) (domain.FingerprintActivity, bool, error) {
	base := c.key(fingerprint, pollID)

	pipe := c.client.Pipeline()
	hash := pipe.HGetAll(ctx, base)
	voters := pipe.SMembers(ctx, base+":voters")
	ips := pipe.SMembers(ctx, base+":ips")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.FingerprintActivity{}, false, fmt.Errorf("redis fingerprint: consultar: %w", err)
	}

	fields := hash.Val()
	if len(fields) == 0 && len(voters.Val()) == 0 && len(ips.Val()) == 0 {
		return domain.FingerprintActivity{}, false, nil
	}

	activity := domain.FingerprintActivity{
		Voters: voters.Val(),
		IPs:    ips.Val(),
	}
	if raw, ok := fields[fieldCount]; ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.FingerprintActivity{}, false, fmt.Errorf("redis fingerprint: contador invalido: %w", err)
		}
		activity.Count = n
	}
	activity.FirstSeen = parseMillis(fields[fieldFirstSeen])
	activity.LastSeen = parseMillis(fields[fieldLastSeen])

	if raw, ok := fields[fieldAnalysis]; ok && raw != "" {
		var analysis domain.FingerprintAnalysis
		if err := json.Unmarshal([]byte(raw), &analysis); err == nil {
			activity.Analysis = &analysis
		}
	}

	return activity, true, nil
}

// Record atualiza contador, horários e sets num único MULTI e renova o TTL das três chaves.
func (c *FingerprintCache) Record(ctx context.Context, fingerprint string, pollID domain.PollID, voterKey, ip string, now time.Time) error {
	base := c.key(fingerprint, pollID)
	ms := strconv.FormatInt(now.UnixMilli(), 10)

	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, base, fieldCount, 1)
	pipe.HSetNX(ctx, base, fieldFirstSeen, ms)
	pipe.HSet(ctx, base, fieldLastSeen, ms)
	if voterKey != "" {
		pipe.SAdd(ctx, base+":voters", voterKey)
	}
	if ip != "" {
		pipe.SAdd(ctx, base+":ips", ip)
	}
	pipe.Expire(ctx, base, c.ttl)
	pipe.Expire(ctx, base+":voters", c.ttl)
	pipe.Expire(ctx, base+":ips", c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis fingerprint: registrar: %w", err)
	}
	return nil
}

func (c *FingerprintCache) SaveAnalysis(ctx context.Context, fingerprint string, pollID domain.PollID, analysis domain.FingerprintAnalysis) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("redis fingerprint: serializar analise: %w", err)
	}

	base := c.key(fingerprint, pollID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, base, fieldAnalysis, payload)
	pipe.Expire(ctx, base, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis fingerprint: gravar analise: %w", err)
	}
	return nil
}

func (c *FingerprintCache) key(fingerprint string, pollID domain.PollID) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, fingerprint, pollID)
}

func parseMillis(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var _ domain.FingerprintCache = (*FingerprintCache)(nil)
