package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marcelojr/provote/internal/domain"
	"github.com/marcelojr/provote/internal/platform/logger"
)

// CachedResolver guarda no Redis as resoluções bem-sucedidas; IPs não resolvidos são sempre reconsultados.
type CachedResolver struct {
	inner  domain.GeoResolver
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewCachedResolver(inner domain.GeoResolver, client *redis.Client, prefix string, ttl time.Duration) *CachedResolver {
	if prefix == "" {
		prefix = "geo"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedResolver{inner: inner, client: client, prefix: prefix, ttl: ttl}
}

func (c *CachedResolver) CountryOf(ctx context.Context, ip string) (string, error) {
	return c.resolve(ctx, "country", ip, c.inner.CountryOf)
}

func (c *CachedResolver) RegionOf(ctx context.Context, ip string) (string, error) {
	return c.resolve(ctx, "region", ip, c.inner.RegionOf)
}

func (c *CachedResolver) resolve(ctx context.Context, kind, ip string, lookup func(context.Context, string) (string, error)) (string, error) {
	if !Routable(ip) {
		return "", nil
	}

	key := fmt.Sprintf("%s:%s:%s", c.prefix, kind, ip)
	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil && cached != "":
		return cached, nil
	case err != nil && !errors.Is(err, redis.Nil):
		logger.Warn("cache de geolocalizacao indisponivel", "kind", kind, "error", err)
	}

	value, err := lookup(ctx, ip)
	if err != nil || value == "" {
		return value, err
	}
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		logger.Warn("falha gravando cache de geolocalizacao", "kind", kind, "error", err)
	}
	return value, nil
}

var _ domain.GeoResolver = (*CachedResolver)(nil)
