package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marcelojr/provote/internal/domain"
)

// Idempotencia guarda o desfecho de cada chave de idempotência por um TTL.
// Diferente do rate limiter, falhas aqui são propagadas ao chamador.
type Idempotencia struct {
	client *redis.Client
	prefix string
}

func NewIdempotencia(client *redis.Client, prefix string) *Idempotencia {
	return &Idempotencia{client: client, prefix: prefix}
}

func (i *Idempotencia) Check(ctx context.Context, key string) (bool, domain.IdempotencyResult, error) {
	raw, err := i.client.Get(ctx, i.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, domain.IdempotencyResult{}, nil
	}
	if err != nil {
		return false, domain.IdempotencyResult{}, fmt.Errorf("redis idempotencia: consultar: %w", err)
	}

	var result domain.IdempotencyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, domain.IdempotencyResult{}, fmt.Errorf("redis idempotencia: payload invalido: %w", err)
	}
	return true, result, nil
}

func (i *Idempotencia) Store(ctx context.Context, key string, result domain.IdempotencyResult, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("redis idempotencia: serializar: %w", err)
	}
	if err := i.client.Set(ctx, i.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotencia: gravar: %w", err)
	}
	return nil
}

// StoreIfAbsent nunca sobrescreve um resultado existente; devolve false quando a chave já existia.
func (i *Idempotencia) StoreIfAbsent(ctx context.Context, key string, result domain.IdempotencyResult, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("redis idempotencia: serializar: %w", err)
	}
	ok, err := i.client.SetNX(ctx, i.key(key), payload, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis idempotencia: gravar se ausente: %w", err)
	}
	return ok, nil
}

func (i *Idempotencia) key(key string) string {
	if i.prefix == "" {
		return key
	}
	return i.prefix + ":" + key
}

var _ domain.IdempotencyStore = (*Idempotencia)(nil)
