// Pacote redis implementa fila, contadores, idempotência e cache de fingerprint sobre Redis.
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

const defaultPollTimeout = 5 * time.Second

// Fila usa uma lista Redis para entregar jobs de análise de fingerprint ao worker.
type Fila struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
}

func NewFila(client *redis.Client, key string) *Fila {
	return &Fila{
		client:      client,
		key:         key,
		pollTimeout: defaultPollTimeout,
	}
}

func (f *Fila) PublicarAnalise(ctx context.Context, job domain.FraudAnalysisJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redis fila: falha serializando job: %w", err)
	}
	if err := f.client.LPush(ctx, f.key, payload).Err(); err != nil {
		return fmt.Errorf("redis fila: falha ao enfileirar job: %w", err)
	}
	return nil
}

// ConsumirAnalises bloqueia até o contexto encerrar. Payloads inválidos são descartados;
// erro do handler interrompe o consumo.
func (f *Fila) ConsumirAnalises(ctx context.Context, handler func(context.Context, domain.FraudAnalysisJob) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// BRPOP com timeout curto para respeitar o contexto.
		res, err := f.client.BRPop(ctx, f.pollTimeout, f.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("redis fila: falha ao consumir job: %w", err)
		}

		if len(res) != 2 {
			continue
		}

		var job domain.FraudAnalysisJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			continue
		}

		if err := handler(ctx, job); err != nil {
			return err
		}
	}
}

func (f *Fila) Tamanho(ctx context.Context) (int64, error) {
	n, err := f.client.LLen(ctx, f.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis fila: tamanho: %w", err)
	}
	return n, nil
}

var _ domain.Fila = (*Fila)(nil)
