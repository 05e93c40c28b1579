package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/marcelojr/provote/internal/domain"
)

// Contador mantém a apuração por enquete e por opção em chaves com prefixo.
type Contador struct {
	client *redis.Client
	prefix string
}

func NewContador(client *redis.Client, prefix string) *Contador {
	return &Contador{
		client: client,
		prefix: prefix,
	}
}

// RegistrarVoto incrementa total e opção no mesmo MULTI.
func (c *Contador) RegistrarVoto(ctx context.Context, pollID domain.PollID, optionID domain.OptionID) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, c.keyTotal(pollID))
	pipe.Incr(ctx, c.keyOpcao(pollID, optionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis contador: registrar voto: %w", err)
	}
	return nil
}

func (c *Contador) Parciais(ctx context.Context, pollID domain.PollID, options []domain.OptionID) (domain.Parcial, error) {
	keys := make([]string, 0, len(options)+1)
	keys = append(keys, c.keyTotal(pollID))
	for _, opt := range options {
		keys = append(keys, c.keyOpcao(pollID, opt))
	}

	// MGET reduz round-trips quando precisamos das parciais completas.
	valores, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return domain.Parcial{}, fmt.Errorf("redis contador: parciais: %w", err)
	}

	parcial := domain.Parcial{
		PollID: pollID,
		Opcoes: make(map[domain.OptionID]int64, len(options)),
	}
	for i, raw := range valores {
		num, err := toInt64(raw)
		if err != nil {
			return domain.Parcial{}, fmt.Errorf("redis contador: valor invalido para %s: %w", keys[i], err)
		}
		if i == 0 {
			parcial.Total = num
			continue
		}
		parcial.Opcoes[options[i-1]] = num
	}

	return parcial, nil
}

func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("tipo inesperado %T", raw)
	}
}

func (c *Contador) keyTotal(pollID domain.PollID) string {
	return c.key(fmt.Sprintf("poll:%s:total", pollID))
}

func (c *Contador) keyOpcao(pollID domain.PollID, optionID domain.OptionID) string {
	return c.key(fmt.Sprintf("poll:%s:option:%s", pollID, optionID))
}

func (c *Contador) key(chave string) string {
	if c.prefix == "" {
		return chave
	}
	return fmt.Sprintf("%s:%s", c.prefix, chave)
}

var _ domain.Contador = (*Contador)(nil)
