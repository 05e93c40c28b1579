package antifraude

import (
	"context"
	"time"

	"github.com/marcelojr/provote/internal/domain"
)

// Noop representa o rate limit desabilitado via ANTIFRAUDE_RATE_LIMIT_ENABLED=false.
type Noop struct{}

func NewNoop() Noop {
	return Noop{}
}

func (Noop) CheckAndConsume(_ context.Context, _ string, limit int, window time.Duration) (bool, domain.RateLimitInfo) {
	return true, domain.RateLimitInfo{Limit: limit, Remaining: limit, Reset: time.Now().UTC().Add(window)}
}

func (Noop) GetInfo(_ context.Context, _ string, limit int, window time.Duration) domain.RateLimitInfo {
	return domain.RateLimitInfo{Limit: limit, Remaining: limit, Reset: time.Now().UTC().Add(window)}
}

var _ domain.RateLimiter = Noop{}
