package antifraude

import (
	"fmt"
	"time"

	"github.com/marcelojr/provote/internal/domain"
)

// Unlimited marca atores que não passam pelo rate limit (staff/admin).
const Unlimited = -1

// RateLimitPolicy define limites por escopo: anônimos são contados por IP e autenticados por usuário.
type RateLimitPolicy struct {
	Prefix    string
	Scope     string
	AnonLimit int
	UserLimit int
	Window    time.Duration
}

func DefaultVotePolicy() RateLimitPolicy {
	return RateLimitPolicy{
		Prefix:    "ratelimit",
		Scope:     "vote_cast",
		AnonLimit: 10,
		UserLimit: 100,
		Window:    time.Minute,
	}
}

// KeyFor devolve a chave e o limite aplicáveis ao ator. Staff recebe Unlimited.
func (p RateLimitPolicy) KeyFor(actor domain.Actor, ip string) (string, int) {
	if actor.Staff {
		return "", Unlimited
	}
	if actor.Authenticated() {
		return fmt.Sprintf("%s:%s:user:%s", p.Prefix, p.Scope, actor.UserID), p.UserLimit
	}
	if ip == "" {
		ip = "unknown"
	}
	return fmt.Sprintf("%s:%s:ip:%s", p.Prefix, p.Scope, ip), p.AnonLimit
}
