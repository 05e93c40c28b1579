// Pacote health expõe a checagem de prontidão usada pelo orquestrador (/readyz).
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const checkTimeout = 2 * time.Second

type check struct {
	name string
	fn   func(ctx context.Context) error
}

// Checker executa as checagens registradas em ordem; dependências nulas são ignoradas.
type Checker struct {
	checks []check
}

func NewChecker(db *sql.DB, rdb *redis.Client) *Checker {
	c := &Checker{}
	if db != nil {
		c.Add("postgres", db.PingContext)
	}
	if rdb != nil {
		c.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	return c
}

// Add registra uma checagem extra, por exemplo a profundidade da fila de análise.
func (c *Checker) Add(name string, fn func(ctx context.Context) error) {
	c.checks = append(c.checks, check{name: name, fn: fn})
}

type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (r Report) OK() bool {
	return r.Status == "ok"
}

// Check roda todas as checagens mesmo após a primeira falha, para o relatório ficar completo.
func (c *Checker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	report := Report{Status: "ok", Checks: make(map[string]string, len(c.checks))}
	for _, chk := range c.checks {
		if err := chk.fn(ctx); err != nil {
			report.Status = "unavailable"
			report.Checks[chk.name] = chk.name + " unavailable"
			continue
		}
		report.Checks[chk.name] = "ok"
	}
	return report
}

func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())
		status := http.StatusOK
		if !report.OK() {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	}
}
