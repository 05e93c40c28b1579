// CLI administrativa para bloqueio, desbloqueio e whitelist de IPs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/marcelojr/provote/internal/app/reputation"
	"github.com/marcelojr/provote/internal/platform/clock"
	"github.com/marcelojr/provote/internal/platform/config"
	"github.com/marcelojr/provote/internal/platform/logger"
	"github.com/marcelojr/provote/internal/platform/migrations"
	postgresstorage "github.com/marcelojr/provote/internal/platform/storage/postgres"
)

func main() {
	root := newRootCommand(openReputation)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// openReputation conecta no Postgres usando a mesma configuração da API.
func openReputation(ctx context.Context) (ipAdmin, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevelFromString(cfg.LogLevel)

	db, err := postgresstorage.Open(ctx, cfg.PostgresDSN())
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("admin: obter sql.DB: %w", err)
	}
	if cfg.AutoMigrate {
		if err := migrations.Run(db); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
	}

	svc := reputation.NewService(postgresstorage.NewReputationRepository(db), clock.NewSystemClock(), reputation.Config{
		ViolationThreshold:  cfg.IPViolationThreshold,
		ReputationThreshold: cfg.IPReputationThreshold,
		AutoUnblock:         cfg.IPAutoUnblock(),
	})
	return svc, func() { sqlDB.Close() }, nil
}
