// Worker assíncrono: consome a fila de análises de fingerprint, varre bloqueios de IP vencidos
// e expõe métricas.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/marcelojr/provote/internal/app/reputation"
	"github.com/marcelojr/provote/internal/app/worker"
	"github.com/marcelojr/provote/internal/domain"
	"github.com/marcelojr/provote/internal/platform/clock"
	"github.com/marcelojr/provote/internal/platform/config"
	"github.com/marcelojr/provote/internal/platform/health"
	"github.com/marcelojr/provote/internal/platform/logger"
	"github.com/marcelojr/provote/internal/platform/migrations"
	postgresstorage "github.com/marcelojr/provote/internal/platform/storage/postgres"
	redisstorage "github.com/marcelojr/provote/internal/platform/storage/redis"
)

const maxFilaPendente = 10000

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuracao invalida", "err", err)
	}
	logger.SetLevelFromString(cfg.LogLevel)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Info(fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Fatal("falha ajustando GOMAXPROCS", "err", err)
	}

	db, err := postgresstorage.Open(ctx, cfg.PostgresDSN())
	if err != nil {
		logger.Fatal("falha ao conectar no postgres", "err", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("falha ao resgatar sql.DB", "err", err)
	}
	defer sqlDB.Close()

	if cfg.AutoMigrate {
		if err := migrations.Run(db); err != nil {
			logger.Fatal("falha na migracao automatica", "err", err)
		}
	}

	redisClient, err := redisstorage.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("falha ao conectar no redis", "err", err)
	}
	defer redisClient.Close()

	clockSystem := clock.NewSystemClock()
	fila := redisstorage.NewFila(redisClient, cfg.FilaKeyPrefix)
	processor := worker.NewFraudAnalysisProcessor(
		postgresstorage.NewVoteRepository(db),
		redisstorage.NewFingerprintCache(redisClient, cfg.FingerprintKeyPrefix, cfg.FingerprintCacheTTL),
		clockSystem,
		cfg.FingerprintAnalysisWindow,
	)
	reputationSvc := reputation.NewService(postgresstorage.NewReputationRepository(db), clockSystem, reputation.Config{
		ViolationThreshold:  cfg.IPViolationThreshold,
		ReputationThreshold: cfg.IPReputationThreshold,
		AutoUnblock:         cfg.IPAutoUnblock(),
	})
	sweeper := worker.NewBlockSweeper(reputationSvc, cfg.IPSweepInterval)

	checker := health.NewChecker(sqlDB, redisClient)
	checker.Add("fila", func(ctx context.Context) error {
		n, err := fila.Tamanho(ctx)
		if err != nil {
			return err
		}
		if n > maxFilaPendente {
			return fmt.Errorf("fila com %d analises pendentes", n)
		}
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.WorkerMetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/readyz", checker.ReadyHandler())
		srv := &http.Server{Addr: cfg.WorkerMetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("worker metrics ouvindo", "addr", cfg.WorkerMetricsAddress)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("worker iniciado, aguardando analises")
		err := fila.ConsumirAnalises(gctx, func(ctx context.Context, job domain.FraudAnalysisJob) error {
			// Falha numa análise não derruba o consumo; o job seguinte segue normalmente.
			if err := processor.Process(ctx, job); err != nil {
				logger.Error("erro ao analisar fingerprint", "poll_id", job.PollID, "err", err)
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("worker finalizado com erro", "err", err)
	}
	logger.Info("worker finalizado")
}
