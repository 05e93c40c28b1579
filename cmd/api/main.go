// Executável principal da API: carrega a configuração, inicializa dependências e sobe o servidor HTTP.
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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/marcelojr/provote/internal/app/httpapi"
	"github.com/marcelojr/provote/internal/app/reputation"
	"github.com/marcelojr/provote/internal/app/voting"
	"github.com/marcelojr/provote/internal/domain"
	"github.com/marcelojr/provote/internal/platform/antifraude"
	"github.com/marcelojr/provote/internal/platform/captcha"
	"github.com/marcelojr/provote/internal/platform/clock"
	"github.com/marcelojr/provote/internal/platform/config"
	"github.com/marcelojr/provote/internal/platform/geo"
	"github.com/marcelojr/provote/internal/platform/health"
	"github.com/marcelojr/provote/internal/platform/ids"
	"github.com/marcelojr/provote/internal/platform/logger"
	"github.com/marcelojr/provote/internal/platform/migrations"
	postgresstorage "github.com/marcelojr/provote/internal/platform/storage/postgres"
	redisstorage "github.com/marcelojr/provote/internal/platform/storage/redis"
)

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
	polls := postgresstorage.NewPollRepository(db)
	votes := postgresstorage.NewVoteRepository(db)
	attempts := postgresstorage.NewAttemptRepository(db)
	reputationSvc := reputation.NewService(postgresstorage.NewReputationRepository(db), clockSystem, reputation.Config{
		ViolationThreshold:  cfg.IPViolationThreshold,
		ReputationThreshold: cfg.IPReputationThreshold,
		AutoUnblock:         cfg.IPAutoUnblock(),
	})

	var limiter domain.RateLimiter = antifraude.NewNoop()
	if cfg.RateLimitEnabled {
		limiter = antifraude.NewRedisRateLimiter(redisClient, clockSystem)
	}
	fpCache := redisstorage.NewFingerprintCache(redisClient, cfg.FingerprintKeyPrefix, cfg.FingerprintCacheTTL)
	fingerprints := antifraude.NewFingerprintChecker(fpCache, votes, clockSystem, cfg.FingerprintWindow, cfg.FingerprintRapidWindow)

	var resolver domain.GeoResolver
	if cfg.GeoEnabled {
		resolver = geo.NewCachedResolver(geo.NewIPAPIResolver(cfg.GeoBaseURL, cfg.GeoTimeout), redisClient, cfg.GeoCachePrefix, cfg.GeoCacheTTL)
	}

	servico := voting.NewService(voting.Deps{
		Polls:        polls,
		Votes:        votes,
		Attempts:     attempts,
		Idempotency:  redisstorage.NewIdempotencia(redisClient, cfg.IdempotenciaPrefix),
		RateLimiter:  limiter,
		Reputation:   reputationSvc,
		Fingerprints: fingerprints,
		Geo:          resolver,
		Captcha:      captcha.NewRecaptchaVerifier(cfg.CaptchaSecret, cfg.CaptchaVerifyURL, cfg.CaptchaTimeout),
		Contador:     redisstorage.NewContador(redisClient, cfg.ContadorKeyPrefix),
		Fila:         redisstorage.NewFila(redisClient, cfg.FilaKeyPrefix),
		Clock:        clockSystem,
		IDs:          ids.NewGenerator(),
	}, voting.Options{
		RateLimit: antifraude.RateLimitPolicy{
			Prefix:    cfg.RateLimitKeyPrefix,
			Scope:     cfg.RateLimitScope,
			AnonLimit: cfg.RateLimitAnon,
			UserLimit: cfg.RateLimitUser,
			Window:    cfg.RateLimitWindow,
		},
		IdempotencyTTL:  cfg.IdempotencyTTL,
		CaptchaMinScore: cfg.CaptchaMinScore,
		CaptchaTimeout:  cfg.CaptchaTimeout,
		GeoTimeout:      cfg.GeoTimeout,
	})

	mux := http.NewServeMux()
	httpapi.New(servico, logger.L()).Register(mux)
	mux.HandleFunc("/readyz", health.NewChecker(sqlDB, redisClient).ReadyHandler())
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           otelhttp.NewHandler(mux, "provote-api"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api ouvindo", "addr", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("erro no servidor", "err", err)
	}
	logger.Info("api finalizada")
}
