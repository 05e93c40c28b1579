// Pacote config centraliza o carregamento de parâmetros usados pelos binários.
// A ordem de precedência é: defaults, arquivo YAML opcional (PROVOTE_CONFIG) e variáveis de ambiente.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config agrega todos os parâmetros necessários para API, worker e CLI administrativa.
type Config struct {
	HTTPAddress string `yaml:"httpAddress" envconfig:"HTTP_ADDRESS"`
	LogLevel    string `yaml:"logLevel"    envconfig:"LOG_LEVEL"`

	PostgresHost     string `yaml:"postgresHost"     envconfig:"POSTGRES_HOST"`
	PostgresPort     string `yaml:"postgresPort"     envconfig:"POSTGRES_PORT"`
	PostgresUser     string `yaml:"postgresUser"     envconfig:"POSTGRES_USER"`
	PostgresPassword string `yaml:"postgresPassword" envconfig:"POSTGRES_PASSWORD"`
	PostgresDB       string `yaml:"postgresDB"       envconfig:"POSTGRES_DB"`
	PostgresSSLMode  string `yaml:"postgresSSLMode"  envconfig:"POSTGRES_SSLMODE"`

	RedisAddr     string `yaml:"redisAddr"     envconfig:"REDIS_ADDR"`
	RedisPassword string `yaml:"redisPassword" envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redisDB"       envconfig:"REDIS_DB"`

	FilaKeyPrefix        string `yaml:"filaKeyPrefix"        envconfig:"REDIS_QUEUE_PREFIX"`
	ContadorKeyPrefix    string `yaml:"contadorKeyPrefix"    envconfig:"REDIS_COUNTER_PREFIX"`
	IdempotenciaPrefix   string `yaml:"idempotenciaPrefix"   envconfig:"REDIS_IDEMPOTENCY_PREFIX"`
	FingerprintKeyPrefix string `yaml:"fingerprintKeyPrefix" envconfig:"REDIS_FINGERPRINT_PREFIX"`
	GeoCachePrefix       string `yaml:"geoCachePrefix"       envconfig:"REDIS_GEO_PREFIX"`

	RateLimitEnabled   bool          `yaml:"rateLimitEnabled"   envconfig:"ANTIFRAUDE_RATE_LIMIT_ENABLED"`
	RateLimitScope     string        `yaml:"rateLimitScope"     envconfig:"ANTIFRAUDE_RATE_LIMIT_SCOPE"`
	RateLimitAnon      int           `yaml:"rateLimitAnon"      envconfig:"ANTIFRAUDE_RATE_LIMIT_ANON"`
	RateLimitUser      int           `yaml:"rateLimitUser"      envconfig:"ANTIFRAUDE_RATE_LIMIT_USER"`
	RateLimitWindow    time.Duration `yaml:"rateLimitWindow"    envconfig:"ANTIFRAUDE_RATE_LIMIT_WINDOW"`
	RateLimitKeyPrefix string        `yaml:"rateLimitKeyPrefix" envconfig:"ANTIFRAUDE_RATE_LIMIT_PREFIX"`

	IdempotencyTTL time.Duration `yaml:"idempotencyTTL" envconfig:"IDEMPOTENCY_TTL"`

	IPViolationThreshold  int           `yaml:"ipViolationThreshold"  envconfig:"IP_VIOLATION_THRESHOLD"`
	IPReputationThreshold int           `yaml:"ipReputationThreshold" envconfig:"IP_REPUTATION_THRESHOLD"`
	IPAutoUnblockHours    int           `yaml:"ipAutoUnblockHours"    envconfig:"IP_AUTO_UNBLOCK_HOURS"`
	IPSweepInterval       time.Duration `yaml:"ipSweepInterval"       envconfig:"IP_SWEEP_INTERVAL"`

	FingerprintCacheTTL       time.Duration `yaml:"fingerprintCacheTTL"       envconfig:"FINGERPRINT_CACHE_TTL"`
	FingerprintWindow         time.Duration `yaml:"fingerprintWindow"         envconfig:"FINGERPRINT_WINDOW"`
	FingerprintRapidWindow    time.Duration `yaml:"fingerprintRapidWindow"    envconfig:"FINGERPRINT_RAPID_WINDOW"`
	FingerprintAnalysisWindow time.Duration `yaml:"fingerprintAnalysisWindow" envconfig:"FINGERPRINT_ANALYSIS_WINDOW"`

	CaptchaSecret    string        `yaml:"captchaSecret"    envconfig:"RECAPTCHA_SECRET_KEY"`
	CaptchaVerifyURL string        `yaml:"captchaVerifyURL" envconfig:"RECAPTCHA_VERIFY_URL"`
	CaptchaMinScore  float64       `yaml:"captchaMinScore"  envconfig:"RECAPTCHA_MIN_SCORE"`
	CaptchaTimeout   time.Duration `yaml:"captchaTimeout"   envconfig:"RECAPTCHA_TIMEOUT"`

	GeoEnabled  bool          `yaml:"geoEnabled"  envconfig:"GEO_ENABLED"`
	GeoBaseURL  string        `yaml:"geoBaseURL"  envconfig:"GEO_BASE_URL"`
	GeoTimeout  time.Duration `yaml:"geoTimeout"  envconfig:"GEO_TIMEOUT"`
	GeoCacheTTL time.Duration `yaml:"geoCacheTTL" envconfig:"GEO_CACHE_TTL"`

	AutoMigrate bool `yaml:"autoMigrate" envconfig:"DB_AUTO_MIGRATE"`

	WorkerMetricsAddress string `yaml:"workerMetricsAddress" envconfig:"WORKER_METRICS_ADDRESS"`
}

// Defaults priorizam execução local; YAML e variáveis permitem sobrescrever em Docker/K8s.
func Defaults() Config {
	return Config{
		HTTPAddress:               ":8080",
		LogLevel:                  "info",
		PostgresHost:              "localhost",
		PostgresPort:              "5432",
		PostgresUser:              "provote",
		PostgresPassword:          "provote",
		PostgresDB:                "provote",
		PostgresSSLMode:           "disable",
		RedisAddr:                 "localhost:6379",
		FilaKeyPrefix:             "fila:analise",
		ContadorKeyPrefix:         "contador",
		IdempotenciaPrefix:        "idempotencia",
		FingerprintKeyPrefix:      "fp:activity",
		GeoCachePrefix:            "geo",
		RateLimitEnabled:          true,
		RateLimitScope:            "vote_cast",
		RateLimitAnon:             10,
		RateLimitUser:             100,
		RateLimitWindow:           time.Minute,
		RateLimitKeyPrefix:        "ratelimit",
		IdempotencyTTL:            time.Hour,
		IPViolationThreshold:      5,
		IPReputationThreshold:     30,
		IPAutoUnblockHours:        24,
		IPSweepInterval:           5 * time.Minute,
		FingerprintCacheTTL:       time.Hour,
		FingerprintWindow:         24 * time.Hour,
		FingerprintRapidWindow:    5 * time.Minute,
		FingerprintAnalysisWindow: 7 * 24 * time.Hour,
		CaptchaVerifyURL:          "https://www.google.com/recaptcha/api/siteverify",
		CaptchaMinScore:           0.5,
		CaptchaTimeout:            5 * time.Second,
		GeoEnabled:                true,
		GeoBaseURL:                "https://ipapi.co",
		GeoTimeout:                2 * time.Second,
		GeoCacheTTL:               time.Hour,
		AutoMigrate:               true,
		WorkerMetricsAddress:      ":9090",
	}
}

func Load() (Config, error) {
	return LoadFile(os.Getenv("PROVOTE_CONFIG"))
}

// LoadFile aplica o YAML (quando path não é vazio) e depois as variáveis de ambiente.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: ler %s: %w", path, err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: yaml invalido: %w", err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: variaveis de ambiente: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("config: ANTIFRAUDE_RATE_LIMIT_WINDOW deve ser positivo")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("config: IDEMPOTENCY_TTL deve ser positivo")
	}
	if c.IPAutoUnblockHours <= 0 {
		return fmt.Errorf("config: IP_AUTO_UNBLOCK_HOURS deve ser positivo")
	}
	return nil
}

func (c Config) PostgresDSN() string {
	// Mantemos o formato DSN compatível com GORM e ferramentas de migração.
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresSSLMode,
	)
}

func (c Config) IPAutoUnblock() time.Duration {
	return time.Duration(c.IPAutoUnblockHours) * time.Hour
}
