package domain

import (
	"context"
	"time"
)

type PollRepository interface {
	// FindByID devolve a enquete com as opções carregadas.
	FindByID(ctx context.Context, id PollID) (Poll, error)
}

type VoteRepository interface {
	// Create insere o voto, atualiza os contadores em cache da opção e da enquete
	// e executa inTx na mesma transação; erro em inTx desfaz tudo.
	Create(ctx context.Context, vote Vote, inTx func(ctx context.Context) error) error
	FindByID(ctx context.Context, id VoteID) (Vote, error)
	FindByVoter(ctx context.Context, pollID PollID, voterKey string) (Vote, error)
	FindByIdempotencyKey(ctx context.Context, key string) (Vote, error)
	RecentByFingerprint(ctx context.Context, fingerprint string, pollID PollID, since time.Time, limit int) ([]FingerprintVote, error)
	FlagFraud(ctx context.Context, ids []VoteID, reason string, riskScore int) (int64, error)
}

type AttemptRepository interface {
	Record(ctx context.Context, attempt VoteAttempt) error
}

type ReputationRepository interface {
	FindReputation(ctx context.Context, ip string) (IPReputation, error)
	// EnsureReputation cria a linha padrão quando ausente e devolve o estado atual.
	EnsureReputation(ctx context.Context, ip string, now time.Time) (IPReputation, error)
	ApplySuccess(ctx context.Context, ip string, now time.Time) (IPReputation, error)
	ApplyViolation(ctx context.Context, ip string, penalty int, now time.Time) (IPReputation, error)

	FindActiveBlock(ctx context.Context, ip string) (IPBlock, error)
	SaveBlock(ctx context.Context, block IPBlock) error
	DeactivateBlock(ctx context.Context, ip, by string, now time.Time) (bool, error)
	ExpiredBlocks(ctx context.Context, now time.Time, limit int) ([]IPBlock, error)

	IsWhitelisted(ctx context.Context, ip string) (bool, error)
	SaveWhitelist(ctx context.Context, entry IPWhitelist) error
	DeactivateWhitelist(ctx context.Context, ip string) (bool, error)
}

// Contador mantém a apuração ao vivo fora do banco para leituras baratas.
type Contador interface {
	RegistrarVoto(ctx context.Context, pollID PollID, optionID OptionID) error
	Parciais(ctx context.Context, pollID PollID, options []OptionID) (Parcial, error)
}

// Fila transporta jobs de análise de fingerprint para o worker.
type Fila interface {
	PublicarAnalise(ctx context.Context, job FraudAnalysisJob) error
	ConsumirAnalises(ctx context.Context, handler func(context.Context, FraudAnalysisJob) error) error
}

type RateLimitInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

type RateLimiter interface {
	CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) (bool, RateLimitInfo)
	GetInfo(ctx context.Context, key string, limit int, window time.Duration) RateLimitInfo
}

const (
	IdempotencyCreated   = "created"
	IdempotencyDuplicate = "duplicate"
)

type IdempotencyResult struct {
	VoteID VoteID `json:"vote_id"`
	Status string `json:"status"`
}

type IdempotencyStore interface {
	Check(ctx context.Context, key string) (bool, IdempotencyResult, error)
	Store(ctx context.Context, key string, result IdempotencyResult, ttl time.Duration) error
	StoreIfAbsent(ctx context.Context, key string, result IdempotencyResult, ttl time.Duration) (bool, error)
}

type FingerprintCache interface {
	Get(ctx context.Context, fingerprint string, pollID PollID) (FingerprintActivity, bool, error)
	Record(ctx context.Context, fingerprint string, pollID PollID, voterKey, ip string, now time.Time) error
	SaveAnalysis(ctx context.Context, fingerprint string, pollID PollID, analysis FingerprintAnalysis) error
}

type CaptchaResult struct {
	Success bool
	Score   float64
	Action  string
	Errors  []string
}

type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (CaptchaResult, error)
}

// GeoResolver devolve string vazia quando o IP não é resolvível (privado, loopback).
type GeoResolver interface {
	CountryOf(ctx context.Context, ip string) (string, error)
	RegionOf(ctx context.Context, ip string) (string, error)
}

type Clock interface {
	Agora() time.Time
}
