// Pacote reputation mantém a reputação por IP, bloqueios automáticos/manuais e a whitelist.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcelojr/provote/internal/domain"
	"github.com/marcelojr/provote/internal/platform/clock"
	"github.com/marcelojr/provote/internal/platform/logger"
	"github.com/marcelojr/provote/internal/platform/metrics"
)

var (
	ErrIPWhitelisted = errors.New("ip na whitelist nao pode ser bloqueado")
	ErrIPVazio       = errors.New("ip obrigatorio")
)

const (
	penaltyPerSeverity = 10
	minSeverity        = 1
	maxSeverity        = 5
	sweepBatchSize     = 500
)

type Config struct {
	ViolationThreshold  int
	ReputationThreshold int
	AutoUnblock         time.Duration
}

func DefaultConfig() Config {
	return Config{
		ViolationThreshold:  5,
		ReputationThreshold: 30,
		AutoUnblock:         24 * time.Hour,
	}
}

type Service struct {
	repo  domain.ReputationRepository
	clock domain.Clock
	cfg   Config
}

func NewService(repo domain.ReputationRepository, clk domain.Clock, cfg Config) *Service {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	def := DefaultConfig()
	if cfg.ViolationThreshold <= 0 {
		cfg.ViolationThreshold = def.ViolationThreshold
	}
	if cfg.ReputationThreshold <= 0 {
		cfg.ReputationThreshold = def.ReputationThreshold
	}
	if cfg.AutoUnblock <= 0 {
		cfg.AutoUnblock = def.AutoUnblock
	}
	return &Service{repo: repo, clock: clk, cfg: cfg}
}

func (s *Service) GetOrCreate(ctx context.Context, ip string) (domain.IPReputation, error) {
	if ip == "" {
		return domain.IPReputation{}, ErrIPVazio
	}
	return s.repo.EnsureReputation(ctx, ip, s.clock.Agora())
}

func (s *Service) RecordSuccess(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}
	_, err := s.repo.ApplySuccess(ctx, ip, s.clock.Agora())
	return err
}

// RecordViolation penaliza o IP (10 pontos por nível de severidade, 1..5) e aplica o
// bloqueio automático quando algum limiar é atingido. Devolve o bloqueio criado, se houver.
func (s *Service) RecordViolation(ctx context.Context, ip, reason string, severity int) (*domain.IPBlock, error) {
	if ip == "" {
		return nil, nil
	}
	whitelisted, err := s.repo.IsWhitelisted(ctx, ip)
	if err != nil {
		return nil, err
	}
	if whitelisted {
		logger.Debug("violacao ignorada para ip na whitelist", "ip", ip)
		return nil, nil
	}

	severity = max(minSeverity, min(severity, maxSeverity))
	now := s.clock.Agora()
	rep, err := s.repo.ApplyViolation(ctx, ip, severity*penaltyPerSeverity, now)
	if err != nil {
		return nil, err
	}

	if rep.ViolationCount < s.cfg.ViolationThreshold && rep.ReputationScore >= s.cfg.ReputationThreshold {
		return nil, nil
	}

	blocked, _, err := s.IsBlocked(ctx, ip)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, nil
	}

	block, err := s.Block(ctx, ip,
		fmt.Sprintf("Auto-blocked: %s (violations: %d, score: %d)", reason, rep.ViolationCount, rep.ReputationScore),
		false, "", s.cfg.AutoUnblock)
	if err != nil {
		return nil, err
	}
	metrics.IncIPAutoBlock()
	logger.Warn("ip bloqueado automaticamente", "ip", ip, "violations", rep.ViolationCount, "score", rep.ReputationScore)
	return &block, nil
}

// IsBlocked consulta o bloqueio ativo; bloqueios vencidos são desfeitos na própria leitura.
func (s *Service) IsBlocked(ctx context.Context, ip string) (bool, string, error) {
	if ip == "" {
		return false, "", nil
	}
	whitelisted, err := s.repo.IsWhitelisted(ctx, ip)
	if err != nil {
		return false, "", err
	}
	if whitelisted {
		return false, "", nil
	}

	block, err := s.repo.FindActiveBlock(ctx, ip)
	if errors.Is(err, domain.ErrNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	now := s.clock.Agora()
	if block.AutoUnblockAt != nil && !block.AutoUnblockAt.After(now) {
		if _, err := s.repo.DeactivateBlock(ctx, ip, "", now); err != nil {
			return false, "", err
		}
		metrics.AddIPUnblocked("lazy", 1)
		logger.Info("ip desbloqueado por expiracao", "ip", ip)
		return false, "", nil
	}

	reason := "IP blocked: " + block.Reason
	if block.AutoUnblockAt != nil {
		reason += fmt.Sprintf(" (auto-unblock at %s)", block.AutoUnblockAt.UTC().Format(time.RFC3339))
	}
	return true, reason, nil
}

// Block cria ou reativa o bloqueio. Bloqueios manuais nunca expiram sozinhos.
func (s *Service) Block(ctx context.Context, ip, reason string, manual bool, blockedBy string, autoUnblock time.Duration) (domain.IPBlock, error) {
	if ip == "" {
		return domain.IPBlock{}, ErrIPVazio
	}
	whitelisted, err := s.repo.IsWhitelisted(ctx, ip)
	if err != nil {
		return domain.IPBlock{}, err
	}
	if whitelisted {
		return domain.IPBlock{}, fmt.Errorf("%w: %s", ErrIPWhitelisted, ip)
	}

	now := s.clock.Agora()
	block := domain.IPBlock{
		IP:        ip,
		Reason:    reason,
		BlockedAt: now,
		IsActive:  true,
		IsManual:  manual,
		BlockedBy: blockedBy,
	}
	if !manual && autoUnblock > 0 {
		until := now.Add(autoUnblock)
		block.AutoUnblockAt = &until
	}
	if err := s.repo.SaveBlock(ctx, block); err != nil {
		return domain.IPBlock{}, err
	}
	logger.Info("ip bloqueado", "ip", ip, "manual", manual, "reason", reason)
	return block, nil
}

func (s *Service) Unblock(ctx context.Context, ip, unblockedBy string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	ok, err := s.repo.DeactivateBlock(ctx, ip, unblockedBy, s.clock.Agora())
	if err != nil {
		return false, err
	}
	if ok {
		metrics.AddIPUnblocked("manual", 1)
		logger.Info("ip desbloqueado", "ip", ip, "by", unblockedBy)
	}
	return ok, nil
}

// Whitelist libera o IP e derruba qualquer bloqueio ativo.
func (s *Service) Whitelist(ctx context.Context, ip, reason, createdBy string) (domain.IPWhitelist, error) {
	if ip == "" {
		return domain.IPWhitelist{}, ErrIPVazio
	}
	entry := domain.IPWhitelist{
		IP:        ip,
		Reason:    reason,
		CreatedBy: createdBy,
		IsActive:  true,
		CreatedAt: s.clock.Agora(),
	}
	if err := s.repo.SaveWhitelist(ctx, entry); err != nil {
		return domain.IPWhitelist{}, err
	}
	if _, err := s.Unblock(ctx, ip, createdBy); err != nil {
		return domain.IPWhitelist{}, err
	}
	logger.Info("ip adicionado a whitelist", "ip", ip, "reason", reason)
	return entry, nil
}

func (s *Service) RemoveWhitelist(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	return s.repo.DeactivateWhitelist(ctx, ip)
}

func (s *Service) IsWhitelisted(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	return s.repo.IsWhitelisted(ctx, ip)
}

// SweepExpired desbloqueia em lotes todos os bloqueios automáticos vencidos.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		now := s.clock.Agora()
		blocks, err := s.repo.ExpiredBlocks(ctx, now, sweepBatchSize)
		if err != nil {
			return total, err
		}
		for _, b := range blocks {
			ok, err := s.repo.DeactivateBlock(ctx, b.IP, "", now)
			if err != nil {
				return total, err
			}
			if ok {
				total++
			}
		}
		if len(blocks) < sweepBatchSize {
			break
		}
	}
	if total > 0 {
		metrics.AddIPUnblocked("sweep", total)
		logger.Info("bloqueios expirados removidos", "total", total)
	}
	return total, nil
}

// Status reúne reputação, bloqueio e whitelist do IP para a CLI administrativa.
type Status struct {
	Reputation  domain.IPReputation
	Blocked     bool
	BlockReason string
	Whitelisted bool
}

func (s *Service) Status(ctx context.Context, ip string) (Status, error) {
	var st Status
	rep, err := s.repo.FindReputation(ctx, ip)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return st, err
	}
	st.Reputation = rep
	if st.Whitelisted, err = s.IsWhitelisted(ctx, ip); err != nil {
		return st, err
	}
	if st.Blocked, st.BlockReason, err = s.IsBlocked(ctx, ip); err != nil {
		return st, err
	}
	return st, nil
}
