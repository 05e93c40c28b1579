package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/marcelojr/provote/internal/domain"
)

const maxReputationScore = 100

// ReputationRepository persiste reputação, bloqueios e whitelist por IP.
// Os contadores são atualizados com expressões SQL para não perder incrementos concorrentes.
type ReputationRepository struct {
	db *gorm.DB
}

func NewReputationRepository(db *gorm.DB) *ReputationRepository {
	return &ReputationRepository{db: db}
}

func (r *ReputationRepository) FindReputation(ctx context.Context, ip string) (domain.IPReputation, error) {
	var rep domain.IPReputation
	if err := r.db.WithContext(ctx).First(&rep, "ip = ?", ip).Error; err != nil {
		return domain.IPReputation{}, translate("gorm ip_reputations: buscar", err)
	}
	return rep, nil
}

func (r *ReputationRepository) EnsureReputation(ctx context.Context, ip string, now time.Time) (domain.IPReputation, error) {
	if err := r.ensure(ctx, ip, now); err != nil {
		return domain.IPReputation{}, err
	}
	return r.FindReputation(ctx, ip)
}

func (r *ReputationRepository) ApplySuccess(ctx context.Context, ip string, now time.Time) (domain.IPReputation, error) {
	if err := r.ensure(ctx, ip, now); err != nil {
		return domain.IPReputation{}, err
	}

	if err := r.db.WithContext(ctx).
		Model(&domain.IPReputation{}).
		Where("ip = ?", ip).
		UpdateColumns(map[string]any{
			"successful_attempts": gorm.Expr("successful_attempts + 1"),
			"reputation_score": gorm.Expr(
				"CASE WHEN reputation_score + 1 > ? THEN ? ELSE reputation_score + 1 END",
				maxReputationScore, maxReputationScore,
			),
			"last_seen": now,
		}).Error; err != nil {
		return domain.IPReputation{}, fmt.Errorf("gorm ip_reputations: sucesso: %w", err)
	}

	return r.FindReputation(ctx, ip)
}

func (r *ReputationRepository) ApplyViolation(ctx context.Context, ip string, penalty int, now time.Time) (domain.IPReputation, error) {
	if err := r.ensure(ctx, ip, now); err != nil {
		return domain.IPReputation{}, err
	}

	if err := r.db.WithContext(ctx).
		Model(&domain.IPReputation{}).
		Where("ip = ?", ip).
		UpdateColumns(map[string]any{
			"violation_count": gorm.Expr("violation_count + 1"),
			"failed_attempts": gorm.Expr("failed_attempts + 1"),
			"reputation_score": gorm.Expr(
				"CASE WHEN reputation_score - ? < 0 THEN 0 ELSE reputation_score - ? END",
				penalty, penalty,
			),
			"last_seen":         now,
			"last_violation_at": now,
		}).Error; err != nil {
		return domain.IPReputation{}, fmt.Errorf("gorm ip_reputations: violacao: %w", err)
	}

	return r.FindReputation(ctx, ip)
}

// ensure cria a linha padrão; conflitos de criação concorrente são ignorados.
func (r *ReputationRepository) ensure(ctx context.Context, ip string, now time.Time) error {
	rep := domain.IPReputation{
		IP:              ip,
		ReputationScore: maxReputationScore,
		FirstSeen:       now,
		LastSeen:        now,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "ip"}}, DoNothing: true}).
		Create(&rep).Error; err != nil {
		return fmt.Errorf("gorm ip_reputations: criar: %w", err)
	}
	return nil
}

func (r *ReputationRepository) FindActiveBlock(ctx context.Context, ip string) (domain.IPBlock, error) {
	var block domain.IPBlock
	if err := r.db.WithContext(ctx).
		Where("ip = ? AND is_active = ?", ip, true).
		First(&block).Error; err != nil {
		return domain.IPBlock{}, translate("gorm ip_blocks: buscar ativo", err)
	}
	return block, nil
}

// SaveBlock grava ou reativa a única linha de bloqueio do IP.
func (r *ReputationRepository) SaveBlock(ctx context.Context, block domain.IPBlock) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "ip"}}, UpdateAll: true}).
		Create(&block).Error; err != nil {
		return fmt.Errorf("gorm ip_blocks: salvar: %w", err)
	}
	return nil
}

func (r *ReputationRepository) DeactivateBlock(ctx context.Context, ip, by string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.IPBlock{}).
		Where("ip = ? AND is_active = ?", ip, true).
		UpdateColumns(map[string]any{
			"is_active":    false,
			"unblocked_at": now,
			"unblocked_by": by,
		})
	if res.Error != nil {
		return false, fmt.Errorf("gorm ip_blocks: desativar: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ExpiredBlocks lista bloqueios automáticos ativos cujo prazo já passou.
func (r *ReputationRepository) ExpiredBlocks(ctx context.Context, now time.Time, limit int) ([]domain.IPBlock, error) {
	var blocks []domain.IPBlock
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND is_manual = ? AND auto_unblock_at IS NOT NULL AND auto_unblock_at <= ?", true, false, now).
		Order("auto_unblock_at ASC").
		Limit(limit).
		Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("gorm ip_blocks: expirados: %w", err)
	}
	return blocks, nil
}

func (r *ReputationRepository) IsWhitelisted(ctx context.Context, ip string) (bool, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&domain.IPWhitelist{}).
		Where("ip = ? AND is_active = ?", ip, true).
		Count(&total).Error; err != nil {
		return false, fmt.Errorf("gorm ip_whitelist: consultar: %w", err)
	}
	return total > 0, nil
}

func (r *ReputationRepository) SaveWhitelist(ctx context.Context, entry domain.IPWhitelist) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "ip"}}, UpdateAll: true}).
		Create(&entry).Error; err != nil {
		return fmt.Errorf("gorm ip_whitelist: salvar: %w", err)
	}
	return nil
}

func (r *ReputationRepository) DeactivateWhitelist(ctx context.Context, ip string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.IPWhitelist{}).
		Where("ip = ? AND is_active = ?", ip, true).
		UpdateColumn("is_active", false)
	if res.Error != nil {
		return false, fmt.Errorf("gorm ip_whitelist: desativar: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

var _ domain.ReputationRepository = (*ReputationRepository)(nil)
