package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/marcelojr/provote/internal/domain"
)

// VoteRepository guarda votos aceitos e mantém os contadores em cache da enquete.
type VoteRepository struct {
	db *gorm.DB
}

func NewVoteRepository(db *gorm.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// Create roda inserção, contadores e inTx numa única transação. A unicidade de
// (poll_id, voter_key) e de idempotency_key é garantida pelo banco e reportada como
// domain.ErrDuplicate.
func (r *VoteRepository) Create(ctx context.Context, vote domain.Vote, inTx func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&vote).Error; err != nil {
			return translate("gorm votes: inserir", err)
		}

		res := tx.Model(&domain.PollOption{}).
			Where("id = ? AND poll_id = ?", vote.OptionID, vote.PollID).
			UpdateColumn("cached_vote_count", gorm.Expr("cached_vote_count + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("gorm votes: contador opcao: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("gorm votes: contador opcao %s: %w", vote.OptionID, domain.ErrNotFound)
		}

		if err := tx.Model(&domain.Poll{}).
			Where("id = ?", vote.PollID).
			UpdateColumn("cached_total_votes", gorm.Expr("cached_total_votes + ?", 1)).Error; err != nil {
			return fmt.Errorf("gorm votes: contador enquete: %w", err)
		}

		if inTx != nil {
			if err := inTx(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *VoteRepository) FindByID(ctx context.Context, id domain.VoteID) (domain.Vote, error) {
	var vote domain.Vote
	err := r.db.WithContext(ctx).First(&vote, "id = ?", id).Error
	if err != nil {
		return domain.Vote{}, translate("gorm votes: buscar", err)
	}
	return vote, nil
}

func (r *VoteRepository) FindByVoter(ctx context.Context, pollID domain.PollID, voterKey string) (domain.Vote, error) {
	var vote domain.Vote
	err := r.db.WithContext(ctx).
		Where("poll_id = ? AND voter_key = ?", pollID, voterKey).
		First(&vote).Error
	if err != nil {
		return domain.Vote{}, translate("gorm votes: buscar por eleitor", err)
	}
	return vote, nil
}

func (r *VoteRepository) FindByIdempotencyKey(ctx context.Context, key string) (domain.Vote, error) {
	var vote domain.Vote
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&vote).Error
	if err != nil {
		return domain.Vote{}, translate("gorm votes: buscar por chave de idempotencia", err)
	}
	return vote, nil
}

// RecentByFingerprint devolve os votos mais recentes primeiro, limitados a limit linhas.
func (r *VoteRepository) RecentByFingerprint(ctx context.Context, fingerprint string, pollID domain.PollID, since time.Time, limit int) ([]domain.FingerprintVote, error) {
	type resultado struct {
		ID        string
		VoterKey  string
		IP        string
		CreatedAt time.Time
	}

	var res []resultado
	if err := r.db.WithContext(ctx).
		Model(&domain.Vote{}).
		Select("id, voter_key, ip, created_at").
		Where("fingerprint = ? AND poll_id = ? AND created_at >= ?", fingerprint, pollID, since).
		Order("created_at DESC").
		Limit(limit).
		Scan(&res).Error; err != nil {
		return nil, fmt.Errorf("gorm votes: recentes por fingerprint: %w", err)
	}

	votes := make([]domain.FingerprintVote, len(res))
	for i, item := range res {
		votes[i] = domain.FingerprintVote{
			VoteID:    domain.VoteID(item.ID),
			VoterKey:  item.VoterKey,
			IP:        item.IP,
			CreatedAt: item.CreatedAt,
		}
	}
	return votes, nil
}

// FlagFraud invalida votos ainda válidos, acrescentando o motivo e elevando o risco.
// Votos já invalidados não são tocados.
func (r *VoteRepository) FlagFraud(ctx context.Context, ids []domain.VoteID, reason string, riskScore int) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res := r.db.WithContext(ctx).
		Model(&domain.Vote{}).
		Where("id IN ? AND is_valid = ?", ids, true).
		UpdateColumns(map[string]any{
			"is_valid": false,
			"fraud_reasons": gorm.Expr(
				"CASE WHEN fraud_reasons IS NULL OR fraud_reasons = '' THEN ? ELSE fraud_reasons || ? END",
				reason, "; "+reason,
			),
			"risk_score": gorm.Expr("CASE WHEN risk_score < ? THEN ? ELSE risk_score END", riskScore, riskScore),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("gorm votes: marcar fraude: %w", res.Error)
	}
	return res.RowsAffected, nil
}

var _ domain.VoteRepository = (*VoteRepository)(nil)
