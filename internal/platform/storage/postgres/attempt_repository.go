package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/marcelojr/provote/internal/domain"
)

// AttemptRepository grava a trilha de auditoria; só há inserções.
type AttemptRepository struct {
	db *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Record(ctx context.Context, attempt domain.VoteAttempt) error {
	if err := r.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		return fmt.Errorf("gorm vote_attempts: inserir: %w", err)
	}
	return nil
}

func (r *AttemptRepository) CountByPoll(ctx context.Context, pollID domain.PollID) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&domain.VoteAttempt{}).
		Where("poll_id = ?", pollID).
		Count(&total).Error; err != nil {
		return 0, fmt.Errorf("gorm vote_attempts: total enquete: %w", err)
	}
	return total, nil
}

var _ domain.AttemptRepository = (*AttemptRepository)(nil)
