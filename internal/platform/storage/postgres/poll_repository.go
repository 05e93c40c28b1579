package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/marcelojr/provote/internal/domain"
)

// PollRepository expõe somente leitura das enquetes; o CRUD fica fora deste serviço.
type PollRepository struct {
	db *gorm.DB
}

func NewPollRepository(db *gorm.DB) *PollRepository {
	return &PollRepository{db: db}
}

func (r *PollRepository) FindByID(ctx context.Context, id domain.PollID) (domain.Poll, error) {
	var poll domain.Poll
	err := r.db.WithContext(ctx).
		Preload("Options", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("display_order ASC")
		}).
		First(&poll, "id = ?", id).Error
	if err != nil {
		return domain.Poll{}, translate("gorm polls: buscar", err)
	}
	return poll, nil
}

// Create é usado pelos testes e pela carga inicial; enquetes já existentes não são alteradas.
func (r *PollRepository) Create(ctx context.Context, poll domain.Poll) error {
	return translate("gorm polls: inserir", r.db.WithContext(ctx).Create(&poll).Error)
}

var _ domain.PollRepository = (*PollRepository)(nil)
