// Pacote migrations centraliza as versões gormigrate aplicadas na inicialização.
package migrations

import (
	"fmt"

	gormigrate "github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/marcelojr/provote/internal/domain"
)

func All() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "202610170001_polls",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.Poll{}, &domain.PollOption{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("poll_options", "polls")
			},
		},
		{
			ID: "202610170002_votes",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.Vote{}, &domain.VoteAttempt{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("vote_attempts", "votes")
			},
		},
		{
			ID: "202610170003_ip_reputation",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.IPReputation{}, &domain.IPBlock{}, &domain.IPWhitelist{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("ip_whitelist", "ip_blocks", "ip_reputations")
			},
		},
	}
}

func Run(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("migrations: db nulo")
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, All())

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("migrations: falha ao aplicar: %w", err)
	}

	return nil
}
