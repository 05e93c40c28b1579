package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestRun_DeveCriarTodasAsTabelas(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, Run(db))
	// Reaplicar não deve falhar: versões já registradas são ignoradas.
	require.NoError(t, Run(db))

	for _, table := range []string{"polls", "poll_options", "votes", "vote_attempts", "ip_reputations", "ip_blocks", "ip_whitelist"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex("votes", "idx_votes_poll_voter"))
}

func TestRun_DbNulo_DeveFalhar(t *testing.T) {
	assert.Error(t, Run(nil))
}
