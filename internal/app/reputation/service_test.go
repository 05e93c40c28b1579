package reputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/marcelojr/provote/internal/platform/clock"
	"github.com/marcelojr/provote/internal/platform/migrations"
	"github.com/marcelojr/provote/internal/platform/storage/postgres"
)

const ipTeste = "203.0.113.7"

func setupService(t *testing.T) (*Service, *clock.Manual) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), postgres.Config())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migrations.Run(db))
	t.Cleanup(func() { sqlDB.Close() })

	clk := clock.NewManual(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	return NewService(postgres.NewReputationRepository(db), clk, DefaultConfig()), clk
}

func TestRecordViolation_QuandoAtingeLimiteDeViolacoes_DeveBloquear(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	// Arrange: quatro violações leves deixam o IP abaixo do limiar
	for i := 0; i < 4; i++ {
		block, err := svc.RecordViolation(ctx, ipTeste, "rate limit", 1)
		require.NoError(t, err)
		require.Nil(t, block)
	}
	blocked, _, err := svc.IsBlocked(ctx, ipTeste)
	require.NoError(t, err)
	require.False(t, blocked)

	// Act
	block, err := svc.RecordViolation(ctx, ipTeste, "rate limit", 1)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.False(t, block.IsManual)
	assert.Contains(t, block.Reason, "violations: 5")
	assert.Contains(t, block.Reason, "score: 50")

	blocked, reason, err := svc.IsBlocked(ctx, ipTeste)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Contains(t, reason, "auto-unblock at 2026-10-18T12:00:00Z")
}

func TestRecordViolation_QuandoScoreCaiAbaixoDoLimiar_DeveBloquear(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	first, err := svc.RecordViolation(ctx, ipTeste, "fraude", 5)
	require.NoError(t, err)
	assert.Nil(t, first)

	second, err := svc.RecordViolation(ctx, ipTeste, "fraude", 9)

	require.NoError(t, err)
	require.NotNil(t, second)
	rep, err := svc.GetOrCreate(ctx, ipTeste)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.ReputationScore)
	assert.Equal(t, 2, rep.ViolationCount)
	assert.Equal(t, 2, rep.FailedAttempts)
}

func TestRecordViolation_QuandoJaBloqueado_NaoDeveCriarNovoBloqueio(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.RecordViolation(ctx, ipTeste, "rate limit", 1)
		require.NoError(t, err)
	}

	block, err := svc.RecordViolation(ctx, ipTeste, "rate limit", 1)

	require.NoError(t, err)
	assert.Nil(t, block)
}

func TestRecordViolation_QuandoIPNaWhitelist_NuncaBloqueia(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	_, err := svc.Whitelist(ctx, ipTeste, "escritorio", "admin")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		block, err := svc.RecordViolation(ctx, ipTeste, "rate limit", 5)
		require.NoError(t, err)
		require.Nil(t, block)
	}

	blocked, _, err := svc.IsBlocked(ctx, ipTeste)
	require.NoError(t, err)
	assert.False(t, blocked)
	rep, err := svc.GetOrCreate(ctx, ipTeste)
	require.NoError(t, err)
	assert.Equal(t, 100, rep.ReputationScore)
	assert.Zero(t, rep.ViolationCount)
}

func TestRecordSuccess_DeveIncrementarSemPassarDe100(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.RecordViolation(ctx, ipTeste, "captcha", 1)
	require.NoError(t, err)
	for i := 0; i < 15; i++ {
		require.NoError(t, svc.RecordSuccess(ctx, ipTeste))
	}

	rep, err := svc.GetOrCreate(ctx, ipTeste)
	require.NoError(t, err)
	assert.Equal(t, 100, rep.ReputationScore)
	assert.Equal(t, 15, rep.SuccessfulAttempts)
}

func TestIsBlocked_QuandoPrazoExpira_DeveDesbloquearNaLeitura(t *testing.T) {
	svc, clk := setupService(t)
	ctx := context.Background()
	_, err := svc.Block(ctx, ipTeste, "abuso", false, "", 24*time.Hour)
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)
	blocked, _, err := svc.IsBlocked(ctx, ipTeste)

	require.NoError(t, err)
	assert.False(t, blocked)
	st, err := svc.Status(ctx, ipTeste)
	require.NoError(t, err)
	assert.False(t, st.Blocked)
}

func TestBlock_Manual_NuncaExpira(t *testing.T) {
	svc, clk := setupService(t)
	ctx := context.Background()

	block, err := svc.Block(ctx, ipTeste, "investigacao", true, "admin", 24*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, block.AutoUnblockAt)

	clk.Advance(365 * 24 * time.Hour)
	blocked, reason, err := svc.IsBlocked(ctx, ipTeste)

	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, "IP blocked: investigacao", reason)
}

func TestBlock_QuandoIPNaWhitelist_DeveFalhar(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	_, err := svc.Whitelist(ctx, ipTeste, "", "admin")
	require.NoError(t, err)

	_, err = svc.Block(ctx, ipTeste, "abuso", true, "admin", 0)

	assert.True(t, errors.Is(err, ErrIPWhitelisted))
}

func TestUnblock_QuandoNaoHaBloqueio_DeveRetornarFalse(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	ok, err := svc.Unblock(ctx, ipTeste, "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Block(ctx, ipTeste, "abuso", true, "admin", 0)
	require.NoError(t, err)
	ok, err = svc.Unblock(ctx, ipTeste, "admin")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.Unblock(ctx, ipTeste, "admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWhitelist_DeveDerrubarBloqueioAtivo(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	_, err := svc.Block(ctx, ipTeste, "abuso", true, "admin", 0)
	require.NoError(t, err)

	_, err = svc.Whitelist(ctx, ipTeste, "parceiro", "admin")
	require.NoError(t, err)

	ok, err := svc.RemoveWhitelist(ctx, ipTeste)
	require.NoError(t, err)
	assert.True(t, ok)
	blocked, _, err := svc.IsBlocked(ctx, ipTeste)
	require.NoError(t, err)
	assert.False(t, blocked, "o bloqueio anterior nao deve voltar ao sair da whitelist")

	ok, err = svc.RemoveWhitelist(ctx, ipTeste)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepExpired_DeveRemoverSomenteBloqueiosAutomaticosVencidos(t *testing.T) {
	svc, clk := setupService(t)
	ctx := context.Background()
	_, err := svc.Block(ctx, "198.51.100.1", "auto", false, "", time.Hour)
	require.NoError(t, err)
	_, err = svc.Block(ctx, "198.51.100.2", "auto", false, "", 2*time.Hour)
	require.NoError(t, err)
	_, err = svc.Block(ctx, "198.51.100.3", "auto", false, "", 48*time.Hour)
	require.NoError(t, err)
	_, err = svc.Block(ctx, "198.51.100.4", "manual", true, "admin", 0)
	require.NoError(t, err)

	clk.Advance(3 * time.Hour)
	total, err := svc.SweepExpired(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for ip, want := range map[string]bool{
		"198.51.100.1": false,
		"198.51.100.2": false,
		"198.51.100.3": true,
		"198.51.100.4": true,
	} {
		blocked, _, err := svc.IsBlocked(ctx, ip)
		require.NoError(t, err)
		assert.Equal(t, want, blocked, ip)
	}

	total, err = svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestService_IPVazio_DeveSerNoop(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	block, err := svc.RecordViolation(ctx, "", "x", 5)
	assert.NoError(t, err)
	assert.Nil(t, block)
	assert.NoError(t, svc.RecordSuccess(ctx, ""))
	blocked, _, err := svc.IsBlocked(ctx, "")
	assert.NoError(t, err)
	assert.False(t, blocked)
	_, err = svc.Block(ctx, "", "x", true, "", 0)
	assert.ErrorIs(t, err, ErrIPVazio)
}
