package antifraude

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelojr/provote/internal/domain"
	"github.com/marcelojr/provote/internal/platform/clock"
	redisstore "github.com/marcelojr/provote/internal/platform/storage/redis"
)

const fpX = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

type fakeRecentVotes struct {
	votes []domain.FingerprintVote
	err   error
}

func (f *fakeRecentVotes) RecentByFingerprint(_ context.Context, fingerprint string, pollID domain.PollID, since time.Time, limit int) ([]domain.FingerprintVote, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.FingerprintVote
	for _, v := range f.votes {
		if !v.CreatedAt.Before(since) {
			out = append(out, v)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func setupChecker(t *testing.T, votes *fakeRecentVotes) (*FingerprintChecker, *miniredis.Miniredis, *clock.Manual) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	clk := clock.NewManual(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	cache := redisstore.NewFingerprintCache(client, "fp:activity", time.Hour)
	return NewFingerprintChecker(cache, votes, clk, 24*time.Hour, 5*time.Minute), mr, clk
}

func TestFingerprintChecker_EmptyFingerprint_IsClean(t *testing.T) {
	checker, _, _ := setupChecker(t, &fakeRecentVotes{})

	check := checker.CheckSuspicious(context.Background(), "", "p1", "user:a", "10.0.0.1")

	assert.False(t, check.Suspicious)
	assert.Zero(t, check.RiskScore)
}

func TestFingerprintChecker_SecondUserOnSamePoll_IsBlocked(t *testing.T) {
	checker, _, _ := setupChecker(t, &fakeRecentVotes{})
	ctx := context.Background()

	// Arrange: usuário A votou do IP1
	first := checker.CheckSuspicious(ctx, fpX, "p1", "user:a", "10.0.0.1")
	require.False(t, first.BlockVote)
	checker.UpdateCache(ctx, fpX, "p1", "user:a", "10.0.0.1")

	// Act: usuário B com o mesmo fingerprint, IP2
	check := checker.CheckSuspicious(ctx, fpX, "p1", "user:b", "10.0.0.2")

	// Assert
	assert.True(t, check.Suspicious)
	assert.True(t, check.BlockVote)
	assert.Equal(t, 40, check.RiskScore)
	require.Len(t, check.Reasons, 1)
	assert.Contains(t, check.Reasons[0], "multiple users")
}

func TestFingerprintChecker_SameUserDifferentPolls_IsAllowed(t *testing.T) {
	checker, _, _ := setupChecker(t, &fakeRecentVotes{})
	ctx := context.Background()

	checker.UpdateCache(ctx, fpX, "p1", "user:a", "10.0.0.1")

	check := checker.CheckSuspicious(ctx, fpX, "p2", "user:a", "10.0.0.2")
	checker.UpdateCache(ctx, fpX, "p2", "user:a", "10.0.0.2")

	assert.False(t, check.Suspicious)
	assert.False(t, check.BlockVote)
}

func TestFingerprintChecker_CacheWithTwoIPs_IsBlocked(t *testing.T) {
	checker, _, _ := setupChecker(t, &fakeRecentVotes{})
	ctx := context.Background()

	checker.UpdateCache(ctx, fpX, "p1", "user:a", "10.0.0.1")
	checker.UpdateCache(ctx, fpX, "p1", "user:a", "10.0.0.2")

	check := checker.CheckSuspicious(ctx, fpX, "p1", "user:a", "10.0.0.3")

	assert.True(t, check.BlockVote)
	assert.Equal(t, 30, check.RiskScore)
	assert.Contains(t, check.Reasons[0], "different IPs")
}

func TestFingerprintChecker_DatabaseSignals_AreSuspiciousButNotBlocking(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	votes := &fakeRecentVotes{votes: []domain.FingerprintVote{
		{VoterKey: "user:a", IP: "10.0.0.1", CreatedAt: now.Add(-1 * time.Minute)},
		{VoterKey: "user:a", IP: "10.0.0.2", CreatedAt: now.Add(-2 * time.Minute)},
		{VoterKey: "user:a", IP: "10.0.0.2", CreatedAt: now.Add(-3 * time.Minute)},
	}}
	checker, _, _ := setupChecker(t, votes)

	check := checker.CheckSuspicious(context.Background(), fpX, "p1", "user:a", "10.0.0.1")

	assert.True(t, check.Suspicious)
	assert.False(t, check.BlockVote)
	assert.Equal(t, 60, check.RiskScore)
	joined := strings.Join(check.Reasons, "|")
	assert.Contains(t, joined, "different IPs")
	assert.Contains(t, joined, "Rapid voting")
}

func TestFingerprintChecker_DatabaseOtherVoters_BlocksNewcomer(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	votes := &fakeRecentVotes{votes: []domain.FingerprintVote{
		{VoterKey: "user:a", IP: "10.0.0.1", CreatedAt: now.Add(-2 * time.Hour)},
		{VoterKey: "user:b", IP: "10.0.0.1", CreatedAt: now.Add(-3 * time.Hour)},
	}}
	checker, _, _ := setupChecker(t, votes)

	check := checker.CheckSuspicious(context.Background(), fpX, "p1", "user:c", "10.0.0.1")

	assert.True(t, check.BlockVote)
	assert.Equal(t, 40, check.RiskScore)
}

func TestFingerprintChecker_RiskIsCappedAndSignalsCountedOnce(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	votes := &fakeRecentVotes{votes: []domain.FingerprintVote{
		{VoterKey: "user:a", IP: "10.0.0.1", CreatedAt: now},
		{VoterKey: "user:b", IP: "10.0.0.2", CreatedAt: now},
		{VoterKey: "user:b", IP: "10.0.0.2", CreatedAt: now},
	}}
	checker, _, _ := setupChecker(t, votes)
	ctx := context.Background()
	checker.UpdateCache(ctx, fpX, "p1", "user:a", "10.0.0.1")
	checker.UpdateCache(ctx, fpX, "p1", "user:b", "10.0.0.2")

	check := checker.CheckSuspicious(ctx, fpX, "p1", "user:c", "10.0.0.3")

	assert.True(t, check.BlockVote)
	assert.Equal(t, 100, check.RiskScore)
	assert.Len(t, check.Reasons, 3)
}

func TestFingerprintChecker_CacheDown_FallsBackToDatabase(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	votes := &fakeRecentVotes{votes: []domain.FingerprintVote{
		{VoterKey: "user:a", IP: "10.0.0.1", CreatedAt: now.Add(-time.Hour)},
		{VoterKey: "user:b", IP: "10.0.0.1", CreatedAt: now.Add(-time.Hour)},
	}}
	checker, mr, _ := setupChecker(t, votes)
	mr.SetError("ERR cache fora")

	check := checker.CheckSuspicious(context.Background(), fpX, "p1", "user:c", "10.0.0.1")

	assert.True(t, check.BlockVote)
}

func TestFingerprintChecker_DatabaseDown_FailsOpen(t *testing.T) {
	checker, _, _ := setupChecker(t, &fakeRecentVotes{err: errors.New("db fora")})

	check := checker.CheckSuspicious(context.Background(), fpX, "p1", "user:b", "10.0.0.2")

	assert.False(t, check.Suspicious)
	assert.False(t, check.BlockVote)
}

func TestFingerprintChecker_DatabaseDown_KeepsCacheSignals(t *testing.T) {
	checker, _, _ := setupChecker(t, &fakeRecentVotes{err: errors.New("db fora")})
	ctx := context.Background()
	checker.UpdateCache(ctx, fpX, "p1", "user:a", "10.0.0.1")

	check := checker.CheckSuspicious(ctx, fpX, "p1", "user:b", "10.0.0.2")

	assert.True(t, check.BlockVote)
}

func TestValidFingerprint(t *testing.T) {
	assert.True(t, ValidFingerprint(fpX))
	assert.False(t, ValidFingerprint("short"))
	assert.False(t, ValidFingerprint(strings.Repeat("z", 64)))
}
