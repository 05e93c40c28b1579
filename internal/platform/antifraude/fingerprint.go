package antifraude

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/marcelojr/provote/internal/domain"
	"github.com/marcelojr/provote/internal/platform/clock"
	"github.com/marcelojr/provote/internal/platform/logger"
)

const (
	weightMultipleUsers = 40
	weightDifferentIPs  = 30
	weightRapidVoting   = 30
	maxRiskScore        = 100

	rapidVotesThreshold = 3
	maxRecentVotes      = 1000
)

var fingerprintPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// ValidFingerprint exige o digest SHA-256 em hexadecimal produzido pelo cliente.
func ValidFingerprint(fp string) bool {
	return fingerprintPattern.MatchString(fp)
}

type signal string

const (
	signalMultipleUsers signal = "multiple_users"
	signalDifferentIPs  signal = "different_ips"
	signalRapidVoting   signal = "rapid_voting"
)

type FingerprintCheck struct {
	Suspicious bool
	BlockVote  bool
	RiskScore  int
	Reasons    []string

	signals []signal
}

// add pontua cada sinal uma única vez, mesmo quando cache e banco concordam.
func (c *FingerprintCheck) add(sig signal, reason string, weight int, block bool) {
	if block {
		c.BlockVote = true
	}
	for _, s := range c.signals {
		if s == sig {
			return
		}
	}
	c.signals = append(c.signals, sig)
	c.Suspicious = true
	c.Reasons = append(c.Reasons, reason)
	c.RiskScore = min(c.RiskScore+weight, maxRiskScore)
}

type recentVotes interface {
	RecentByFingerprint(ctx context.Context, fingerprint string, pollID domain.PollID, since time.Time, limit int) ([]domain.FingerprintVote, error)
}

// FingerprintChecker combina o cache efêmero (rápido) com uma consulta em janela ao banco.
type FingerprintChecker struct {
	cache       domain.FingerprintCache
	votes       recentVotes
	clock       domain.Clock
	window      time.Duration
	rapidWindow time.Duration
}

func NewFingerprintChecker(cache domain.FingerprintCache, votes recentVotes, clk domain.Clock, window, rapidWindow time.Duration) *FingerprintChecker {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	if rapidWindow <= 0 {
		rapidWindow = 5 * time.Minute
	}
	return &FingerprintChecker{
		cache:       cache,
		votes:       votes,
		clock:       clk,
		window:      window,
		rapidWindow: rapidWindow,
	}
}

// CheckSuspicious nunca devolve erro: falha no cache cai para o banco e falha no banco
// não acrescenta sinais (fail open).
func (f *FingerprintChecker) CheckSuspicious(ctx context.Context, fingerprint string, pollID domain.PollID, voterKey, ip string) FingerprintCheck {
	var check FingerprintCheck
	if fingerprint == "" {
		return check
	}

	activity, found, err := f.cache.Get(ctx, fingerprint, pollID)
	if err != nil {
		logger.Warn("cache de fingerprint indisponivel, consultando banco", "poll_id", pollID, "error", err)
	}
	if err == nil && found {
		voters := distinct(activity.Voters, voterKey)
		if len(voters) >= 2 {
			check.add(signalMultipleUsers, fmt.Sprintf("Fingerprint used by multiple users (%d)", len(voters)), weightMultipleUsers, true)
		}
		if ips := distinct(activity.IPs, ""); len(ips) >= 2 {
			check.add(signalDifferentIPs, fmt.Sprintf("Fingerprint used from different IPs (%d)", len(ips)), weightDifferentIPs, true)
		}
	}

	now := f.clock.Agora()
	recent, err := f.votes.RecentByFingerprint(ctx, fingerprint, pollID, now.Add(-f.window), maxRecentVotes)
	if err != nil {
		logger.Error("falha consultando votos por fingerprint", "poll_id", pollID, "error", err)
		return check
	}
	if len(recent) == 0 {
		return check
	}

	ips := make([]string, 0, len(recent))
	voters := make([]string, 0, len(recent))
	rapid := 0
	rapidSince := now.Add(-f.rapidWindow)
	for _, v := range recent {
		ips = append(ips, v.IP)
		voters = append(voters, v.VoterKey)
		if !v.CreatedAt.Before(rapidSince) {
			rapid++
		}
	}

	if n := len(distinct(ips, "")); ip != "" && n >= 2 {
		check.add(signalDifferentIPs, fmt.Sprintf("Fingerprint used from different IPs (%d)", n), weightDifferentIPs, false)
	}

	knownVoters := distinct(voters, "")
	if len(knownVoters) >= 2 && !contains(knownVoters, voterKey) {
		check.add(signalMultipleUsers, fmt.Sprintf("Fingerprint used by multiple users (%d)", len(knownVoters)), weightMultipleUsers, true)
	}

	if rapid >= rapidVotesThreshold {
		check.add(signalRapidVoting, fmt.Sprintf("Rapid voting: %d votes within %s", rapid, f.rapidWindow), weightRapidVoting, false)
	}

	return check
}

// UpdateCache registra o par (eleitor, IP) observado; erros são apenas logados.
func (f *FingerprintChecker) UpdateCache(ctx context.Context, fingerprint string, pollID domain.PollID, voterKey, ip string) {
	if fingerprint == "" {
		return
	}
	if err := f.cache.Record(ctx, fingerprint, pollID, voterKey, ip, f.clock.Agora()); err != nil {
		logger.Warn("falha atualizando cache de fingerprint", "poll_id", pollID, "error", err)
	}
}

func distinct(values []string, extra string) []string {
	seen := make(map[string]struct{}, len(values)+1)
	out := make([]string, 0, len(values)+1)
	push := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range values {
		push(v)
	}
	push(extra)
	return out
}

func contains(values []string, v string) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}
