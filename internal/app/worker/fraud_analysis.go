// Pacote worker contém o processamento assíncrono que roda fora do caminho do voto:
// análise de longo prazo de fingerprints e a varredura de bloqueios de IP vencidos.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelojr/provote/internal/domain"
	"github.com/marcelojr/provote/internal/platform/logger"
	"github.com/marcelojr/provote/internal/platform/metrics"
)

const (
	weightMultipleVoters = 40
	weightMultipleIPs    = 30
	weightHighFrequency  = 20

	highRiskScore    = 70
	maxVotesPerHour  = 10
	maxAnalyzedVotes = 5000
)

// DefaultAnalysisWindow é o histórico revisado quando FINGERPRINT_ANALYSIS_WINDOW não é informado.
const DefaultAnalysisWindow = 7 * 24 * time.Hour

type analysisVotes interface {
	RecentByFingerprint(ctx context.Context, fingerprint string, pollID domain.PollID, since time.Time, limit int) ([]domain.FingerprintVote, error)
	FlagFraud(ctx context.Context, ids []domain.VoteID, reason string, riskScore int) (int64, error)
}

type analysisCache interface {
	SaveAnalysis(ctx context.Context, fingerprint string, pollID domain.PollID, analysis domain.FingerprintAnalysis) error
}

// FraudAnalysisProcessor revisa o histórico do fingerprint na enquete e invalida
// retroativamente os votos quando o risco é alto. Nunca revalida votos.
type FraudAnalysisProcessor struct {
	votes  analysisVotes
	cache  analysisCache
	clock  domain.Clock
	window time.Duration
}

func NewFraudAnalysisProcessor(votes analysisVotes, cache analysisCache, clock domain.Clock, window time.Duration) *FraudAnalysisProcessor {
	if window <= 0 {
		window = DefaultAnalysisWindow
	}
	return &FraudAnalysisProcessor{votes: votes, cache: cache, clock: clock, window: window}
}

func (p *FraudAnalysisProcessor) Process(ctx context.Context, job domain.FraudAnalysisJob) error {
	if job.Fingerprint == "" {
		return nil
	}
	start := time.Now()
	defer func() {
		metrics.IncFraudAnalysis()
		metrics.ObserveFraudAnalysisDuration(time.Since(start).Seconds())
	}()

	now := p.clock.Agora()
	votes, err := p.votes.RecentByFingerprint(ctx, job.Fingerprint, job.PollID, now.Add(-p.window), maxAnalyzedVotes)
	if err != nil {
		return fmt.Errorf("worker: historico do fingerprint: %w", err)
	}
	if len(votes) == 0 {
		return nil
	}

	analysis := Analyze(votes)
	analysis.AnalyzedAt = now
	if err := p.cache.SaveAnalysis(ctx, job.Fingerprint, job.PollID, analysis); err != nil {
		logger.Warn("falha gravando analise no cache", "poll_id", job.PollID, "error", err)
	}

	if analysis.RiskScore < highRiskScore {
		return nil
	}
	logger.Warn("fingerprint de alto risco", "poll_id", job.PollID, "risk_score", analysis.RiskScore, "factors", analysis.RiskFactors)

	ids := make([]domain.VoteID, len(votes))
	for i, v := range votes {
		ids[i] = v.VoteID
	}
	reason := fmt.Sprintf("Async fingerprint analysis: %s (risk %d)", domain.JoinReasons(analysis.RiskFactors), analysis.RiskScore)
	flagged, err := p.votes.FlagFraud(ctx, ids, reason, analysis.RiskScore)
	if err != nil {
		return fmt.Errorf("worker: marcar votos: %w", err)
	}
	if flagged > 0 {
		metrics.AddVotesFlagged(flagged)
		logger.Info("votos invalidados pela analise", "poll_id", job.PollID, "total", flagged)
	}
	return nil
}

// Analyze pontua o histórico: vários eleitores, vários IPs e frequência acima de 10 votos/hora.
func Analyze(votes []domain.FingerprintVote) domain.FingerprintAnalysis {
	voters := make(map[string]struct{})
	ips := make(map[string]struct{})
	var first, last time.Time
	for i, v := range votes {
		if v.VoterKey != "" {
			voters[v.VoterKey] = struct{}{}
		}
		if v.IP != "" {
			ips[v.IP] = struct{}{}
		}
		if i == 0 || v.CreatedAt.Before(first) {
			first = v.CreatedAt
		}
		if i == 0 || v.CreatedAt.After(last) {
			last = v.CreatedAt
		}
	}

	a := domain.FingerprintAnalysis{
		VoteCount:   len(votes),
		VoterCount:  len(voters),
		IPCount:     len(ips),
		RiskFactors: []string{},
	}
	if a.VoterCount >= 2 {
		a.RiskFactors = append(a.RiskFactors, "multiple_users")
		a.RiskScore += weightMultipleVoters
	}
	if a.IPCount >= 2 {
		a.RiskFactors = append(a.RiskFactors, "multiple_ips")
		a.RiskScore += weightMultipleIPs
	}
	if span := last.Sub(first).Hours(); span > 0 && float64(len(votes))/span > maxVotesPerHour {
		a.RiskFactors = append(a.RiskFactors, "high_frequency")
		a.RiskScore += weightHighFrequency
	}
	a.RiskScore = min(a.RiskScore, 100)
	return a
}
