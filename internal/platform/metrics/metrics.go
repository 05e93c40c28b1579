package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	voteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provote_vote_requests_total",
		Help: "Total de requisicoes de voto recebidas por status HTTP",
	}, []string{"status"})

	voteAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provote_vote_attempts_total",
		Help: "Total de tentativas de voto por resultado do pipeline de admissao",
	}, []string{"outcome"})

	admissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "provote_vote_admission_duration_seconds",
		Help:    "Tempo gasto no pipeline de admissao de voto",
		Buckets: prometheus.DefBuckets,
	})

	rateLimiterFailOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provote_rate_limiter_fail_open_total",
		Help: "Total de decisoes do rate limiter liberadas por falha no Redis",
	})

	ipAutoBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provote_ip_auto_blocks_total",
		Help: "Total de bloqueios automaticos de IP por reputacao",
	})

	ipUnblockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provote_ip_unblocked_total",
		Help: "Total de IPs desbloqueados por origem",
	}, []string{"source"})

	fraudAnalysesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provote_fraud_analyses_total",
		Help: "Total de analises assincronas de fingerprint processadas pelo worker",
	})

	fraudAnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "provote_fraud_analysis_duration_seconds",
		Help:    "Tempo para processar uma analise de fingerprint no worker",
		Buckets: prometheus.DefBuckets,
	})

	votesFlaggedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provote_votes_flagged_total",
		Help: "Total de votos marcados como fraudulentos retroativamente",
	})
)

func ObserveVoteRequest(status string) {
	voteRequestsTotal.WithLabelValues(status).Inc()
}

// ObserveAttempt usa o kind do erro como outcome, ou "created"/"replayed" em caso de sucesso.
func ObserveAttempt(outcome string, seconds float64) {
	voteAttemptsTotal.WithLabelValues(outcome).Inc()
	admissionDuration.Observe(seconds)
}

func IncRateLimiterFailOpen() {
	rateLimiterFailOpenTotal.Inc()
}

func IncIPAutoBlock() {
	ipAutoBlocksTotal.Inc()
}

func AddIPUnblocked(source string, n int) {
	ipUnblockedTotal.WithLabelValues(source).Add(float64(n))
}

func IncFraudAnalysis() {
	fraudAnalysesTotal.Inc()
}

func ObserveFraudAnalysisDuration(seconds float64) {
	fraudAnalysisDuration.Observe(seconds)
}

func AddVotesFlagged(n int64) {
	votesFlaggedTotal.Add(float64(n))
}
