// Pacote voting implementa o pipeline de admissão de votos: cada tentativa passa pelas
// checagens em ordem, o voto é criado numa transação e toda tentativa deixa trilha de auditoria.
package voting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marcelojr/provote/internal/domain"
	"github.com/marcelojr/provote/internal/platform/antifraude"
	"github.com/marcelojr/provote/internal/platform/clock"
	"github.com/marcelojr/provote/internal/platform/geo"
	"github.com/marcelojr/provote/internal/platform/ids"
	"github.com/marcelojr/provote/internal/platform/logger"
	"github.com/marcelojr/provote/internal/platform/metrics"
)

const (
	msgAlreadyVoted  = "You have already voted on this poll"
	msgInvalidChoice = "Option does not belong to this poll"
	maxColumnLen     = 128
)

var tracer = otel.Tracer("github.com/marcelojr/provote/internal/app/voting")

// ReputationGate é o recorte da reputação de IP consultado e alimentado pelo pipeline.
type ReputationGate interface {
	IsBlocked(ctx context.Context, ip string) (bool, string, error)
	RecordSuccess(ctx context.Context, ip string) error
	RecordViolation(ctx context.Context, ip, reason string, severity int) (*domain.IPBlock, error)
}

type FingerprintGate interface {
	CheckSuspicious(ctx context.Context, fingerprint string, pollID domain.PollID, voterKey, ip string) antifraude.FingerprintCheck
	UpdateCache(ctx context.Context, fingerprint string, pollID domain.PollID, voterKey, ip string)
}

// Deps agrupa os colaboradores do serviço. Geo, Captcha, Contador e Fila são opcionais.
type Deps struct {
	Polls        domain.PollRepository
	Votes        domain.VoteRepository
	Attempts     domain.AttemptRepository
	Idempotency  domain.IdempotencyStore
	RateLimiter  domain.RateLimiter
	Reputation   ReputationGate
	Fingerprints FingerprintGate
	Geo          domain.GeoResolver
	Captcha      domain.CaptchaVerifier
	Contador     domain.Contador
	Fila         domain.Fila
	Clock        domain.Clock
	IDs          *ids.Generator
}

type Options struct {
	RateLimit       antifraude.RateLimitPolicy
	IdempotencyTTL  time.Duration
	CaptchaMinScore float64
	CaptchaTimeout  time.Duration
	GeoTimeout      time.Duration
}

func DefaultOptions() Options {
	return Options{
		RateLimit:       antifraude.DefaultVotePolicy(),
		IdempotencyTTL:  time.Hour,
		CaptchaMinScore: 0.5,
		CaptchaTimeout:  5 * time.Second,
		GeoTimeout:      2 * time.Second,
	}
}

// Service não guarda estado entre requisições; todo estado compartilhado vive no banco e no Redis.
type Service struct {
	polls        domain.PollRepository
	votes        domain.VoteRepository
	attempts     domain.AttemptRepository
	idempotency  domain.IdempotencyStore
	limiter      domain.RateLimiter
	reputation   ReputationGate
	fingerprints FingerprintGate
	geo          domain.GeoResolver
	captcha      domain.CaptchaVerifier
	contador     domain.Contador
	fila         domain.Fila
	clock        domain.Clock
	ids          *ids.Generator
	opts         Options
}

func NewService(d Deps, opts Options) *Service {
	def := DefaultOptions()
	if opts.RateLimit.Window <= 0 {
		opts.RateLimit = def.RateLimit
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = def.IdempotencyTTL
	}
	if opts.CaptchaTimeout <= 0 {
		opts.CaptchaTimeout = def.CaptchaTimeout
	}
	if opts.GeoTimeout <= 0 {
		opts.GeoTimeout = def.GeoTimeout
	}
	if d.Clock == nil {
		d.Clock = clock.NewSystemClock()
	}
	if d.IDs == nil {
		d.IDs = ids.DefaultGenerator()
	}
	if d.RateLimiter == nil {
		d.RateLimiter = antifraude.NewNoop()
	}
	return &Service{
		polls:        d.Polls,
		votes:        d.Votes,
		attempts:     d.Attempts,
		idempotency:  d.Idempotency,
		limiter:      d.RateLimiter,
		reputation:   d.Reputation,
		fingerprints: d.Fingerprints,
		geo:          d.Geo,
		captcha:      d.Captcha,
		contador:     d.Contador,
		fila:         d.Fila,
		clock:        d.Clock,
		ids:          d.IDs,
		opts:         opts,
	}
}

type RequestContext struct {
	IP           string
	UserAgent    string
	Fingerprint  string
	CaptchaToken string
	VoterToken   string
}

// CastResult traz o voto criado ou, com Replayed, o voto original de uma repetição idempotente.
type CastResult struct {
	Vote      domain.Vote
	Replayed  bool
	RateLimit *domain.RateLimitInfo
}

// admission acumula o que já se sabe da tentativa para a auditoria e os efeitos colaterais.
type admission struct {
	actor         domain.Actor
	pollID        domain.PollID
	optionID      domain.OptionID
	optionOK      bool
	key           string
	req           RequestContext
	voter         voterIdentity
	fingerprintOK bool
	check         antifraude.FingerprintCheck
	rateLimit     *domain.RateLimitInfo
}

// CastVote decide uma tentativa de voto. Rejeições voltam como *VoteError; repetições
// idempotentes voltam com Replayed=true e sem erro.
func (s *Service) CastVote(ctx context.Context, actor domain.Actor, pollID domain.PollID, optionID domain.OptionID, idempotencyKey string, req RequestContext) (CastResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "voting.CastVote", trace.WithAttributes(
		attribute.String("poll.id", string(pollID)),
		attribute.Bool("actor.authenticated", actor.Authenticated()),
	))
	defer span.End()

	if idempotencyKey == "" {
		idempotencyKey = DeriveIdempotencyKey(actor, pollID, optionID, req.Fingerprint, req.IP)
	}
	a := &admission{
		actor:         actor,
		pollID:        pollID,
		optionID:      optionID,
		key:           idempotencyKey,
		req:           req,
		voter:         resolveVoter(actor, req.VoterToken, req.Fingerprint),
		fingerprintOK: antifraude.ValidFingerprint(req.Fingerprint),
	}

	result, verr := s.admit(ctx, a)
	s.settle(context.WithoutCancel(ctx), a, result, verr)

	outcome := "created"
	switch {
	case verr != nil:
		outcome = string(verr.Kind)
		span.SetStatus(codes.Error, outcome)
	case result.Replayed:
		outcome = "replayed"
	}
	span.SetAttributes(attribute.String("vote.outcome", outcome))
	metrics.ObserveAttempt(outcome, time.Since(start).Seconds())

	if verr != nil {
		return CastResult{RateLimit: a.rateLimit}, verr
	}
	result.RateLimit = a.rateLimit
	return result, nil
}

func (s *Service) admit(ctx context.Context, a *admission) (CastResult, *VoteError) {
	if verr := s.checkRateLimit(ctx, a); verr != nil {
		return CastResult{}, verr
	}

	if s.reputation != nil {
		blocked, reason, err := s.reputation.IsBlocked(ctx, a.req.IP)
		if err != nil {
			logger.Warn("falha consultando bloqueio de ip, seguindo sem bloqueio", "ip", a.req.IP, "error", err)
		} else if blocked {
			return CastResult{}, reject(KindIPBlocked, "%s", reason)
		}
	}

	if result, replayed, verr := s.replay(ctx, a); verr != nil || replayed {
		return result, verr
	}

	poll, err := s.polls.FindByID(ctx, a.pollID)
	if errors.Is(err, domain.ErrNotFound) {
		return CastResult{}, reject(KindPollNotFound, "Poll not found")
	}
	if err != nil {
		logger.Error("falha carregando enquete", "poll_id", a.pollID, "error", err)
		return CastResult{}, internal()
	}

	now := s.clock.Agora()
	if !poll.IsOpen(now) {
		return CastResult{}, reject(KindPollClosed, "Poll is not accepting votes")
	}
	if _, ok := poll.Option(a.optionID); !ok {
		return CastResult{}, reject(KindInvalidChoice, msgInvalidChoice)
	}
	a.optionOK = true

	if verr := s.checkGeo(ctx, a, poll.SecurityRules.Data()); verr != nil {
		return CastResult{}, verr
	}
	if verr := s.checkCaptcha(ctx, a, poll.Settings.Data()); verr != nil {
		return CastResult{}, verr
	}

	notes, verr := s.checkFingerprint(ctx, a)
	if verr != nil {
		return CastResult{}, verr
	}

	existing, err := s.votes.FindByVoter(ctx, a.pollID, a.voter.key)
	switch {
	case err == nil:
		return s.duplicate(ctx, a, existing)
	case !errors.Is(err, domain.ErrNotFound):
		logger.Error("falha consultando voto existente", "poll_id", a.pollID, "error", err)
		return CastResult{}, internal()
	}

	return s.create(ctx, a, notes)
}

func (s *Service) checkRateLimit(ctx context.Context, a *admission) *VoteError {
	key, limit := s.opts.RateLimit.KeyFor(a.actor, a.req.IP)
	if limit == antifraude.Unlimited {
		return nil
	}
	allowed, info := s.limiter.CheckAndConsume(ctx, key, limit, s.opts.RateLimit.Window)
	a.rateLimit = &info
	if allowed {
		return nil
	}
	secs := int(math.Ceil(info.Reset.Sub(s.clock.Agora()).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return &VoteError{
		Kind:       KindRateLimitExceeded,
		Message:    fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", secs),
		RetryAfter: time.Duration(secs) * time.Second,
	}
}

// replay consulta o resultado idempotente. O voto só é devolvido se pertencer à mesma
// enquete e ao mesmo usuário; caso contrário a chave é tratada como já usada.
func (s *Service) replay(ctx context.Context, a *admission) (CastResult, bool, *VoteError) {
	found, stored, err := s.idempotency.Check(ctx, a.key)
	if err != nil {
		logger.Error("falha consultando idempotencia", "error", err)
		return CastResult{}, false, internal()
	}
	if !found {
		return CastResult{}, false, nil
	}
	if stored.Status == domain.IdempotencyDuplicate {
		return CastResult{}, false, reject(KindDuplicateVote, msgAlreadyVoted)
	}

	vote, err := s.votes.FindByID(ctx, stored.VoteID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("resultado idempotente aponta para voto inexistente", "vote_id", stored.VoteID)
		return CastResult{}, false, nil
	}
	if err != nil {
		logger.Error("falha carregando voto idempotente", "vote_id", stored.VoteID, "error", err)
		return CastResult{}, false, internal()
	}
	if vote.PollID != a.pollID || !sameUser(vote.UserID, a.voter.userID) {
		return CastResult{}, false, reject(KindDuplicateVote, "Idempotency key was already used for another vote")
	}
	return CastResult{Vote: vote, Replayed: true}, true, nil
}

func (s *Service) checkGeo(ctx context.Context, a *admission, rules domain.SecurityRules) *VoteError {
	if s.geo == nil || (!rules.HasCountryRules() && !rules.HasRegionRules()) {
		return nil
	}
	geoCtx, cancel := context.WithTimeout(ctx, s.opts.GeoTimeout)
	defer cancel()

	reason, err := geo.Check(geoCtx, s.geo, a.req.IP, rules)
	if err != nil {
		logger.Warn("falha na geolocalizacao, voto liberado", "ip", a.req.IP, "error", err)
		return nil
	}
	if reason != "" {
		return reject(KindGeoRestricted, "%s", reason)
	}
	return nil
}

func (s *Service) checkCaptcha(ctx context.Context, a *admission, settings domain.PollSettings) *VoteError {
	if !settings.CaptchaEnabled || a.actor.Staff || a.actor.Trusted {
		return nil
	}
	if a.req.CaptchaToken == "" {
		return reject(KindCaptchaVerification, "CAPTCHA token is required for this poll")
	}
	if s.captcha == nil {
		logger.Error("enquete exige captcha mas nenhum verificador foi configurado", "poll_id", a.pollID)
		return reject(KindCaptchaVerification, "CAPTCHA verification unavailable")
	}

	captchaCtx, cancel := context.WithTimeout(ctx, s.opts.CaptchaTimeout)
	defer cancel()
	res, err := s.captcha.Verify(captchaCtx, a.req.CaptchaToken, a.req.IP)
	if err != nil {
		logger.Warn("falha verificando captcha", "poll_id", a.pollID, "error", err)
		return reject(KindCaptchaVerification, "CAPTCHA verification failed: network-error")
	}
	if !res.Success {
		return reject(KindCaptchaVerification, "CAPTCHA verification failed: %s", strings.Join(res.Errors, ", "))
	}

	minScore := s.opts.CaptchaMinScore
	if settings.CaptchaMinScore != nil {
		minScore = *settings.CaptchaMinScore
	}
	if res.Score < minScore {
		return reject(KindCaptchaVerification, "CAPTCHA score too low (%.2f < %.2f)", res.Score, minScore)
	}
	return nil
}

// checkFingerprint exige fingerprint válido de anônimos e roda a heurística de fraude.
// Devolve as notas que ficam registradas no voto.
func (s *Service) checkFingerprint(ctx context.Context, a *admission) ([]string, *VoteError) {
	if !a.actor.Authenticated() {
		if a.req.Fingerprint == "" {
			return nil, reject(KindFingerprintValidation, "Fingerprint is required for anonymous votes")
		}
		if !a.fingerprintOK {
			return nil, reject(KindFingerprintValidation, "Invalid fingerprint format")
		}
	} else if !a.fingerprintOK {
		if a.req.Fingerprint == "" {
			return []string{"Missing fingerprint"}, nil
		}
		return []string{"Invalid fingerprint format"}, nil
	}

	if s.fingerprints == nil {
		return nil, nil
	}
	a.check = s.fingerprints.CheckSuspicious(ctx, a.req.Fingerprint, a.pollID, a.voter.key, a.req.IP)
	if a.check.BlockVote {
		return nil, reject(KindFraudDetected, "Vote blocked due to suspicious activity: %s", strings.Join(a.check.Reasons, ", "))
	}
	if !a.check.Suspicious {
		return nil, nil
	}

	logger.Warn("fingerprint suspeito", "poll_id", a.pollID, "risk_score", a.check.RiskScore, "reasons", a.check.Reasons)
	if s.fila != nil {
		job := domain.FraudAnalysisJob{Fingerprint: a.req.Fingerprint, PollID: a.pollID, EnqueuedAt: s.clock.Agora()}
		if err := s.fila.PublicarAnalise(ctx, job); err != nil {
			logger.Error("falha publicando analise de fingerprint", "poll_id", a.pollID, "error", err)
		}
	}
	return a.check.Reasons, nil
}

// duplicate trata um voto já existente do eleitor: mesma chave é repetição, outra chave é duplicidade.
func (s *Service) duplicate(ctx context.Context, a *admission, existing domain.Vote) (CastResult, *VoteError) {
	if existing.IdempotencyKey == a.key {
		return CastResult{Vote: existing, Replayed: true}, nil
	}
	result := domain.IdempotencyResult{VoteID: existing.ID, Status: domain.IdempotencyDuplicate}
	if _, err := s.idempotency.StoreIfAbsent(ctx, a.key, result, s.opts.IdempotencyTTL); err != nil {
		logger.Warn("falha guardando resultado de voto duplicado", "error", err)
	}
	return CastResult{}, reject(KindDuplicateVote, msgAlreadyVoted)
}

func (s *Service) create(ctx context.Context, a *admission, notes []string) (CastResult, *VoteError) {
	fingerprint := ""
	if a.fingerprintOK {
		fingerprint = a.req.Fingerprint
	}
	vote := domain.Vote{
		ID:             domain.VoteID(s.ids.New()),
		PollID:         a.pollID,
		OptionID:       a.optionID,
		UserID:         a.voter.userID,
		VoterToken:     a.voter.token,
		VoterKey:       a.voter.key,
		IdempotencyKey: a.key,
		IP:             a.req.IP,
		UserAgent:      a.req.UserAgent,
		Fingerprint:    fingerprint,
		IsValid:        true,
		FraudReasons:   domain.JoinReasons(notes),
		RiskScore:      a.check.RiskScore,
		CreatedAt:      s.clock.Agora(),
	}

	err := s.votes.Create(ctx, vote, func(txCtx context.Context) error {
		return s.idempotency.Store(txCtx, a.key, domain.IdempotencyResult{VoteID: vote.ID, Status: domain.IdempotencyCreated}, s.opts.IdempotencyTTL)
	})
	switch {
	case err == nil:
		return CastResult{Vote: vote}, nil
	case errors.Is(err, domain.ErrDuplicate):
		return s.resolveConflict(ctx, a)
	case errors.Is(err, domain.ErrNotFound):
		return CastResult{}, reject(KindInvalidChoice, msgInvalidChoice)
	default:
		logger.Error("falha criando voto", "poll_id", a.pollID, "error", err)
		return CastResult{}, internal()
	}
}

// resolveConflict atende a corrida perdida para a constraint de unicidade.
func (s *Service) resolveConflict(ctx context.Context, a *admission) (CastResult, *VoteError) {
	if existing, err := s.votes.FindByIdempotencyKey(ctx, a.key); err == nil &&
		existing.PollID == a.pollID && existing.VoterKey == a.voter.key {
		return CastResult{Vote: existing, Replayed: true}, nil
	}
	existing, err := s.votes.FindByVoter(ctx, a.pollID, a.voter.key)
	if err != nil {
		logger.Warn("conflito de unicidade sem voto do eleitor", "poll_id", a.pollID, "error", err)
		return CastResult{}, reject(KindDuplicateVote, msgAlreadyVoted)
	}
	return s.duplicate(ctx, a, existing)
}

// settle grava a auditoria e os efeitos colaterais de toda tentativa. Nenhuma falha aqui
// altera o resultado já decidido.
func (s *Service) settle(ctx context.Context, a *admission, result CastResult, verr *VoteError) {
	attempt := domain.VoteAttempt{
		ID:             s.ids.New(),
		PollID:         a.pollID,
		UserID:         a.voter.userID,
		VoterToken:     a.voter.token,
		IdempotencyKey: clip(a.key),
		IP:             a.req.IP,
		UserAgent:      a.req.UserAgent,
		Fingerprint:    clip(a.req.Fingerprint),
		Success:        verr == nil,
		CreatedAt:      s.clock.Agora(),
	}
	if a.optionOK {
		optionID := a.optionID
		attempt.OptionID = &optionID
	}
	if verr != nil {
		attempt.ErrorKind = string(verr.Kind)
		attempt.ErrorMessage = verr.Message
	}
	if err := s.attempts.Record(ctx, attempt); err != nil {
		logger.Error("falha registrando tentativa de voto", "poll_id", a.pollID, "error", err)
	}

	if result.Replayed {
		return
	}

	if s.reputation != nil {
		if verr == nil {
			if err := s.reputation.RecordSuccess(ctx, a.req.IP); err != nil {
				logger.Warn("falha registrando sucesso do ip", "ip", a.req.IP, "error", err)
			}
		} else if severity := verr.Kind.severity(); severity > 0 {
			if _, err := s.reputation.RecordViolation(ctx, a.req.IP, verr.Error(), severity); err != nil {
				logger.Warn("falha registrando violacao do ip", "ip", a.req.IP, "error", err)
			}
		}
	}

	if verr == nil && s.contador != nil {
		if err := s.contador.RegistrarVoto(ctx, a.pollID, a.optionID); err != nil {
			logger.Warn("falha atualizando contadores redis", "poll_id", a.pollID, "error", err)
		}
	}

	if s.fingerprints != nil && a.fingerprintOK && a.voter.key != "" {
		s.fingerprints.UpdateCache(ctx, a.req.Fingerprint, a.pollID, a.voter.key, a.req.IP)
	}
}

// RateLimitStatus consulta a janela do ator sem consumir vaga.
func (s *Service) RateLimitStatus(ctx context.Context, actor domain.Actor, ip string) domain.RateLimitInfo {
	key, limit := s.opts.RateLimit.KeyFor(actor, ip)
	if limit == antifraude.Unlimited {
		return domain.RateLimitInfo{Limit: antifraude.Unlimited, Remaining: antifraude.Unlimited}
	}
	return s.limiter.GetInfo(ctx, key, limit, s.opts.RateLimit.Window)
}

// Parciais lê os contadores do Redis e cai para os contadores em cache do banco quando o Redis falha.
func (s *Service) Parciais(ctx context.Context, pollID domain.PollID) (domain.Parcial, error) {
	poll, err := s.polls.FindByID(ctx, pollID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Parcial{}, reject(KindPollNotFound, "Poll not found")
	}
	if err != nil {
		return domain.Parcial{}, err
	}

	options := make([]domain.OptionID, len(poll.Options))
	for i, opt := range poll.Options {
		options[i] = opt.ID
	}

	if s.contador != nil {
		parcial, err := s.contador.Parciais(ctx, pollID, options)
		if err == nil {
			return parcial, nil
		}
		logger.Warn("contadores redis indisponiveis, usando contadores do banco", "poll_id", pollID, "error", err)
	}

	parcial := domain.Parcial{PollID: pollID, Total: poll.CachedTotalVotes, Opcoes: make(map[domain.OptionID]int64, len(poll.Options))}
	for _, opt := range poll.Options {
		parcial.Opcoes[opt.ID] = opt.CachedVoteCount
	}
	return parcial, nil
}

func sameUser(a, b *domain.UserID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func clip(s string) string {
	if len(s) > maxColumnLen {
		return s[:maxColumnLen]
	}
	return s
}
