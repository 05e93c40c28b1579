package voting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marcelojr/provote/internal/domain"
	"github.com/marcelojr/provote/internal/platform/antifraude"
)

type inMemoryPollRepo struct {
	mu   sync.Mutex
	data map[domain.PollID]domain.Poll
}

func newInMemoryPollRepo() *inMemoryPollRepo {
	return &inMemoryPollRepo{data: make(map[domain.PollID]domain.Poll)}
}

func (r *inMemoryPollRepo) put(p domain.Poll) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[p.ID] = p
}

func (r *inMemoryPollRepo) FindByID(_ context.Context, id domain.PollID) (domain.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.Poll{}, domain.ErrNotFound
	}
	return p, nil
}

// inMemoryVoteRepo reproduz as constraints de unicidade do banco dentro de Create.
type inMemoryVoteRepo struct {
	mu           sync.Mutex
	lista        []domain.Vote
	createErr    error
	beforeCreate func()
}

func newInMemoryVoteRepo() *inMemoryVoteRepo {
	return &inMemoryVoteRepo{}
}

func (r *inMemoryVoteRepo) insert(v domain.Vote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lista = append(r.lista, v)
}

func (r *inMemoryVoteRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lista)
}

func (r *inMemoryVoteRepo) Create(ctx context.Context, vote domain.Vote, inTx func(ctx context.Context) error) error {
	if r.beforeCreate != nil {
		r.beforeCreate()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, v := range r.lista {
		if (v.PollID == vote.PollID && v.VoterKey == vote.VoterKey) || v.IdempotencyKey == vote.IdempotencyKey {
			return fmt.Errorf("fake votes: inserir: %w", domain.ErrDuplicate)
		}
	}
	if inTx != nil {
		if err := inTx(ctx); err != nil {
			return err
		}
	}
	r.lista = append(r.lista, vote)
	return nil
}

func (r *inMemoryVoteRepo) find(match func(domain.Vote) bool) (domain.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.lista {
		if match(v) {
			return v, nil
		}
	}
	return domain.Vote{}, domain.ErrNotFound
}

func (r *inMemoryVoteRepo) FindByID(_ context.Context, id domain.VoteID) (domain.Vote, error) {
	return r.find(func(v domain.Vote) bool { return v.ID == id })
}

func (r *inMemoryVoteRepo) FindByVoter(_ context.Context, pollID domain.PollID, voterKey string) (domain.Vote, error) {
	return r.find(func(v domain.Vote) bool { return v.PollID == pollID && v.VoterKey == voterKey })
}

func (r *inMemoryVoteRepo) FindByIdempotencyKey(_ context.Context, key string) (domain.Vote, error) {
	return r.find(func(v domain.Vote) bool { return v.IdempotencyKey == key })
}

func (r *inMemoryVoteRepo) RecentByFingerprint(_ context.Context, fingerprint string, pollID domain.PollID, since time.Time, limit int) ([]domain.FingerprintVote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.FingerprintVote
	for _, v := range r.lista {
		if v.Fingerprint == fingerprint && v.PollID == pollID && !v.CreatedAt.Before(since) && len(out) < limit {
			out = append(out, domain.FingerprintVote{VoteID: v.ID, VoterKey: v.VoterKey, IP: v.IP, CreatedAt: v.CreatedAt})
		}
	}
	return out, nil
}

func (r *inMemoryVoteRepo) FlagFraud(_ context.Context, ids []domain.VoteID, reason string, riskScore int) (int64, error) {
	return 0, nil
}

type recordingAttempts struct {
	mu    sync.Mutex
	lista []domain.VoteAttempt
}

func (r *recordingAttempts) Record(_ context.Context, a domain.VoteAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lista = append(r.lista, a)
	return nil
}

func (r *recordingAttempts) all() []domain.VoteAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.VoteAttempt(nil), r.lista...)
}

type inMemoryIdempotency struct {
	mu       sync.Mutex
	data     map[string]domain.IdempotencyResult
	checkErr error
	storeErr error
}

func newInMemoryIdempotency() *inMemoryIdempotency {
	return &inMemoryIdempotency{data: make(map[string]domain.IdempotencyResult)}
}

func (s *inMemoryIdempotency) Check(_ context.Context, key string) (bool, domain.IdempotencyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkErr != nil {
		return false, domain.IdempotencyResult{}, s.checkErr
	}
	res, ok := s.data[key]
	return ok, res, nil
}

func (s *inMemoryIdempotency) Store(_ context.Context, key string, result domain.IdempotencyResult, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return s.storeErr
	}
	s.data[key] = result
	return nil
}

func (s *inMemoryIdempotency) StoreIfAbsent(_ context.Context, key string, result domain.IdempotencyResult, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = result
	return true, nil
}

func (s *inMemoryIdempotency) get(key string) (domain.IdempotencyResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.data[key]
	return res, ok
}

// countingLimiter conta chamadas por chave; a janela reinicia apenas via reset.
type countingLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	clock  domain.Clock
}

func newCountingLimiter(clk domain.Clock) *countingLimiter {
	return &countingLimiter{counts: make(map[string]int), clock: clk}
}

func (l *countingLimiter) CheckAndConsume(_ context.Context, key string, limit int, window time.Duration) (bool, domain.RateLimitInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	reset := l.clock.Agora().Add(window)
	if l.counts[key] >= limit {
		return false, domain.RateLimitInfo{Limit: limit, Remaining: 0, Reset: reset}
	}
	l.counts[key]++
	return true, domain.RateLimitInfo{Limit: limit, Remaining: limit - l.counts[key], Reset: reset}
}

func (l *countingLimiter) GetInfo(_ context.Context, key string, limit int, window time.Duration) domain.RateLimitInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.RateLimitInfo{Limit: limit, Remaining: max(limit-l.counts[key], 0), Reset: l.clock.Agora().Add(window)}
}

func (l *countingLimiter) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.counts {
		total += n
	}
	return total
}

type violation struct {
	ip       string
	reason   string
	severity int
}

type recordingReputation struct {
	mu         sync.Mutex
	blocked    map[string]string
	blockedErr error
	successes  []string
	violations []violation
}

func newRecordingReputation() *recordingReputation {
	return &recordingReputation{blocked: make(map[string]string)}
}

func (r *recordingReputation) IsBlocked(_ context.Context, ip string) (bool, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blockedErr != nil {
		return false, "", r.blockedErr
	}
	reason, ok := r.blocked[ip]
	return ok, reason, nil
}

func (r *recordingReputation) RecordSuccess(_ context.Context, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, ip)
	return nil
}

func (r *recordingReputation) RecordViolation(_ context.Context, ip, reason string, severity int) (*domain.IPBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, violation{ip: ip, reason: reason, severity: severity})
	return nil, nil
}

func (r *recordingReputation) snapshot() ([]string, []violation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.successes...), append([]violation(nil), r.violations...)
}

type scriptedFingerprints struct {
	mu      sync.Mutex
	check   antifraude.FingerprintCheck
	checks  int
	updates []string
}

func (f *scriptedFingerprints) CheckSuspicious(context.Context, string, domain.PollID, string, string) antifraude.FingerprintCheck {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.check
}

func (f *scriptedFingerprints) UpdateCache(_ context.Context, _ string, _ domain.PollID, voterKey, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, voterKey)
}

type staticGeo struct {
	country string
	region  string
	err     error
}

func (g staticGeo) CountryOf(context.Context, string) (string, error) { return g.country, g.err }
func (g staticGeo) RegionOf(context.Context, string) (string, error)  { return g.region, g.err }

type stubCaptcha struct {
	result domain.CaptchaResult
	err    error
	calls  int
}

func (c *stubCaptcha) Verify(context.Context, string, string) (domain.CaptchaResult, error) {
	c.calls++
	return c.result, c.err
}

type inMemoryContador struct {
	mu     sync.Mutex
	total  int64
	opcoes map[domain.OptionID]int64
	err    error
}

func newInMemoryContador() *inMemoryContador {
	return &inMemoryContador{opcoes: make(map[domain.OptionID]int64)}
}

func (c *inMemoryContador) RegistrarVoto(_ context.Context, _ domain.PollID, optionID domain.OptionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	c.opcoes[optionID]++
	return nil
}

func (c *inMemoryContador) Parciais(_ context.Context, pollID domain.PollID, options []domain.OptionID) (domain.Parcial, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return domain.Parcial{}, c.err
	}
	p := domain.Parcial{PollID: pollID, Total: c.total, Opcoes: make(map[domain.OptionID]int64)}
	for _, opt := range options {
		p.Opcoes[opt] = c.opcoes[opt]
	}
	return p, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []domain.FraudAnalysisJob
}

func (q *recordingQueue) PublicarAnalise(_ context.Context, job domain.FraudAnalysisJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) ConsumirAnalises(ctx context.Context, _ func(context.Context, domain.FraudAnalysisJob) error) error {
	<-ctx.Done()
	return nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

var (
	_ domain.PollRepository    = (*inMemoryPollRepo)(nil)
	_ domain.VoteRepository    = (*inMemoryVoteRepo)(nil)
	_ domain.AttemptRepository = (*recordingAttempts)(nil)
	_ domain.IdempotencyStore  = (*inMemoryIdempotency)(nil)
	_ domain.RateLimiter       = (*countingLimiter)(nil)
	_ domain.GeoResolver       = staticGeo{}
	_ domain.CaptchaVerifier   = (*stubCaptcha)(nil)
	_ domain.Contador          = (*inMemoryContador)(nil)
	_ domain.Fila              = (*recordingQueue)(nil)
	_ ReputationGate           = (*recordingReputation)(nil)
	_ FingerprintGate          = (*scriptedFingerprints)(nil)
)
