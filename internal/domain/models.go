package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type (
	PollID   string
	OptionID string
	VoteID   string
	UserID   string
)

// PollSettings é decodificado uma única vez na carga da enquete (coluna JSON).
type PollSettings struct {
	CaptchaEnabled  bool     `json:"captcha_enabled"`
	CaptchaMinScore *float64 `json:"captcha_min_score,omitempty"`
}

// SecurityRules agrupa as restrições geográficas opcionais da enquete.
type SecurityRules struct {
	AllowedCountries []string `json:"allowed_countries,omitempty"`
	BlockedCountries []string `json:"blocked_countries,omitempty"`
	AllowedRegions   []string `json:"allowed_regions,omitempty"`
	BlockedRegions   []string `json:"blocked_regions,omitempty"`
}

func (r SecurityRules) HasCountryRules() bool {
	return len(r.AllowedCountries) > 0 || len(r.BlockedCountries) > 0
}

func (r SecurityRules) HasRegionRules() bool {
	return len(r.AllowedRegions) > 0 || len(r.BlockedRegions) > 0
}

type Poll struct {
	ID               PollID                            `gorm:"column:id;type:char(26);primaryKey"`
	Title            string                             `gorm:"column:title;type:text;not null"`
	IsActive         bool                               `gorm:"column:is_active;not null;index:idx_polls_open,priority:1"`
	StartsAt         time.Time                          `gorm:"column:starts_at;not null;index:idx_polls_open,priority:2"`
	EndsAt           *time.Time                         `gorm:"column:ends_at;index:idx_polls_open,priority:3"`
	Settings         datatypes.JSONType[PollSettings]   `gorm:"column:settings"`
	SecurityRules    datatypes.JSONType[SecurityRules]  `gorm:"column:security_rules"`
	CachedTotalVotes int64                              `gorm:"column:cached_total_votes;not null;default:0"`
	Options          []PollOption                       `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time                          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                          `gorm:"column:updated_at;autoUpdateTime"`
}

// IsOpen aplica a janela de votação: ativa, já iniciada e ainda não encerrada.
func (p Poll) IsOpen(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.StartsAt.After(now) {
		return false
	}
	if p.EndsAt != nil && p.EndsAt.Before(now) {
		return false
	}
	return true
}

func (p Poll) Option(id OptionID) (PollOption, bool) {
	for _, opt := range p.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return PollOption{}, false
}

type PollOption struct {
	ID              OptionID  `gorm:"column:id;type:char(26);primaryKey"`
	PollID          PollID    `gorm:"column:poll_id;type:char(26);not null;index:idx_poll_options_poll_order,priority:1"`
	Text            string    `gorm:"column:text;type:text;not null"`
	Order           int       `gorm:"column:display_order;not null;default:0;index:idx_poll_options_poll_order,priority:2"`
	CachedVoteCount int64     `gorm:"column:cached_vote_count;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Vote é o voto aceito. voter_key identifica o eleitor de forma única dentro da enquete.
type Vote struct {
	ID             VoteID    `gorm:"column:id;type:char(26);primaryKey"`
	PollID         PollID    `gorm:"column:poll_id;type:char(26);not null;uniqueIndex:idx_votes_poll_voter,priority:1;index:idx_votes_poll_created,priority:1;index:idx_votes_fingerprint,priority:2"`
	OptionID       OptionID  `gorm:"column:option_id;type:char(26);not null;index"`
	UserID         *UserID   `gorm:"column:user_id;type:text"`
	VoterToken     string    `gorm:"column:voter_token;type:text"`
	VoterKey       string    `gorm:"column:voter_key;type:text;not null;uniqueIndex:idx_votes_poll_voter,priority:2"`
	IdempotencyKey string    `gorm:"column:idempotency_key;type:varchar(128);not null;uniqueIndex"`
	IP             string    `gorm:"column:ip;type:varchar(45);index:idx_votes_ip_created,priority:1"`
	UserAgent      string    `gorm:"column:user_agent;type:text"`
	Fingerprint    string    `gorm:"column:fingerprint;type:varchar(128);index:idx_votes_fingerprint,priority:1"`
	IsValid        bool      `gorm:"column:is_valid;not null"`
	FraudReasons   string    `gorm:"column:fraud_reasons;type:text"`
	RiskScore      int       `gorm:"column:risk_score;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;index:idx_votes_poll_created,priority:2;index:idx_votes_fingerprint,priority:3;index:idx_votes_ip_created,priority:2"`
}

const fraudReasonSeparator = "; "

func (v Vote) Reasons() []string {
	if v.FraudReasons == "" {
		return nil
	}
	return strings.Split(v.FraudReasons, fraudReasonSeparator)
}

func JoinReasons(reasons []string) string {
	return strings.Join(reasons, fraudReasonSeparator)
}

// VoteAttempt é a trilha de auditoria imutável de toda decisão de admissão.
type VoteAttempt struct {
	ID             string    `gorm:"column:id;type:char(26);primaryKey"`
	PollID         PollID    `gorm:"column:poll_id;type:char(26);not null;index:idx_vote_attempts_poll_created,priority:1"`
	OptionID       *OptionID `gorm:"column:option_id;type:char(26)"`
	UserID         *UserID   `gorm:"column:user_id;type:text"`
	VoterToken     string    `gorm:"column:voter_token;type:text"`
	IdempotencyKey string    `gorm:"column:idempotency_key;type:varchar(128);index"`
	IP             string    `gorm:"column:ip;type:varchar(45);index:idx_vote_attempts_ip_created,priority:1"`
	UserAgent      string    `gorm:"column:user_agent;type:text"`
	Fingerprint    string    `gorm:"column:fingerprint;type:varchar(128)"`
	Success        bool      `gorm:"column:success;not null"`
	ErrorKind      string    `gorm:"column:error_kind;type:varchar(64)"`
	ErrorMessage   string    `gorm:"column:error_message;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at;index:idx_vote_attempts_poll_created,priority:2;index:idx_vote_attempts_ip_created,priority:2"`
}

type IPReputation struct {
	IP                 string     `gorm:"column:ip;type:varchar(45);primaryKey"`
	ReputationScore    int        `gorm:"column:reputation_score;not null"`
	ViolationCount     int        `gorm:"column:violation_count;not null;default:0"`
	SuccessfulAttempts int        `gorm:"column:successful_attempts;not null;default:0"`
	FailedAttempts     int        `gorm:"column:failed_attempts;not null;default:0"`
	FirstSeen          time.Time  `gorm:"column:first_seen;not null"`
	LastSeen           time.Time  `gorm:"column:last_seen;not null"`
	LastViolationAt    *time.Time `gorm:"column:last_violation_at"`
}

// IPBlock mantém uma linha por IP; bloqueios posteriores reativam a mesma linha.
type IPBlock struct {
	IP            string     `gorm:"column:ip;type:varchar(45);primaryKey"`
	Reason        string     `gorm:"column:reason;type:text;not null"`
	BlockedAt     time.Time  `gorm:"column:blocked_at;not null"`
	IsActive      bool       `gorm:"column:is_active;not null;index:idx_ip_blocks_active_unblock,priority:1"`
	IsManual      bool       `gorm:"column:is_manual;not null"`
	AutoUnblockAt *time.Time `gorm:"column:auto_unblock_at;index:idx_ip_blocks_active_unblock,priority:2"`
	UnblockedAt   *time.Time `gorm:"column:unblocked_at"`
	BlockedBy     string     `gorm:"column:blocked_by;type:text"`
	UnblockedBy   string     `gorm:"column:unblocked_by;type:text"`
}

type IPWhitelist struct {
	IP        string    `gorm:"column:ip;type:varchar(45);primaryKey"`
	Reason    string    `gorm:"column:reason;type:text"`
	CreatedBy string    `gorm:"column:created_by;type:text"`
	IsActive  bool      `gorm:"column:is_active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// FingerprintVote é a projeção mínima usada pelas heurísticas de fingerprint.
type FingerprintVote struct {
	VoteID    VoteID
	VoterKey  string
	IP        string
	CreatedAt time.Time
}

// FingerprintActivity é a entrada efêmera do cache de fingerprint por enquete.
type FingerprintActivity struct {
	Count     int64
	FirstSeen time.Time
	LastSeen  time.Time
	Voters    []string
	IPs       []string
	Analysis  *FingerprintAnalysis
}

// FingerprintAnalysis guarda o resultado da análise assíncrona de longo prazo.
type FingerprintAnalysis struct {
	VoteCount   int       `json:"vote_count"`
	VoterCount  int       `json:"voter_count"`
	IPCount     int       `json:"ip_count"`
	RiskFactors []string  `json:"risk_factors"`
	RiskScore   int       `json:"risk_score"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
}

// Parcial é a apuração corrente da enquete lida dos contadores Redis.
type Parcial struct {
	PollID PollID
	Total  int64
	Opcoes map[OptionID]int64
}

type FraudAnalysisJob struct {
	Fingerprint string    `json:"fingerprint"`
	PollID      PollID    `json:"poll_id"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Actor representa quem vota; UserID vazio indica eleitor anônimo.
type Actor struct {
	UserID  UserID
	Staff   bool
	Trusted bool
}

func (a Actor) Authenticated() bool {
	return a.UserID != ""
}

func (Poll) TableName() string { return "polls" }

func (PollOption) TableName() string { return "poll_options" }

func (Vote) TableName() string { return "votes" }

func (VoteAttempt) TableName() string { return "vote_attempts" }

func (IPReputation) TableName() string { return "ip_reputations" }

func (IPBlock) TableName() string { return "ip_blocks" }

func (IPWhitelist) TableName() string { return "ip_whitelist" }
