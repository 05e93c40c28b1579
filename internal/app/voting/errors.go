package voting

import (
	"errors"
	"fmt"
	"time"
)

// Kind é o identificador estável da rejeição, usado em logs, auditoria e no contrato HTTP.
type Kind string

const (
	KindPollNotFound          Kind = "PollNotFound"
	KindInvalidChoice         Kind = "InvalidChoice"
	KindPollClosed            Kind = "PollClosed"
	KindDuplicateVote         Kind = "DuplicateVote"
	KindFingerprintValidation Kind = "FingerprintValidationError"
	KindFraudDetected         Kind = "FraudDetected"
	KindIPBlocked             Kind = "IPBlocked"
	KindCaptchaVerification   Kind = "CaptchaVerificationError"
	KindRateLimitExceeded     Kind = "RateLimitExceeded"
	KindGeoRestricted         Kind = "GeoRestricted"
	KindInternal              Kind = "Internal"
)

// VoteError carrega o kind e uma mensagem segura para o cliente; RetryAfter só vale para rate limit.
type VoteError struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
}

func (e *VoteError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is compara apenas o kind, permitindo errors.Is(err, voting.ErrDuplicateVote).
func (e *VoteError) Is(target error) bool {
	t, ok := target.(*VoteError)
	return ok && t.Kind == e.Kind
}

var (
	ErrPollNotFound          = &VoteError{Kind: KindPollNotFound}
	ErrInvalidChoice         = &VoteError{Kind: KindInvalidChoice}
	ErrPollClosed            = &VoteError{Kind: KindPollClosed}
	ErrDuplicateVote         = &VoteError{Kind: KindDuplicateVote}
	ErrFingerprintValidation = &VoteError{Kind: KindFingerprintValidation}
	ErrFraudDetected         = &VoteError{Kind: KindFraudDetected}
	ErrIPBlocked             = &VoteError{Kind: KindIPBlocked}
	ErrCaptchaVerification   = &VoteError{Kind: KindCaptchaVerification}
	ErrRateLimitExceeded     = &VoteError{Kind: KindRateLimitExceeded}
	ErrGeoRestricted         = &VoteError{Kind: KindGeoRestricted}
	ErrInternal              = &VoteError{Kind: KindInternal}
)

func reject(kind Kind, format string, args ...any) *VoteError {
	return &VoteError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func internal() *VoteError {
	return &VoteError{Kind: KindInternal, Message: "Internal error, please retry"}
}

// KindOf devolve o kind do erro; erros fora do pipeline contam como Internal.
func KindOf(err error) Kind {
	var ve *VoteError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindInternal
}

// severity define o peso da violação registrada na reputação do IP; zero não penaliza.
func (k Kind) severity() int {
	switch k {
	case KindFraudDetected:
		return 3
	case KindFingerprintValidation:
		return 2
	case KindRateLimitExceeded, KindCaptchaVerification, KindGeoRestricted, KindDuplicateVote:
		return 1
	default:
		return 0
	}
}
