// Pacote httpapi expõe os handlers REST e traduz requisições HTTP para o serviço de votação.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marcelojr/provote/internal/app/voting"
	"github.com/marcelojr/provote/internal/domain"
	"github.com/marcelojr/provote/internal/platform/metrics"
)

const (
	maxIdempotencyKeyLen = 128
	maxBodyBytes         = 16 << 10

	headerRequestID   = "X-Request-ID"
	headerIdempotency = "Idempotency-Key"
	headerFingerprint = "X-Fingerprint"
	headerUserID      = "X-User-ID"
	headerUserRole    = "X-User-Role"
)

// VotingService é o recorte do serviço de votação usado pelos handlers.
type VotingService interface {
	CastVote(ctx context.Context, actor domain.Actor, pollID domain.PollID, optionID domain.OptionID, idempotencyKey string, req voting.RequestContext) (voting.CastResult, error)
	Parciais(ctx context.Context, pollID domain.PollID) (domain.Parcial, error)
	RateLimitStatus(ctx context.Context, actor domain.Actor, ip string) domain.RateLimitInfo
}

// API empacota handlers HTTP ligados ao serviço de votação e ao logger.
type API struct {
	service VotingService
	logger  *slog.Logger
}

func New(service VotingService, logger *slog.Logger) *API {
	return &API{service: service, logger: logger}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/votos", a.handleVotos)
	mux.HandleFunc("/votos/limite", a.handleLimite)
	mux.HandleFunc("/polls/", a.handlePolls)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *API) handlePolls(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/polls/")
	partes := strings.Split(path, "/")
	if len(partes) != 2 || partes[0] == "" || partes[1] != "parciais" || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	a.obterParciais(w, r, domain.PollID(partes[0]))
}

func (a *API) handleVotos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "metodo nao suportado", http.StatusMethodNotAllowed)
		return
	}
	a.registrarVoto(w, r)
}

type votoRequest struct {
	PollID         string `json:"poll_id"`
	OptionID       string `json:"option_id"`
	IdempotencyKey string `json:"idempotency_key"`
	CaptchaToken   string `json:"captcha_token"`
	Fingerprint    string `json:"fingerprint"`
	VoterToken     string `json:"voter_token"`
}

type votoResponse struct {
	VoteID    string    `json:"vote_id"`
	PollID    string    `json:"poll_id"`
	OptionID  string    `json:"option_id"`
	Replayed  bool      `json:"replayed"`
	CreatedAt time.Time `json:"created_at"`
}

type erroResponse struct {
	Erro     string `json:"erro"`
	Mensagem string `json:"mensagem"`
}

func (a *API) registrarVoto(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	w.Header().Set(headerRequestID, requestID)
	log := a.logger.With("request_id", requestID)

	var req votoRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		metrics.ObserveVoteRequest("invalid_payload")
		log.Warn("payload invalido ao registrar voto", "err", err)
		responderJSON(w, http.StatusBadRequest, erroResponse{Erro: "InvalidPayload", Mensagem: "payload invalido"})
		return
	}
	if req.PollID == "" || req.OptionID == "" {
		metrics.ObserveVoteRequest("invalid_payload")
		responderJSON(w, http.StatusBadRequest, erroResponse{Erro: "InvalidPayload", Mensagem: "poll_id e option_id sao obrigatorios"})
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get(headerIdempotency)
	}
	if len(key) > maxIdempotencyKeyLen {
		metrics.ObserveVoteRequest("invalid_payload")
		responderJSON(w, http.StatusBadRequest, erroResponse{Erro: "InvalidPayload", Mensagem: "idempotency_key excede 128 caracteres"})
		return
	}
	fingerprint := req.Fingerprint
	if fingerprint == "" {
		fingerprint = r.Header.Get(headerFingerprint)
	}

	actor := actorFrom(r)
	result, err := a.service.CastVote(r.Context(), actor, domain.PollID(req.PollID), domain.OptionID(req.OptionID), key, voting.RequestContext{
		IP:           clientIP(r),
		UserAgent:    r.UserAgent(),
		Fingerprint:  fingerprint,
		CaptchaToken: req.CaptchaToken,
		VoterToken:   req.VoterToken,
	})
	escreverRateLimit(w, result.RateLimit)
	if err != nil {
		status := statusFromError(err)
		metrics.ObserveVoteRequest(strconv.Itoa(status))
		log.Warn("voto rejeitado", "kind", voting.KindOf(err), "poll_id", req.PollID, "option_id", req.OptionID, "status", status)
		responderErro(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	metrics.ObserveVoteRequest(strconv.Itoa(status))
	responderJSON(w, status, votoResponse{
		VoteID:    string(result.Vote.ID),
		PollID:    string(result.Vote.PollID),
		OptionID:  string(result.Vote.OptionID),
		Replayed:  result.Replayed,
		CreatedAt: result.Vote.CreatedAt,
	})
	log.Info("voto aceito", "vote_id", result.Vote.ID, "poll_id", req.PollID, "replayed", result.Replayed)
}

type parciaisResponse struct {
	PollID string           `json:"poll_id"`
	Total  int64            `json:"total"`
	Opcoes map[string]int64 `json:"opcoes"`
}

func (a *API) obterParciais(w http.ResponseWriter, r *http.Request, id domain.PollID) {
	parcial, err := a.service.Parciais(r.Context(), id)
	if err != nil {
		a.logger.Error("erro ao obter parciais", "err", err, "poll_id", id)
		responderErro(w, err)
		return
	}

	opcoes := make(map[string]int64, len(parcial.Opcoes))
	for opt, n := range parcial.Opcoes {
		opcoes[string(opt)] = n
	}
	responderJSON(w, http.StatusOK, parciaisResponse{PollID: string(parcial.PollID), Total: parcial.Total, Opcoes: opcoes})
}

type limiteResponse struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset,omitempty"`
}

func (a *API) handleLimite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "metodo nao suportado", http.StatusMethodNotAllowed)
		return
	}
	info := a.service.RateLimitStatus(r.Context(), actorFrom(r), clientIP(r))
	resp := limiteResponse{Limit: info.Limit, Remaining: info.Remaining}
	if !info.Reset.IsZero() {
		resp.Reset = info.Reset.Unix()
	}
	responderJSON(w, http.StatusOK, resp)
}

// actorFrom lê a identidade propagada pelo gateway de autenticação.
func actorFrom(r *http.Request) domain.Actor {
	actor := domain.Actor{UserID: domain.UserID(strings.TrimSpace(r.Header.Get(headerUserID)))}
	if !actor.Authenticated() {
		return actor
	}
	switch strings.ToLower(r.Header.Get(headerUserRole)) {
	case "staff", "admin":
		actor.Staff = true
	case "trusted":
		actor.Trusted = true
	}
	return actor
}

// clientIP usa o primeiro endereço do X-Forwarded-For e cai para o RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestIDFrom(r *http.Request) string {
	if id := r.Header.Get(headerRequestID); id != "" && len(id) <= 64 {
		return id
	}
	return uuid.NewString()
}

func escreverRateLimit(w http.ResponseWriter, info *domain.RateLimitInfo) {
	if info == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.Reset.Unix(), 10))
}

func responderJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func responderErro(w http.ResponseWriter, err error) {
	var verr *voting.VoteError
	if !errors.As(err, &verr) {
		responderJSON(w, http.StatusInternalServerError, erroResponse{Erro: string(voting.KindInternal), Mensagem: "Internal error, please retry"})
		return
	}
	if verr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(verr.RetryAfter/time.Second)))
	}
	responderJSON(w, statusFromError(err), erroResponse{Erro: string(verr.Kind), Mensagem: verr.Message})
}

func statusFromError(err error) int {
	switch voting.KindOf(err) {
	case voting.KindPollNotFound:
		return http.StatusNotFound
	case voting.KindInvalidChoice, voting.KindFingerprintValidation, voting.KindCaptchaVerification:
		return http.StatusBadRequest
	case voting.KindIPBlocked, voting.KindFraudDetected, voting.KindGeoRestricted:
		return http.StatusForbidden
	case voting.KindPollClosed, voting.KindDuplicateVote:
		return http.StatusConflict
	case voting.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

var _ VotingService = (*voting.Service)(nil)
