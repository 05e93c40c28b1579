// Pacote captcha verifica tokens reCAPTCHA v3 no endpoint siteverify do Google.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/marcelojr/provote/internal/domain"
	"github.com/marcelojr/provote/internal/platform/logger"
)

const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

type RecaptchaVerifier struct {
	secret    string
	verifyURL string
	client    *http.Client
}

func NewRecaptchaVerifier(secret, verifyURL string, timeout time.Duration) *RecaptchaVerifier {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RecaptchaVerifier{
		secret:    secret,
		verifyURL: verifyURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Verify devolve erro apenas em falhas de transporte; recusa do Google vem em Success=false.
func (v *RecaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) (domain.CaptchaResult, error) {
	if v.secret == "" {
		logger.Warn("RECAPTCHA_SECRET_KEY nao configurada, captcha recusado")
		return domain.CaptchaResult{Errors: []string{"missing-secret-key"}}, nil
	}
	if token == "" {
		return domain.CaptchaResult{Errors: []string{"missing-input-response"}}, nil
	}

	form := url.Values{"secret": {v.secret}, "response": {token}}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.CaptchaResult{}, fmt.Errorf("captcha: montar requisicao: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return domain.CaptchaResult{}, fmt.Errorf("captcha: siteverify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.CaptchaResult{}, fmt.Errorf("captcha: siteverify respondeu %d", resp.StatusCode)
	}

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.CaptchaResult{}, fmt.Errorf("captcha: resposta invalida: %w", err)
	}
	logger.Debug("captcha verificado", "success", body.Success, "score", body.Score, "action", body.Action)

	return domain.CaptchaResult{
		Success: body.Success,
		Score:   body.Score,
		Action:  body.Action,
		Errors:  body.ErrorCodes,
	}, nil
}

var _ domain.CaptchaVerifier = (*RecaptchaVerifier)(nil)
