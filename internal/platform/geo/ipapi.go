// Pacote geo resolve país/região de um IP e aplica as restrições geográficas da enquete.
package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/marcelojr/provote/internal/domain"
)

const maxBodyBytes = 256

// IPAPIResolver consulta os endpoints de texto do ipapi.co (/{ip}/country_code/ e /{ip}/region_code/).
type IPAPIResolver struct {
	baseURL string
	client  *http.Client
}

func NewIPAPIResolver(baseURL string, timeout time.Duration) *IPAPIResolver {
	if baseURL == "" {
		baseURL = "https://ipapi.co"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &IPAPIResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (r *IPAPIResolver) CountryOf(ctx context.Context, ip string) (string, error) {
	code, err := r.lookup(ctx, ip, "country_code")
	if err != nil || code == "" {
		return "", err
	}
	if len(code) != 2 || !isAlpha(code) {
		return "", nil
	}
	return strings.ToUpper(code), nil
}

func (r *IPAPIResolver) RegionOf(ctx context.Context, ip string) (string, error) {
	return r.lookup(ctx, ip, "region_code")
}

func (r *IPAPIResolver) lookup(ctx context.Context, ip, field string) (string, error) {
	if !Routable(ip) {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/%s/", r.baseURL, ip, field), nil)
	if err != nil {
		return "", fmt.Errorf("geo: montar requisicao: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("geo: consultar %s: %w", field, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("geo: provedor respondeu %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("geo: ler resposta: %w", err)
	}
	value := strings.TrimSpace(string(body))
	if value == "" || strings.EqualFold(value, "undefined") || strings.Contains(value, "{") {
		return "", nil
	}
	return value, nil
}

// Routable descarta IPs inválidos, privados, loopback e link-local, que nunca são geolocalizáveis.
func Routable(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return !(addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() || addr.IsMulticast())
}

func isAlpha(s string) bool {
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

var _ domain.GeoResolver = (*IPAPIResolver)(nil)
