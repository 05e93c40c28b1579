package geo

import (
	"context"
	"fmt"
	"strings"

	"github.com/marcelojr/provote/internal/domain"
)

const msgUnknownLocation = "Voting rejected: could not determine location"

// Check devolve o motivo da rejeição ou "" quando o IP pode votar.
// Lista de bloqueio vence a de permissão; localização não resolvida com regras ativas rejeita.
// Erro do resolvedor é devolvido sem motivo para que o chamador decida (o pipeline libera).
func Check(ctx context.Context, resolver domain.GeoResolver, ip string, rules domain.SecurityRules) (string, error) {
	if ip == "" || resolver == nil {
		return "", nil
	}

	if rules.HasCountryRules() {
		country, err := resolver.CountryOf(ctx, ip)
		if err != nil {
			return "", err
		}
		if country == "" {
			return msgUnknownLocation, nil
		}
		if containsFold(rules.BlockedCountries, country) {
			return fmt.Sprintf("Voting is not allowed from %s", country), nil
		}
		if len(rules.AllowedCountries) > 0 && !containsFold(rules.AllowedCountries, country) {
			return fmt.Sprintf("Voting is only allowed from: %s", strings.Join(rules.AllowedCountries, ", ")), nil
		}
	}

	if rules.HasRegionRules() {
		region, err := resolver.RegionOf(ctx, ip)
		if err != nil {
			return "", err
		}
		if region == "" {
			if len(rules.AllowedRegions) > 0 {
				return msgUnknownLocation, nil
			}
			return "", nil
		}
		if containsFold(rules.BlockedRegions, region) {
			return fmt.Sprintf("Voting is not allowed from region %s", region), nil
		}
		if len(rules.AllowedRegions) > 0 && !containsFold(rules.AllowedRegions, region) {
			return fmt.Sprintf("Voting is only allowed from regions: %s", strings.Join(rules.AllowedRegions, ", ")), nil
		}
	}

	return "", nil
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
