package service

import (
	"payrail/pkg/apperror"

	"github.com/rs/zerolog"
)

// largeAmountThreshold routes high-value payments to the provider with
// better interchange terms.
const largeAmountThreshold = 10000

var countryProviders = map[string]string{
	"DE": "providerB",
	"FR": "providerB",
	"GB": "providerB",
	"JP": "providerB",
	"US": "providerA",
	"CA": "providerA",
	"AU": "providerA",
}

// RoutingEngine selects a provider by rule order, skipping providers
// whose circuit breaker is not admitting calls.
type RoutingEngine struct {
	breaker          *CircuitBreaker
	defaultProvider  string
	failoverProvider string
	log              zerolog.Logger
}

func NewRoutingEngine(breaker *CircuitBreaker, defaultProvider, failoverProvider string, log zerolog.Logger) *RoutingEngine {
	return &RoutingEngine{
		breaker:          breaker,
		defaultProvider:  defaultProvider,
		failoverProvider: failoverProvider,
		log:              log,
	}
}

// SelectProvider returns the first healthy provider in rule order:
// explicit preference, country table, amount threshold, default,
// failover. Fails with ProviderUnavailable when no provider admits
// calls.
func (r *RoutingEngine) SelectProvider(amount int64, currency, country, preferred string) (string, error) {
	var candidates []string
	if preferred != "" {
		candidates = append(candidates, preferred)
	}
	if p, ok := countryProviders[country]; ok {
		candidates = append(candidates, p)
	}
	if amount >= largeAmountThreshold {
		candidates = append(candidates, "providerB")
	}
	candidates = append(candidates, r.defaultProvider, r.failoverProvider)

	seen := map[string]bool{}
	for _, p := range candidates {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		ok, err := r.breaker.CanExecute(p)
		if err != nil {
			return "", err
		}
		if ok {
			r.log.Debug().
				Str("provider", p).
				Int64("amount", amount).
				Str("currency", currency).
				Msg("provider selected")
			return p, nil
		}
		r.log.Warn().Str("provider", p).Msg("skipping provider, circuit not admitting")
	}
	return "", apperror.BadGateway("No providers available")
}

// Alternate returns the failover counterpart of providerID for the
// single-shot authorize failover.
func (r *RoutingEngine) Alternate(providerID string) string {
	if providerID == r.defaultProvider {
		return r.failoverProvider
	}
	return r.defaultProvider
}
