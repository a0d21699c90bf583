package service

import (
	"time"

	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"

	"github.com/rs/zerolog"
)

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

// CircuitBreaker keeps per-provider failure accounting in the durable
// store. All transition logic runs inside the store's file lock so
// concurrent processes observe a consistent state.
type CircuitBreaker struct {
	store *filestore.Store
	cfg   BreakerConfig
	log   zerolog.Logger
	now   func() time.Time
}

func NewCircuitBreaker(store *filestore.Store, cfg BreakerConfig, log zerolog.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 3
	}
	return &CircuitBreaker{store: store, cfg: cfg, log: log, now: time.Now}
}

func (b *CircuitBreaker) defaultState(providerID string) domain.BreakerState {
	return domain.BreakerState{ProviderID: providerID, CircuitState: domain.CircuitClosed}
}

// CanExecute reports whether a call to providerID is currently
// admitted. An open breaker whose recovery timeout has elapsed moves to
// half_open here, so the check itself drives recovery.
func (b *CircuitBreaker) CanExecute(providerID string) (bool, error) {
	admitted := false
	st := b.defaultState(providerID)
	err := b.store.Update(breakerStatePath(providerID), &st, func() error {
		if st.ProviderID == "" {
			st.ProviderID = providerID
		}
		switch st.CircuitState {
		case domain.CircuitOpen:
			if st.OpenedAt != nil && b.now().Sub(*st.OpenedAt) > b.cfg.RecoveryTimeout {
				st.CircuitState = domain.CircuitHalfOpen
				st.HalfOpenCalls = 0
				admitted = true
				b.log.Info().Str("provider", providerID).Msg("circuit half-open, probing")
			}
		case domain.CircuitHalfOpen:
			admitted = st.HalfOpenCalls < b.cfg.HalfOpenMaxCalls
		default:
			admitted = true
		}
		return nil
	})
	return admitted, err
}

// RecordSuccess notes a successful provider call. Enough successes in
// half_open close the circuit and reset the failure count.
func (b *CircuitBreaker) RecordSuccess(providerID string) error {
	st := b.defaultState(providerID)
	return b.store.Update(breakerStatePath(providerID), &st, func() error {
		if st.ProviderID == "" {
			st.ProviderID = providerID
		}
		now := b.now().UTC()
		st.SuccessCount++
		st.TotalRequests++
		st.LastSuccessAt = &now
		if st.CircuitState == domain.CircuitHalfOpen {
			st.HalfOpenCalls++
			if st.HalfOpenCalls >= b.cfg.HalfOpenMaxCalls {
				st.CircuitState = domain.CircuitClosed
				st.FailureCount = 0
				st.HalfOpenCalls = 0
				st.OpenedAt = nil
				b.log.Info().Str("provider", providerID).Msg("circuit closed")
			}
		}
		return nil
	})
}

// RecordFailure notes a failed provider call. Reaching the failure
// threshold in closed, or any failure in half_open, opens the circuit.
func (b *CircuitBreaker) RecordFailure(providerID string) error {
	st := b.defaultState(providerID)
	return b.store.Update(breakerStatePath(providerID), &st, func() error {
		if st.ProviderID == "" {
			st.ProviderID = providerID
		}
		now := b.now().UTC()
		st.FailureCount++
		st.TotalRequests++
		st.LastFailureAt = &now
		switch st.CircuitState {
		case domain.CircuitHalfOpen:
			st.CircuitState = domain.CircuitOpen
			st.OpenedAt = &now
			st.HalfOpenCalls = 0
			b.log.Warn().Str("provider", providerID).Msg("circuit re-opened from half-open")
		case domain.CircuitClosed:
			if st.FailureCount >= b.cfg.FailureThreshold {
				st.CircuitState = domain.CircuitOpen
				st.OpenedAt = &now
				b.log.Warn().
					Str("provider", providerID).
					Int("failures", st.FailureCount).
					Msg("circuit opened")
			}
		}
		return nil
	})
}

// State returns the current breaker snapshot for providerID.
func (b *CircuitBreaker) State(providerID string) (domain.BreakerState, error) {
	st := b.defaultState(providerID)
	err := b.store.ReadJSON(breakerStatePath(providerID), &st)
	if err == filestore.ErrNotFound {
		return b.defaultState(providerID), nil
	}
	if err != nil {
		return domain.BreakerState{}, err
	}
	return st, nil
}
