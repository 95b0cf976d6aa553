package router

import (
	"log/slog"
	"math/big"
	"time"

	"WalletPlugins/internal/events"
	"WalletPlugins/internal/observability/alerting"
	"WalletPlugins/internal/observability/metrics"
)

// Option modifies the behaviour of a Router.
type Option func(*Router)

// WithClock replaces time.Now as the evaluation clock.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithChainID sets the chain id bound into relayed request digests.
func WithChainID(id *big.Int) Option {
	return func(r *Router) {
		if id != nil {
			r.chainID = new(big.Int).Set(id)
		}
	}
}

// WithPublisher publishes an event per verdict and halt.
func WithPublisher(p events.Publisher) Option {
	return func(r *Router) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithMetrics records verdict metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithAlerts routes alerting errors to d.
func WithAlerts(d alerting.Dispatcher) Option {
	return func(r *Router) {
		if d != nil {
			r.alerts = d
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAuditLogger sets the logger every verdict is written to.
func WithAuditLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.audit = logger
		}
	}
}

// WithHaltOnConfigurationError controls whether a configuration error halts
// the account until Resume is called.
func WithHaltOnConfigurationError(halt bool) Option {
	return func(r *Router) {
		r.halt = halt
	}
}
