package escalate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/alerts"
	"github.com/casamarzia/opsbell/internal/circuitbreaker"
)

// ProtectedTarget wraps any Target with a CircuitBreaker.
// When the downstream endpoint (SNS, SES, webhook) starts failing, the
// circuit opens and deliveries fail fast instead of piling up.
type ProtectedTarget struct {
	target  Target
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// Protect wraps a target with circuit breaker protection.
func Protect(target Target, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedTarget {
	return &ProtectedTarget{
		target:  target,
		breaker: breaker,
		logger:  logger,
	}
}

// Name delegates to the underlying target.
func (p *ProtectedTarget) Name() string {
	return p.target.Name()
}

// Deliver attempts delivery through the circuit breaker.
// If the circuit is open, returns ErrCircuitOpen immediately (fail fast).
// If the delivery succeeds, records success. If it fails, records failure.
func (p *ProtectedTarget) Deliver(ctx context.Context, alert alerts.Alert) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("target", p.target.Name()),
			zap.String("alert_id", alert.ID.String()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s target unavailable", circuitbreaker.ErrCircuitOpen, p.target.Name())
	}

	err := p.target.Deliver(ctx, alert)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("target", p.target.Name()),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Breaker returns the underlying circuit breaker for metrics/monitoring.
func (p *ProtectedTarget) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}
