// Package escalate pushes critical alerts beyond the back-office screen:
// SNS for the manager's phone, SES for the ops mailbox, and an optional
// webhook for whatever the restaurant has wired up (POS display, Slack
// bridge). Every target sits behind a circuit breaker so a dead endpoint
// cannot slow down alert creation.
package escalate

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/alerts"
	"github.com/casamarzia/opsbell/internal/circuitbreaker"
	"github.com/casamarzia/opsbell/internal/metrics"
)

// Target delivers a critical alert to one external channel.
type Target interface {
	Name() string
	Deliver(ctx context.Context, alert alerts.Alert) error
}

// deliveryTimeout bounds each target call so escalation never holds a
// goroutine for longer than a slow webhook.
const deliveryTimeout = 10 * time.Second

// Escalator fans a critical alert out to all configured targets.
// It implements the manager's escalation hook.
type Escalator struct {
	targets []Target
	logger  *zap.Logger
}

// New creates an Escalator over the given targets. An Escalator with no
// targets is valid and does nothing.
func New(logger *zap.Logger, targets ...Target) *Escalator {
	return &Escalator{
		targets: targets,
		logger:  logger,
	}
}

// Escalate delivers the alert to every target. Failures are logged and
// counted but never propagate; a down pager must not affect the hub.
func (e *Escalator) Escalate(ctx context.Context, alert alerts.Alert) {
	for _, target := range e.targets {
		tctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		err := target.Deliver(tctx, alert)
		cancel()

		switch {
		case err == nil:
			metrics.RecordEscalation(target.Name(), "sent")
			e.logger.Info("critical alert escalated",
				zap.String("target", target.Name()),
				zap.String("alert_id", alert.ID.String()),
				zap.String("category", alert.Category),
			)
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
			metrics.RecordEscalation(target.Name(), "rejected")
			e.logger.Warn("escalation rejected by circuit breaker",
				zap.String("target", target.Name()),
				zap.String("alert_id", alert.ID.String()),
			)
		default:
			metrics.RecordEscalation(target.Name(), "failed")
			e.logger.Error("escalation failed",
				zap.String("target", target.Name()),
				zap.String("alert_id", alert.ID.String()),
				zap.Error(err),
			)
		}
	}
}

// Targets returns the configured target names, for the health endpoint.
func (e *Escalator) Targets() []string {
	names := make([]string, 0, len(e.targets))
	for _, target := range e.targets {
		names = append(names, target.Name())
	}
	return names
}
