// Package health reports readiness of the session service to the standard gRPC health service.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger checks database connectivity (e.g. *sqlx.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks the token policy evaluator (e.g. *engine.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

const checkTimeout = 3 * time.Second

// Checker probes the dependencies the session service cannot serve without. Either may be nil.
type Checker struct {
	pinger Pinger
	policy PolicyChecker
}

// NewChecker returns a Checker.
func NewChecker(pinger Pinger, policy PolicyChecker) *Checker {
	return &Checker{pinger: pinger, policy: policy}
}

// Check returns the first failing dependency, or nil when all are healthy.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if c.pinger != nil {
		if err := c.pinger.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	return nil
}

// Report runs one check and publishes the result for service and the server-wide "" entry.
func (c *Checker) Report(ctx context.Context, srv *grpchealth.Server, service string) error {
	err := c.Check(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	srv.SetServingStatus("", st)
	srv.SetServingStatus(service, st)
	return err
}

// Watch reports every interval until ctx is done. A status change is logged once.
func (c *Checker) Watch(ctx context.Context, srv *grpchealth.Server, service string, interval time.Duration) {
	healthy := c.Report(ctx, srv, service) == nil
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := c.Report(ctx, srv, service)
			switch {
			case err != nil && healthy:
				zap.L().Warn("health: not serving", zap.Error(err))
			case err == nil && !healthy:
				zap.L().Info("health: serving again")
			}
			healthy = err == nil
		}
	}
}
