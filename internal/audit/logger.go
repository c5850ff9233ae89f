// Package audit records security events: the append-only trail of trust, policy and session decisions.
package audit

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devicetrust/internal/audit/domain"
	auditrepo "devicetrust/internal/audit/repository"
	"devicetrust/internal/telemetry"
)

// writeTimeout bounds a single repository write.
const writeTimeout = 5 * time.Second

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// Recorder accepts security events. Record never fails from the caller's perspective.
type Recorder interface {
	Record(ctx context.Context, event domain.SecurityEvent)
}

// Logger implements Recorder. Each event is appended to the repository and fanned out to the
// emitters; every failure is logged at warn and dropped.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	emitters    []telemetry.EventEmitter
	now         func() time.Time

	wg sync.WaitGroup
}

// NewLogger returns a Logger that persists to repo (may be nil) and ships to emitters.
// ipExtractor may be nil; then no client IP is attached.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, emitters ...telemetry.EventEmitter) *Logger {
	live := emitters[:0:0]
	for _, e := range emitters {
		if e != nil {
			live = append(live, e)
		}
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, emitters: live, now: time.Now}
}

// Record stamps event with an id and timestamp and writes it in the background.
// Request cancellation does not abort the write.
func (l *Logger) Record(ctx context.Context, event domain.SecurityEvent) {
	if l == nil {
		return
	}
	e := l.stamp(ctx, event)
	for _, em := range l.emitters {
		telemetry.EmitAsync(em, e)
	}
	if l.repo == nil {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()
		if err := l.repo.Create(wctx, e); err != nil {
			zap.L().Warn("audit: failed to record security event",
				zap.String("event_type", string(e.EventType)),
				zap.String("user_id", e.UserID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight repository writes finish. Used on shutdown and in tests.
func (l *Logger) Wait() {
	l.wg.Wait()
}

func (l *Logger) stamp(ctx context.Context, event domain.SecurityEvent) *domain.SecurityEvent {
	e := event
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	if e.RiskLevel == "" {
		e.RiskLevel = domain.RiskLow
	}
	e.Metadata = maps.Clone(event.Metadata)
	if l.ipExtractor != nil {
		if ip := l.ipExtractor(ctx); ip != "" {
			if e.Metadata == nil {
				e.Metadata = map[string]any{}
			}
			if _, ok := e.Metadata["ip"]; !ok {
				e.Metadata["ip"] = ip
			}
		}
	}
	return &e
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, domain.SecurityEvent) {}
