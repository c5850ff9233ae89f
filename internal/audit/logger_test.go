package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"devicetrust/internal/audit/domain"
)

type mockAuditRepo struct {
	mu        sync.Mutex
	entries   []*domain.SecurityEvent
	createErr error
	ctxErr    error
}

func (m *mockAuditRepo) Create(ctx context.Context, e *domain.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErr = ctx.Err()
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditRepo) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.SecurityEvent, error) {
	return nil, nil
}

type chanEmitter struct {
	ch  chan *domain.SecurityEvent
	err error
}

func (c *chanEmitter) Emit(ctx context.Context, e *domain.SecurityEvent) error {
	c.ch <- e
	return c.err
}

func TestLogger_Record_Success(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, func(context.Context) string { return "192.168.1.1" })
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	logger.now = func() time.Time { return fixed }

	logger.Record(context.Background(), domain.SecurityEvent{
		UserID:      "user-1",
		EventType:   domain.EventMFARequired,
		Description: "new device",
		Metadata:    map[string]any{"role": "admin"},
		RiskLevel:   domain.RiskMedium,
	})
	logger.Wait()

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	e := repo.entries[0]
	if e.ID == "" {
		t.Error("ID should be set")
	}
	if !e.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, fixed)
	}
	if e.Metadata["ip"] != "192.168.1.1" || e.Metadata["role"] != "admin" {
		t.Errorf("metadata = %v", e.Metadata)
	}
	if e.RiskLevel != domain.RiskMedium {
		t.Errorf("risk = %q", e.RiskLevel)
	}
}

func TestLogger_Record_DefaultsAndNoExtractor(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, nil)
	logger.Record(context.Background(), domain.SecurityEvent{UserID: "u", EventType: domain.EventSessionRegistered})
	logger.Wait()

	e := repo.entries[0]
	if e.RiskLevel != domain.RiskLow {
		t.Errorf("default risk = %q, want low", e.RiskLevel)
	}
	if e.Metadata != nil {
		t.Errorf("metadata = %v, want nil", e.Metadata)
	}
}

func TestLogger_Record_DoesNotMutateCallerMetadata(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, func(context.Context) string { return "10.0.0.1" })
	meta := map[string]any{"role": "user"}
	logger.Record(context.Background(), domain.SecurityEvent{UserID: "u", Metadata: meta})
	logger.Wait()

	if _, ok := meta["ip"]; ok {
		t.Error("caller metadata map must not be modified")
	}
}

func TestLogger_Record_RepositoryErrorIsSwallowed(t *testing.T) {
	repo := &mockAuditRepo{createErr: errors.New("connection refused")}
	logger := NewLogger(repo, nil)

	// Should not panic or block.
	logger.Record(context.Background(), domain.SecurityEvent{UserID: "u", EventType: domain.EventTokenRefreshFailed})
	logger.Wait()
}

func TestLogger_Record_SurvivesCancelledContext(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger.Record(ctx, domain.SecurityEvent{UserID: "u"})
	logger.Wait()

	if len(repo.entries) != 1 {
		t.Fatalf("expected the write despite cancellation, got %d entries", len(repo.entries))
	}
	if repo.ctxErr != nil {
		t.Errorf("write context err = %v, want nil", repo.ctxErr)
	}
}

func TestLogger_Record_FansOutToEmitters(t *testing.T) {
	a := &chanEmitter{ch: make(chan *domain.SecurityEvent, 1)}
	b := &chanEmitter{ch: make(chan *domain.SecurityEvent, 1), err: errors.New("kafka down")}
	logger := NewLogger(nil, nil, a, nil, b)

	logger.Record(context.Background(), domain.SecurityEvent{UserID: "u", EventType: domain.EventDeviceTrustPromoted})

	for _, em := range []*chanEmitter{a, b} {
		select {
		case e := <-em.ch:
			if e.EventType != domain.EventDeviceTrustPromoted || e.ID == "" {
				t.Errorf("emitted %+v", e)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("emitter not called")
		}
	}
}

func TestLogger_NilAndNop(t *testing.T) {
	var l *Logger
	l.Record(context.Background(), domain.SecurityEvent{})
	Nop{}.Record(context.Background(), domain.SecurityEvent{})
}
