package trust

import (
	"context"
	"errors"
	"testing"
	"time"

	devicedomain "devicetrust/internal/device/domain"
	"devicetrust/internal/errs"
	"devicetrust/internal/session/domain"
	"devicetrust/internal/session/registry"
	"devicetrust/internal/session/repository"
)

var device = devicedomain.Identity{StableID: "dev-1", Fingerprint: "fp-1"}

func TestIsTrusted(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name         string
		trusted      bool
		active       bool
		lastActivity time.Time
		want         bool
	}{
		{"untrusted", false, true, now, false},
		{"trusted and recent", true, true, now.Add(-23 * time.Hour), true},
		{"trusted at window edge", true, true, now.Add(-24 * time.Hour), true},
		{"trusted but dormant", true, true, now.Add(-25 * time.Hour), false},
		{"trusted but signed out", true, false, now, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repository.NewMemoryStore()
			store.Put(&domain.Record{
				ID: "s1", UserID: "u1", DeviceFingerprint: "fp-1",
				IsTrusted: tt.trusted, IsActive: tt.active, LastActivity: tt.lastActivity,
			})
			s := NewStore(store, 0, func() time.Time { return now })
			if got := s.IsTrusted(context.Background(), "u1", device); got != tt.want {
				t.Errorf("IsTrusted = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTrusted_NoRecord(t *testing.T) {
	s := NewStore(repository.NewMemoryStore(), 0, nil)
	if s.IsTrusted(context.Background(), "u1", device) {
		t.Error("unknown device must not be trusted")
	}
}

func TestIsTrusted_OtherUsersRecordIgnored(t *testing.T) {
	store := repository.NewMemoryStore()
	store.Put(&domain.Record{ID: "s1", UserID: "u2", DeviceFingerprint: "fp-1", IsTrusted: true, IsActive: true, LastActivity: time.Now()})
	if NewStore(store, 0, nil).IsTrusted(context.Background(), "u1", device) {
		t.Error("trust is per user")
	}
}

func TestIsTrusted_FailsClosed(t *testing.T) {
	store := repository.NewMemoryStore()
	store.Put(&domain.Record{ID: "s1", UserID: "u1", DeviceFingerprint: "fp-1", IsTrusted: true, IsActive: true, LastActivity: time.Now()})
	store.Err = errors.New("timeout")
	if NewStore(store, 0, nil).IsTrusted(context.Background(), "u1", device) {
		t.Error("lookup failure must report untrusted")
	}
}

func TestIsTrusted_CustomWindow(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := repository.NewMemoryStore()
	store.Put(&domain.Record{ID: "s1", UserID: "u1", DeviceFingerprint: "fp-1", IsTrusted: true, IsActive: true, LastActivity: now.Add(-2 * time.Hour)})
	s := NewStore(store, time.Hour, func() time.Time { return now })
	if s.Window() != time.Hour {
		t.Errorf("Window = %v", s.Window())
	}
	if s.IsTrusted(context.Background(), "u1", device) {
		t.Error("record older than a 1h window must not be trusted")
	}
}

func TestPromote(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := repository.NewMemoryStore()
	store.Put(&domain.Record{ID: "s1", UserID: "u1", DeviceFingerprint: "fp-1", IsActive: true, LastActivity: now.Add(-30 * time.Hour)})
	s := NewStore(store, 0, func() time.Time { return now })
	ctx := context.Background()

	ok, err := s.Promote(ctx, "u1", device)
	if err != nil || !ok {
		t.Fatalf("Promote = (%v, %v)", ok, err)
	}
	rec := store.Get("s1")
	if !rec.IsTrusted || !rec.LastActivity.Equal(now) {
		t.Errorf("record = %+v", rec)
	}
	if !s.IsTrusted(ctx, "u1", device) {
		t.Error("device should be trusted after promotion")
	}

	ok, err = s.Promote(ctx, "u1", device)
	if err != nil || !ok {
		t.Errorf("second Promote = (%v, %v), want idempotent success", ok, err)
	}
	if !store.Get("s1").IsTrusted {
		t.Error("device should remain trusted")
	}
}

func TestPromote_NoSession(t *testing.T) {
	s := NewStore(repository.NewMemoryStore(), 0, nil)
	ok, err := s.Promote(context.Background(), "u1", device)
	if ok || !errors.Is(err, ErrNoSession) {
		t.Errorf("Promote = (%v, %v), want ErrNoSession", ok, err)
	}
	if _, err := s.Promote(context.Background(), "u1", devicedomain.Identity{}); !errors.Is(err, ErrNoSession) {
		t.Errorf("empty identity: err = %v, want ErrNoSession", err)
	}
}

func TestPromote_AfterFingerprintDrift(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := repository.NewMemoryStore()
	reg := registry.New(store, nil)
	s := NewStore(store, 0, func() time.Time { return now })
	ctx := context.Background()

	first := devicedomain.Identity{StableID: "dev-S", Fingerprint: "fp-1"}
	if _, _, err := reg.RegisterOrUpdate(ctx, "u1", first, devicedomain.Client{}); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.Promote(ctx, "u1", first); !ok || err != nil {
		t.Fatalf("Promote = (%v, %v)", ok, err)
	}

	drifted := devicedomain.Identity{StableID: "dev-S", Fingerprint: "fp-2"}
	if _, isNew, err := reg.RegisterOrUpdate(ctx, "u1", drifted, devicedomain.Client{}); err != nil || isNew {
		t.Fatalf("re-login = (isNew %v, %v), want the existing record", isNew, err)
	}
	if ok, err := s.Promote(ctx, "u1", drifted); !ok || err != nil {
		t.Errorf("Promote after drift = (%v, %v)", ok, err)
	}
	if !s.IsTrusted(ctx, "u1", drifted) {
		t.Error("drifted device should still be trusted")
	}
}

func TestTrust_StableIDFallback(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := repository.NewMemoryStore()
	// Written before fingerprints were refreshed on stable id matches.
	store.Put(&domain.Record{ID: "s1", UserID: "u1", DeviceStableID: "dev-1", DeviceFingerprint: "fp-stale", IsActive: true, LastActivity: now})
	s := NewStore(store, 0, func() time.Time { return now })
	ctx := context.Background()

	if s.IsTrusted(ctx, "u1", device) {
		t.Fatal("record is not trusted yet")
	}
	if ok, err := s.Promote(ctx, "u1", device); !ok || err != nil {
		t.Fatalf("Promote = (%v, %v)", ok, err)
	}
	if !store.Get("s1").IsTrusted || !s.IsTrusted(ctx, "u1", device) {
		t.Error("record reached by stable id should be trusted")
	}
}

func TestPromote_StoreFailure(t *testing.T) {
	store := repository.NewMemoryStore()
	store.Err = errors.New("down")
	ok, err := NewStore(store, 0, nil).Promote(context.Background(), "u1", device)
	if ok || !errs.Is(err, errs.KindStoreWriteFailed) {
		t.Errorf("Promote = (%v, %v), want store_write_failed", ok, err)
	}
}

func TestEffective(t *testing.T) {
	now := time.Now()
	if Effective(nil, now, DefaultWindow) {
		t.Error("nil record is not trusted")
	}
	if !Effective(&domain.Record{IsTrusted: true, LastActivity: now}, now, DefaultWindow) {
		t.Error("fresh trusted record should be effective")
	}
}
