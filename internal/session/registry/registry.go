// Package registry reconciles a resolved device identity against a user's session records.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	devicedomain "devicetrust/internal/device/domain"
	"devicetrust/internal/errs"
	"devicetrust/internal/geo"
	geodomain "devicetrust/internal/geo/domain"
	"devicetrust/internal/session/domain"
	"devicetrust/internal/session/repository"
)

var (
	// ErrSessionNotFound is returned when a session id does not belong to the user.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidDeviceType is returned by LockDeviceType for an unknown device type.
	ErrInvalidDeviceType = errors.New("invalid device type")
	// ErrNoIdentity is returned when the identity has neither a stable id nor a fingerprint.
	ErrNoIdentity = errors.New("device identity is empty")
)

// Registry keeps at most one active session record per (user, physical device).
// A physical device is the set of records sharing a stable id or a fingerprint.
type Registry struct {
	store repository.Store
	geo   geo.Lookup
	now   func() time.Time
}

// New returns a Registry. A nil lookup disables geo enrichment.
func New(store repository.Store, lookup geo.Lookup) *Registry {
	if lookup == nil {
		lookup = geo.Nop{}
	}
	return &Registry{store: store, geo: lookup, now: func() time.Time { return time.Now().UTC() }}
}

// RegisterOrUpdate records a login from identity and returns the authoritative session id.
// isNew is true when no existing record matched and a new one was inserted.
// Store failures are logged and returned as errs.KindStoreWriteFailed; callers must not fail the login on them.
func (r *Registry) RegisterOrUpdate(ctx context.Context, userID string, identity devicedomain.Identity, client devicedomain.Client) (sessionID string, isNew bool, err error) {
	const op = "registry.RegisterOrUpdate"
	if strings.TrimSpace(identity.StableID) == "" && strings.TrimSpace(identity.Fingerprint) == "" {
		return "", false, errs.E(errs.KindStoreWriteFailed, op, ErrNoIdentity)
	}

	// Geo runs alongside the lookup; a slow or failed lookup only delays the write.
	geoCh := make(chan *geodomain.Info, 1)
	go func() {
		if client.IPAddress == "" {
			geoCh <- nil
			return
		}
		geoCh <- r.geo.Lookup(ctx, client.IPAddress)
	}()

	existing, err := r.find(ctx, userID, identity)
	if err != nil {
		<-geoCh
		return "", false, r.fail(op, userID, err)
	}
	location := <-geoCh
	cls := devicedomain.Classify(client, identity)
	now := r.now()

	var (
		written  *domain.Record
		previous devicedomain.Identity
	)
	if existing != nil {
		previous = devicedomain.Identity{StableID: existing.DeviceStableID, Fingerprint: existing.DeviceFingerprint}
		patch := domain.Patch{
			DeviceStableID:      domain.Ptr(identity.StableID),
			BrowserInfo:         domain.Ptr(cls.BrowserInfo),
			OperatingSystem:     domain.Ptr(cls.OperatingSystem),
			PlatformType:        domain.Ptr(cls.PlatformType),
			LastActivity:        domain.Ptr(now),
			IncrementLoginCount: true,
			Geo:                 location,
		}
		if identity.Fingerprint != "" {
			patch.DeviceFingerprint = domain.Ptr(identity.Fingerprint)
		}
		if client.IPAddress != "" {
			patch.IPAddress = domain.Ptr(client.IPAddress)
		}
		if !existing.DeviceTypeLocked {
			patch.DeviceType = domain.Ptr(cls.DeviceType)
			patch.DeviceName = domain.Ptr(cls.DeviceName)
		}
		written, err = r.store.UpsertByFilter(ctx, domain.Filter{ID: existing.ID, UserID: userID}, patch)
		if err == nil && written == nil {
			// Deactivated or removed between read and write; fall through to a fresh record.
			existing = nil
		}
	}
	if err != nil {
		return "", false, r.fail(op, userID, err)
	}
	if existing == nil {
		rec := &domain.Record{
			UserID:            userID,
			DeviceStableID:    identity.StableID,
			DeviceFingerprint: identity.Fingerprint,
			DeviceName:        cls.DeviceName,
			DeviceType:        cls.DeviceType,
			BrowserInfo:       cls.BrowserInfo,
			OperatingSystem:   cls.OperatingSystem,
			PlatformType:      cls.PlatformType,
			IsTrusted:         false,
			IsActive:          true,
			SessionStatus:     domain.StatusActive,
			LoginCount:        1,
			LastActivity:      now,
			CreatedAt:         now,
		}
		if client.IPAddress != "" {
			rec.IPAddress = domain.Ptr(client.IPAddress)
		}
		rec.SetGeo(location)
		written, err = r.store.Insert(ctx, rec)
		if err != nil {
			return "", false, r.fail(op, userID, err)
		}
		isNew = true
	}

	r.sweep(ctx, written, identity, previous)
	return written.ID, isNew, nil
}

// find looks up the user's active record by fingerprint first, then by stable id.
func (r *Registry) find(ctx context.Context, userID string, identity devicedomain.Identity) (*domain.Record, error) {
	if identity.Fingerprint != "" {
		list, err := r.store.SelectByFilter(ctx, domain.Filter{UserID: userID, Fingerprint: identity.Fingerprint, ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		if len(list) > 0 {
			return list[0], nil
		}
	}
	if identity.StableID != "" {
		list, err := r.store.SelectByFilter(ctx, domain.Filter{UserID: userID, StableID: identity.StableID, ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		if len(list) > 0 {
			return list[0], nil
		}
	}
	return nil, nil
}

// sweep deactivates every other record of the same physical device: anything sharing the kept
// record's current keys or the keys it carried before this login. It is not atomic with the
// preceding write: two concurrent logins from one device can leave two active records until the next login.
func (r *Registry) sweep(ctx context.Context, kept *domain.Record, keys ...devicedomain.Identity) {
	var n int64
	for i, k := range keys {
		if k.StableID == "" && k.Fingerprint == "" {
			continue
		}
		if i > 0 && k.StableID == keys[0].StableID && k.Fingerprint == keys[0].Fingerprint {
			continue
		}
		filter := domain.Filter{
			UserID:      kept.UserID,
			ExcludeID:   kept.ID,
			StableID:    k.StableID,
			Fingerprint: k.Fingerprint,
			AnyDevice:   true,
			ActiveOnly:  true,
		}
		swept, err := r.store.UpdateMany(ctx, filter, domain.Patch{Active: domain.Ptr(false)})
		if err != nil {
			zap.L().Warn("registry: dedup sweep failed",
				zap.String("user_id", kept.UserID),
				zap.String("session_id", kept.ID),
				zap.Error(errs.E(errs.KindStoreWriteFailed, "registry.sweep", err)))
			return
		}
		n += swept
	}
	if n > 0 {
		zap.L().Info("registry: deactivated duplicate sessions",
			zap.String("user_id", kept.UserID),
			zap.String("session_id", kept.ID),
			zap.Int64("count", n))
	}
}

// Deactivate marks one of the user's sessions inactive (explicit sign-out).
func (r *Registry) Deactivate(ctx context.Context, userID, sessionID string) error {
	const op = "registry.Deactivate"
	n, err := r.store.UpdateMany(ctx, domain.Filter{ID: sessionID, UserID: userID}, domain.Patch{Active: domain.Ptr(false)})
	if err != nil {
		return r.fail(op, userID, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Get returns the user's session with sessionID, or ErrSessionNotFound.
func (r *Registry) Get(ctx context.Context, userID, sessionID string) (*domain.Record, error) {
	list, err := r.store.SelectByFilter(ctx, domain.Filter{ID: sessionID, UserID: userID})
	if err != nil {
		return nil, errs.E(errs.KindStoreReadFailed, "registry.Get", err)
	}
	if len(list) == 0 {
		return nil, ErrSessionNotFound
	}
	return list[0], nil
}

// ListActive returns the user's active sessions, most recent first.
func (r *Registry) ListActive(ctx context.Context, userID string) ([]*domain.Record, error) {
	list, err := r.store.SelectByFilter(ctx, domain.Filter{UserID: userID, ActiveOnly: true})
	if err != nil {
		return nil, errs.E(errs.KindStoreReadFailed, "registry.ListActive", err)
	}
	return list, nil
}

// LockDeviceType applies a manual device type correction and freezes it against re-detection.
func (r *Registry) LockDeviceType(ctx context.Context, userID, sessionID string, t devicedomain.DeviceType) error {
	const op = "registry.LockDeviceType"
	if !t.Valid() {
		return ErrInvalidDeviceType
	}
	n, err := r.store.UpdateMany(ctx, domain.Filter{ID: sessionID, UserID: userID},
		domain.Patch{DeviceType: domain.Ptr(t), DeviceTypeLocked: domain.Ptr(true)})
	if err != nil {
		return r.fail(op, userID, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *Registry) fail(op, userID string, err error) error {
	e := errs.E(errs.KindStoreWriteFailed, op, err)
	zap.L().Warn("registry: session bookkeeping failed", zap.String("user_id", userID), zap.Error(e))
	return e
}
