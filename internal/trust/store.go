// Package trust derives device trust from session records. Trust is never stored on its own:
// it is the record's trust flag, valid only while the record's last activity is inside the window.
package trust

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	devicedomain "devicetrust/internal/device/domain"
	"devicetrust/internal/errs"
	"devicetrust/internal/session/domain"
	"devicetrust/internal/session/repository"
)

// DefaultWindow is how long a trusted device stays trusted without activity.
const DefaultWindow = 24 * time.Hour

// ErrNoSession is returned by Promote when the device has no active session record for the user.
var ErrNoSession = errors.New("no active session for device")

// Effective reports whether rec grants trust at now.
func Effective(rec *domain.Record, now time.Time, window time.Duration) bool {
	if rec == nil || !rec.IsTrusted {
		return false
	}
	return now.Sub(rec.LastActivity) <= window
}

// Store answers and updates device trust for a user.
type Store struct {
	sessions repository.Store
	window   time.Duration
	now      func() time.Time
}

// NewStore returns a Store. A non-positive window uses DefaultWindow; a nil now uses time.Now.
func NewStore(sessions repository.Store, window time.Duration, now func() time.Time) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Store{sessions: sessions, window: window, now: now}
}

// Window returns the configured trust window.
func (s *Store) Window() time.Duration { return s.window }

// IsTrusted reports whether the device is trusted for the user. Any lookup failure yields false.
func (s *Store) IsTrusted(ctx context.Context, userID string, identity devicedomain.Identity) bool {
	for _, f := range deviceFilters(userID, identity) {
		list, err := s.sessions.SelectByFilter(ctx, f)
		if err != nil {
			zap.L().Warn("trust: lookup failed, treating device as untrusted",
				zap.String("user_id", userID),
				zap.Error(errs.E(errs.KindStoreReadFailed, "trust.IsTrusted", err)))
			return false
		}
		if len(list) > 0 {
			return Effective(list[0], s.now(), s.window)
		}
	}
	return false
}

// Promote marks the device trusted after a completed second factor and restarts its trust window.
// Promoting an already trusted device succeeds and only refreshes the window.
func (s *Store) Promote(ctx context.Context, userID string, identity devicedomain.Identity) (bool, error) {
	const op = "trust.Promote"
	now := s.now()
	for _, f := range deviceFilters(userID, identity) {
		rec, err := s.sessions.UpsertByFilter(ctx, f,
			domain.Patch{IsTrusted: domain.Ptr(true), LastActivity: domain.Ptr(now)})
		if err != nil {
			e := errs.E(errs.KindStoreWriteFailed, op, err)
			zap.L().Warn("trust: promotion failed", zap.String("user_id", userID), zap.Error(e))
			return false, e
		}
		if rec != nil {
			return true, nil
		}
	}
	return false, ErrNoSession
}

// deviceFilters lists the lookups for the device's active record in preference order:
// fingerprint, then stable id. A fingerprint that drifted since the record was written
// still reaches it through the stable id.
func deviceFilters(userID string, identity devicedomain.Identity) []domain.Filter {
	var out []domain.Filter
	if identity.Fingerprint != "" {
		out = append(out, domain.Filter{UserID: userID, Fingerprint: identity.Fingerprint, ActiveOnly: true})
	}
	if identity.StableID != "" {
		out = append(out, domain.Filter{UserID: userID, StableID: identity.StableID, ActiveOnly: true})
	}
	return out
}
