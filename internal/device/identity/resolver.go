// Package identity resolves a durable identity for the device the current execution context runs on.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"devicetrust/internal/device/domain"
	"devicetrust/internal/errs"
)

// NativeInfo is what a native device bridge reports. HardwareID is authoritative and immutable.
type NativeInfo struct {
	HardwareID   string
	Model        string
	Platform     string
	OSVersion    string
	Manufacturer string
}

// NativeBridge exposes the hardware identity of a native runtime.
// Available reports false on runtimes without a bridge; Info is only called when Available is true.
type NativeBridge interface {
	Available() bool
	Info(ctx context.Context) (NativeInfo, error)
}

// Resolver produces the DeviceIdentity for this execution context.
type Resolver struct {
	native  NativeBridge // may be nil
	primary Channel      // may be nil
	cookie  Channel      // may be nil
	attrs   func() domain.FingerprintAttributes
	now     func() time.Time

	mu        sync.Mutex
	generated bool
}

// NewResolver returns a Resolver. Any of native, primary and cookie may be nil; a missing channel
// degrades to the remaining one. attrs supplies the static environment attributes for the fingerprint.
func NewResolver(native NativeBridge, primary, cookie Channel, attrs func() domain.FingerprintAttributes) *Resolver {
	if attrs == nil {
		attrs = func() domain.FingerprintAttributes { return domain.FingerprintAttributes{} }
	}
	return &Resolver{native: native, primary: primary, cookie: cookie, attrs: attrs, now: time.Now}
}

// Resolve returns the identity of this device. It never fails: storage problems are logged and
// degrade to the next channel, and when no channel yields an id a new one is generated.
func (r *Resolver) Resolve(ctx context.Context) domain.Identity {
	fp := Fingerprint(r.attrs())

	if r.native != nil && r.native.Available() {
		info, err := r.native.Info(ctx)
		if err == nil && strings.TrimSpace(info.HardwareID) != "" {
			r.setGenerated(false)
			return domain.Identity{
				StableID:     info.HardwareID,
				Fingerprint:  fp,
				IsNative:     true,
				Model:        info.Model,
				Platform:     info.Platform,
				OSVersion:    info.OSVersion,
				Manufacturer: info.Manufacturer,
			}
		}
		zap.L().Warn("identity: native bridge unavailable, falling back to stored id", zap.Error(err))
	}

	if id := r.read(ctx, r.primary, "primary"); id != "" {
		r.setGenerated(false)
		r.backfill(ctx, r.cookie, "cookie", id)
		return domain.Identity{StableID: id, Fingerprint: fp}
	}
	if id := r.read(ctx, r.cookie, "cookie"); id != "" {
		r.setGenerated(false)
		r.backfill(ctx, r.primary, "primary", id)
		return domain.Identity{StableID: id, Fingerprint: fp}
	}

	id := NewStableID(r.now())
	r.setGenerated(true)
	r.write(ctx, r.primary, "primary", id)
	r.write(ctx, r.cookie, "cookie", id)
	return domain.Identity{StableID: id, Fingerprint: fp}
}

// Generated reports whether the last Resolve had to generate a new stable id.
func (r *Resolver) Generated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generated
}

func (r *Resolver) setGenerated(v bool) {
	r.mu.Lock()
	r.generated = v
	r.mu.Unlock()
}

func (r *Resolver) read(ctx context.Context, ch Channel, name string) string {
	if ch == nil {
		return ""
	}
	v, err := ch.Get(ctx)
	if err != nil {
		zap.L().Warn("identity: channel read failed",
			zap.String("channel", name),
			zap.Error(errs.E(errs.KindStorageUnavailable, "identity.read", err)))
		return ""
	}
	return strings.TrimSpace(v)
}

// backfill restores a channel that lost the id while the other kept it.
func (r *Resolver) backfill(ctx context.Context, ch Channel, name, id string) {
	if ch == nil {
		return
	}
	if cur, err := ch.Get(ctx); err == nil && strings.TrimSpace(cur) == id {
		return
	}
	r.write(ctx, ch, name, id)
}

func (r *Resolver) write(ctx context.Context, ch Channel, name, id string) {
	if ch == nil {
		return
	}
	if err := ch.Set(ctx, id); err != nil {
		zap.L().Warn("identity: channel write failed; id is still used for this session",
			zap.String("channel", name),
			zap.Error(errs.E(errs.KindStorageUnavailable, "identity.write", err)))
	}
}

// NewStableID returns a fresh stable id: base-36 millisecond timestamp plus a random suffix.
func NewStableID(now time.Time) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms; keep the id unique by time alone.
		return "dev-" + strconv.FormatInt(now.UnixNano(), 36)
	}
	return "dev-" + strconv.FormatInt(now.UnixMilli(), 36) + "-" + hex.EncodeToString(b)
}
