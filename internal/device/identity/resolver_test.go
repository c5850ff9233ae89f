package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"devicetrust/internal/device/domain"
)

type fakeBridge struct {
	available bool
	info      NativeInfo
	err       error
}

func (f *fakeBridge) Available() bool { return f.available }

func (f *fakeBridge) Info(ctx context.Context) (NativeInfo, error) { return f.info, f.err }

func staticAttrs() domain.FingerprintAttributes {
	return domain.FingerprintAttributes{
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64)",
		ScreenGeometry:      "1920x1080x24",
		Timezone:            "Europe/Berlin",
		HardwareConcurrency: 8,
		CanvasHash:          "c4nv4s",
	}
}

func TestResolve_StableAcrossCalls(t *testing.T) {
	primary, cookie := &MemoryChannel{}, &MemoryChannel{}
	r := NewResolver(nil, primary, cookie, staticAttrs)
	ctx := context.Background()

	first := r.Resolve(ctx)
	if !r.Generated() {
		t.Error("first resolve on empty storage should generate an id")
	}
	second := r.Resolve(ctx)
	if r.Generated() {
		t.Error("second resolve should reuse the stored id")
	}
	if first.StableID == "" || first.StableID != second.StableID {
		t.Errorf("StableID changed: %q then %q", first.StableID, second.StableID)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Errorf("Fingerprint changed: %q then %q", first.Fingerprint, second.Fingerprint)
	}
	if first.IsNative {
		t.Error("identity without bridge must not be native")
	}
}

func TestResolve_WritesBothChannels(t *testing.T) {
	primary, cookie := &MemoryChannel{}, &MemoryChannel{}
	r := NewResolver(nil, primary, cookie, staticAttrs)

	id := r.Resolve(context.Background())

	p, _ := primary.Get(context.Background())
	c, _ := cookie.Get(context.Background())
	if p != id.StableID || c != id.StableID {
		t.Errorf("channels = (%q, %q), want both %q", p, c, id.StableID)
	}
}

func TestResolve_SurvivesClearingOneChannel(t *testing.T) {
	primary, cookie := &MemoryChannel{}, &MemoryChannel{}
	r := NewResolver(nil, primary, cookie, staticAttrs)
	ctx := context.Background()
	first := r.Resolve(ctx)

	primary.Clear()
	fromCookie := r.Resolve(ctx)
	if fromCookie.StableID != first.StableID {
		t.Errorf("cookie fallback StableID = %q, want %q", fromCookie.StableID, first.StableID)
	}
	if p, _ := primary.Get(ctx); p != first.StableID {
		t.Errorf("primary channel should be restored, got %q", p)
	}

	cookie.Clear()
	fromPrimary := r.Resolve(ctx)
	if fromPrimary.StableID != first.StableID {
		t.Errorf("primary StableID = %q, want %q", fromPrimary.StableID, first.StableID)
	}
}

func TestResolve_ClearingBothChannelsGeneratesNewID(t *testing.T) {
	primary, cookie := &MemoryChannel{}, &MemoryChannel{}
	r := NewResolver(nil, primary, cookie, staticAttrs)
	ctx := context.Background()
	first := r.Resolve(ctx)

	primary.Clear()
	cookie.Clear()
	second := r.Resolve(ctx)

	if second.StableID == first.StableID {
		t.Error("clearing both channels should yield a new stable id")
	}
	if !r.Generated() {
		t.Error("Generated should report the new id")
	}
	if second.Fingerprint != first.Fingerprint {
		t.Error("fingerprint is independent of the stable id and should not change")
	}
}

func TestResolve_UnavailableChannelsStillYieldID(t *testing.T) {
	boom := errors.New("quota exceeded")
	primary := &MemoryChannel{Err: boom}
	cookie := &MemoryChannel{Err: boom}
	r := NewResolver(nil, primary, cookie, staticAttrs)

	id := r.Resolve(context.Background())
	if id.StableID == "" {
		t.Fatal("Resolve must produce an id even when both channels fail")
	}
	if !r.Generated() {
		t.Error("id should be reported as generated")
	}
}

func TestResolve_NilChannels(t *testing.T) {
	r := NewResolver(nil, nil, nil, nil)
	if id := r.Resolve(context.Background()); id.StableID == "" {
		t.Error("Resolve with no channels should still generate an id")
	}
}

func TestResolve_NativeBridgeIsAuthoritative(t *testing.T) {
	primary := &MemoryChannel{}
	_ = primary.Set(context.Background(), "stored-id")
	bridge := &fakeBridge{available: true, info: NativeInfo{
		HardwareID: "hw-42", Model: "Pixel 8", Platform: "android", OSVersion: "14", Manufacturer: "Google",
	}}
	r := NewResolver(bridge, primary, &MemoryChannel{}, staticAttrs)

	id := r.Resolve(context.Background())
	if !id.IsNative {
		t.Error("IsNative should be true")
	}
	if id.StableID != "hw-42" {
		t.Errorf("StableID = %q, want hw-42", id.StableID)
	}
	if id.Model != "Pixel 8" || id.Platform != "android" || id.OSVersion != "14" || id.Manufacturer != "Google" {
		t.Errorf("native metadata not propagated: %+v", id)
	}
	if id.Fingerprint == "" {
		t.Error("fingerprint should still be computed on native runtimes")
	}
}

func TestResolve_NativeBridgeFailureFallsBack(t *testing.T) {
	primary := &MemoryChannel{}
	_ = primary.Set(context.Background(), "stored-id")
	bridge := &fakeBridge{available: true, err: errors.New("bridge crashed")}
	r := NewResolver(bridge, primary, &MemoryChannel{}, staticAttrs)

	id := r.Resolve(context.Background())
	if id.IsNative {
		t.Error("failed bridge should not yield a native identity")
	}
	if id.StableID != "stored-id" {
		t.Errorf("StableID = %q, want stored-id", id.StableID)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint(staticAttrs())
	b := Fingerprint(staticAttrs())
	if a != b {
		t.Errorf("Fingerprint not deterministic: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("len(Fingerprint) = %d, want 16", len(a))
	}
	other := staticAttrs()
	other.ScreenGeometry = "1280x720x24"
	if Fingerprint(other) == a {
		t.Error("different attributes should produce a different fingerprint")
	}
}

func TestNewStableID_Unique(t *testing.T) {
	now := time.Now()
	a, b := NewStableID(now), NewStableID(now)
	if a == b {
		t.Error("ids generated at the same instant must differ")
	}
	if !strings.HasPrefix(a, "dev-") {
		t.Errorf("id %q should carry the dev- prefix", a)
	}
}

func TestFileChannel_RoundTripAndPreservesKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "kv.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"theme":"dark"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	ch := NewFileChannel(path)
	ctx := context.Background()

	if v, err := ch.Get(ctx); err != nil || v != "" {
		t.Fatalf("Get on file without id = (%q, %v), want empty", v, err)
	}
	if err := ch.Set(ctx, "dev-abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := ch.Get(ctx)
	if err != nil || v != "dev-abc" {
		t.Errorf("Get = (%q, %v), want dev-abc", v, err)
	}
	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), `"theme":"dark"`) {
		t.Errorf("unrelated keys should be preserved, file = %s", b)
	}
}

func TestFileChannel_MissingFileIsEmpty(t *testing.T) {
	ch := NewFileChannel(filepath.Join(t.TempDir(), "none.json"))
	v, err := ch.Get(context.Background())
	if err != nil || v != "" {
		t.Errorf("Get = (%q, %v), want empty and nil", v, err)
	}
}

func TestFileChannel_CorruptFileIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileChannel(path).Get(context.Background()); err == nil {
		t.Error("corrupt file should report the channel unavailable")
	}
}

func TestCookieChannel_RoundTrip(t *testing.T) {
	ch := NewCookieChannel(filepath.Join(t.TempDir(), "cookie"))
	ctx := context.Background()
	if err := ch.Set(ctx, "dev-xyz"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := ch.Get(ctx)
	if err != nil || v != "dev-xyz" {
		t.Errorf("Get = (%q, %v), want dev-xyz", v, err)
	}
}

func TestCookieChannel_ExpiredReadsEmpty(t *testing.T) {
	ch := NewCookieChannel(filepath.Join(t.TempDir(), "cookie"))
	ctx := context.Background()
	if err := ch.Set(ctx, "dev-old"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ch.now = func() time.Time { return time.Now().Add(500 * 24 * time.Hour) }
	v, err := ch.Get(ctx)
	if err != nil || v != "" {
		t.Errorf("expired cookie Get = (%q, %v), want empty", v, err)
	}
}
