package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"devicetrust/api/sessionv1"
	"devicetrust/internal/auth"
	devicedomain "devicetrust/internal/device/domain"
	"devicetrust/internal/refresh"
)

type stubResolver struct{}

func (stubResolver) Resolve(context.Context) devicedomain.Identity {
	return devicedomain.Identity{StableID: "dev-1", Fingerprint: "fp-1"}
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// manualClock records timers; fire runs the newest live one.
type manualClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) refresh.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) live() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.timers) - 1; i >= 0; i-- {
		if !c.timers[i].stopped {
			return c.timers[i]
		}
	}
	return nil
}

func (c *manualClock) fire(t *testing.T) {
	t.Helper()
	timer := c.live()
	if timer == nil {
		t.Fatal("no pending timer")
	}
	timer.stopped = true
	timer.f()
}

type fakeProvider struct {
	requireMFA bool
	lifetimes  []int // returned by successive logins and renewals
	refreshErr error

	lastLogin *sessionv1.LoginRequest
	policy    sessionv1.Policy
	signOuts  []auth.Scope
}

func (p *fakeProvider) next() sessionv1.Policy {
	n := p.lifetimes[0]
	if len(p.lifetimes) > 1 {
		p.lifetimes = p.lifetimes[1:]
	}
	p.policy = sessionv1.Policy{Role: "user", LifetimeMinutes: n}
	return p.policy
}

func (p *fakeProvider) Login(ctx context.Context, req *sessionv1.LoginRequest) (*sessionv1.AuthResponse, error) {
	p.lastLogin = req
	resp := &sessionv1.AuthResponse{UserID: "u1", Policy: p.next()}
	if p.requireMFA {
		resp.MFA = &sessionv1.Challenge{ChallengeID: "ch-1"}
		return resp, nil
	}
	resp.Tokens = &sessionv1.Tokens{AccessToken: "a"}
	return resp, nil
}

func (p *fakeProvider) CompleteMFA(ctx context.Context, code string) (*sessionv1.AuthResponse, error) {
	if code != "123456" {
		return nil, errors.New("bad code")
	}
	return &sessionv1.AuthResponse{UserID: "u1", Policy: p.policy, Tokens: &sessionv1.Tokens{AccessToken: "a"}}, nil
}

func (p *fakeProvider) Policy() sessionv1.Policy { return p.policy }

func (p *fakeProvider) CurrentRole(ctx context.Context) (string, error) { return "user", nil }

func (p *fakeProvider) RefreshToken(ctx context.Context) error {
	if p.refreshErr != nil {
		return p.refreshErr
	}
	p.next()
	return nil
}

func (p *fakeProvider) SignOut(ctx context.Context, scope auth.Scope) error {
	p.signOuts = append(p.signOuts, scope)
	return nil
}

func TestStart_ArmsFromPolicyAndRearmsAfterRenewal(t *testing.T) {
	clock := &manualClock{}
	provider := &fakeProvider{lifetimes: []int{30, 15}}
	a := New(stubResolver{}, provider, Credentials{Email: "a@example.com", Password: "pw"}, "agent/test", clock)

	if _, err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if provider.lastLogin.Device.StableID != "dev-1" || provider.lastLogin.Device.Fingerprint != "fp-1" {
		t.Errorf("login device = %+v", provider.lastLogin.Device)
	}
	if provider.lastLogin.UserAgent != "agent/test" {
		t.Errorf("user agent = %q", provider.lastLogin.UserAgent)
	}
	if a.State() != refresh.Armed {
		t.Fatalf("state = %v, want armed", a.State())
	}
	if got := clock.live().d; got != 28*time.Minute {
		t.Errorf("first delay = %v, want 28m", got)
	}

	clock.fire(t)
	if a.State() != refresh.Armed {
		t.Fatalf("state after renewal = %v, want re-armed", a.State())
	}
	if got := clock.live().d; got != 13*time.Minute {
		t.Errorf("delay after renewal = %v, want 13m from the renewed 15 minute policy", got)
	}
}

func TestStart_WaitsForMFA(t *testing.T) {
	clock := &manualClock{}
	provider := &fakeProvider{requireMFA: true, lifetimes: []int{20}}
	a := New(stubResolver{}, provider, Credentials{}, "agent/test", clock)

	if _, err := a.CompleteMFA("123456"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("CompleteMFA before Start: err = %v, want ErrNotStarted", err)
	}
	resp, err := a.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if resp.MFA == nil || a.State() != refresh.Idle {
		t.Fatalf("pending challenge must leave the scheduler idle, state = %v", a.State())
	}
	if _, err := a.CompleteMFA("000000"); err == nil {
		t.Fatal("wrong code should fail")
	}
	if a.State() != refresh.Idle {
		t.Error("a failed second factor must not arm")
	}
	if _, err := a.CompleteMFA("123456"); err != nil {
		t.Fatalf("CompleteMFA: %v", err)
	}
	if got := clock.live().d; got != 18*time.Minute {
		t.Errorf("delay = %v, want 18m", got)
	}
}

func TestRenewalFailure_SignsOutLocallyOnce(t *testing.T) {
	clock := &manualClock{}
	boom := errors.New("session is no longer active")
	provider := &fakeProvider{lifetimes: []int{10}, refreshErr: boom}
	a := New(stubResolver{}, provider, Credentials{}, "agent/test", clock)
	if _, err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.fire(t)
	select {
	case err := <-a.SignedOut():
		if !errors.Is(err, boom) {
			t.Errorf("signed out with %v, want %v", err, boom)
		}
	default:
		t.Fatal("SignedOut should report the failure")
	}
	if len(provider.signOuts) != 1 || provider.signOuts[0] != auth.ScopeLocal {
		t.Errorf("sign-outs = %v, want one local", provider.signOuts)
	}
	if a.State() != refresh.Idle || clock.live() != nil {
		t.Error("failed renewal must leave no pending timer")
	}
}

func TestStop_DisarmsAndSignsOutLocally(t *testing.T) {
	clock := &manualClock{}
	provider := &fakeProvider{lifetimes: []int{30}}
	a := New(stubResolver{}, provider, Credentials{}, "agent/test", clock)
	if _, err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.State() != refresh.Idle || clock.live() != nil {
		t.Error("Stop must cancel the pending renewal")
	}
	if len(provider.signOuts) != 1 || provider.signOuts[0] != auth.ScopeLocal {
		t.Errorf("sign-outs = %v, want one local", provider.signOuts)
	}
}
