// Package refresh renews the authentication token shortly before it expires.
package refresh

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"devicetrust/internal/auth"
	"devicetrust/internal/errs"
)

// State is the scheduler state.
type State int

const (
	Idle State = iota
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "armed"
	}
	return "idle"
}

// lead is how long before expiry the renewal fires.
const lead = 2

// Delay returns when a token of lifetimeMinutes should be renewed: two minutes early, at least one minute out.
func Delay(lifetimeMinutes int) time.Duration {
	return time.Duration(max(1, lifetimeMinutes-lead)) * time.Minute
}

// Hooks observe fire outcomes. Either may be nil.
type Hooks struct {
	// Refreshed runs after a successful renewal. Re-arming is up to the hook.
	Refreshed func(ctx context.Context)
	// SignedOut runs after a failed renewal forced a local sign-out.
	SignedOut func(ctx context.Context, err error)
}

// Scheduler owns at most one pending renewal for one execution context.
type Scheduler struct {
	provider auth.Provider
	clock    Clock
	hooks    Hooks

	mu    sync.Mutex
	state State
	timer Timer
	gen   uint64
}

// New returns an idle Scheduler. A nil clock uses SystemClock.
func New(provider auth.Provider, clock Clock, hooks Hooks) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scheduler{provider: provider, clock: clock, hooks: hooks}
}

// Arm cancels any pending renewal and schedules one for a token lifetime of lifetimeMinutes.
// ctx bounds the renewal call; a cancelled ctx turns the fire into a no-op.
func (s *Scheduler) Arm(ctx context.Context, lifetimeMinutes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.gen++
	gen := s.gen
	delay := Delay(lifetimeMinutes)
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(ctx, gen) })
	s.state = Armed
	zap.L().Debug("refresh: armed", zap.Int("lifetime_minutes", lifetimeMinutes), zap.Duration("delay", delay))
}

// Disarm cancels the pending renewal. Safe to call when idle.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.gen++
	s.state = Idle
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != Armed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.state = Idle
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	err := s.provider.RefreshToken(ctx)
	if s.stale(gen) {
		// Disarmed or re-armed while the renewal was in flight; its outcome no longer applies.
		return
	}
	if err == nil {
		zap.L().Info("refresh: token renewed")
		if s.hooks.Refreshed != nil {
			s.hooks.Refreshed(ctx)
		}
		return
	}

	failure := errs.E(errs.KindTokenRefreshFailed, "refresh.fire", err)
	zap.L().Warn("refresh: renewal failed, signing out locally", zap.Error(failure))
	if serr := s.provider.SignOut(ctx, auth.ScopeLocal); serr != nil {
		zap.L().Warn("refresh: local sign-out failed", zap.Error(serr))
	}
	if s.hooks.SignedOut != nil {
		s.hooks.SignedOut(ctx, failure)
	}
}

func (s *Scheduler) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.gen
}
