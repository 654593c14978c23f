// Package hostgovernor bounds and protects per-host transmission fan-out
// inside a single drain. It adapts two shapes from the reference engine:
// the per-domain circuit breaker from its adaptive rate limiter (closed /
// open / half-open, driven by transport feedback rather than a fixed RPS
// shape) and the resource manager's acquire/release concurrency semaphore.
// The Policy Evaluator is this module's sole transmit/wait gate; the
// governor only prevents a single consistently-failing host from tying up
// a transmission worker every drain.
package hostgovernor

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time for deterministic breaker tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

const (
	breakerClosed = iota
	breakerOpen
	breakerHalfOpen
)

// breakerState mirrors the consecutive-failure breaker used for outbound
// domain governance: it opens after a run of failures, cools down, and
// probes with a single half-open attempt before fully closing again.
type breakerState struct {
	state        int
	consecutive  int
	nextAttempt  time.Time
	halfOpenUsed bool
}

// Governor bounds concurrent per-host transmission workers within a drain
// and tracks a circuit breaker per host so a single bad endpoint doesn't
// consume a worker on every drain while it's failing.
type Governor struct {
	clock Clock

	maxInFlight int
	slots       chan struct{}

	mu       sync.Mutex
	breakers map[string]*breakerState

	openAfterFailures int
	cooldown          time.Duration
}

// Options configures a Governor. MaxConcurrentHosts bounds how many hosts
// can be transmitting at once inside one drain (0 means unbounded).
// OpenAfterFailures is the consecutive-failure count that trips a host's
// breaker; Cooldown is how long it stays open before a half-open probe.
type Options struct {
	MaxConcurrentHosts int
	OpenAfterFailures  int
	Cooldown           time.Duration
	Clock              Clock
}

// New returns a Governor. Defaults: OpenAfterFailures=5, Cooldown=30s.
func New(opts Options) *Governor {
	if opts.OpenAfterFailures <= 0 {
		opts.OpenAfterFailures = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	g := &Governor{
		clock:             opts.Clock,
		maxInFlight:       opts.MaxConcurrentHosts,
		breakers:          make(map[string]*breakerState),
		openAfterFailures: opts.OpenAfterFailures,
		cooldown:          opts.Cooldown,
	}
	if opts.MaxConcurrentHosts > 0 {
		g.slots = make(chan struct{}, opts.MaxConcurrentHosts)
	}
	return g
}

// AcquireHostSlot blocks until a concurrency slot is available for
// transmitting one host's group, or ctx is done. A Governor with no
// concurrency bound always succeeds immediately.
func (g *Governor) AcquireHostSlot(ctx context.Context) error {
	if g.slots == nil {
		return nil
	}
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseHostSlot returns a concurrency slot acquired by AcquireHostSlot.
func (g *Governor) ReleaseHostSlot() {
	if g.slots == nil {
		return
	}
	select {
	case <-g.slots:
	default:
	}
}

// Allow reports whether host's breaker currently permits a transmission
// attempt. A half-open breaker allows exactly one probing attempt.
func (g *Governor) Allow(host string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.breakerFor(host)
	now := g.clock.Now()
	switch b.state {
	case breakerOpen:
		if now.Before(b.nextAttempt) {
			return false
		}
		b.state = breakerHalfOpen
		b.halfOpenUsed = false
		fallthrough
	case breakerHalfOpen:
		if b.halfOpenUsed {
			return false
		}
		b.halfOpenUsed = true
		return true
	default:
		return true
	}
}

// ReportSuccess closes a half-open breaker and resets the failure streak.
func (g *Governor) ReportSuccess(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.breakerFor(host)
	b.state = breakerClosed
	b.consecutive = 0
	b.halfOpenUsed = false
}

// ReportFailure records a failed transmission and trips the breaker after
// OpenAfterFailures consecutive failures (or immediately re-opens a
// half-open probe that failed).
func (g *Governor) ReportFailure(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.breakerFor(host)
	b.consecutive++
	if b.state == breakerHalfOpen || b.consecutive >= g.openAfterFailures {
		b.state = breakerOpen
		b.nextAttempt = g.clock.Now().Add(g.cooldown)
	}
}

func (g *Governor) breakerFor(host string) *breakerState {
	b := g.breakers[host]
	if b == nil {
		b = &breakerState{}
		g.breakers[host] = b
	}
	return b
}
