// Package scheduler implements the batch scheduler (C5): the single
// serialization point for drain attempts. It drives a periodic tick plus an
// inbox of event triggers, consults the policy evaluator with live monitor
// data, and hands forced or policy-approved batches to the transmitter.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/parkerlane/netbatcher/internal/hostgovernor"
	"github.com/parkerlane/netbatcher/internal/logging"
	"github.com/parkerlane/netbatcher/internal/monitor"
	"github.com/parkerlane/netbatcher/internal/policy"
	"github.com/parkerlane/netbatcher/internal/store"
	"github.com/parkerlane/netbatcher/internal/telemetry/events"
	"github.com/parkerlane/netbatcher/internal/transmitter"
)

// Config is the subset of Configuration the scheduler consults, captured as
// a snapshot at each decision point rather than held across a suspension
// point.
type Config struct {
	MinBatchInterval   time.Duration
	MaxQueueSize       int
	MaxPayloadSize     int
	MaxBatchSize       int
	FlushOnBackground  bool
	AllowCellular      bool
	RequireWifiForBulk bool
	PiggybackWindow    time.Duration
}

// Scheduler is the sole serialization point for drain attempts: at most one
// drain runs process-wide.
type Scheduler struct {
	cfgFn     func() Config
	enabledFn func() bool
	now       func() time.Time

	store     *store.Store
	monitor   *monitor.Monitor
	transport transmitter.Transport
	gov       *hostgovernor.Governor
	bus       events.Bus
	logger    logging.Logger

	mu               sync.Mutex
	draining         bool
	doneCh           chan struct{}
	lastTransmission time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler. cfgFn and enabledFn are called fresh at every
// decision point; bus is subscribed to for trigger events.
func New(cfgFn func() Config, enabledFn func() bool, st *store.Store, mon *monitor.Monitor, transport transmitter.Transport, gov *hostgovernor.Governor, bus events.Bus, logger logging.Logger) *Scheduler {
	return &Scheduler{
		cfgFn:     cfgFn,
		enabledFn: enabledFn,
		now:       time.Now,
		store:     st,
		monitor:   mon,
		transport: transport,
		gov:       gov,
		bus:       bus,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic tick and the inbox consumer loop. Both run
// until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.tickLoop(ctx)

	if s.bus != nil {
		sub, err := s.bus.Subscribe(64)
		if err == nil {
			s.wg.Add(1)
			go s.inboxLoop(ctx, sub)
		}
	}
}

// Stop stops accepting new ticks/events and waits for any in-flight drain
// to complete before returning.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	// A Flush drain runs on its caller's goroutine, outside wg.
	s.mu.Lock()
	draining, done := s.draining, s.doneCh
	s.mu.Unlock()
	if draining {
		<-done
	}
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfgFn().MinBatchInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.enabledFn != nil && !s.enabledFn() {
				continue // periodic tick is paused while disabled
			}
			s.maybeDrain(ctx, "periodic")
			// Periodic ticks are rescheduled when configuration changes.
			if next := s.cfgFn().MinBatchInterval; next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (s *Scheduler) inboxLoop(ctx context.Context, sub events.Subscription) {
	defer s.wg.Done()
	defer sub.Close()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Category != events.CategoryTrigger {
				continue
			}
			s.handleTrigger(ctx, ev.Type)
		}
	}
}

// handleTrigger runs the non-forced drain path for an inbox trigger (an
// enqueue or a piggyback opportunity on user network activity). Flush and
// the background lifecycle transition bypass the inbox entirely — see the
// comment on TriggerEnqueued/TriggerUserActivity.
func (s *Scheduler) handleTrigger(ctx context.Context, triggerType string) {
	if s.enabledFn != nil && !s.enabledFn() {
		return
	}
	s.maybeDrain(ctx, triggerType)
}

// PostTrigger publishes a trigger event to the scheduler's inbox. Safe to
// call even if the scheduler hasn't started yet (events are dropped if
// there are no subscribers).
func (s *Scheduler) PostTrigger(triggerType string) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(events.Event{Category: events.CategoryTrigger, Type: triggerType})
}

// Flush forces a drain regardless of policy, subject to the single-in-
// flight invariant: a concurrent Flush (or tick-triggered drain already in
// progress) coalesces into the one in flight rather than queuing a second.
func (s *Scheduler) Flush(ctx context.Context, reason string) {
	s.runExclusive(ctx, true, reason)
}

// maybeDrain is the non-forced path: it checks min_batch_interval and the
// forcing conditions (queue size, payload size) before consulting policy.
func (s *Scheduler) maybeDrain(ctx context.Context, reason string) {
	cfg := s.cfgFn()

	count, err := s.store.Count(ctx)
	if err != nil {
		s.logErr(ctx, "count", err)
		return
	}
	payload, err := s.store.TotalPayloadSize(ctx)
	if err != nil {
		s.logErr(ctx, "total_payload_size", err)
		return
	}

	forced := (cfg.MaxQueueSize > 0 && count >= cfg.MaxQueueSize) || (cfg.MaxPayloadSize > 0 && int(payload) >= cfg.MaxPayloadSize)
	if !forced {
		s.mu.Lock()
		last := s.lastTransmission
		s.mu.Unlock()
		if s.now().Sub(last) < cfg.MinBatchInterval {
			return
		}
		state := s.monitor.Snapshot()
		decision := policy.Evaluate(toPolicyState(state), toPolicyConfig(cfg), policy.PriorityDeferrable, s.now())
		if !decision.Transmit {
			return
		}
	}
	s.runExclusive(ctx, forced, reason)
}

// runExclusive implements the single-flight guard shared by Flush and
// maybeDrain: at most one drain runs process-wide; a caller that arrives
// while one is in flight waits for it to finish (forced callers) or simply
// returns (non-forced callers — another drain already satisfies the
// "at most one in flight" invariant, and a second attempt moments later is
// unnecessary).
func (s *Scheduler) runExclusive(ctx context.Context, forced bool, reason string) {
	s.mu.Lock()
	if s.draining {
		done := s.doneCh
		s.mu.Unlock()
		if forced {
			<-done
		}
		return
	}
	s.draining = true
	done := make(chan struct{})
	s.doneCh = done
	s.mu.Unlock()

	s.drainOnce(ctx, reason)

	s.mu.Lock()
	s.draining = false
	s.mu.Unlock()
	close(done)
}

func (s *Scheduler) drainOnce(ctx context.Context, reason string) {
	now := s.now()

	if _, err := s.store.DeleteExpired(ctx, now); err != nil {
		s.logErr(ctx, "delete_expired", err)
	}

	cfg := s.cfgFn()
	batch, err := s.store.FetchBatch(ctx, cfg.MaxBatchSize)
	if err != nil {
		s.logErr(ctx, "fetch_batch", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	outcome := transmitter.Transmit(ctx, transmitter.FromStoreRequests(batch), s.transport, s.gov)

	if len(outcome.SuccessIDs) > 0 {
		if err := s.store.Delete(ctx, outcome.SuccessIDs); err != nil {
			s.logErr(ctx, "delete", err)
			return // catastrophic store error aborts the batch; next tick retries
		}
	}

	device := s.monitor.Snapshot()
	logErr := s.store.LogTransmission(ctx, store.LogRecord{
		Timestamp:     now,
		RequestCount:  outcome.SuccessCount,
		TotalBytes:    outcome.TotalBytes,
		NetworkType:   string(device.NetworkType),
		IsCharging:    device.IsCharging,
		TriggerReason: reason,
	})
	if logErr != nil {
		s.logErr(ctx, "log_transmission", logErr)
		return
	}

	s.mu.Lock()
	s.lastTransmission = now
	s.mu.Unlock()
}

func (s *Scheduler) logErr(ctx context.Context, op string, err error) {
	if s.logger != nil {
		s.logger.ErrorCtx(ctx, "scheduler operation failed", "op", op, "error", err)
	}
}

func toPolicyState(d monitor.DeviceState) policy.DeviceState {
	return policy.DeviceState{
		NetworkType:             policy.NetworkType(d.NetworkType),
		IsConnected:             d.IsConnected,
		IsCharging:              d.IsCharging,
		BatteryLevel:            d.BatteryLevel,
		LastUserNetworkActivity: d.LastUserNetworkActivity,
	}
}

func toPolicyConfig(c Config) policy.Config {
	return policy.Config{
		AllowCellular:      c.AllowCellular,
		RequireWifiForBulk: c.RequireWifiForBulk,
		PiggybackWindow:    c.PiggybackWindow,
	}
}
