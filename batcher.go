// Package netbatcher is an in-process, energy-aware network request
// batcher for mobile-class hosts. It accepts non-urgent outbound HTTP
// requests, durably queues them, and transmits them together when device
// conditions are favorable, trading latency for fewer radio wake-ups.
package netbatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/parkerlane/netbatcher/internal/hostgovernor"
	"github.com/parkerlane/netbatcher/internal/logging"
	"github.com/parkerlane/netbatcher/internal/monitor"
	"github.com/parkerlane/netbatcher/internal/scheduler"
	"github.com/parkerlane/netbatcher/internal/store"
	"github.com/parkerlane/netbatcher/internal/telemetry/events"
	"github.com/parkerlane/netbatcher/internal/telemetry/metrics"
	"github.com/parkerlane/netbatcher/internal/telemetry/tracing"
	"github.com/parkerlane/netbatcher/internal/transmitter"
)

// Options configures a Batcher constructed with New.
type Options struct {
	// StorePath is the filesystem path of the SQLite file, conventionally
	// "<per-app-writable-dir>/NetworkBatcher/<identifier>.sqlite".
	StorePath string
	// Config is the initial Configuration; zero value is invalid, use one
	// of BalancedConfig/BatterySaverConfig/MinimalConfig as a base.
	Config Configuration
	// Transport performs the actual network I/O. Required.
	Transport Transport
	// PlatformSignals feeds connectivity/battery updates to the device
	// monitor. May be nil in tests, leaving DeviceState at its initial
	// value (NetworkUnknown, not connected); only user-network activity
	// is recorded then.
	PlatformSignals monitor.PlatformSignals
	// MetricsProvider backs the enable_metrics toggle; defaults to a noop
	// provider. Use metrics.NewPrometheusProvider or metrics.NewOTelProvider.
	MetricsProvider metrics.Provider
	// MaxConcurrentHosts bounds how many hosts the transmitter drains in
	// parallel within one batch; 0 means unbounded.
	MaxConcurrentHosts int
}

// Batcher is the public façade (C7): enqueue, flush, enable/disable,
// statistics, and lifecycle hooks. It coalesces external triggers into
// scheduler events.
type Batcher struct {
	cfg     atomic.Pointer[Configuration]
	enabled atomic.Bool

	store      *store.Store
	monitor    *monitor.Monitor
	classifier *Classifier
	scheduler  *scheduler.Scheduler
	governor   *hostgovernor.Governor
	transport  Transport
	logger     logging.Logger
	tracer     tracing.Tracer

	metricsProvider metrics.Provider
	mEnqueued       metrics.Counter
	mImmediateFail  metrics.Counter

	reloader *ConfigReloader

	closeOnce sync.Once
}

// New constructs a Batcher, opens its durable store, and starts the
// scheduler's periodic tick and trigger inbox.
func New(ctx context.Context, opts Options) (*Batcher, error) {
	if opts.Transport == nil {
		panic("netbatcher: Options.Transport is required")
	}
	st, err := store.Open(opts.StorePath)
	if err != nil {
		return nil, err
	}

	provider := opts.MetricsProvider
	if provider == nil || !opts.Config.EnableMetrics {
		provider = metrics.NewNoopProvider()
	}
	bus := events.NewBus(provider)

	b := &Batcher{
		store:           st,
		transport:       opts.Transport,
		metricsProvider: provider,
	}
	b.cfg.Store(&opts.Config)
	b.enabled.Store(true)

	if opts.Config.EnableLogging {
		b.logger = logging.New(nil)
	} else {
		b.logger = logging.Noop()
	}
	b.tracer = tracing.NewTracer(opts.Config.EnableLogging)

	b.monitor = monitor.New(ctx, opts.PlatformSignals, bus)
	b.classifier = NewClassifier(b.Config)
	b.governor = hostgovernor.New(hostgovernor.Options{MaxConcurrentHosts: opts.MaxConcurrentHosts})

	transport := transportAdapter{t: opts.Transport}
	b.scheduler = scheduler.New(b.schedulerConfig, b.IsEnabled, st, b.monitor, transport, b.governor, bus, b.logger)
	b.scheduler.Start(ctx)

	b.initMetrics()
	return b, nil
}

func (b *Batcher) initMetrics() {
	if b.metricsProvider == nil {
		return
	}
	b.mEnqueued = b.metricsProvider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "netbatcher", Subsystem: "facade", Name: "enqueued_total", Help: "Total requests enqueued", Labels: []string{"priority"}}})
	b.mImmediateFail = b.metricsProvider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "netbatcher", Subsystem: "facade", Name: "immediate_failures_total", Help: "Total immediate-priority requests that failed transport"}})
}

// Config returns the current Configuration snapshot. Every decision point
// calls this fresh rather than holding a reference across a suspension
// point.
func (b *Batcher) Config() Configuration {
	return *b.cfg.Load()
}

// SetConfiguration hot-swaps the Configuration. Existing in-flight
// decisions complete against their captured snapshot; subsequent decisions
// see the new one.
func (b *Batcher) SetConfiguration(cfg Configuration) {
	b.cfg.Store(&cfg)
}

func (b *Batcher) schedulerConfig() scheduler.Config {
	cfg := b.Config()
	return scheduler.Config{
		MinBatchInterval:   cfg.MinBatchInterval,
		MaxQueueSize:       cfg.MaxQueueSize,
		MaxPayloadSize:     cfg.MaxPayloadSize,
		MaxBatchSize:       cfg.MaxBatchSize,
		FlushOnBackground:  cfg.FlushOnBackground,
		AllowCellular:      cfg.AllowCellular,
		RequireWifiForBulk: cfg.RequireWifiForBulk,
		PiggybackWindow:    cfg.PiggybackWindow,
	}
}

// IsEnabled reports whether the batcher currently accepts drains.
func (b *Batcher) IsEnabled() bool { return b.enabled.Load() }

// SetEnabled enables or disables the batcher. Disabling only prevents new
// drains from starting (periodic tick and trigger-driven drains); a drain
// already in flight is not interrupted, and Flush still forces a drain.
// While disabled, Enqueue rejects new requests with ErrDisabled.
func (b *Batcher) SetEnabled(enabled bool) {
	b.enabled.Store(enabled)
}

// EnqueueOption customizes a single Enqueue call.
type EnqueueOption func(*enqueueOpts)

type enqueueOpts struct {
	maxDeferral time.Duration
}

// WithMaxDeferral overrides the configured default per-request deadline.
func WithMaxDeferral(d time.Duration) EnqueueOption {
	return func(o *enqueueOpts) { o.maxDeferral = d }
}

// Enqueue accepts one outbound request. priority may be 0 to request
// automatic classification via the domain rules, or an explicit priority
// including PriorityBulk (never inferred automatically). Immediate-priority
// requests bypass the store and are handed straight to Transport; the
// returned id is a fresh, untracked value. Queued requests return the
// persisted record's id.
func (b *Batcher) Enqueue(ctx context.Context, url, method string, headers map[string]string, body []byte, priority Priority, opts ...EnqueueOption) (string, error) {
	if !b.IsEnabled() {
		return "", ErrDisabled
	}
	host := hostOf(url)
	if host == "" {
		return "", ErrInvalidRequest
	}

	ctx, span := b.tracer.StartSpan(ctx, "enqueue")
	defer span.End()

	effective := b.classifier.Classify(host, priority)
	id := uuid.NewString()

	if effective == PriorityImmediate {
		res := b.transport.Do(ctx, TransportRequest{URL: url, Method: method, Headers: headers, Body: body})
		if !res.Success() {
			if b.mImmediateFail != nil {
				b.mImmediateFail.Inc(1)
			}
			return "", &RequestError{URL: url, StatusCode: res.StatusCode, Err: res.Err}
		}
		b.monitor.RecordUserNetworkActivity(time.Now())
		b.scheduler.PostTrigger(events.TriggerEnqueued)
		if b.mEnqueued != nil {
			b.mEnqueued.Inc(1, "immediate")
		}
		return id, nil
	}

	cfg := b.Config()
	o := enqueueOpts{maxDeferral: cfg.MaxDeferralTime}
	for _, opt := range opts {
		opt(&o)
	}

	req := store.Request{
		ID:              id,
		URL:             url,
		Method:          method,
		Headers:         headers,
		Body:            body,
		Priority:        int(effective),
		EnqueuedAt:      time.Now(),
		MaxDeferralTime: o.maxDeferral,
	}
	if err := b.store.Save(ctx, req); err != nil {
		b.logger.ErrorCtx(ctx, "enqueue save failed", "error", err)
		return "", newStorageError("save", err)
	}
	b.scheduler.PostTrigger(events.TriggerEnqueued)
	if b.mEnqueued != nil {
		b.mEnqueued.Inc(1, effective.String())
	}
	return id, nil
}

// Flush forces a drain regardless of policy, subject to the single-in-
// flight invariant: concurrent flushes coalesce.
func (b *Batcher) Flush(ctx context.Context, reason string) {
	b.scheduler.Flush(ctx, reason)
}

// NotifyUserNetworkActivity records user-initiated network activity and,
// if piggyback_on_user_requests is enabled, posts a maybe-drain event so
// queued requests can piggyback on the warm radio.
func (b *Batcher) NotifyUserNetworkActivity() {
	b.monitor.RecordUserNetworkActivity(time.Now())
	if b.Config().PiggybackOnUserRequests {
		b.scheduler.PostTrigger(events.TriggerUserActivity)
	}
}

// NotifyBackground signals a host lifecycle background transition. If
// flush_on_background is set, it forces a drain before returning — callers
// are expected to have already acquired a host-granted background-task
// window and to release it once this returns.
func (b *Batcher) NotifyBackground(ctx context.Context) {
	if !b.Config().FlushOnBackground {
		return
	}
	b.scheduler.Flush(ctx, "lifecycle_background")
}

// Statistics composes store aggregates with live monitor data.
func (b *Batcher) Statistics(ctx context.Context, since time.Time) (Statistics, error) {
	stats, err := b.store.TransmissionStats(ctx, since)
	if err != nil {
		return Statistics{}, newStorageError("transmission_stats", err)
	}
	pending, err := b.store.PendingRequests(ctx)
	if err != nil {
		return Statistics{}, newStorageError("pending_requests", err)
	}
	var queuedBytes int64
	for _, r := range pending {
		queuedBytes += int64(fromStoreRequest(r).PayloadSize())
	}
	device := b.monitor.Snapshot()
	return Statistics{
		BatchCount:     stats.BatchCount,
		TotalRequests:  stats.TotalRequests,
		TotalBytes:     stats.TotalBytes,
		QueuedRequests: len(pending),
		QueuedBytes:    queuedBytes,
		NetworkType:    device.NetworkType,
		IsCharging:     device.IsCharging,
		BatteryLevel:   device.BatteryLevel,
	}, nil
}

func fromStoreRequest(r store.Request) DeferredRequest {
	return DeferredRequest{
		ID:              r.ID,
		URL:             r.URL,
		Method:          r.Method,
		Headers:         r.Headers,
		Body:            r.Body,
		Priority:        Priority(r.Priority),
		EnqueuedAt:      r.EnqueuedAt,
		MaxDeferralTime: r.MaxDeferralTime,
	}
}

// Close stops the scheduler (waiting for any in-flight drain to complete),
// stops the config reloader if one was attached, and releases the store.
func (b *Batcher) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.reloader != nil {
			b.reloader.Stop()
		}
		b.scheduler.Stop()
		err = b.store.Close()
	})
	return err
}

// WatchConfigFile loads cfg from path and hot-reloads it on subsequent
// writes to the file.
func (b *Batcher) WatchConfigFile(ctx context.Context, path string) error {
	cfg, err := LoadConfigurationFile(path)
	if err != nil {
		return err
	}
	b.SetConfiguration(cfg)

	reloader, err := NewConfigReloader(path, b.SetConfiguration)
	if err != nil {
		return err
	}
	if err := reloader.Watch(ctx); err != nil {
		return err
	}
	b.reloader = reloader
	return nil
}

type transportAdapter struct{ t Transport }

func (a transportAdapter) Do(ctx context.Context, req transmitter.Request) transmitter.Result {
	res := a.t.Do(ctx, TransportRequest{URL: req.URL, Method: req.Method, Headers: req.Headers, Body: req.Body})
	return transmitter.Result{StatusCode: res.StatusCode, Err: res.Err}
}

var (
	defaultMu       sync.Mutex
	defaultInstance *Batcher
)

// Default returns the process-wide singleton Batcher, constructing it from
// opts on first call. A convenience for hosts that don't need multiple
// tenants or constructor-based instances; tests and multi-tenant hosts
// should prefer New directly.
func Default(ctx context.Context, opts Options) (*Batcher, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultInstance != nil {
		return defaultInstance, nil
	}
	b, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}
	defaultInstance = b
	return b, nil
}

// ResetDefault clears the process-wide singleton so a subsequent Default
// call constructs a fresh instance. Intended for tests.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultInstance = nil
}
