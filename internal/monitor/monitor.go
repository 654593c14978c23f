// Package monitor implements the device-state monitor (C2): it owns the
// single writable copy of DeviceState, applies updates pushed by an
// injected PlatformSignals source, and fans out change notifications on an
// event bus so the scheduler and façade never poll it.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parkerlane/netbatcher/internal/telemetry/events"
)

// NetworkType enumerates the device's current connectivity medium.
type NetworkType string

const (
	NetworkWifi     NetworkType = "wifi"
	NetworkCellular NetworkType = "cellular"
	NetworkEthernet NetworkType = "ethernet"
	NetworkOther    NetworkType = "other"
	NetworkNone     NetworkType = "none"
	NetworkUnknown  NetworkType = "unknown"
)

// DeviceState is the in-memory, observable snapshot of connectivity and
// power conditions. Values are copied, never shared by pointer, so readers
// never observe a partially-applied update.
type DeviceState struct {
	NetworkType             NetworkType
	IsConnected             bool
	IsCharging              bool
	BatteryLevel            float64
	LastUserNetworkActivity time.Time
}

// Signal is one platform-sourced update. Every field replaces the current
// value (an unset field resets it to its zero value), so PlatformSignals
// implementations report the full current state on every signal, matching
// how OS connectivity/battery callbacks typically behave.
type Signal struct {
	NetworkType  NetworkType
	IsConnected  bool
	IsCharging   bool
	BatteryLevel float64
}

// PlatformSignals is the injected capability abstracting whatever mechanism
// the host platform exposes for connectivity and battery changes. Start
// must not block; it pushes Signal values to sink until ctx is canceled.
type PlatformSignals interface {
	Start(ctx context.Context, sink func(Signal))
}

// Monitor publishes DeviceState and is safe to read from any goroutine
// without blocking the signal source.
type Monitor struct {
	state atomic.Pointer[DeviceState]
	bus   events.Bus

	mu   sync.Mutex
	last time.Time // last_user_network_activity, monotone in wall-clock time
}

// New returns a Monitor with an initial DeviceState of "unknown, never
// connected" and starts consuming signals if platform is non-nil.
func New(ctx context.Context, platform PlatformSignals, bus events.Bus) *Monitor {
	m := &Monitor{bus: bus}
	m.state.Store(&DeviceState{NetworkType: NetworkUnknown})
	if platform != nil {
		platform.Start(ctx, m.apply)
	}
	return m
}

// Snapshot returns the current DeviceState. Safe for concurrent use.
func (m *Monitor) Snapshot() DeviceState {
	return *m.state.Load()
}

func (m *Monitor) apply(sig Signal) {
	m.mu.Lock()
	last := m.last
	m.mu.Unlock()
	next := DeviceState{
		NetworkType:             sig.NetworkType,
		IsConnected:             sig.IsConnected,
		IsCharging:              sig.IsCharging,
		BatteryLevel:            sig.BatteryLevel,
		LastUserNetworkActivity: last,
	}
	m.state.Store(&next)
	m.notify(next)
}

// RecordUserNetworkActivity advances last_user_network_activity to now. It
// only ever moves forward in time.
func (m *Monitor) RecordUserNetworkActivity(now time.Time) {
	m.mu.Lock()
	if now.After(m.last) {
		m.last = now
	}
	last := m.last
	m.mu.Unlock()

	prev := m.state.Load()
	next := *prev
	next.LastUserNetworkActivity = last
	m.state.Store(&next)
	m.notify(next)
}

// IsWithinPiggybackWindow reports whether now is less than window past the
// last recorded user-initiated network activity.
func (m *Monitor) IsWithinPiggybackWindow(window time.Duration, now time.Time) bool {
	last := m.Snapshot().LastUserNetworkActivity
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < window
}

// notify publishes the new snapshot on the bus. Observer callbacks consume
// off their own subscription channel and must not call back into the
// Monitor synchronously.
func (m *Monitor) notify(state DeviceState) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(events.Event{
		Category: events.CategoryDeviceState,
		Fields: map[string]any{
			"network_type": string(state.NetworkType),
			"is_connected": state.IsConnected,
			"is_charging":  state.IsCharging,
			"battery":      state.BatteryLevel,
		},
	})
}
