// Package policy implements the pure transmit/wait decision function (C3).
// It holds no state and performs no I/O, so it is trivially unit-testable
// against the enumerated rule table.
package policy

import "time"

// Priority mirrors the root package's Priority without importing it, to
// keep this package dependency-free and independently testable.
type Priority int

const (
	PriorityImmediate  Priority = 1
	PrioritySoon       Priority = 2
	PriorityDeferrable Priority = 3
	PriorityBulk       Priority = 4
)

// NetworkType mirrors the root package's NetworkType constants.
type NetworkType string

const (
	NetworkWifi     NetworkType = "wifi"
	NetworkCellular NetworkType = "cellular"
	NetworkEthernet NetworkType = "ethernet"
	NetworkOther    NetworkType = "other"
	NetworkNone     NetworkType = "none"
	NetworkUnknown  NetworkType = "unknown"
)

// DeviceState is the subset of device conditions the evaluator consults.
type DeviceState struct {
	NetworkType             NetworkType
	IsConnected             bool
	IsCharging              bool
	BatteryLevel            float64
	LastUserNetworkActivity time.Time
}

// Config is the subset of Configuration the evaluator consults.
type Config struct {
	AllowCellular      bool
	RequireWifiForBulk bool
	PiggybackWindow    time.Duration
}

// Decision is the evaluator's output: Transmit or wait, with a free-form
// reason carried only for statistics and logging.
type Decision struct {
	Transmit bool
	Reason   string
}

func transmit(reason string) Decision { return Decision{Transmit: true, Reason: reason} }
func wait(reason string) Decision     { return Decision{Transmit: false, Reason: reason} }

// Evaluate applies the ten ordered rules from the policy table; first match
// wins. now is threaded explicitly so tests can pin the piggyback window
// deterministically.
func Evaluate(state DeviceState, cfg Config, priority Priority, now time.Time) Decision {
	switch {
	case !state.IsConnected:
		return wait("no network")
	case priority == PriorityImmediate:
		return transmit("immediate")
	case state.NetworkType == NetworkCellular && !cfg.AllowCellular:
		return wait("cellular not allowed")
	case priority == PriorityBulk && cfg.RequireWifiForBulk && state.NetworkType != NetworkWifi:
		return wait("bulk requires WiFi")
	case state.BatteryLevel < 0.20 && !state.IsCharging && (priority == PriorityDeferrable || priority == PriorityBulk):
		return wait("low battery")
	case state.NetworkType == NetworkWifi && state.IsCharging:
		return transmit("optimal")
	case (state.NetworkType == NetworkWifi || state.IsCharging) && priority != PriorityBulk:
		return transmit("good conditions")
	case withinPiggybackWindow(state.LastUserNetworkActivity, cfg.PiggybackWindow, now):
		return transmit("radio warm")
	case priority == PriorityDeferrable || priority == PriorityBulk:
		return wait("awaiting better conditions")
	default:
		return transmit("default allow")
	}
}

func withinPiggybackWindow(last time.Time, window time.Duration, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < window
}
