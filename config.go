package netbatcher

import "time"

// Configuration holds every tunable the façade, policy evaluator, and
// scheduler consult. It is copy-on-read: components capture a snapshot at
// each decision point rather than holding a reference across a suspension
// point (§5). Hot-swapping a whole Configuration is handled by the façade's
// atomic.Pointer, not by this type.
type Configuration struct {
	MaxDeferralTime  time.Duration `yaml:"max_deferral_time"`
	MinBatchInterval time.Duration `yaml:"min_batch_interval"`
	PiggybackWindow  time.Duration `yaml:"piggyback_window"`

	MaxQueueSize   int `yaml:"max_queue_size"`
	MaxPayloadSize int `yaml:"max_payload_size"`
	MaxBatchSize   int `yaml:"max_batch_size"`

	PreferWifi     bool `yaml:"prefer_wifi"`
	PreferCharging bool `yaml:"prefer_charging"`

	PiggybackOnUserRequests bool `yaml:"piggyback_on_user_requests"`
	FlushOnBackground       bool `yaml:"flush_on_background"`
	AllowCellular           bool `yaml:"allow_cellular"`
	RequireWifiForBulk      bool `yaml:"require_wifi_for_bulk"`

	ImmediateDomains  []string `yaml:"immediate_domains"`
	DeferrableDomains []string `yaml:"deferrable_domains"`

	EnableLogging bool `yaml:"enable_logging"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// commonPreset fields shared by every named preset (§6).
func commonPreset() Configuration {
	return Configuration{
		PiggybackWindow: 5 * time.Second,
		MaxQueueSize:    100,
		MaxPayloadSize:  100_000,
		MaxBatchSize:    20,
		AllowCellular:   true,
		EnableLogging:   true,
	}
}

// BalancedConfig favors WiFi/charging but tolerates cellular; a moderate
// default deadline and drain cadence.
func BalancedConfig() Configuration {
	c := commonPreset()
	c.MaxDeferralTime = 900 * time.Second
	c.MinBatchInterval = 60 * time.Second
	c.RequireWifiForBulk = true
	c.PreferWifi = true
	c.PreferCharging = true
	c.PiggybackOnUserRequests = true
	c.FlushOnBackground = true
	return c
}

// BatterySaverConfig defers aggressively and drains infrequently.
func BatterySaverConfig() Configuration {
	c := commonPreset()
	c.MaxDeferralTime = 1800 * time.Second
	c.MinBatchInterval = 300 * time.Second
	c.RequireWifiForBulk = true
	c.PreferWifi = true
	c.PreferCharging = true
	c.PiggybackOnUserRequests = true
	c.FlushOnBackground = true
	return c
}

// MinimalConfig drains frequently with a short deadline and allows bulk
// traffic off WiFi — suited to development and low-stakes hosts.
func MinimalConfig() Configuration {
	c := commonPreset()
	c.MaxDeferralTime = 300 * time.Second
	c.MinBatchInterval = 30 * time.Second
	c.RequireWifiForBulk = false
	c.PiggybackOnUserRequests = true
	return c
}
