package netbatcher

import (
	"reflect"
	"testing"
	"time"
)

func TestPresetsMatchSpecValues(t *testing.T) {
	cases := []struct {
		name               string
		cfg                Configuration
		maxDeferral        time.Duration
		minBatchInterval   time.Duration
		requireWifiForBulk bool
	}{
		{"balanced", BalancedConfig(), 900 * time.Second, 60 * time.Second, true},
		{"battery_saver", BatterySaverConfig(), 1800 * time.Second, 300 * time.Second, true},
		{"minimal", MinimalConfig(), 300 * time.Second, 30 * time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.cfg.MaxDeferralTime != tc.maxDeferral {
				t.Fatalf("MaxDeferralTime = %v, want %v", tc.cfg.MaxDeferralTime, tc.maxDeferral)
			}
			if tc.cfg.MinBatchInterval != tc.minBatchInterval {
				t.Fatalf("MinBatchInterval = %v, want %v", tc.cfg.MinBatchInterval, tc.minBatchInterval)
			}
			if tc.cfg.RequireWifiForBulk != tc.requireWifiForBulk {
				t.Fatalf("RequireWifiForBulk = %v, want %v", tc.cfg.RequireWifiForBulk, tc.requireWifiForBulk)
			}
			// Shared across every preset per spec §6.
			if tc.cfg.PiggybackWindow != 5*time.Second {
				t.Fatalf("PiggybackWindow = %v, want 5s", tc.cfg.PiggybackWindow)
			}
			if tc.cfg.MaxQueueSize != 100 {
				t.Fatalf("MaxQueueSize = %d, want 100", tc.cfg.MaxQueueSize)
			}
			if tc.cfg.MaxPayloadSize != 100_000 {
				t.Fatalf("MaxPayloadSize = %d, want 100000", tc.cfg.MaxPayloadSize)
			}
			if tc.cfg.MaxBatchSize != 20 {
				t.Fatalf("MaxBatchSize = %d, want 20", tc.cfg.MaxBatchSize)
			}
		})
	}
}

func TestPresetConstructionIsIdempotent(t *testing.T) {
	// Configuration carries slice fields, so compare with reflect.DeepEqual
	// rather than == (which isn't valid on structs with slice members).
	if !reflect.DeepEqual(BalancedConfig(), BalancedConfig()) {
		t.Fatalf("BalancedConfig() is not idempotent")
	}
	if !reflect.DeepEqual(BatterySaverConfig(), BatterySaverConfig()) {
		t.Fatalf("BatterySaverConfig() is not idempotent")
	}
	if !reflect.DeepEqual(MinimalConfig(), MinimalConfig()) {
		t.Fatalf("MinimalConfig() is not idempotent")
	}
}

func TestConfigurationFieldRoundTrip(t *testing.T) {
	cfg := BalancedConfig()
	cfg.MaxDeferralTime = 42 * time.Second
	cfg.MinBatchInterval = 7 * time.Second
	cfg.PiggybackWindow = 3 * time.Second
	cfg.MaxQueueSize = 9
	cfg.MaxPayloadSize = 1234
	cfg.MaxBatchSize = 11
	cfg.PreferWifi = false
	cfg.PreferCharging = false
	cfg.PiggybackOnUserRequests = false
	cfg.FlushOnBackground = false
	cfg.AllowCellular = false
	cfg.RequireWifiForBulk = false
	cfg.ImmediateDomains = []string{"a.example"}
	cfg.DeferrableDomains = []string{"b.example"}
	cfg.EnableLogging = false
	cfg.EnableMetrics = true

	if cfg.MaxDeferralTime != 42*time.Second ||
		cfg.MinBatchInterval != 7*time.Second ||
		cfg.PiggybackWindow != 3*time.Second ||
		cfg.MaxQueueSize != 9 ||
		cfg.MaxPayloadSize != 1234 ||
		cfg.MaxBatchSize != 11 ||
		cfg.PreferWifi ||
		cfg.PreferCharging ||
		cfg.PiggybackOnUserRequests ||
		cfg.FlushOnBackground ||
		cfg.AllowCellular ||
		cfg.RequireWifiForBulk ||
		len(cfg.ImmediateDomains) != 1 || cfg.ImmediateDomains[0] != "a.example" ||
		len(cfg.DeferrableDomains) != 1 || cfg.DeferrableDomains[0] != "b.example" ||
		cfg.EnableLogging ||
		!cfg.EnableMetrics {
		t.Fatalf("setting every field and reading it back did not round-trip: %+v", cfg)
	}
}

func TestEstimatedWakeUpsSavedNeverNegative(t *testing.T) {
	cases := []Statistics{
		{BatchCount: 0, TotalRequests: 0},
		{BatchCount: 5, TotalRequests: 3}, // more batches than requests shouldn't happen, but must clamp
		{BatchCount: 1, TotalRequests: 10},
		{BatchCount: 10, TotalRequests: 10},
	}
	for _, s := range cases {
		saved := s.EstimatedWakeUpsSaved()
		if saved < 0 {
			t.Fatalf("EstimatedWakeUpsSaved() = %d, must never be negative (stats %+v)", saved, s)
		}
		if saved > s.TotalRequests {
			t.Fatalf("EstimatedWakeUpsSaved() = %d exceeds TotalRequests %d", saved, s.TotalRequests)
		}
	}
}

func TestAverageRequestsPerBatchZeroWhenNoBatches(t *testing.T) {
	s := Statistics{BatchCount: 0, TotalRequests: 0}
	if avg := s.AverageRequestsPerBatch(); avg != 0 {
		t.Fatalf("AverageRequestsPerBatch() = %v, want 0 for no batches", avg)
	}
}
