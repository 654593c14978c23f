package netbatcher

import (
	"time"

	"github.com/parkerlane/netbatcher/internal/monitor"
)

// DeferredRequest is a queued, not-yet-transmitted request. A row with
// Priority == PriorityImmediate must never exist in the store — immediate
// requests bypass persistence entirely.
type DeferredRequest struct {
	ID              string
	URL             string
	Method          string
	Headers         map[string]string
	Body            []byte
	Priority        Priority
	EnqueuedAt      time.Time
	MaxDeferralTime time.Duration
}

// Domain returns the lowercased host component of URL.
func (r DeferredRequest) Domain() string {
	return hostOf(r.URL)
}

// PayloadSize is URL length plus the sum of header name/value lengths plus
// body length, used for payload-size-forced drains and byte statistics.
func (r DeferredRequest) PayloadSize() int {
	n := len(r.URL) + len(r.Body)
	for k, v := range r.Headers {
		n += len(k) + len(v)
	}
	return n
}

// IsExpired reports whether now is past EnqueuedAt + MaxDeferralTime.
func (r DeferredRequest) IsExpired(now time.Time) bool {
	return now.After(r.EnqueuedAt.Add(r.MaxDeferralTime))
}

// TransmissionLogRecord is one append-only entry describing the outcome of
// a single drain, used only for statistics.
type TransmissionLogRecord struct {
	Timestamp     time.Time
	RequestCount  int
	TotalBytes    int64
	NetworkType   string
	IsCharging    bool
	TriggerReason string
}

// NetworkType enumerates the device's current connectivity medium. The
// device-state monitor owns the canonical definition; this is an alias so
// callers of the public façade never need to import the internal package.
type NetworkType = monitor.NetworkType

const (
	NetworkWifi     = monitor.NetworkWifi
	NetworkCellular = monitor.NetworkCellular
	NetworkEthernet = monitor.NetworkEthernet
	NetworkOther    = monitor.NetworkOther
	NetworkNone     = monitor.NetworkNone
	NetworkUnknown  = monitor.NetworkUnknown
)

// DeviceState is the in-memory, observable snapshot of connectivity and
// power conditions (C2's published state).
type DeviceState = monitor.DeviceState

// Statistics is the derived snapshot returned by Façade.Statistics.
type Statistics struct {
	BatchCount      int64
	TotalRequests   int64
	TotalBytes      int64
	QueuedRequests  int
	QueuedBytes     int64
	NetworkType     NetworkType
	IsCharging      bool
	BatteryLevel    float64
}

// AverageRequestsPerBatch is total_requests / batch_count, 0 if no batches.
func (s Statistics) AverageRequestsPerBatch() float64 {
	if s.BatchCount == 0 {
		return 0
	}
	return float64(s.TotalRequests) / float64(s.BatchCount)
}

// EstimatedWakeUpsSaved is max(0, total_requests - batch_count): every
// request beyond one-per-batch represents a radio wake-up avoided.
func (s Statistics) EstimatedWakeUpsSaved() int64 {
	saved := s.TotalRequests - s.BatchCount
	if saved < 0 {
		return 0
	}
	return saved
}
