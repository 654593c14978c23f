package netbatcher

import "strings"

// Priority orders a DeferredRequest for fetch_batch ordering; lower values
// are more urgent. Immediate never persists — it bypasses the store.
type Priority int

const (
	PriorityImmediate  Priority = 1
	PrioritySoon       Priority = 2
	PriorityDeferrable Priority = 3
	PriorityBulk       Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityImmediate:
		return "immediate"
	case PrioritySoon:
		return "soon"
	case PriorityDeferrable:
		return "deferrable"
	case PriorityBulk:
		return "bulk"
	default:
		return "unknown"
	}
}

// classify maps a lowercased host to a priority using substring domain
// rules. bulk is never inferred here; callers request it explicitly.
func classify(host string, immediateDomains, deferrableDomains []string) Priority {
	host = strings.ToLower(host)
	for _, d := range immediateDomains {
		if strings.Contains(host, strings.ToLower(d)) {
			return PriorityImmediate
		}
	}
	for _, d := range deferrableDomains {
		if strings.Contains(host, strings.ToLower(d)) {
			return PriorityDeferrable
		}
	}
	return PrioritySoon
}

// Classifier resolves the effective priority for a caller-supplied "auto"
// hint, consulting the configuration's domain lists (C4).
type Classifier struct {
	cfgFn func() Configuration
}

// NewClassifier returns a Classifier that reads domain lists from the
// supplied snapshot function at each call, per the copy-on-read rule (§5):
// no component pins a Configuration across a suspension point.
func NewClassifier(cfgFn func() Configuration) *Classifier {
	return &Classifier{cfgFn: cfgFn}
}

// Classify returns the effective priority for host. If requested is
// non-zero (the caller supplied an explicit priority, including bulk), it
// is returned unchanged — classification only resolves the "auto" case.
func (c *Classifier) Classify(host string, requested Priority) Priority {
	if requested != 0 {
		return requested
	}
	cfg := c.cfgFn()
	return classify(host, cfg.ImmediateDomains, cfg.DeferrableDomains)
}
