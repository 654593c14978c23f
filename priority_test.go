package netbatcher

import "testing"

func TestClassifyImmediateWinsOverDeferrable(t *testing.T) {
	// A host matching both an immediate and a deferrable substring must
	// resolve to immediate — immediate_domains is checked first and wins
	// regardless of any deferrable_domains match (spec §8).
	immediate := []string{"crash.example.com"}
	deferrable := []string{"example.com"}

	got := classify("crash.example.com", immediate, deferrable)
	if got != PriorityImmediate {
		t.Fatalf("expected PriorityImmediate, got %v", got)
	}
}

func TestClassifyDeferrableWhenNoImmediateMatch(t *testing.T) {
	got := classify("telemetry.example.com", []string{"crash.example.com"}, []string{"telemetry.example.com"})
	if got != PriorityDeferrable {
		t.Fatalf("expected PriorityDeferrable, got %v", got)
	}
}

func TestClassifyFallsBackToSoon(t *testing.T) {
	got := classify("unknown.example.com", []string{"crash.example.com"}, []string{"telemetry.example.com"})
	if got != PrioritySoon {
		t.Fatalf("expected PrioritySoon, got %v", got)
	}
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	got := classify("CRASH.Example.COM", []string{"crash.example.com"}, nil)
	if got != PriorityImmediate {
		t.Fatalf("expected PriorityImmediate regardless of host case, got %v", got)
	}
}

func TestClassifierHonorsExplicitPriorityOverAuto(t *testing.T) {
	c := NewClassifier(func() Configuration {
		return Configuration{ImmediateDomains: []string{"crash.example.com"}}
	})
	// An explicit bulk request must never be overridden by domain rules —
	// bulk is only ever requested explicitly, never inferred (spec §4.4).
	got := c.Classify("crash.example.com", PriorityBulk)
	if got != PriorityBulk {
		t.Fatalf("expected explicit PriorityBulk to be preserved, got %v", got)
	}
}

func TestClassifierAutoResolvesViaConfigSnapshot(t *testing.T) {
	c := NewClassifier(func() Configuration {
		return Configuration{
			ImmediateDomains:  []string{"crash.example.com"},
			DeferrableDomains: []string{"telemetry.example.com"},
		}
	})
	if got := c.Classify("crash.example.com", 0); got != PriorityImmediate {
		t.Fatalf("expected PriorityImmediate, got %v", got)
	}
	if got := c.Classify("telemetry.example.com", 0); got != PriorityDeferrable {
		t.Fatalf("expected PriorityDeferrable, got %v", got)
	}
	if got := c.Classify("other.example.com", 0); got != PrioritySoon {
		t.Fatalf("expected PrioritySoon, got %v", got)
	}
}
