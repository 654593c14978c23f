package netbatcher

import (
	"testing"
	"time"
)

func TestDeferredRequestDomainIsLowercasedHost(t *testing.T) {
	r := DeferredRequest{URL: "https://Analytics.Example.COM/v1/ping"}
	if got := r.Domain(); got != "analytics.example.com" {
		t.Fatalf("Domain() = %q, want lowercased host", got)
	}
}

func TestDeferredRequestPayloadSizeSumsURLHeadersAndBody(t *testing.T) {
	r := DeferredRequest{
		URL:     "https://a.example/x", // 19 bytes
		Headers: map[string]string{"X-Id": "abc"},
		Body:    []byte("payload"),
	}
	want := len(r.URL) + len("X-Id") + len("abc") + len(r.Body)
	if got := r.PayloadSize(); got != want {
		t.Fatalf("PayloadSize() = %d, want %d", got, want)
	}
}

func TestDeferredRequestIsExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := DeferredRequest{EnqueuedAt: now.Add(-100 * time.Second), MaxDeferralTime: 50 * time.Second}
	if !r.IsExpired(now) {
		t.Fatalf("expected request past its deadline to be expired")
	}

	fresh := DeferredRequest{EnqueuedAt: now, MaxDeferralTime: 100 * time.Second}
	if fresh.IsExpired(now) {
		t.Fatalf("expected a request within its deadline to not be expired")
	}
}
