package netbatcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls []TransportRequest
	fn    func(TransportRequest) TransportResult
}

func (f *fakeTransport) Do(ctx context.Context, req TransportRequest) TransportResult {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return TransportResult{StatusCode: 200}
}

func newTestBatcher(t *testing.T, cfg Configuration, transport Transport) *Batcher {
	t.Helper()
	b, err := New(context.Background(), Options{
		StorePath: filepath.Join(t.TempDir(), "test.sqlite"),
		Config:    cfg,
		Transport: transport,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestEnqueueDisabledReturnsErrDisabled(t *testing.T) {
	b := newTestBatcher(t, MinimalConfig(), &fakeTransport{})
	b.SetEnabled(false)

	_, err := b.Enqueue(context.Background(), "https://a.example/x", "GET", nil, nil, PrioritySoon)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestEnqueueInvalidURLReturnsErrInvalidRequest(t *testing.T) {
	b := newTestBatcher(t, MinimalConfig(), &fakeTransport{})

	_, err := b.Enqueue(context.Background(), "", "GET", nil, nil, PrioritySoon)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestEnqueueImmediateBypassesStore(t *testing.T) {
	transport := &fakeTransport{}
	b := newTestBatcher(t, MinimalConfig(), transport)

	id, err := b.Enqueue(context.Background(), "https://a.example/x", "POST", nil, []byte("hi"), PriorityImmediate)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty id for an immediate request")
	}

	transport.mu.Lock()
	calls := len(transport.calls)
	transport.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected transport invoked once for the immediate request, got %d", calls)
	}

	stats, err := b.Statistics(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.QueuedRequests != 0 {
		t.Fatalf("expected immediate request never to be queued, found %d queued", stats.QueuedRequests)
	}
}

func TestEnqueueImmediateFailurePropagatesRequestError(t *testing.T) {
	transport := &fakeTransport{fn: func(TransportRequest) TransportResult {
		return TransportResult{StatusCode: 500}
	}}
	b := newTestBatcher(t, MinimalConfig(), transport)

	_, err := b.Enqueue(context.Background(), "https://a.example/x", "POST", nil, nil, PriorityImmediate)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected a *RequestError, got %v", err)
	}
	if reqErr.StatusCode != 500 {
		t.Fatalf("expected status 500, got %d", reqErr.StatusCode)
	}
}

func TestEnqueueQueuedRequestPersists(t *testing.T) {
	b := newTestBatcher(t, MinimalConfig(), &fakeTransport{})

	id, err := b.Enqueue(context.Background(), "https://a.example/x", "POST", map[string]string{"X": "1"}, []byte("payload"), PriorityDeferrable)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty id")
	}

	stats, err := b.Statistics(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.QueuedRequests != 1 {
		t.Fatalf("expected 1 queued request, got %d", stats.QueuedRequests)
	}
	if stats.QueuedBytes == 0 {
		t.Fatalf("expected non-zero queued bytes")
	}
}

func TestSetEnabledDoesNotAbortInFlightDrain(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	transport := &fakeTransport{fn: func(TransportRequest) TransportResult {
		close(started)
		<-release
		return TransportResult{StatusCode: 200}
	}}
	cfg := MinimalConfig()
	cfg.AllowCellular = true
	b := newTestBatcher(t, cfg, transport)

	if _, err := b.Enqueue(context.Background(), "https://a.example/x", "POST", nil, nil, PriorityDeferrable); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		b.Flush(context.Background(), "manual_flush")
		close(done)
	}()

	<-started
	b.SetEnabled(false) // disabling must not interrupt the drain already in flight
	close(release)
	<-done

	stats, err := b.Statistics(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.QueuedRequests != 0 {
		t.Fatalf("expected the in-flight drain to complete and remove the request, got %d queued", stats.QueuedRequests)
	}
}

func TestStatisticsComposesStoreAndMonitor(t *testing.T) {
	b := newTestBatcher(t, MinimalConfig(), &fakeTransport{})

	stats, err := b.Statistics(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.NetworkType != NetworkUnknown {
		t.Fatalf("expected NetworkUnknown before any platform signal, got %v", stats.NetworkType)
	}
	if stats.BatchCount != 0 || stats.TotalRequests != 0 {
		t.Fatalf("expected zero-valued batch stats on a fresh store")
	}
}
