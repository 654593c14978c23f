// Package transmitter implements C6: it groups a drained batch by host to
// enable connection reuse, submits each host's requests to the Transport in
// enqueue order, classifies outcomes, and reports which ids succeeded.
package transmitter

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/parkerlane/netbatcher/internal/hostgovernor"
	"github.com/parkerlane/netbatcher/internal/store"
)

// Request is the minimal view of a deferred request the transmitter needs;
// it is satisfied by store.Request field-for-field but kept separate so
// this package doesn't need to import call sites' header encoding details.
type Request struct {
	ID      string
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
	Size    int
}

// FromStoreRequests adapts store.Request values, computing payload size the
// same way the root DeferredRequest.PayloadSize does.
func FromStoreRequests(reqs []store.Request) []Request {
	out := make([]Request, len(reqs))
	for i, r := range reqs {
		size := len(r.URL) + len(r.Body)
		for k, v := range r.Headers {
			size += len(k) + len(v)
		}
		out[i] = Request{ID: r.ID, URL: r.URL, Method: r.Method, Headers: r.Headers, Body: r.Body, Size: size}
	}
	return out
}

// Result carries one request's outcome.
type Result struct {
	StatusCode int
	Err        error
}

// Success reports whether Result counts as a 2xx response.
func (r Result) Success() bool { return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300 }

// Transport is the external collaborator performing actual network I/O.
type Transport interface {
	Do(ctx context.Context, req Request) Result
}

// Outcome summarizes one drain's transmission pass.
type Outcome struct {
	SuccessIDs   []string
	SuccessCount int
	FailureCount int
	TotalBytes   int64
}

// Transmit groups batch by host and fans each host's group out, in
// parallel across hosts but strictly in order within a host, to the
// Transport. A per-request non-2xx or transport error does not abort the
// batch; the request is simply excluded from SuccessIDs so the caller's
// store delete leaves it for a later drain.
func Transmit(ctx context.Context, batch []Request, transport Transport, gov *hostgovernor.Governor) Outcome {
	groups := groupByHost(batch)

	var mu sync.Mutex
	var wg sync.WaitGroup
	var outcome Outcome

	for host, reqs := range groups {
		wg.Add(1)
		go func(host string, reqs []Request) {
			defer wg.Done()
			if gov != nil {
				if err := gov.AcquireHostSlot(ctx); err != nil {
					mu.Lock()
					outcome.FailureCount += len(reqs)
					mu.Unlock()
					return
				}
				defer gov.ReleaseHostSlot()
			}
			successIDs, successBytes, failures := transmitHostGroup(ctx, host, reqs, transport, gov)
			mu.Lock()
			outcome.SuccessIDs = append(outcome.SuccessIDs, successIDs...)
			outcome.SuccessCount += len(successIDs)
			outcome.FailureCount += failures
			outcome.TotalBytes += successBytes
			mu.Unlock()
		}(host, reqs)
	}
	wg.Wait()
	return outcome
}

// transmitHostGroup submits reqs to transport strictly in order — a single
// host's queue is never split across concurrent workers, to preserve the
// radio-warm benefit of grouping by host.
func transmitHostGroup(ctx context.Context, host string, reqs []Request, transport Transport, gov *hostgovernor.Governor) (successIDs []string, successBytes int64, failures int) {
	for _, req := range reqs {
		if gov != nil && !gov.Allow(host) {
			failures++
			continue
		}
		res := transport.Do(ctx, req)
		if res.Success() {
			successIDs = append(successIDs, req.ID)
			successBytes += int64(req.Size)
			if gov != nil {
				gov.ReportSuccess(host)
			}
		} else {
			failures++
			if gov != nil {
				gov.ReportFailure(host)
			}
		}
	}
	return successIDs, successBytes, failures
}

func groupByHost(batch []Request) map[string][]Request {
	groups := make(map[string][]Request)
	for _, r := range batch {
		host := hostOf(r.URL)
		groups[host] = append(groups[host], r)
	}
	return groups
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
