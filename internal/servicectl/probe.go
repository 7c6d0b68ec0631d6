package servicectl

import (
	"context"
	"net/http"
	"time"
)

// Probe performs readiness checks against the engine's liveness endpoint.
type Probe struct {
	client *http.Client
}

// NewProbe builds a probe. Per-attempt deadlines come from contexts, so the
// shared client carries no global timeout.
func NewProbe() *Probe {
	return &Probe{client: &http.Client{}}
}

// Check performs one readiness attempt with the given timeout. Any
// 2xx-equivalent response within the deadline means ready; connection
// refused, timeouts and non-2xx statuses all mean not ready yet.
func (p *Probe) Check(ctx context.Context, ep Endpoint, timeout time.Duration) bool {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, ep.HealthURL(), nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// AwaitReady performs a bounded sequence of readiness checks: up to attempts
// probes spaced interval apart, each with the per-attempt timeout. It
// returns true on the first success and false only once every attempt is
// exhausted or ctx is cancelled. The overall ceiling is attempts × interval.
func (p *Probe) AwaitReady(ctx context.Context, ep Endpoint, attempts int, interval, timeout time.Duration) bool {
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return false
		}
		start := time.Now()
		if p.Check(ctx, ep, timeout) {
			probeAttempts.WithLabelValues("success").Inc()
			return true
		}
		probeAttempts.WithLabelValues("miss").Inc()

		if i == attempts-1 {
			break
		}
		// Sleep out the remainder of the slot so attempts stay on the
		// interval grid even when the check fails fast.
		remaining := interval - time.Since(start)
		if remaining > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(remaining):
			}
		}
	}
	return false
}
