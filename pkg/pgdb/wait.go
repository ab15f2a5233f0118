package pgdb

import (
	"context"
	"time"

	"github.com/tidefall/pgops/internal/metrics"
)

const (
	DefaultReadyTimeout = 30 * time.Second
	DefaultReadyPeriod  = 3 * time.Second
)

// WaitUntilServerReady polls the server with a trivial query every
// period until it answers or timeout has elapsed since the call began.
// Connection-level failures are logged and retried; any other error
// aborts the wait and is returned.
//
// The function never returns before timeout has elapsed: whatever
// remains of the deadline after the polling loop is slept off, even
// when the server answered on the first attempt. It also returns nil
// when the server never became ready, so a nil return does not mean
// the server is reachable; callers must re-check if uncertain.
func (h *Handle) WaitUntilServerReady(ctx context.Context, timeout, period time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	if period <= 0 {
		period = DefaultReadyPeriod
	}
	start := h.clock.Now()
	for elapsed := time.Duration(0); elapsed < timeout; elapsed += period {
		err := h.probeReady(ctx)
		if err == nil {
			metrics.ReadinessAttemptsTotal.WithLabelValues("success").Inc()
			h.log.Info("database server is ready now", "url", h.cfg.Redacted())
			break
		}
		if !isOperationalError(err) {
			metrics.ReadinessAttemptsTotal.WithLabelValues("error").Inc()
			return err
		}
		metrics.ReadinessAttemptsTotal.WithLabelValues("failure").Inc()
		h.log.Info("failed to connect to database server", "url", h.cfg.Redacted(), "error", err)
		if err := h.sleep(ctx, period); err != nil {
			return err
		}
	}
	if remaining := timeout - h.clock.Since(start); remaining > 0 {
		if err := h.sleep(ctx, remaining); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handle) probeReady(ctx context.Context) error {
	row, err := h.QueryRow(ctx, "SELECT 1;")
	if err != nil {
		return err
	}
	var one int
	return row.Scan(&one)
}

func (h *Handle) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.clock.After(d):
		return nil
	}
}
