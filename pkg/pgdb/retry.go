package pgdb

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ConnectWithRetry builds a handle and keeps pinging the server with
// exponential backoff until it answers or maxElapsed runs out. Useful
// for admin tooling that starts alongside the database server. Unlike
// WaitUntilServerReady, a server that never answers is an error here.
func ConnectWithRetry(ctx context.Context, log *slog.Logger, cfg *Config, meta *Metadata, maxElapsed time.Duration) (*Handle, error) {
	h, err := New(log, cfg, meta)
	if err != nil {
		return nil, err
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := h.Ping(ctx); err != nil {
			if !isOperationalError(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			log.Debug("database server not reachable yet", "url", cfg.Redacted(), "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(maxElapsed))
	if err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}
