package resolve

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/sync/singleflight"

	"decklens/internal/catalog"
	"decklens/internal/logging"
	"decklens/internal/services"
)

// remote asks the catalog service once per normalized query at a time and
// scores the returned candidates locally. Concurrent callers for the same
// query share one call; no resolver lock is held while it runs.
func (r *Resolver) remote(ctx context.Context, raw, normalized string) ([]Scored, error) {
	ch := r.flight.DoChan(normalized, func() (any, error) {
		// Detached from the first caller's cancellation; each attempt is
		// bounded by RemoteTimeout.
		return r.searchWithRetry(context.WithoutCancel(ctx), raw)
	})
	var result singleflight.Result
	select {
	case <-ctx.Done():
		return nil, services.Wrap(services.ErrTimeout, "resolve", "remote", "caller gave up", ctx.Err())
	case result = <-ch:
	}
	if result.Err != nil {
		return nil, result.Err
	}
	candidates, _ := result.Val.([]catalog.Candidate)
	entries := make([]catalog.Entry, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, c.Entry)
	}
	return rank(r.scorer, normalized, entries, r.opts.TopK), nil
}

func (r *Resolver) searchWithRetry(ctx context.Context, raw string) ([]catalog.Candidate, error) {
	backoff := r.opts.RemoteBackoff
	attempt := 0
	for {
		// Every attempt, retries included, spends a token.
		if err := r.allowRemote(attempt); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, r.opts.RemoteTimeout)
		candidates, err := r.lookup.Search(callCtx, raw)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			r.metrics.RemoteCall("ok")
			return candidates, nil
		}
		if timedOut && !errors.Is(err, services.ErrTimeout) {
			err = services.Wrap(services.ErrTimeout, "resolve", "remote", "catalog call timed out", err)
		}
		r.metrics.RemoteCall("error")
		if !isRetriable(err) || attempt >= r.opts.RemoteMaxRetries {
			return nil, err
		}
		attempt++
		r.logger.Warn("remote catalog call failed, retrying",
			logging.Duration("backoff", backoff),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", r.opts.RemoteMaxRetries),
			logging.Error(err),
			logging.String(logging.FieldEventType, "catalog_retry"),
			logging.String(logging.FieldErrorHint, "transient catalog failure"),
		)
		if err := sleepWithContext(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, r.opts.RemoteMaxBackoff)
	}
}

func (r *Resolver) allowRemote(attempt int) error {
	if r.limiter == nil {
		return nil
	}
	decision := r.limiter.Allow(r.opts.RateLimitKey)
	if decision.Allowed {
		return nil
	}
	r.metrics.RemoteCall("rate_limited")
	logging.WarnWithContext(r.logger, "remote catalog call rate limited", "catalog_rate_limited",
		logging.String("key", r.opts.RateLimitKey),
		logging.Int("attempt", attempt),
		logging.Duration("retry_after", decision.RetryAfter),
		logging.String(logging.FieldErrorHint, "raise rate_limit.limit or wait for the window to pass"),
		logging.String(logging.FieldImpact, "token reported as unresolved"),
	)
	return decision.Err(r.opts.RateLimitKey)
}

// isRetriable reports whether err is a transient condition worth retrying.
func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, services.ErrTransient) || errors.Is(err, services.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
