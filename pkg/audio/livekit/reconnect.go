package livekit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default reconnection parameters.
const (
	DefaultReconnectAttempts = 10
	DefaultReconnectBackoff  = time.Second
	maxReconnectBackoff      = 30 * time.Second
)

// WithReconnect sets how often a dropped connection is re-joined before the
// room reports [ErrDisconnected], and the first delay between attempts. The
// delay doubles each attempt up to 30s. Zero values use the defaults (10
// attempts, 1s); a negative attempts disables reconnection.
func WithReconnect(attempts int, backoff time.Duration) Option {
	return func(r *Room) {
		if attempts != 0 {
			r.attempts = attempts
		}
		if backoff > 0 {
			r.backoff = backoff
		}
	}
}

// Reconnects returns how many times the room has re-joined after a drop.
func (r *Room) Reconnects() int64 { return r.reconnects.Load() }

// onDisconnected is called by the SDK once it has given up on the
// connection. Unless the room was closed, it re-joins in the background
// while ReadFrame keeps blocking; capture ends only when every attempt fails.
func (r *Room) onDisconnected() {
	select {
	case <-r.done:
		return
	default:
	}
	slog.Warn("livekit: room connection lost", "room", r.cfg.Room)

	if r.dial == nil || r.attempts < 0 {
		r.markDone()
		return
	}
	if !r.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer r.reconnecting.Store(false)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-r.done:
				cancel()
			case <-ctx.Done():
			}
		}()

		err := retry(ctx, r.attempts, r.backoff, func(ctx context.Context, attempt int) error {
			slog.Info("livekit: attempting reconnection", "room", r.cfg.Room, "attempt", attempt, "max_attempts", r.attempts)
			return r.dial(ctx)
		})
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("livekit: reconnection failed", "room", r.cfg.Room, "err", err)
			}
			r.markDone()
			return
		}
		r.reconnects.Add(1)
		slog.Info("livekit: reconnected", "room", r.cfg.Room)
	}()
}

// retry calls dial until it succeeds, attempts are exhausted or ctx ends.
// The wait between attempts starts at backoff and doubles up to
// maxReconnectBackoff.
func retry(ctx context.Context, attempts int, backoff time.Duration, dial func(ctx context.Context, attempt int) error) error {
	var last error
	wait := backoff
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := dial(ctx, attempt)
		if err == nil {
			return nil
		}
		last = err
		slog.Warn("livekit: reconnection attempt failed", "attempt", attempt, "err", err)
		if attempt == attempts {
			break
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait = min(wait*2, maxReconnectBackoff)
	}
	return fmt.Errorf("livekit: gave up after %d attempts: %w", attempts, last)
}
