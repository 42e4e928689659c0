package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/pkg/audio"
)

// CaptureInfo holds metadata about the active capture session.
type CaptureInfo struct {
	// ID uniquely identifies this capture session in logs.
	ID string

	// Source names the audio source kind ("mic", "wav", "livekit").
	Source string

	// StartedAt is when capture began.
	StartedAt time.Time
}

// Runner consumes a source until it ends or ctx is cancelled.
// *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, src audio.Source) error
}

// Capture manages the lifecycle of the capture loop. Only one session can be
// active at a time. All exported methods are safe for concurrent use.
type Capture struct {
	runner Runner
	ready  *health.Flag

	mu     sync.Mutex
	active bool
	info   CaptureInfo
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewCapture creates a Capture driving runner. ready, if non-nil, is marked
// ready while a session is active.
func NewCapture(runner Runner, ready *health.Flag) *Capture {
	if ready == nil {
		ready = &health.Flag{}
	}
	return &Capture{runner: runner, ready: ready}
}

// Start begins capturing from src in the background. The session ends when
// src is exhausted, its read fails, ctx is cancelled or [Capture.Stop] is
// called. The caller keeps ownership of src.
//
// Returns an error if a session is already active.
func (c *Capture) Start(ctx context.Context, source string, src audio.Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return fmt.Errorf("capture: a session is already active (id=%s)", c.info.ID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.active = true
	c.info = CaptureInfo{ID: uuid.NewString(), Source: source, StartedAt: time.Now().UTC()}
	c.cancel = cancel
	c.done = done
	c.err = nil
	c.ready.Ready()

	info := c.info
	slog.Info("capture started", "capture_id", info.ID, "source", source, "format", src.Format())

	go func() {
		err := c.runner.Run(runCtx, src)
		cancel()

		c.mu.Lock()
		c.active = false
		c.err = err
		c.info = CaptureInfo{}
		c.cancel = nil
		c.mu.Unlock()

		switch {
		case err == nil:
			c.ready.NotReady("capture source ended")
			slog.Info("capture ended", "capture_id", info.ID, "elapsed", time.Since(info.StartedAt))
		case errors.Is(err, context.Canceled):
			c.ready.NotReady("capture stopped")
			slog.Info("capture stopped", "capture_id", info.ID, "elapsed", time.Since(info.StartedAt))
		default:
			c.ready.NotReady(err.Error())
			slog.Error("capture failed", "capture_id", info.ID, "err", err)
		}
		close(done)
	}()
	return nil
}

// Stop cancels the active session and waits for it to end or for ctx to
// expire.
//
// Returns an error if no session is active.
func (c *Capture) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return errors.New("capture: no active session to stop")
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture: stop: %w", ctx.Err())
	}
}

// Done is closed when the most recent session ends. It is nil before the
// first Start.
func (c *Capture) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns how the most recent session ended. It is nil while a session
// is active and when the source was exhausted.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// IsActive reports whether a session is currently running.
func (c *Capture) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Info returns metadata about the active session, or the zero value.
func (c *Capture) Info() CaptureInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}
