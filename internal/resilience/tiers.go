package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoTier is returned by [SelectTier] when no tier could be built.
var ErrNoTier = errors.New("no capability tier available")

// Tier is one way of building a component, e.g. a large local model on the
// GPU, a smaller quantized model, or a remote server.
type Tier[T any] struct {
	Name  string
	Build func(ctx context.Context) (T, error)
}

// SelectTier builds the tiers in order and returns the first that succeeds
// along with its name. When all fail the error wraps [ErrNoTier] joined with
// each tier's error.
func SelectTier[T any](ctx context.Context, tiers []Tier[T]) (T, string, error) {
	var (
		zero T
		errs []error
	)
	for _, tier := range tiers {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		v, err := tier.Build(ctx)
		if err == nil {
			slog.Info("capability tier selected", "tier", tier.Name, "skipped", len(errs))
			return v, tier.Name, nil
		}
		slog.Warn("capability tier unavailable", "tier", tier.Name, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", tier.Name, err))
	}
	return zero, "", errors.Join(append([]error{ErrNoTier}, errs...)...)
}
