package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSelectTier_FirstSuccessWins(t *testing.T) {
	var built []string
	tier := func(name string, err error) Tier[string] {
		return Tier[string]{Name: name, Build: func(context.Context) (string, error) {
			built = append(built, name)
			if err != nil {
				return "", err
			}
			return "model:" + name, nil
		}}
	}

	v, name, err := SelectTier(context.Background(), []Tier[string]{
		tier("gpu-large", errTest),
		tier("cpu-small", nil),
		tier("server", nil),
	})
	if err != nil {
		t.Fatalf("SelectTier: %v", err)
	}
	if v != "model:cpu-small" || name != "cpu-small" {
		t.Errorf("got %q from %q", v, name)
	}
	if strings.Join(built, ",") != "gpu-large,cpu-small" {
		t.Errorf("built = %v, later tiers must not be attempted", built)
	}
}

func TestSelectTier_Exhausted(t *testing.T) {
	errA := errors.New("no gpu")
	errB := errors.New("model file missing")
	_, _, err := SelectTier(context.Background(), []Tier[int]{
		{Name: "a", Build: func(context.Context) (int, error) { return 0, errA }},
		{Name: "b", Build: func(context.Context) (int, error) { return 0, errB }},
	})
	if !errors.Is(err, ErrNoTier) {
		t.Fatalf("err = %v, want ErrNoTier", err)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("err = %v, want every tier error joined", err)
	}
	if !strings.Contains(err.Error(), "a: no gpu") {
		t.Errorf("err text %q should name the tier", err)
	}
}

func TestSelectTier_Empty(t *testing.T) {
	if _, _, err := SelectTier[int](context.Background(), nil); !errors.Is(err, ErrNoTier) {
		t.Fatalf("err = %v, want ErrNoTier", err)
	}
}

func TestSelectTier_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := SelectTier(ctx, []Tier[int]{
		{Name: "a", Build: func(context.Context) (int, error) { return 1, nil }},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
