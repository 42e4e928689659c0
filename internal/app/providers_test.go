package app_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	llmmock "github.com/MrWong99/earshot/pkg/provider/llm/mock"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	ttsmock "github.com/MrWong99/earshot/pkg/provider/tts/mock"
)

// fakeSTT answers with its name and optionally pings and closes.
type fakeSTT struct {
	name    string
	pingErr error
	closed  atomic.Int32
}

func (f *fakeSTT) Transcribe(context.Context, []byte, int) (stt.Result, error) {
	return stt.Result{Text: f.name}, nil
}

func (f *fakeSTT) Ping(context.Context) error { return f.pingErr }

func (f *fakeSTT) Close() error {
	f.closed.Add(1)
	return nil
}

func sttConfig(strategy config.Strategy, names ...string) *config.Config {
	cfg := &config.Config{}
	cfg.Providers.STTStrategy = strategy
	for _, n := range names {
		cfg.Providers.STT = append(cfg.Providers.STT, config.ProviderEntry{Name: n})
	}
	cfg.Providers.TTS = []config.ProviderEntry{{Name: "coqui"}}
	return cfg
}

func testRegistry(stts map[string]*fakeSTT) *config.Registry {
	reg := config.NewRegistry()
	for name, f := range stts {
		reg.RegisterSTT(name, func(config.ProviderEntry) (stt.Transcriber, error) { return f, nil })
	}
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Transcriber, error) {
		return nil, errors.New("missing model file")
	})
	reg.RegisterTTS("coqui", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterLLM("fake", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	return reg
}

func TestBuildProviders_FallbackSkipsBrokenEntries(t *testing.T) {
	t.Parallel()

	primary, backup := &fakeSTT{name: "primary"}, &fakeSTT{name: "backup"}
	reg := testRegistry(map[string]*fakeSTT{"primary": primary, "backup": backup})

	p, err := app.BuildProviders(context.Background(), sttConfig(config.StrategyFallback, "broken", "primary", "backup"), reg, observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("BuildProviders() error: %v", err)
	}
	res, err := p.STT.Transcribe(context.Background(), nil, 16000)
	if err != nil || res.Text != "primary" {
		t.Errorf("Transcribe() = %q, %v; want the first built entry", res.Text, err)
	}
	if len(p.Closers) != 2 {
		t.Errorf("closers = %d, want 2", len(p.Closers))
	}
	var names []string
	for _, c := range p.Checks {
		names = append(names, c.Name)
	}
	if strings.Join(names, ",") != "stt/primary,stt/backup" {
		t.Errorf("checks = %v", names)
	}
	if p.LLM != nil {
		t.Error("LLM should be nil when not configured")
	}
}

func TestBuildProviders_NoUsableSTT(t *testing.T) {
	t.Parallel()

	_, err := app.BuildProviders(context.Background(), sttConfig(config.StrategyFallback, "broken", "unknown"), testRegistry(nil), nil)
	if err == nil {
		t.Fatal("expected error when no stt entry builds")
	}
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("error should carry the per-entry causes, got: %v", err)
	}
}

func TestBuildProviders_NoUsableTTSReleasesSTT(t *testing.T) {
	t.Parallel()

	primary := &fakeSTT{name: "primary"}
	cfg := sttConfig(config.StrategyFallback, "primary")
	cfg.Providers.TTS = []config.ProviderEntry{{Name: "elevenlabs"}}

	if _, err := app.BuildProviders(context.Background(), cfg, testRegistry(map[string]*fakeSTT{"primary": primary}), nil); err == nil {
		t.Fatal("expected error for unregistered tts")
	}
	if primary.closed.Load() != 1 {
		t.Errorf("stt closed %d times, want 1", primary.closed.Load())
	}
}

func TestBuildProviders_TierPicksFirstReachable(t *testing.T) {
	t.Parallel()

	down := &fakeSTT{name: "gpu", pingErr: errors.New("connection refused")}
	up := &fakeSTT{name: "cpu"}
	reg := testRegistry(map[string]*fakeSTT{"gpu": down, "cpu": up})

	p, err := app.BuildProviders(context.Background(), sttConfig(config.StrategyTier, "broken", "gpu", "cpu"), reg, nil)
	if err != nil {
		t.Fatalf("BuildProviders() error: %v", err)
	}
	res, _ := p.STT.Transcribe(context.Background(), nil, 16000)
	if res.Text != "cpu" {
		t.Errorf("selected tier = %q, want cpu", res.Text)
	}
	if down.closed.Load() != 1 {
		t.Errorf("unreachable tier closed %d times, want 1", down.closed.Load())
	}
}

func TestBuildProviders_LLM(t *testing.T) {
	t.Parallel()

	reg := testRegistry(map[string]*fakeSTT{"primary": {name: "primary"}})
	cfg := sttConfig(config.StrategyFallback, "primary")
	cfg.Providers.LLM = config.ProviderEntry{Name: "fake"}

	p, err := app.BuildProviders(context.Background(), cfg, reg, nil)
	if err != nil {
		t.Fatalf("BuildProviders() error: %v", err)
	}
	if p.LLM == nil {
		t.Fatal("LLM is nil")
	}

	cfg.Providers.LLM = config.ProviderEntry{Name: "nonexistent"}
	if _, err := app.BuildProviders(context.Background(), cfg, reg, nil); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unregistered llm: got %v", err)
	}
}
