package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. LLM is nil unless
// configured. Populated by [BuildProviders] or directly by tests.
type Providers struct {
	STT stt.Transcriber
	TTS tts.Provider
	LLM llm.Provider

	// Checks probe provider backends from /readyz.
	Checks []health.Checker

	// Closers release provider resources on shutdown.
	Closers []io.Closer
}

// BuildProviders instantiates every configured provider through reg.
//
// TTS entries, and STT entries under the fallback strategy, are combined into
// a failover chain in configuration order. An entry whose factory fails is
// skipped with a warning; the slot fails only when no entry could be built.
// Under the tier strategy the first STT entry that builds and answers its
// ping is used alone.
func BuildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	p := &Providers{}

	var err error
	switch cfg.Providers.STTStrategy {
	case config.StrategyTier:
		p.STT, err = p.selectSTTTier(ctx, cfg.Providers.STT, reg)
	default:
		p.STT, err = p.buildSTTFallback(cfg.Providers.STT, reg, m)
	}
	if err != nil {
		p.close()
		return nil, err
	}

	if p.TTS, err = p.buildTTSFallback(cfg.Providers.TTS, reg, m); err != nil {
		p.close()
		return nil, err
	}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		l, err := reg.CreateLLM(entry)
		if err != nil {
			p.close()
			return nil, fmt.Errorf("app: create llm provider %q: %w", entry.Name, err)
		}
		p.LLM = resilience.NewLLMFallback(l, entry.Name, resilience.FallbackConfig{Kind: "llm", Metrics: m})
		p.track("llm", entry.Name, l)
		slog.Info("llm provider ready", "name", entry.Name, "model", entry.Model)
	}
	return p, nil
}

func (p *Providers) buildSTTFallback(entries []config.ProviderEntry, reg *config.Registry, m *observe.Metrics) (stt.Transcriber, error) {
	var (
		chain *resilience.STTFallback
		errs  []error
	)
	for _, entry := range entries {
		t, err := reg.CreateSTT(entry)
		if err != nil {
			slog.Warn("skipping stt provider", "name", entry.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name, err))
			continue
		}
		p.track("stt", entry.Name, t)
		if chain == nil {
			chain = resilience.NewSTTFallback(t, entry.Name, resilience.FallbackConfig{
				Kind:           "stt",
				Metrics:        m,
				CircuitBreaker: resilience.CircuitBreakerConfig{Name: "stt"},
			})
			continue
		}
		chain.AddFallback(entry.Name, t)
	}
	if chain == nil {
		return nil, fmt.Errorf("app: no stt provider could be created: %w", errors.Join(errs...))
	}
	slog.Info("stt providers ready", "strategy", config.StrategyFallback, "order", chain.Names())
	return chain, nil
}

func (p *Providers) selectSTTTier(ctx context.Context, entries []config.ProviderEntry, reg *config.Registry) (stt.Transcriber, error) {
	tiers := make([]resilience.Tier[stt.Transcriber], 0, len(entries))
	for _, entry := range entries {
		tiers = append(tiers, resilience.Tier[stt.Transcriber]{
			Name: entry.Name,
			Build: func(ctx context.Context) (stt.Transcriber, error) {
				t, err := reg.CreateSTT(entry)
				if err != nil {
					return nil, err
				}
				if pinger, ok := t.(health.Pinger); ok {
					if err := pinger.Ping(ctx); err != nil {
						closeQuietly(t)
						return nil, fmt.Errorf("ping: %w", err)
					}
				}
				return t, nil
			},
		})
	}
	t, name, err := resilience.SelectTier(ctx, tiers)
	if err != nil {
		return nil, fmt.Errorf("app: select stt tier: %w", err)
	}
	p.track("stt", name, t)
	return t, nil
}

func (p *Providers) buildTTSFallback(entries []config.ProviderEntry, reg *config.Registry, m *observe.Metrics) (tts.Provider, error) {
	var (
		chain *resilience.TTSFallback
		errs  []error
	)
	for _, entry := range entries {
		t, err := reg.CreateTTS(entry)
		if err != nil {
			slog.Warn("skipping tts provider", "name", entry.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name, err))
			continue
		}
		p.track("tts", entry.Name, t)
		if chain == nil {
			chain = resilience.NewTTSFallback(t, entry.Name, resilience.FallbackConfig{
				Kind:           "tts",
				Metrics:        m,
				CircuitBreaker: resilience.CircuitBreakerConfig{Name: "tts"},
			})
			continue
		}
		chain.AddFallback(entry.Name, t)
	}
	if chain == nil {
		return nil, fmt.Errorf("app: no tts provider could be created: %w", errors.Join(errs...))
	}
	slog.Info("tts providers ready", "count", len(entries)-len(errs))
	return chain, nil
}

// track records the readiness probe and closer of a built provider, if it
// has them.
func (p *Providers) track(kind, name string, v any) {
	if pinger, ok := v.(health.Pinger); ok {
		p.Checks = append(p.Checks, health.PingCheck(kind+"/"+name, pinger))
	}
	if c, ok := v.(io.Closer); ok {
		p.Closers = append(p.Closers, c)
	}
}

func (p *Providers) close() {
	for _, c := range p.Closers {
		closeQuietly(c)
	}
	p.Closers = nil
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
}
