package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "deepgram", "openai", "google"},
	"tts": {"coqui", "elevenlabs"},
}

// ResponderKinds lists the accepted responder.kind values.
var ResponderKinds = []string{"roundrobin", "keyword", "echo", "llm"}

// Default values filled in by [ApplyDefaults].
const (
	DefaultSampleRate      = 16000
	DefaultFrameMS         = 30
	DefaultSilenceFrames   = 10
	DefaultEnergyThreshold = 0.01
	DefaultSileroThreshold = 0.5
	DefaultQueueSize       = 8
	DefaultResponseWAV     = "agent_response.wav"
	DefaultUploadRate      = 5
	DefaultUploadBurst     = 10
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and validates
// the result. ${VAR} references are replaced from the environment before
// parsing, so secrets can stay out of the file. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default. Fields the
// consuming package defaults itself (LiveKit, events topic) are left empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.FrameMS == 0 {
		cfg.Audio.FrameMS = DefaultFrameMS
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}

	if cfg.Source.Kind == "" {
		cfg.Source.Kind = SourceMic
	}
	if cfg.Sink.Kind == "" {
		switch cfg.Source.Kind {
		case SourceLiveKit:
			cfg.Sink.Kind = SinkLiveKit
		case SourceWAV:
			cfg.Sink.Kind = SinkWAV
		default:
			cfg.Sink.Kind = SinkSpeaker
		}
	}
	if cfg.Sink.Kind == SinkWAV && cfg.Sink.Path == "" {
		cfg.Sink.Path = DefaultResponseWAV
	}

	if cfg.Segmenter.SilenceFrames == 0 {
		cfg.Segmenter.SilenceFrames = DefaultSilenceFrames
	}
	if cfg.Segmenter.Classifier == "" {
		cfg.Segmenter.Classifier = ClassifierEnergy
	}
	if cfg.Segmenter.EnergyThreshold == 0 {
		cfg.Segmenter.EnergyThreshold = DefaultEnergyThreshold
	}
	if cfg.Segmenter.SileroThreshold == 0 {
		cfg.Segmenter.SileroThreshold = DefaultSileroThreshold
	}

	if cfg.Providers.STTStrategy == "" {
		cfg.Providers.STTStrategy = StrategyFallback
	}
	if cfg.Responder.Kind == "" {
		cfg.Responder.Kind = "roundrobin"
	}
	if cfg.Pipeline.QueueSize == 0 {
		cfg.Pipeline.QueueSize = DefaultQueueSize
	}

	if cfg.Upload.Enabled {
		if cfg.Upload.RatePerSec == 0 {
			cfg.Upload.RatePerSec = DefaultUploadRate
		}
		if cfg.Upload.Burst == 0 {
			cfg.Upload.Burst = DefaultUploadBurst
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		add("server.trace_sample_ratio must be between 0 and 1, got %g", r)
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		add("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameMS <= 0 || cfg.Audio.FrameMS > 1000 {
		add("audio.frame_ms %d is out of range [1, 1000]", cfg.Audio.FrameMS)
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		add("audio.channels must be 1 or 2, got %d", cfg.Audio.Channels)
	}

	// Source and sink
	if !cfg.Source.Kind.IsValid() {
		add("source.kind %q is invalid; valid values: mic, wav, livekit", cfg.Source.Kind)
	}
	if cfg.Source.Kind == SourceWAV && cfg.Source.Path == "" {
		add("source.path is required when source.kind is wav")
	}
	if !cfg.Sink.Kind.IsValid() {
		add("sink.kind %q is invalid; valid values: wav, speaker, livekit, discard", cfg.Sink.Kind)
	}
	if cfg.Sink.Kind == SinkWAV && cfg.Sink.Path == "" {
		add("sink.path is required when sink.kind is wav")
	}
	if cfg.Source.Kind == SourceLiveKit || cfg.Sink.Kind == SinkLiveKit {
		lk := cfg.LiveKit
		if lk.Token == "" && (lk.APIKey == "") != (lk.APISecret == "") {
			add("livekit.api_key and livekit.api_secret must be set together")
		}
		if lk.ReconnectBackoff < 0 {
			add("livekit.reconnect_backoff must not be negative, got %s", lk.ReconnectBackoff)
		}
	}

	// Segmenter
	seg := cfg.Segmenter
	if seg.SilenceFrames < 1 {
		add("segmenter.silence_frames must be at least 1, got %d", seg.SilenceFrames)
	}
	if seg.MaxFrames < 0 {
		add("segmenter.max_frames must not be negative, got %d", seg.MaxFrames)
	}
	if !seg.Classifier.IsValid() {
		add("segmenter.classifier %q is invalid; valid values: energy, silero", seg.Classifier)
	}
	if seg.Classifier == ClassifierSilero && seg.SileroModel == "" {
		add("segmenter.silero_model is required when segmenter.classifier is silero")
	}
	if seg.EnergyThreshold < 0 || seg.EnergyThreshold >= 1 {
		add("segmenter.energy_threshold %.4f is out of range [0, 1)", seg.EnergyThreshold)
	}
	if seg.SileroThreshold <= 0 || seg.SileroThreshold >= 1 {
		add("segmenter.silero_threshold %.2f is out of range (0, 1)", seg.SileroThreshold)
	}

	// Providers
	if len(cfg.Providers.STT) == 0 {
		add("providers.stt needs at least one entry")
	}
	for i, e := range cfg.Providers.STT {
		if e.Name == "" {
			add("providers.stt[%d].name is required", i)
		}
		validateProviderName("stt", e.Name)
	}
	if !cfg.Providers.STTStrategy.IsValid() {
		add("providers.stt_strategy %q is invalid; valid values: fallback, tier", cfg.Providers.STTStrategy)
	}
	if len(cfg.Providers.TTS) == 0 {
		add("providers.tts needs at least one entry")
	}
	for i, e := range cfg.Providers.TTS {
		if e.Name == "" {
			add("providers.tts[%d].name is required", i)
		}
		validateProviderName("tts", e.Name)
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)

	// Responder
	kind := strings.ToLower(cfg.Responder.Kind)
	if kind != "" && !slices.Contains(ResponderKinds, kind) {
		add("responder.kind %q is invalid; valid values: %s", cfg.Responder.Kind, strings.Join(ResponderKinds, ", "))
	}
	if kind == "llm" && cfg.Providers.LLM.Name == "" {
		add("responder.kind llm requires providers.llm to be configured")
	}
	if kind != "llm" && cfg.Providers.LLM.Name != "" {
		slog.Warn("providers.llm is configured but the responder does not use it",
			"responder", cfg.Responder.Kind,
			"llm", cfg.Providers.LLM.Name,
		)
	}

	// Voice
	if s := cfg.Voice.Speed; s != 0 && (s < 0.5 || s > 2.0) {
		add("voice.speed %.2f is out of range [0.5, 2.0]", s)
	}

	// Pipeline
	if cfg.Pipeline.QueueSize < 1 {
		add("pipeline.queue_size must be at least 1, got %d", cfg.Pipeline.QueueSize)
	}
	for i, term := range cfg.Pipeline.Vocabulary {
		if strings.TrimSpace(term) == "" {
			add("pipeline.vocabulary[%d] is empty", i)
		}
	}

	// Upload
	if cfg.Upload.Enabled {
		if cfg.Server.ListenAddr == "" {
			add("upload.enabled requires server.listen_addr")
		}
		if cfg.Upload.RatePerSec < 0 {
			add("upload.rate_per_sec must not be negative")
		}
		if cfg.Upload.Burst < 0 {
			add("upload.burst must not be negative")
		}
		if cfg.Upload.MaxBytes < 0 {
			add("upload.max_bytes must not be negative")
		}
	}

	// Events
	for i, b := range cfg.Events.Brokers {
		if strings.TrimSpace(b) == "" {
			add("events.brokers[%d] is empty", i)
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
