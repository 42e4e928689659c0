// Package config provides the configuration schema, loader, and provider registry
// for earshot.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SourceKind selects where capture audio comes from.
type SourceKind string

const (
	SourceMic     SourceKind = "mic"
	SourceWAV     SourceKind = "wav"
	SourceLiveKit SourceKind = "livekit"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceMic, SourceWAV, SourceLiveKit:
		return true
	}
	return false
}

// SinkKind selects where synthesized replies go.
type SinkKind string

const (
	SinkWAV     SinkKind = "wav"
	SinkSpeaker SinkKind = "speaker"
	SinkLiveKit SinkKind = "livekit"
	SinkDiscard SinkKind = "discard"
)

// IsValid reports whether k is a recognised sink kind.
func (k SinkKind) IsValid() bool {
	switch k {
	case SinkWAV, SinkSpeaker, SinkLiveKit, SinkDiscard:
		return true
	}
	return false
}

// ClassifierKind selects the per-frame speech classifier.
type ClassifierKind string

const (
	ClassifierEnergy ClassifierKind = "energy"
	ClassifierSilero ClassifierKind = "silero"
)

// IsValid reports whether k is a recognised classifier.
func (k ClassifierKind) IsValid() bool {
	return k == ClassifierEnergy || k == ClassifierSilero
}

// Strategy decides how multiple STT or TTS entries are combined.
type Strategy string

const (
	// StrategyFallback keeps every entry and fails over at call time.
	StrategyFallback Strategy = "fallback"

	// StrategyTier tries the entries at startup and keeps only the first one
	// that can be built.
	StrategyTier Strategy = "tier"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyFallback || s == StrategyTier
}

// Config is the root configuration structure for earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Source    SourceConfig    `yaml:"source"`
	Sink      SinkConfig      `yaml:"sink"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Providers ProvidersConfig `yaml:"providers"`
	Responder ResponderConfig `yaml:"responder"`
	Voice     VoiceConfig     `yaml:"voice"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	LiveKit   LiveKitConfig   `yaml:"livekit"`
	Events    EventsConfig    `yaml:"events"`
	Upload    UploadConfig    `yaml:"upload"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /metrics, the health probes and the
	// upload endpoint (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TraceSampleRatio is the fraction of turns traced, in [0, 1]. Zero
	// traces every turn.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// AudioConfig is the capture format fed to the segmenter and transcribers.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	FrameMS    int `yaml:"frame_ms"`
	Channels   int `yaml:"channels"`
}

// SourceConfig selects the capture source.
type SourceConfig struct {
	Kind SourceKind `yaml:"kind"`

	// Path is the WAV file read when Kind is "wav".
	Path string `yaml:"path"`
}

// SinkConfig selects where replies are played.
type SinkConfig struct {
	Kind SinkKind `yaml:"kind"`

	// Path is the WAV file written when Kind is "wav". A %d verb gives every
	// reply its own numbered file.
	Path string `yaml:"path"`
}

// SegmenterConfig tunes utterance detection.
type SegmenterConfig struct {
	// SilenceFrames is the number of consecutive silent frames that end an
	// utterance.
	SilenceFrames int `yaml:"silence_frames"`

	// MaxFrames force-ends an utterance after this many frames. 0 means no
	// limit.
	MaxFrames int `yaml:"max_frames"`

	Classifier      ClassifierKind `yaml:"classifier"`
	EnergyThreshold float64        `yaml:"energy_threshold"`
	SileroModel     string         `yaml:"silero_model"`
	SileroThreshold float64        `yaml:"silero_threshold"`
}

// ProvidersConfig declares which provider implementations back each stage.
// Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// STT lists transcribers. The first is the primary; the rest are
	// combined according to STTStrategy.
	STT         []ProviderEntry `yaml:"stt"`
	STTStrategy Strategy        `yaml:"stt_strategy"`

	// TTS lists synthesizers; the first is primary, the rest are fallbacks.
	TTS []ProviderEntry `yaml:"tts"`

	// LLM is only needed by the "llm" responder.
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "base.en", "nova-2").
	// For whisper-native it is the path of the model file.
	Model string `yaml:"model"`

	// Language is the BCP-47 code passed to transcribers and synthesizers.
	Language string `yaml:"language"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// ResponderConfig selects how replies are produced.
type ResponderConfig struct {
	// Kind is one of roundrobin, keyword, echo or llm.
	Kind string `yaml:"kind"`

	// Replies overrides the round-robin reply list.
	Replies []string `yaml:"replies"`

	SystemPrompt  string `yaml:"system_prompt"`
	FallbackReply string `yaml:"fallback_reply"`
}

// VoiceConfig specifies the TTS voice.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id"`

	Language string `yaml:"language"`

	// Speed adjusts speaking rate in the range [0.5, 2.0]. 0 and 1 mean default.
	Speed float64 `yaml:"speed"`
}

// PipelineConfig tunes the turn worker.
type PipelineConfig struct {
	// QueueSize bounds the number of utterances waiting for the worker.
	QueueSize int `yaml:"queue_size"`

	// HalfDuplex mutes capture while a reply plays. Defaults to true.
	HalfDuplex *bool `yaml:"half_duplex"`

	// TranscriptPath receives one entry per completed turn. Empty disables it.
	TranscriptPath string `yaml:"transcript_path"`

	// Vocabulary lists domain terms transcripts are corrected towards.
	// It is reloaded without a restart.
	Vocabulary []string `yaml:"vocabulary"`
}

// HalfDuplexEnabled reports the effective half-duplex setting.
func (p PipelineConfig) HalfDuplexEnabled() bool {
	return p.HalfDuplex == nil || *p.HalfDuplex
}

// LiveKitConfig identifies the room joined by the livekit source and sink.
type LiveKitConfig struct {
	URL       string `yaml:"url"`
	Room      string `yaml:"room"`
	Identity  string `yaml:"identity"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// Token is a pre-minted access token. When set, APIKey and APISecret are
	// not used.
	Token string `yaml:"token"`

	// ReconnectAttempts bounds how often a dropped connection is re-joined
	// before capture ends. Zero uses the package default; negative disables
	// reconnection.
	ReconnectAttempts int `yaml:"reconnect_attempts"`

	// ReconnectBackoff is the first delay between attempts. It doubles up to
	// 30s.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
}

// EventsConfig enables publishing completed turns to Kafka. With no brokers
// events are only logged.
type EventsConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// UploadConfig controls the POST /upload-audio endpoint.
type UploadConfig struct {
	Enabled    bool    `yaml:"enabled"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
	MaxBytes   int64   `yaml:"max_bytes"`
}
