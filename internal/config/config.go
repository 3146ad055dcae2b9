// Package config provides the configuration structure for the tts pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
)

// Providers and merge strategies.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	MergeWAV    = "wav"
	MergeFFmpeg = "ffmpeg"
	MergeNone   = "none"
)

// Defaults applied to unset settings.
const (
	DefaultMaxSegmentSize       = 3800
	DefaultPaceSeconds          = 8
	DefaultSilenceGapMS         = 150
	DefaultWorkDir              = "."
	DefaultVoice                = "Kore"
	DefaultTemperature          = 1.0
	DefaultGeminiBaseURL        = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel          = "gemini-2.5-flash-preview-tts"
	DefaultOpenAIModel          = "gpt-4o-mini-tts"
	DefaultOpenAIVoice          = "alloy"
	DefaultCredentialsEnvVar    = "ALL_GEMINI_API_KEYS"
	DefaultDotenvPath           = ".env"
	DefaultFFmpegCommand        = "ffmpeg -hide_banner -loglevel error"
	DefaultListenAddr           = ":7860"
	DefaultStaticDir            = "public"
	DefaultHandleTimeoutSeconds = 900
	credentialSeparator         = ","
)

const (
	errFmtLoad            = "failed to load configuration from configurator: %w"
	errFmtProvider        = "%w: provider %q"
	errFmtMergeStrategy   = "%w: merge strategy %q"
	errFmtNegativeSetting = "%w: %s must not be negative"
	logFmtDotenvFailed    = "Failed to load %s: %v"
	logFmtNoCredentials   = "No credentials found in %s; every synthesis will fail"
	logFmtCredentials     = "Loaded %d credentials from %s"
)

// Validation errors.
var (
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrUnknownMergeStrategy = errors.New("unknown merge strategy")
	ErrNegativeSetting      = errors.New("invalid setting")
)

// PipelineConfig holds the generation pipeline settings.
// Zero is a valid value for the pointer settings; nil means unset.
type PipelineConfig struct {
	DefaultTemperature *float64 `toml:"default_temperature"`
	PaceSeconds        *int     `toml:"pace_seconds"`
	SilenceGapMS       *int     `toml:"silence_gap_ms"`
	WorkDir            string   `toml:"work_dir"`
	Provider           string   `toml:"provider"`
	DefaultVoice       string   `toml:"default_voice"`
	MaxSegmentSize     int      `toml:"max_segment_size"`
}

// GeminiConfig holds the Gemini speech endpoint settings.
type GeminiConfig struct {
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// OpenAIConfig holds the OpenAI speech endpoint settings.
type OpenAIConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	Voice   string `toml:"voice"`
}

// CredentialsConfig says where the comma-separated key pool comes from.
type CredentialsConfig struct {
	EnvVar     string `toml:"env_var"`
	DotenvPath string `toml:"dotenv_path"`
}

// MergeConfig selects how segment files are joined.
type MergeConfig struct {
	Strategy      string `toml:"strategy"`
	FFmpegCommand string `toml:"ffmpeg_command"`
}

// ServerConfig holds the HTTP boundary settings.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	StaticDir  string `toml:"static_dir"`
}

// NATSConfig holds the configuration for NATS. An empty URL disables the
// worker.
type NATSConfig struct {
	URL                    string `toml:"url"`
	TextProcessedSubject   string `toml:"text_processed_subject"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	HandleTimeoutSeconds   int    `toml:"handle_timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Gemini      GeminiConfig      `toml:"gemini"`
	OpenAI      OpenAIConfig      `toml:"openai"`
	Credentials CredentialsConfig `toml:"credentials"`
	Merge       MergeConfig       `toml:"merge"`
	Server      ServerConfig      `toml:"server"`
	NATS        NATSConfig        `toml:"nats"`
	Paths       PathsConfig       `toml:"paths"`
}

// Load loads the configuration through the central configurator and fills
// in defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf(errFmtLoad, err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// Default returns a configuration made only of defaults.
func Default() *Config {
	var cfg Config

	cfg.ApplyDefaults()

	return &cfg
}

// ApplyDefaults fills every unset setting. Empty strings and zero counts are
// unset; the pointer settings are unset only when nil.
func (c *Config) ApplyDefaults() {
	setString(&c.Pipeline.WorkDir, DefaultWorkDir)
	setString(&c.Pipeline.Provider, ProviderGemini)
	setString(&c.Pipeline.DefaultVoice, DefaultVoice)
	setInt(&c.Pipeline.MaxSegmentSize, DefaultMaxSegmentSize)
	setIfNil(&c.Pipeline.PaceSeconds, DefaultPaceSeconds)
	setIfNil(&c.Pipeline.SilenceGapMS, DefaultSilenceGapMS)
	setIfNil(&c.Pipeline.DefaultTemperature, DefaultTemperature)

	setString(&c.Gemini.BaseURL, DefaultGeminiBaseURL)
	setString(&c.Gemini.Model, DefaultGeminiModel)
	setString(&c.OpenAI.Model, DefaultOpenAIModel)
	setString(&c.OpenAI.Voice, DefaultOpenAIVoice)
	setString(&c.Credentials.EnvVar, DefaultCredentialsEnvVar)
	setString(&c.Credentials.DotenvPath, DefaultDotenvPath)
	setString(&c.Merge.Strategy, MergeWAV)
	setString(&c.Merge.FFmpegCommand, DefaultFFmpegCommand)
	setString(&c.Server.ListenAddr, DefaultListenAddr)
	setString(&c.Server.StaticDir, DefaultStaticDir)
	setInt(&c.NATS.HandleTimeoutSeconds, DefaultHandleTimeoutSeconds)
	setString(&c.Paths.BaseLogsDir, os.TempDir())
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Pipeline.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf(errFmtProvider, ErrUnknownProvider, c.Pipeline.Provider)
	}

	switch c.Merge.Strategy {
	case MergeWAV, MergeFFmpeg, MergeNone:
	default:
		return fmt.Errorf(errFmtMergeStrategy, ErrUnknownMergeStrategy, c.Merge.Strategy)
	}

	negative := []struct {
		name  string
		value float64
	}{
		{name: "pipeline.default_temperature", value: c.Temperature()},
		{name: "pipeline.pace_seconds", value: float64(valueOr(c.Pipeline.PaceSeconds, DefaultPaceSeconds))},
		{name: "pipeline.silence_gap_ms", value: float64(valueOr(c.Pipeline.SilenceGapMS, DefaultSilenceGapMS))},
		{name: "gemini.timeout_seconds", value: float64(c.Gemini.TimeoutSeconds)},
	}

	for _, setting := range negative {
		if setting.value < 0 {
			return fmt.Errorf(errFmtNegativeSetting, ErrNegativeSetting, setting.name)
		}
	}

	return nil
}

// Temperature is the sampling temperature used when a request sets none.
func (c *Config) Temperature() float64 {
	return valueOr(c.Pipeline.DefaultTemperature, DefaultTemperature)
}

// PaceDelay is the pause between consecutive synthesis calls.
func (c *Config) PaceDelay() time.Duration {
	return time.Duration(valueOr(c.Pipeline.PaceSeconds, DefaultPaceSeconds)) * time.Second
}

// SilenceGap is the silence inserted between merged segments.
func (c *Config) SilenceGap() time.Duration {
	return time.Duration(valueOr(c.Pipeline.SilenceGapMS, DefaultSilenceGapMS)) * time.Millisecond
}

// GeminiTimeout is the HTTP client timeout; zero means no client timeout.
func (c *Config) GeminiTimeout() time.Duration {
	return time.Duration(c.Gemini.TimeoutSeconds) * time.Second
}

// HandleTimeout bounds one NATS job.
func (c *Config) HandleTimeout() time.Duration {
	return time.Duration(c.NATS.HandleTimeoutSeconds) * time.Second
}

// ParseCredentials splits a comma-separated pool, trimming entries and
// dropping empty ones. Order is preserved.
func ParseCredentials(raw string) []string {
	keys := make([]string, 0)

	for _, entry := range strings.Split(raw, credentialSeparator) {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			keys = append(keys, entry)
		}
	}

	return keys
}

// LoadCredentials reads the pool from the environment after loading the
// optional dotenv file. Variables already set in the environment win. An
// empty pool is logged, not returned as an error.
func LoadCredentials(cfg CredentialsConfig, log *logger.Logger) []string {
	if cfg.DotenvPath != "" {
		err := godotenv.Load(cfg.DotenvPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn(logFmtDotenvFailed, cfg.DotenvPath, err)
		}
	}

	keys := ParseCredentials(os.Getenv(cfg.EnvVar))
	if len(keys) == 0 {
		log.Warn(logFmtNoCredentials, cfg.EnvVar)

		return keys
	}

	log.Info(logFmtCredentials, len(keys), cfg.EnvVar)

	return keys
}

func setString(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}

func setIfNil[T any](field **T, value T) {
	if *field == nil {
		*field = &value
	}
}

func valueOr[T any](field *T, fallback T) T {
	if field == nil {
		return fallback
	}

	return *field
}
