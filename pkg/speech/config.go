package speech

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/murmura-ai/murmura/pkg/configutil"
)

type Config struct {
	Synth         SynthConfig               `mapstructure:"synth"`
	Segment       SegmentConfig             `mapstructure:"segment"`
	Playback      PlaybackConfig            `mapstructure:"playback"`
	Pipeline      PipelineConfig            `mapstructure:"pipeline"`
	Engines       map[string]map[string]any `mapstructure:"engines"`
	Environment   string                    `mapstructure:"environment"`
	LogLevel      string                    `mapstructure:"log_level"`
	LogFormat     string                    `mapstructure:"log_format"`
	Observability ObservabilityConfig       `mapstructure:"observability"`
	Privacy       PrivacyConfig             `mapstructure:"privacy"`
}

type SynthConfig struct {
	// Transport selects "http" (request/response) or "stream"
	// (websocket stream-input).
	Transport         string  `mapstructure:"transport"`
	BaseURL           string  `mapstructure:"base_url"`
	StreamURL         string  `mapstructure:"stream_url"`
	APIKey            string  `mapstructure:"api_key"`
	Voice             string  `mapstructure:"voice"`
	Engine            string  `mapstructure:"engine"`
	Rate              float64 `mapstructure:"rate"`
	Pitch             float64 `mapstructure:"pitch"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryBackoffMS    int     `mapstructure:"retry_backoff_ms"`
	BreakerThreshold  int     `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int     `mapstructure:"breaker_cooldown_ms"`
}

type SegmentConfig struct {
	MinLen           int `mapstructure:"min_len"`
	SilenceTimeoutMS int `mapstructure:"silence_timeout_ms"`
	MaxHistory       int `mapstructure:"max_history"`
}

type PlaybackConfig struct {
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
}

type PipelineConfig struct {
	HighCapacity int `mapstructure:"high_capacity"`
	LowCapacity  int `mapstructure:"low_capacity"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string  `mapstructure:"artifacts_dir"`
	RetentionDays int     `mapstructure:"retention_days"`
	SampleAppends float64 `mapstructure:"sample_appends"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// EngineSettings are per-engine overrides carried as a free-form map
// in the config file and decoded on demand.
type EngineSettings struct {
	Voice       string  `mapstructure:"voice"`
	Rate        float64 `mapstructure:"rate"`
	Pitch       float64 `mapstructure:"pitch"`
	ContentType string  `mapstructure:"content_type"`
}

var engineSettingsSchema = configutil.Schema{
	Optional: []string{"voice", "rate", "pitch", "content_type"},
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("synth.transport", "http")
	v.SetDefault("synth.voice", "default")
	v.SetDefault("synth.engine", "standard")
	v.SetDefault("synth.rate", 1.0)
	v.SetDefault("synth.pitch", 1.0)
	v.SetDefault("synth.max_retries", 2)
	v.SetDefault("synth.retry_backoff_ms", 200)
	v.SetDefault("synth.breaker_threshold", 5)
	v.SetDefault("synth.breaker_cooldown_ms", 10000)
	v.SetDefault("segment.min_len", 1)
	v.SetDefault("segment.silence_timeout_ms", 800)
	v.SetDefault("segment.max_history", 10)
	v.SetDefault("playback.sample_rate", 44100)
	v.SetDefault("playback.channels", 1)
	v.SetDefault("pipeline.high_capacity", 8)
	v.SetDefault("pipeline.low_capacity", 64)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.sample_appends", 0.0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)
	for name, settings := range cfg.Engines {
		cfg.Engines[name] = expandSettings(settings)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Synth.Transport)) {
	case "http", "":
		if err := configutil.RequireString(c.Synth.BaseURL, "synth.base_url"); err != nil {
			return err
		}
	case "stream":
		if err := configutil.RequireString(c.Synth.StreamURL, "synth.stream_url"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("synth.transport must be http or stream, got %q", c.Synth.Transport)
	}
	for name, settings := range c.Engines {
		if err := configutil.ValidateSettings(settings, engineSettingsSchema); err != nil {
			return fmt.Errorf("engines.%s: %w", name, err)
		}
	}
	return nil
}

// EngineOverrides decodes the settings map for the named engine.
// Unset fields stay zero and leave the base config untouched.
func (c *Config) EngineOverrides(engine string) (EngineSettings, error) {
	var out EngineSettings
	settings, ok := c.Engines[engine]
	if !ok {
		return out, nil
	}
	if err := configutil.DecodeSettings(settings, &out); err != nil {
		return out, fmt.Errorf("decode engines.%s: %w", engine, err)
	}
	return out, nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
