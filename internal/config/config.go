package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config contains all runtime settings for the storage intake service.
type Config struct {
	BindAddr         string
	Environment      string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	ConversationTTL             time.Duration
	ConversationJanitorInterval time.Duration

	DatabaseURL     string
	DatabaseMigrate bool
	RedisURL        string
	UnitCacheTTL    time.Duration

	TwilioAuthToken         string
	TwilioValidateSignature bool
	PublicBaseURL           string
	TTSVoice                string

	TranscriberMode        string
	TranscriberURL         string
	TranscriberFallbackURL string
	TranscriberTimeout     time.Duration
	TranscriberMaxAttempts int

	MonitorAllowAnyOrigin bool
}

var defaults = map[string]any{
	"APP_BIND_ADDR":                 ":8000",
	"APP_ENVIRONMENT":               "development",
	"LOG_LEVEL":                     "info",
	"LOG_FORMAT":                    "console",
	"APP_SHUTDOWN_TIMEOUT":          "15s",
	"APP_METRICS_NAMESPACE":         "storageagent",
	"CONVERSATION_TTL":              "15m",
	"CONVERSATION_JANITOR_INTERVAL": "30s",
	"DATABASE_MIGRATE":              "true",
	"UNIT_CACHE_TTL":                "30s",
	"TWILIO_VALIDATE_SIGNATURE":     "true",
	"TTS_VOICE":                     "Polly.Amy",
	"TRANSCRIBER_MODE":              "auto",
	"TRANSCRIBER_TIMEOUT":           "10s",
	"TRANSCRIBER_MAX_ATTEMPTS":      "3",
	"MONITOR_ALLOW_ANY_ORIGIN":      "false",
}

// Load reads .env, an optional config.yaml and the environment, in
// increasing order of precedence, and validates the result.
func Load() (Config, error) {
	loadEnvFile(".env")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	return fromViper(v)
}

// LoadFile is Load with an explicit YAML file instead of the search path.
func LoadFile(path string) (Config, error) {
	loadEnvFile(".env")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	return fromViper(v)
}

func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	// Existing environment variables win over the file.
	_ = godotenv.Load(path)
}

func fromViper(v *viper.Viper) (Config, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	cfg := Config{
		BindAddr:               stringOf(v, "APP_BIND_ADDR"),
		Environment:            stringOf(v, "APP_ENVIRONMENT"),
		LogLevel:               strings.ToLower(stringOf(v, "LOG_LEVEL")),
		LogFormat:              strings.ToLower(stringOf(v, "LOG_FORMAT")),
		MetricsNamespace:       stringOf(v, "APP_METRICS_NAMESPACE"),
		DatabaseURL:            stringOf(v, "DATABASE_URL"),
		RedisURL:               stringOf(v, "REDIS_URL"),
		TwilioAuthToken:        stringOf(v, "TWILIO_AUTH_TOKEN"),
		PublicBaseURL:          strings.TrimRight(stringOf(v, "PUBLIC_BASE_URL"), "/"),
		TTSVoice:               stringOf(v, "TTS_VOICE"),
		TranscriberMode:        strings.ToLower(stringOf(v, "TRANSCRIBER_MODE")),
		TranscriberURL:         stringOf(v, "TRANSCRIBER_URL"),
		TranscriberFallbackURL: stringOf(v, "TRANSCRIBER_FALLBACK_URL"),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationOf(v, "APP_SHUTDOWN_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.ConversationTTL, err = durationOf(v, "CONVERSATION_TTL"); err != nil {
		return Config{}, err
	}
	if cfg.ConversationJanitorInterval, err = durationOf(v, "CONVERSATION_JANITOR_INTERVAL"); err != nil {
		return Config{}, err
	}
	if cfg.UnitCacheTTL, err = durationOf(v, "UNIT_CACHE_TTL"); err != nil {
		return Config{}, err
	}
	if cfg.TranscriberTimeout, err = durationOf(v, "TRANSCRIBER_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.TranscriberMaxAttempts, err = intOf(v, "TRANSCRIBER_MAX_ATTEMPTS"); err != nil {
		return Config{}, err
	}
	if cfg.DatabaseMigrate, err = boolOf(v, "DATABASE_MIGRATE"); err != nil {
		return Config{}, err
	}
	if cfg.TwilioValidateSignature, err = boolOf(v, "TWILIO_VALIDATE_SIGNATURE"); err != nil {
		return Config{}, err
	}
	if cfg.MonitorAllowAnyOrigin, err = boolOf(v, "MONITOR_ALLOW_ANY_ORIGIN"); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ConversationTTL < time.Minute {
		return fmt.Errorf("CONVERSATION_TTL must be at least 1m")
	}
	if c.ConversationJanitorInterval <= 0 {
		return fmt.Errorf("CONVERSATION_JANITOR_INTERVAL must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.UnitCacheTTL < 0 {
		return fmt.Errorf("UNIT_CACHE_TTL must be >= 0")
	}
	if c.TranscriberMaxAttempts <= 0 {
		return fmt.Errorf("TRANSCRIBER_MAX_ATTEMPTS must be positive")
	}
	switch c.TranscriberMode {
	case "mock", "auto":
	case "http":
		if c.TranscriberURL == "" {
			return fmt.Errorf("TRANSCRIBER_URL is required when TRANSCRIBER_MODE=http")
		}
	default:
		return fmt.Errorf("TRANSCRIBER_MODE must be one of mock, http, auto")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}
	return nil
}

// SignatureValidation reports whether webhook signatures are checked.
func (c Config) SignatureValidation() bool {
	return c.TwilioValidateSignature && c.TwilioAuthToken != ""
}

func stringOf(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func durationOf(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(stringOf(v, key))
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intOf(v *viper.Viper, key string) (int, error) {
	n, err := strconv.Atoi(stringOf(v, key))
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolOf(v *viper.Viper, key string) (bool, error) {
	switch strings.ToLower(stringOf(v, key)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
