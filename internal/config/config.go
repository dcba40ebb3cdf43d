// Package config loads daemon configuration from yaml with environment
// overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("2s", "300ms") or integer
// nanoseconds in yaml.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(ns)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full daemon configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Uploads      UploadsConfig      `yaml:"uploads"`
	History      HistoryConfig      `yaml:"history"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	Verification VerificationConfig `yaml:"verification"`
	Stream       StreamConfig       `yaml:"stream"`
	Encoder      EncoderConfig      `yaml:"encoder"`
	VectorStore  VectorStoreConfig  `yaml:"vectorStore"`
	RateLimit    RateLimitConfig    `yaml:"rateLimit"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type UploadsConfig struct {
	Dir string `yaml:"dir"`
}

type HistoryConfig struct {
	DBPath string `yaml:"dbPath"`
}

type ClassifierConfig struct {
	BaseURL        string   `yaml:"baseUrl"`
	MaxAttempts    int      `yaml:"maxAttempts"`
	BackoffBase    Duration `yaml:"backoffBase"`
	AttemptTimeout Duration `yaml:"attemptTimeout"`
}

type VerificationConfig struct {
	TopN int `yaml:"topN"`
}

type StreamConfig struct {
	// EventsPerSecond paces clustering/verification sends.
	EventsPerSecond float64 `yaml:"eventsPerSecond"`
	// DrainDelay holds the channel open after the terminal event so the
	// client can drain buffered messages.
	DrainDelay Duration `yaml:"drainDelay"`
}

type EncoderConfig struct {
	BaseURL string `yaml:"baseUrl"`
}

type VectorStoreConfig struct {
	BaseURL    string `yaml:"baseUrl"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vectorSize"`
}

type RateLimitConfig struct {
	Enabled *bool   `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// Default returns the configuration used when nothing is provided.
func Default() Config {
	enabled := true
	return Config{
		Server:  ServerConfig{Addr: "127.0.0.1:8000"},
		Uploads: UploadsConfig{Dir: "temp_uploads"},
		History: HistoryConfig{DBPath: "analysis_history.db"},
		Classifier: ClassifierConfig{
			BaseURL:        "http://127.0.0.1:9000",
			MaxAttempts:    3,
			BackoffBase:    Duration(2 * time.Second),
			AttemptTimeout: Duration(300 * time.Second),
		},
		Verification: VerificationConfig{TopN: 5},
		Stream: StreamConfig{
			EventsPerSecond: 10,
			DrainDelay:      Duration(time.Second),
		},
		Encoder: EncoderConfig{},
		VectorStore: VectorStoreConfig{
			Collection: "dna_knowledge_base",
			VectorSize: 768,
		},
		RateLimit: RateLimitConfig{Enabled: &enabled, RPS: 30, Burst: 60},
	}
}

// LoadFromPath reads configPath (or the default candidates when empty),
// merges it over the defaults and applies env overrides last.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/config.yaml",
			"go-backend/configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

// Merge copies every set field of src over dst.
func Merge(dst *Config, src Config) {
	if src.Server.Addr != "" {
		dst.Server.Addr = src.Server.Addr
	}
	if src.Uploads.Dir != "" {
		dst.Uploads.Dir = src.Uploads.Dir
	}
	if src.History.DBPath != "" {
		dst.History.DBPath = src.History.DBPath
	}
	if src.Classifier.BaseURL != "" {
		dst.Classifier.BaseURL = src.Classifier.BaseURL
	}
	if src.Classifier.MaxAttempts != 0 {
		dst.Classifier.MaxAttempts = src.Classifier.MaxAttempts
	}
	if src.Classifier.BackoffBase != 0 {
		dst.Classifier.BackoffBase = src.Classifier.BackoffBase
	}
	if src.Classifier.AttemptTimeout != 0 {
		dst.Classifier.AttemptTimeout = src.Classifier.AttemptTimeout
	}
	if src.Verification.TopN != 0 {
		dst.Verification.TopN = src.Verification.TopN
	}
	if src.Stream.EventsPerSecond != 0 {
		dst.Stream.EventsPerSecond = src.Stream.EventsPerSecond
	}
	if src.Stream.DrainDelay != 0 {
		dst.Stream.DrainDelay = src.Stream.DrainDelay
	}
	if src.Encoder.BaseURL != "" {
		dst.Encoder.BaseURL = src.Encoder.BaseURL
	}
	if src.VectorStore.BaseURL != "" {
		dst.VectorStore.BaseURL = src.VectorStore.BaseURL
	}
	if src.VectorStore.Collection != "" {
		dst.VectorStore.Collection = src.VectorStore.Collection
	}
	if src.VectorStore.VectorSize != 0 {
		dst.VectorStore.VectorSize = src.VectorStore.VectorSize
	}
	if src.RateLimit.Enabled != nil {
		dst.RateLimit.Enabled = src.RateLimit.Enabled
	}
	if src.RateLimit.RPS != 0 {
		dst.RateLimit.RPS = src.RateLimit.RPS
	}
	if src.RateLimit.Burst != 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
}

// ApplyEnvOverrides lets the environment win over file configuration.
func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SEQSCOPE_LISTEN_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("SEQSCOPE_UPLOAD_DIR")); v != "" {
		cfg.Uploads.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("SEQSCOPE_HISTORY_DB")); v != "" {
		cfg.History.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("SEQSCOPE_CLASSIFIER_URL")); v != "" {
		cfg.Classifier.BaseURL = v
	}
	if v, ok := parseIntEnv("SEQSCOPE_CLASSIFIER_ATTEMPTS"); ok && v > 0 {
		cfg.Classifier.MaxAttempts = v
	}
	if v, ok := parseDurationEnv("SEQSCOPE_CLASSIFIER_BACKOFF_BASE"); ok {
		cfg.Classifier.BackoffBase = Duration(v)
	}
	if v, ok := parseDurationEnv("SEQSCOPE_CLASSIFIER_ATTEMPT_TIMEOUT"); ok {
		cfg.Classifier.AttemptTimeout = Duration(v)
	}
	if v, ok := parseIntEnv("SEQSCOPE_VERIFICATION_TOP_N"); ok && v > 0 {
		cfg.Verification.TopN = v
	}
	if v := strings.TrimSpace(os.Getenv("SEQSCOPE_ENCODER_URL")); v != "" {
		cfg.Encoder.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SEQSCOPE_VECTOR_STORE_URL")); v != "" {
		cfg.VectorStore.BaseURL = v
	}
	if v, ok := parseBoolEnv("SEQSCOPE_RATE_LIMIT_ENABLED"); ok {
		cfg.RateLimit.Enabled = &v
	}
}

// RateLimitEnabled resolves the tri-state flag, defaulting to enabled
// outside of test environments.
func (c Config) RateLimitEnabled() bool {
	if c.RateLimit.Enabled != nil {
		return *c.RateLimit.Enabled
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("SEQSCOPE_ENV"))) {
	case "test", "testing":
		return false
	default:
		return true
	}
}

func parseIntEnv(name string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseDurationEnv(name string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func parseBoolEnv(name string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
