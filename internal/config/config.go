// ABOUTME: Configuration loading and parsing for coven-relay
// ABOUTME: Layers defaults, an optional TOML or YAML file, and environment overrides

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values applied before the config file and environment.
const (
	DefaultModel        = "gpt-3.5-turbo"
	DefaultImageModel   = "dall-e-2"
	DefaultSystemDesc   = "You are a very direct and straight-to-the-point assistant."
	DefaultImageSize    = "512x512"
	DefaultExpiresIn    = 900
	DefaultHistorySize  = 3
	DefaultMetricsAddr  = "127.0.0.1:9090"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	envConfigPath       = "COVEN_RELAY_CONFIG"
	defaultConfigFolder = "coven"
	defaultConfigName   = "relay.toml"
)

// Config represents the complete coven-relay configuration.
type Config struct {
	Matrix  MatrixConfig  `toml:"matrix" yaml:"matrix"`
	OpenAI  OpenAIConfig  `toml:"openai" yaml:"openai"`
	GPT     GPTConfig     `toml:"gpt" yaml:"gpt"`
	History HistoryConfig `toml:"history" yaml:"history"`
	Relay   RelayConfig   `toml:"relay" yaml:"relay"`
	Usage   UsageConfig   `toml:"usage" yaml:"usage"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
}

// MatrixConfig holds the bot account and room filters.
type MatrixConfig struct {
	Homeserver   string   `toml:"homeserver" yaml:"homeserver"`
	UserID       string   `toml:"user_id" yaml:"user_id"`
	AccessToken  string   `toml:"access_token" yaml:"access_token"`
	DisplayName  string   `toml:"display_name" yaml:"display_name"`
	Encryption   bool     `toml:"encryption" yaml:"encryption"`
	RecoveryKey  string   `toml:"recovery_key" yaml:"recovery_key"`
	AllowedRooms []string `toml:"allowed_rooms" yaml:"allowed_rooms"`
}

// OpenAIConfig holds API credentials and transport settings.
type OpenAIConfig struct {
	APIKey  string `toml:"api_key" yaml:"api_key"`
	BaseURL string `toml:"base_url" yaml:"base_url"`
	// Timeout is zero when unset, leaving request deadlines to the transport.
	Timeout    time.Duration `toml:"-" yaml:"-"`
	TimeoutRaw string        `toml:"timeout" yaml:"timeout"`
}

// GPTConfig selects models and the system directive.
type GPTConfig struct {
	Model      string `toml:"model" yaml:"model"`
	ImageModel string `toml:"image_model" yaml:"image_model"`
	SystemDesc string `toml:"system_desc" yaml:"system_desc"`
	ImageSize  string `toml:"image_size" yaml:"image_size"`
}

// HistoryConfig bounds conversation memory.
type HistoryConfig struct {
	// ExpiresIn is in seconds. It is also the acknowledgement cooldown.
	ExpiresIn int `toml:"expires_in" yaml:"expires_in"`
	Size      int `toml:"size" yaml:"size"`
}

type RelayConfig struct {
	TempDir string `toml:"temp_dir" yaml:"temp_dir"`
}

// UsageConfig enables the usage ledger when DBPath is set.
type UsageConfig struct {
	DBPath string `toml:"db_path" yaml:"db_path"`
}

// MetricsConfig holds ops endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Expiry returns the history recency window.
func (h HistoryConfig) Expiry() time.Duration {
	return time.Duration(h.ExpiresIn) * time.Second
}

// Default returns a Config populated with default values only.
func Default() *Config {
	return &Config{
		GPT: GPTConfig{
			Model:      DefaultModel,
			ImageModel: DefaultImageModel,
			SystemDesc: DefaultSystemDesc,
			ImageSize:  DefaultImageSize,
		},
		History: HistoryConfig{
			ExpiresIn: DefaultExpiresIn,
			Size:      DefaultHistorySize,
		},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		Logging: LoggingConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// Path returns the config file to load, or "" when there is none.
// Priority: COVEN_RELAY_CONFIG > XDG_CONFIG_HOME/coven/relay.toml > ~/.config/coven/relay.toml
func Path() string {
	if envPath := os.Getenv(envConfigPath); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	p := filepath.Join(configDir, defaultConfigFolder, defaultConfigName)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Load builds the configuration from defaults, the file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if strings.TrimSpace(cfg.Matrix.DisplayName) == "" {
		cfg.Matrix.DisplayName = Localpart(cfg.Matrix.UserID)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	case ".toml", "":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv overrides fields with non-empty environment values.
func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"MATRIX_HOMESERVER":   &cfg.Matrix.Homeserver,
		"MATRIX_USER_ID":      &cfg.Matrix.UserID,
		"MATRIX_ACCESS_TOKEN": &cfg.Matrix.AccessToken,
		"MATRIX_DISPLAY_NAME": &cfg.Matrix.DisplayName,
		"MATRIX_RECOVERY_KEY": &cfg.Matrix.RecoveryKey,
		"OPENAI_API_KEY":      &cfg.OpenAI.APIKey,
		"OPENAI_BASE_URL":     &cfg.OpenAI.BaseURL,
		"OPENAI_TIMEOUT":      &cfg.OpenAI.TimeoutRaw,
		"GPT_MODEL":           &cfg.GPT.Model,
		"GPT_IMAGE_MODEL":     &cfg.GPT.ImageModel,
		"GPT_SYSTEM_DESC":     &cfg.GPT.SystemDesc,
		"GPT_IMAGE_SIZE":      &cfg.GPT.ImageSize,
		"RELAY_TEMP_DIR":      &cfg.Relay.TempDir,
		"USAGE_DB_PATH":       &cfg.Usage.DBPath,
		"METRICS_ADDR":        &cfg.Metrics.Addr,
		"LOG_LEVEL":           &cfg.Logging.Level,
		"LOG_FORMAT":          &cfg.Logging.Format,
	}
	for name, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HISTORY_EXPIRES_IN": &cfg.History.ExpiresIn,
		"HISTORY_SIZE":       &cfg.History.Size,
	}
	for name, dst := range ints {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", name, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"MATRIX_ENCRYPTION": &cfg.Matrix.Encryption,
		"METRICS_ENABLED":   &cfg.Metrics.Enabled,
	}
	for name, dst := range bools {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s must be a boolean: %w", name, err)
		}
		*dst = b
	}

	return nil
}

// applyDefaults restores the default for any defaulted string left blank.
func applyDefaults(cfg *Config) {
	def := Default()
	fields := []struct {
		dst *string
		def string
	}{
		{&cfg.GPT.Model, def.GPT.Model},
		{&cfg.GPT.ImageModel, def.GPT.ImageModel},
		{&cfg.GPT.SystemDesc, def.GPT.SystemDesc},
		{&cfg.GPT.ImageSize, def.GPT.ImageSize},
		{&cfg.Metrics.Addr, def.Metrics.Addr},
		{&cfg.Logging.Level, def.Logging.Level},
		{&cfg.Logging.Format, def.Logging.Format},
	}
	for _, f := range fields {
		if strings.TrimSpace(*f.dst) == "" {
			*f.dst = f.def
		}
	}
}

// parseDurations converts the raw duration strings into time.Duration values.
// A bare integer is read as seconds.
func parseDurations(cfg *Config) error {
	raw := strings.TrimSpace(cfg.OpenAI.TimeoutRaw)
	if raw == "" {
		return nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		cfg.OpenAI.Timeout = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing openai.timeout %q: %w", raw, err)
	}
	cfg.OpenAI.Timeout = d
	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Matrix.Homeserver) == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	u, err := url.Parse(c.Matrix.Homeserver)
	if err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("matrix.homeserver must use http or https scheme")
	}
	if strings.TrimSpace(c.Matrix.UserID) == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if !strings.HasPrefix(c.Matrix.UserID, "@") || !strings.Contains(c.Matrix.UserID, ":") {
		return fmt.Errorf("matrix.user_id must look like @name:server, got %q", c.Matrix.UserID)
	}
	if strings.TrimSpace(c.Matrix.AccessToken) == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.OpenAI.Timeout < 0 {
		return fmt.Errorf("openai.timeout must not be negative")
	}
	if c.History.Size < 0 {
		return fmt.Errorf("history.size must not be negative")
	}
	if c.History.ExpiresIn < 0 {
		return fmt.Errorf("history.expires_in must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// Localpart returns the name part of a Matrix user ID.
// Example: @relay:example.org -> relay
func Localpart(userID string) string {
	s := strings.TrimPrefix(userID, "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}
