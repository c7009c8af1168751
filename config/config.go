package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"engiero/internal/idgen"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Entry validation codes, matching the credential form errors.
var (
	ErrMissingCredentials = errors.New("missing_credentials")
	ErrMissingBearer      = errors.New("missing_bearer")
	ErrInvalidAuthMode    = errors.New("invalid_auth_mode")
)

const (
	AuthModeMobileLogin = "mobile_login"
	AuthModeBearer      = "bearer"

	DefaultBaseURL         = "https://gwss.engie.ro"
	DefaultIntervalSeconds = 1800
	MinIntervalSeconds     = 300
	DefaultTimeoutSeconds  = 30
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Security SecurityConfig `json:"security" yaml:"security"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	DataDir  string         `json:"data_dir" yaml:"data_dir"`
	Entries  []EntryConfig  `json:"entries" yaml:"entries"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

// SecurityConfig contains security settings for the local API.
// APIKeyHash, when set, is a bcrypt hash checked instead of APIKey.
type SecurityConfig struct {
	APIKey        string   `json:"api_key" yaml:"api_key"`
	APIKeyHash    string   `json:"api_key_hash" yaml:"api_key_hash"`
	AllowedIPs    []string `json:"allowed_ips" yaml:"allowed_ips"`
	EnableIPCheck bool     `json:"enable_ip_check" yaml:"enable_ip_check"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// TelegramConfig enables re-authentication prompts over Telegram
type TelegramConfig struct {
	BotToken string `json:"bot_token" yaml:"bot_token"`
	ChatID   int64  `json:"chat_id" yaml:"chat_id"`
}

// Enabled reports whether both token and chat are configured
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != 0
}

// EntryConfig is one configured ENGIE account
type EntryConfig struct {
	ID                     string `json:"id" yaml:"id"`
	Name                   string `json:"name" yaml:"name"`
	AuthMode               string `json:"auth_mode" yaml:"auth_mode"`
	Username               string `json:"username" yaml:"username"`
	Password               string `json:"password" yaml:"password"`
	DeviceID               string `json:"device_id" yaml:"device_id"`
	BearerToken            string `json:"bearer_token" yaml:"bearer_token"`
	TokenFilePath          string `json:"token_file_path" yaml:"token_file_path"`
	BaseURL                string `json:"base_url" yaml:"base_url"`
	RefreshIntervalSeconds int    `json:"refresh_interval_seconds" yaml:"refresh_interval_seconds"`
	RequestTimeoutSeconds  int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	POC                    string `json:"poc" yaml:"poc"`
	ProbeStatus            bool   `json:"probe_status" yaml:"probe_status"`
}

// Validate checks the entry and fills defaults. Credentials are checked per
// auth mode; an interval below the floor is left for the caller to raise so
// the adjustment can be logged.
func (e *EntryConfig) Validate(dataDir string) error {
	e.ID = strings.TrimSpace(e.ID)
	if e.ID == "" {
		return fmt.Errorf("%w: entry id is required", ErrInvalidConfig)
	}

	e.AuthMode = strings.TrimSpace(e.AuthMode)
	if e.AuthMode == "" {
		e.AuthMode = AuthModeMobileLogin
	}

	switch e.AuthMode {
	case AuthModeMobileLogin:
		if strings.TrimSpace(e.Username) == "" || strings.TrimSpace(e.Password) == "" {
			return fmt.Errorf("%w: entry %q: %w", ErrInvalidConfig, e.ID, ErrMissingCredentials)
		}
		if e.DeviceID == "" {
			e.DeviceID = idgen.DeviceID(e.Username)
		}
	case AuthModeBearer:
		if strings.TrimSpace(e.BearerToken) == "" {
			return fmt.Errorf("%w: entry %q: %w", ErrInvalidConfig, e.ID, ErrMissingBearer)
		}
	default:
		return fmt.Errorf("%w: entry %q: %w", ErrInvalidConfig, e.ID, ErrInvalidAuthMode)
	}

	if e.Name == "" {
		e.Name = e.ID
	}
	if e.BaseURL == "" {
		e.BaseURL = DefaultBaseURL
	}
	if e.RefreshIntervalSeconds <= 0 {
		e.RefreshIntervalSeconds = DefaultIntervalSeconds
	}
	if e.RequestTimeoutSeconds <= 0 {
		e.RequestTimeoutSeconds = DefaultTimeoutSeconds
	}
	if e.TokenFilePath == "" {
		e.TokenFilePath = filepath.Join(dataDir, fmt.Sprintf("engie_token_%s.json", e.ID))
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}

	if c.DataDir == "" {
		c.DataDir = "./data" // default
	}

	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "engiero.db")
	}

	if c.Security.APIKey == "" && c.Security.APIKeyHash == "" {
		return fmt.Errorf("%w: API key is required", ErrInvalidConfig)
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if len(c.Entries) == 0 {
		return fmt.Errorf("%w: at least one entry is required", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Entries))
	for i := range c.Entries {
		if err := c.Entries[i].Validate(c.DataDir); err != nil {
			return err
		}
		if seen[c.Entries[i].ID] {
			return fmt.Errorf("%w: duplicate entry id %q", ErrInvalidConfig, c.Entries[i].ID)
		}
		seen[c.Entries[i].ID] = true
	}

	return nil
}

// Entry returns the entry with the given id
func (c *Config) Entry(id string) (*EntryConfig, bool) {
	for i := range c.Entries {
		if c.Entries[i].ID == id {
			return &c.Entries[i], true
		}
	}
	return nil, false
}

// Load loads configuration from a JSON or YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromEnv loads configuration for a single entry from environment variables
// This is useful for containerized deployments
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: getEnv("ENGIERO_HOST", "0.0.0.0"),
			Port: getEnvInt("ENGIERO_PORT", 8080),
		},
		Database: DatabaseConfig{
			Path: getEnv("ENGIERO_DB_PATH", ""),
		},
		Security: SecurityConfig{
			APIKey:        getEnv("ENGIERO_API_KEY", ""),
			APIKeyHash:    getEnv("ENGIERO_API_KEY_HASH", ""),
			EnableIPCheck: getEnvBool("ENGIERO_ENABLE_IP_CHECK", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("ENGIERO_LOG_LEVEL", "info"),
			Format: getEnv("ENGIERO_LOG_FORMAT", "json"),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("ENGIERO_TELEGRAM_BOT_TOKEN", ""),
			ChatID:   int64(getEnvInt("ENGIERO_TELEGRAM_CHAT_ID", 0)),
		},
		DataDir: getEnv("ENGIERO_DATA_DIR", "./data"),
		Entries: []EntryConfig{{
			ID:                     getEnv("ENGIERO_ENTRY_ID", "default"),
			Name:                   getEnv("ENGIERO_ENTRY_NAME", ""),
			AuthMode:               getEnv("ENGIERO_AUTH_MODE", AuthModeMobileLogin),
			Username:               getEnv("ENGIERO_USERNAME", ""),
			Password:               getEnv("ENGIERO_PASSWORD", ""),
			DeviceID:               getEnv("ENGIERO_DEVICE_ID", ""),
			BearerToken:            getEnv("ENGIERO_BEARER_TOKEN", ""),
			TokenFilePath:          getEnv("ENGIERO_TOKEN_FILE", ""),
			BaseURL:                getEnv("ENGIERO_BASE_URL", DefaultBaseURL),
			RefreshIntervalSeconds: getEnvInt("ENGIERO_REFRESH_INTERVAL", DefaultIntervalSeconds),
			RequestTimeoutSeconds:  getEnvInt("ENGIERO_REQUEST_TIMEOUT", DefaultTimeoutSeconds),
			POC:                    getEnv("ENGIERO_POC", ""),
			ProbeStatus:            getEnvBool("ENGIERO_PROBE_STATUS", false),
		}},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		fmt.Sscanf(value, "%d", &intVal)
		return intVal
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
