package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Probe target
	URL         string         `yaml:"url" env:"SANDPROBE_URL" default:"ws://localhost:3000/ws/plugins"`
	Command     string         `yaml:"command" env:"SANDPROBE_COMMAND" default:"execute_plugin"`
	PluginID    string         `yaml:"plugin_id" env:"SANDPROBE_PLUGIN_ID" default:"plugin_hello"`
	Parameters  map[string]any `yaml:"parameters" env:"SANDPROBE_PARAMETERS" default:"{\"test\":\"data\"}"`
	TimeoutHint int64          `yaml:"timeout_ms" env:"SANDPROBE_TIMEOUT_MS" default:"10000"` // sent to the server, never enforced locally

	// Receive loop
	ReadTimeout time.Duration `yaml:"read_timeout" env:"SANDPROBE_READ_TIMEOUT" default:"5s"` // per read, not per run
	DialTimeout time.Duration `yaml:"dial_timeout" env:"SANDPROBE_DIAL_TIMEOUT" default:"10s"`
	MaxMessages int           `yaml:"max_messages" env:"SANDPROBE_MAX_MESSAGES" default:"10"`

	// Output
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" default:"info"`
	LogFormat   string `yaml:"log_format" env:"LOG_FORMAT" default:"text"`
	MetricsFile string `yaml:"metrics_file" env:"SANDPROBE_METRICS_FILE"`

	// Mock plugin server
	MockAddr      string              `yaml:"mock_addr" env:"MOCK_SERVER_ADDR" default:":3000"`
	MockFrameRate float64             `yaml:"mock_frame_rate" env:"MOCK_FRAME_RATE" default:"20"` // update frames/s, <= 0 is unlimited
	MockPlugins   map[string][]string `yaml:"mock_plugins"` // plugin id -> output lines
}

// Default returns the built-in configuration, the values the probe uses with no file or env
func Default() *Config {
	return &Config{
		URL:           "ws://localhost:3000/ws/plugins",
		Command:       "execute_plugin",
		PluginID:      "plugin_hello",
		Parameters:    map[string]any{"test": "data"},
		TimeoutHint:   10000,
		ReadTimeout:   5 * time.Second,
		DialTimeout:   10 * time.Second,
		MaxMessages:   10,
		LogLevel:      "info",
		LogFormat:     "text",
		MockAddr:      ":3000",
		MockFrameRate: 20,
	}
}

// LoadConfig builds the configuration: defaults, then the YAML file at path (if any),
// then environment variables (including a .env file in the working directory).
func LoadConfig(path string) (*Config, error) {
	// a missing .env is fine, system env vars still apply
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	config := Default()

	if path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.loadEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer file.Close()

	// maps are decoded into fresh values so the file replaces the defaults instead of merging
	overlay := *c
	overlay.Parameters = nil
	overlay.MockPlugins = nil

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&overlay); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if overlay.Parameters == nil {
		overlay.Parameters = c.Parameters
	}
	if overlay.MockPlugins == nil {
		overlay.MockPlugins = c.MockPlugins
	}
	*c = overlay
	return nil
}

// env values win over the file, the current field value is the fallback
func (c *Config) loadEnv() error {
	// Probe target
	if err := loadEnvString(&c.URL, "SANDPROBE_URL", c.URL); err != nil {
		return err
	}
	if err := loadEnvString(&c.Command, "SANDPROBE_COMMAND", c.Command); err != nil {
		return err
	}
	if err := loadEnvString(&c.PluginID, "SANDPROBE_PLUGIN_ID", c.PluginID); err != nil {
		return err
	}
	if err := loadEnvJSONObject(&c.Parameters, "SANDPROBE_PARAMETERS", c.Parameters); err != nil {
		return err
	}
	if err := loadEnvInt64(&c.TimeoutHint, "SANDPROBE_TIMEOUT_MS", c.TimeoutHint); err != nil {
		return err
	}

	// Receive loop
	if err := loadEnvDuration(&c.ReadTimeout, "SANDPROBE_READ_TIMEOUT", c.ReadTimeout); err != nil {
		return err
	}
	if err := loadEnvDuration(&c.DialTimeout, "SANDPROBE_DIAL_TIMEOUT", c.DialTimeout); err != nil {
		return err
	}
	if err := loadEnvInt(&c.MaxMessages, "SANDPROBE_MAX_MESSAGES", c.MaxMessages); err != nil {
		return err
	}

	// Output
	if err := loadEnvString(&c.LogLevel, "LOG_LEVEL", c.LogLevel); err != nil {
		return err
	}
	if err := loadEnvString(&c.LogFormat, "LOG_FORMAT", c.LogFormat); err != nil {
		return err
	}
	if err := loadEnvString(&c.MetricsFile, "SANDPROBE_METRICS_FILE", c.MetricsFile); err != nil {
		return err
	}

	// Mock plugin server
	if err := loadEnvString(&c.MockAddr, "MOCK_SERVER_ADDR", c.MockAddr); err != nil {
		return err
	}
	if err := loadEnvFloat(&c.MockFrameRate, "MOCK_FRAME_RATE", c.MockFrameRate); err != nil {
		return err
	}
	return nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt64(target *int64, key string, defaultValue int64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvJSONObject(target *map[string]any, key string, defaultValue map[string]any) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := ParseParameters(value)
		if err != nil {
			return fmt.Errorf("invalid JSON object for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// ParseParameters decodes a JSON object literal into a parameter mapping
func ParseParameters(raw string) (map[string]any, error) {
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, err
	}
	if params == nil {
		return nil, errors.New("parameters must be a JSON object")
	}
	return params, nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	u, err := url.Parse(c.URL)
	if err != nil {
		errors = append(errors, fmt.Sprintf("SANDPROBE_URL is not a valid URL: %v", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errors = append(errors, "SANDPROBE_URL scheme must be ws or wss")
	} else if u.Host == "" {
		errors = append(errors, "SANDPROBE_URL must include a host")
	}

	if strings.TrimSpace(c.Command) == "" {
		errors = append(errors, "SANDPROBE_COMMAND must not be empty")
	}
	if c.TimeoutHint < 0 {
		errors = append(errors, "SANDPROBE_TIMEOUT_MS must not be negative")
	}
	if c.ReadTimeout <= 0 {
		errors = append(errors, "SANDPROBE_READ_TIMEOUT must be positive")
	}
	if c.DialTimeout <= 0 {
		errors = append(errors, "SANDPROBE_DIAL_TIMEOUT must be positive")
	}
	if c.MaxMessages < 1 {
		errors = append(errors, "SANDPROBE_MAX_MESSAGES must be at least 1")
	}
	errors = append(errors, c.validateLogging()...)

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// ValidateMockServer checks the settings the mock plugin server reads.
// A MockFrameRate of zero or less means unlimited pacing.
func (c *Config) ValidateMockServer() error {
	var errors []string

	if strings.TrimSpace(c.MockAddr) == "" {
		errors = append(errors, "MOCK_SERVER_ADDR must not be empty")
	}
	if math.IsNaN(c.MockFrameRate) {
		errors = append(errors, "MOCK_FRAME_RATE must be a number")
	}
	for id := range c.MockPlugins {
		if strings.TrimSpace(id) == "" {
			errors = append(errors, "mock_plugins ids must not be empty")
			break
		}
	}
	errors = append(errors, c.validateLogging()...)

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (c *Config) validateLogging() []string {
	var errors []string

	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	// Validate log format
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}
	return errors
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
