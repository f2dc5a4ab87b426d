package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig represents server configuration
type ServerConfig struct {
	Address  string         `yaml:"address"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Hub      HubConfig      `yaml:"hub"`
	Logging  LoggingConfig  `yaml:"logging"`
	CORS     CORSConfig     `yaml:"cors"`

	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig represents identity provider settings
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	Audience    string `yaml:"audience"`
	ProviderURL string `yaml:"provider_url"`
	AnonKey     string `yaml:"anon_key"`
}

// StorageConfig represents object storage settings
type StorageConfig struct {
	Driver string   `yaml:"driver"` // fs | s3
	Root   string   `yaml:"root"`
	S3     S3Config `yaml:"s3"`
}

// S3Config represents S3 compatible bucket settings
type S3Config struct {
	URL       string `yaml:"url"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
}

// DatabaseConfig represents database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HubConfig represents sync hub settings
type HubConfig struct {
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RelayBuffer    int           `yaml:"relay_buffer"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`

	// MaxMessageBytes caps one inbound websocket frame.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// CORSConfig represents allowed browser origins
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Address: ":3000",
		Auth: AuthConfig{
			Audience: "authenticated",
		},
		Storage: StorageConfig{
			Driver: "fs",
			Root:   "./data",
			S3: S3Config{
				Region: "us-east-1",
				Bucket: "fonts",
			},
		},
		Database: DatabaseConfig{
			Path: "./fontsync.db",
		},
		Hub: HubConfig{
			WriteTimeout:    10 * time.Second,
			RelayBuffer:     100,
			EnqueueTimeout:  250 * time.Millisecond,
			MaxMessageBytes: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
		MaxUploadBytes:  100 << 20,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*ServerConfig, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadFromFile(path string, config *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, config)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(config *ServerConfig) {
	set := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	set("SERVER_ADDR", &config.Address)
	set("SUPABASE_JWT_SECRET", &config.Auth.JWTSecret)
	set("SUPABASE_URL", &config.Auth.ProviderURL)
	set("SUPABASE_ANON_KEY", &config.Auth.AnonKey)
	set("STORAGE_DRIVER", &config.Storage.Driver)
	set("STORAGE_ROOT", &config.Storage.Root)
	set("S3_URL", &config.Storage.S3.URL)
	set("S3_REGION", &config.Storage.S3.Region)
	set("S3_ACCESS_KEY", &config.Storage.S3.AccessKey)
	set("S3_ACCESS_KEY_SECRET", &config.Storage.S3.SecretKey)
	set("DB_PATH", &config.Database.Path)
	set("LOG_LEVEL", &config.Logging.Level)
	set("LOG_FORMAT", &config.Logging.Format)

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		config.CORS.Origins = splitList(origins)
	}

	if maxUpload := os.Getenv("MAX_UPLOAD_BYTES"); maxUpload != "" {
		if val, err := strconv.ParseInt(maxUpload, 10, 64); err == nil {
			config.MaxUploadBytes = val
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret cannot be empty")
	}

	switch c.Storage.Driver {
	case "fs":
		if c.Storage.Root == "" {
			return fmt.Errorf("storage root cannot be empty")
		}
	case "s3":
		s3 := c.Storage.S3
		if s3.URL == "" || s3.AccessKey == "" || s3.SecretKey == "" {
			return fmt.Errorf("s3 storage requires url, access key and secret")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Hub.RelayBuffer < 1 {
		return fmt.Errorf("relay buffer must be at least 1")
	}

	if c.Hub.MaxMessageBytes < 1 {
		return fmt.Errorf("max message bytes must be positive")
	}

	if c.MaxUploadBytes < 1 {
		return fmt.Errorf("max upload bytes must be positive")
	}

	if !isValidLogLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if f := strings.ToLower(c.Logging.Format); f != "text" && f != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// isValidLogLevel checks if the log level is valid
func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// AllowsAnyOrigin reports whether the origin list contains "*".
func (c CORSConfig) AllowsAnyOrigin() bool {
	for _, o := range c.Origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// AllowsOrigin reports whether origin may open browser connections.
func (c CORSConfig) AllowsOrigin(origin string) bool {
	if c.AllowsAnyOrigin() {
		return true
	}
	for _, o := range c.Origins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// String returns a string representation of the configuration (for logging)
func (c *ServerConfig) String() string {
	return fmt.Sprintf("Config{Address: %s, Storage: %s, DB: %s, LogLevel: %s}",
		c.Address, c.Storage.Driver, c.Database.Path, c.Logging.Level)
}
