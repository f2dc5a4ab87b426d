package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SUPABASE_JWT_SECRET", "secret")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Address)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "authenticated", cfg.Auth.Audience)
	assert.Equal(t, "fs", cfg.Storage.Driver)
	assert.Equal(t, 100, cfg.Hub.RelayBuffer)
	assert.Equal(t, 250*time.Millisecond, cfg.Hub.EnqueueTimeout)
	assert.Equal(t, int64(1<<20), cfg.Hub.MaxMessageBytes)
	assert.Equal(t, int64(100<<20), cfg.MaxUploadBytes)
	assert.True(t, cfg.CORS.AllowsAnyOrigin())
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("SUPABASE_JWT_SECRET", "")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fontsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
address: ":9000"
auth:
  jwt_secret: from-file
storage:
  driver: s3
  s3:
    url: http://localhost:9000
    access_key: key
    secret_key: secret
hub:
  relay_buffer: 8
  enqueue_timeout: 1s
  max_message_bytes: 65536
logging:
  level: debug
  format: json
cors:
  origins: ["https://fonts.example.com"]
`), 0o600))

	t.Setenv("SUPABASE_JWT_SECRET", "")
	t.Setenv("SERVER_ADDR", ":9100")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Address)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, "s3", cfg.Storage.Driver)
	assert.Equal(t, "fonts", cfg.Storage.S3.Bucket)
	assert.Equal(t, 8, cfg.Hub.RelayBuffer)
	assert.Equal(t, time.Second, cfg.Hub.EnqueueTimeout)
	assert.Equal(t, 10*time.Second, cfg.Hub.WriteTimeout)
	assert.Equal(t, int64(65536), cfg.Hub.MaxMessageBytes)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.CORS.AllowsAnyOrigin())
	assert.True(t, cfg.CORS.AllowsOrigin("https://fonts.example.com"))
	assert.False(t, cfg.CORS.AllowsOrigin("https://evil.example.com"))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SUPABASE_JWT_SECRET", "secret")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("DB_PATH", "/tmp/fonts.db")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.Origins)
	assert.Equal(t, "/tmp/fonts.db", cfg.Database.Path)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ServerConfig)
		valid  bool
	}{
		{"Defaults", func(*ServerConfig) {}, true},
		{"EmptyAddress", func(c *ServerConfig) { c.Address = "" }, false},
		{"UnknownDriver", func(c *ServerConfig) { c.Storage.Driver = "ftp" }, false},
		{"S3WithoutCredentials", func(c *ServerConfig) { c.Storage.Driver = "s3" }, false},
		{"ZeroRelayBuffer", func(c *ServerConfig) { c.Hub.RelayBuffer = 0 }, false},
		{"ZeroMaxMessageBytes", func(c *ServerConfig) { c.Hub.MaxMessageBytes = 0 }, false},
		{"BadLogLevel", func(c *ServerConfig) { c.Logging.Level = "loud" }, false},
		{"BadLogFormat", func(c *ServerConfig) { c.Logging.Format = "xml" }, false},
		{"UppercaseLevel", func(c *ServerConfig) { c.Logging.Level = "DEBUG" }, true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Auth.JWTSecret = "secret"
			test.modify(cfg)
			if test.valid {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	assert.NotEmpty(t, DefaultConfig().String())
}
