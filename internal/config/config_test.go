package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")

	cfg, err := LoadFs(afero.NewMemMapFs(), "")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Codes.TopN)
	assert.False(t, cfg.Validation.BlockOnError)
	assert.Equal(t, uint32(5), cfg.LLM.BreakerThreshold)
}

func TestFileAndEnvOverrides(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/soapflow.yaml", []byte(`
app:
  environment: production
server:
  port: 9000
  read_timeout: 5s
auth:
  jwt_secret: from-file
validation:
  block_on_error: true
codes:
  cache_size: 64
`), 0o644))

	t.Setenv("SOAPFLOW_AUTH_JWT_SECRET", "from-env")
	t.Setenv("SOAPFLOW_LOG_LEVEL", "debug")

	cfg, err := LoadFs(fs, "/etc/soapflow.yaml")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Validation.BlockOnError)
	assert.Equal(t, 64, cfg.Codes.CacheSize)
}

func TestConfigFileFromEnvironment(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cfg.yaml", []byte("server:\n  port: 7070\n"), 0o644))
	t.Setenv(EnvConfigFile, "/cfg.yaml")

	cfg, err := LoadFs(fs, "")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestFlagsTakePrecedence(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/flag.yaml", []byte("server:\n  port: 7070\nlog:\n  level: error\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/env.yaml", []byte("server:\n  port: 6060\n"), 0o644))
	t.Setenv(EnvConfigFile, "/env.yaml")
	t.Setenv("SOAPFLOW_LOG_LEVEL", "debug")

	flags := FlagSet("test")
	require.NoError(t, flags.Parse([]string{"--config", "/flag.yaml", "--log-level", "warn"}))

	cfg, err := LoadFlags(fs, flags)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port, "--config beats SOAPFLOW_CONFIG")
	assert.Equal(t, "warn", cfg.Log.Level, "flag beats env and file")
}

func TestUnsetFlagsKeepLowerLayers(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cfg.yaml", []byte("server:\n  port: 7070\n"), 0o644))
	t.Setenv(EnvConfigFile, "/cfg.yaml")
	t.Setenv("SOAPFLOW_LOG_LEVEL", "debug")

	flags := FlagSet("test")
	require.NoError(t, flags.Parse(nil))

	cfg, err := LoadFlags(fs, flags)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := LoadFs(afero.NewMemMapFs(), "/nope.yaml")
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"secret required in production", "app:\n  environment: production\n", "auth.jwt_secret"},
		{"auth disabled in production", "app:\n  environment: production\nauth:\n  jwt_secret: x\n  disabled: true\n", "auth.disabled"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
		{"bad port", "server:\n  port: 70000\n", "server.port"},
		{"zero cache", "codes:\n  cache_size: 0\n", "codes.cache_size"},
		{"bad sample rate", "tracing:\n  sample_rate: 2\n", "tracing.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/c.yaml", []byte(tt.yaml), 0o644))

			_, err := LoadFs(fs, "/c.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
