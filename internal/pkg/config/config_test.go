package config

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfig, "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 54000, cfg.Server.Port)
	assert.Equal(t, "/api/v1", cfg.Server.RouteBase)
	assert.Equal(t, 10, cfg.Heartbeat)
	assert.Equal(t, 300, cfg.RefreshMaps)
	assert.Equal(t, 300, cfg.Auth.Expires)
	assert.Equal(t, 16, cfg.DB.MaxOpenConns)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromEnvRaw(t *testing.T) {
	t.Setenv(EnvConfig, `{"server":{"port":8080},"heartbeat":5}`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Heartbeat)
	// untouched values keep their defaults
	assert.Equal(t, "/api/v1", cfg.Server.RouteBase)
}

func TestLoadFromEnvBase64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"server":{"port":9000}}`))
	t.Setenv(EnvConfig, encoded)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv(EnvConfig, "definitely not json")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestDecodeEnv(t *testing.T) {
	raw, err := DecodeEnv(`{"a":1}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))

	raw, err = DecodeEnv(base64.StdEncoding.EncodeToString([]byte(`{"a":1}`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))

	_, err = DecodeEnv("not json either way")
	assert.Error(t, err)
}
