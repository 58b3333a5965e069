package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Manager.DiscoveryTimeout)
	assert.Equal(t, 10*time.Second, cfg.Manager.LostTimeout)
	assert.Equal(t, 8, cfg.Manager.Dispatch.Lanes)
	assert.Equal(t, 256, cfg.Manager.Dispatch.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.Connect.Timeout)
	assert.Equal(t, 3, cfg.Connect.Retry.Attempts)
	assert.Equal(t, 4096, cfg.Console.BufferSize)
	assert.Empty(t, cfg.MetricsAddr)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			want:     logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: "info",
			want:     logrus.InfoLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			want:     logrus.WarnLevel,
		},
		{
			name:     "invalid level falls back to info",
			logLevel: "chatty",
			want:     logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
manager:
  lost_timeout: 30s
  dispatch:
    lanes: 2
connect:
  retry:
    attempts: 5
    initial_delay: 1s
metrics_addr: ":9100"
decoders:
  - device_type: 0x80
    bit: 7
    script: decoders/wind.lua
`))

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Manager.LostTimeout)
	assert.Equal(t, 10*time.Second, cfg.Manager.DiscoveryTimeout, "missing keys keep defaults")
	assert.Equal(t, 2, cfg.Manager.Dispatch.Lanes)
	assert.Equal(t, 256, cfg.Manager.Dispatch.QueueSize)
	assert.Equal(t, 5, cfg.Connect.Retry.Attempts)
	assert.Equal(t, time.Second, cfg.Connect.Retry.InitialDelay)
	assert.Equal(t, 8*time.Second, cfg.Connect.Retry.MaxDelay)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	require.Len(t, cfg.Decoders, 1)
	assert.Equal(t, DecoderConfig{DeviceType: 0x80, Bit: 7, Script: "decoders/wind.lua"}, cfg.Decoders[0])
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "malformed yaml",
			doc:  "log_level: [",
			want: "failed to parse config",
		},
		{
			name: "unknown log level",
			doc:  "log_level: chatty",
			want: "invalid log level: chatty",
		},
		{
			name: "decoder bit out of range",
			doc:  "decoders: [{bit: 32, script: x.lua}]",
			want: "decoders[0]: bit 32 out of range",
		},
		{
			name: "decoder without script",
			doc:  "decoders: [{bit: 3}]",
			want: "decoders[0]: script is required",
		},
		{
			name: "retry max below initial",
			doc:  "connect: {retry: {initial_delay: 1m, max_delay: 1s}}",
			want: "max delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bluest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, logrus.WarnLevel, cfg.NewLogger().GetLevel())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
