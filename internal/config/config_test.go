package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultline/internal/constants"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", s.ListenAddr)
	assert.Equal(t, RuntimeDocker, s.Runtime)
	assert.Equal(t, constants.MongoImage, s.Image)
	assert.Equal(t, constants.SharedNetwork, s.Network)
	assert.Equal(t, constants.DefaultBasePort, s.BasePort)
	assert.Equal(t, constants.MonitorInterval, s.MonitorInterval)
	assert.Equal(t, constants.LogTailLines, s.LogTailLines)
	assert.True(t, s.CleanupOnShutdown)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "faultline.yaml")
	content := []byte("listen_addr: \":9100\"\nruntime: kubernetes\nbase_port: 28000\nmonitor_interval: 2s\n")
	require.NoError(t, os.WriteFile(path, content, 0644))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", s.ListenAddr)
	assert.Equal(t, RuntimeKubernetes, s.Runtime)
	assert.Equal(t, 28000, s.BasePort)
	assert.Equal(t, 2*time.Second, s.MonitorInterval)
	// Untouched keys keep their defaults.
	assert.Equal(t, constants.MongoImage, s.Image)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FAULTLINE_IMAGE", "mongo:6.0")
	t.Setenv("FAULTLINE_LOG_POLL_INTERVAL", "500ms")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "mongo:6.0", s.Image)
	assert.Equal(t, 500*time.Millisecond, s.LogPollInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"unknown runtime", func(s *Settings) { s.Runtime = "podman" }},
		{"port too low", func(s *Settings) { s.BasePort = 80 }},
		{"port too high", func(s *Settings) { s.BasePort = 70000 }},
		{"zero monitor interval", func(s *Settings) { s.MonitorInterval = 0 }},
		{"zero log poll interval", func(s *Settings) { s.LogPollInterval = 0 }},
		{"zero tail lines", func(s *Settings) { s.LogTailLines = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}
