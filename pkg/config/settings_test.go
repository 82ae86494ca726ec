package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	c := NewMapConfig(map[string]string{
		"MCDROP_TEMP_ROOT": "/tmp/mcdrop-staging",
	})

	s, err := LoadSettings(c)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/mcdrop-staging", s.TempRoot)
	assert.Equal(t, 1*MiB, s.DefaultChunkSize)
	assert.Equal(t, 15*time.Minute, s.SessionTTL)
	assert.Equal(t, 10, s.CodeAttempts)
	assert.Equal(t, "mysql", s.DBDriver)
}

func TestLoadSettingsOverrides(t *testing.T) {
	c := NewMapConfig(map[string]string{
		"MCDROP_TEMP_ROOT":      "/tmp/x",
		"MCDROP_CHUNK_SIZE":     "131072",
		"MCDROP_SESSION_TTL":    "90",
		"MCDROP_SWEEP_INTERVAL": "5s",
		"MCDROP_MAX_FILE_SIZE":  "1048576",
	})

	s, err := LoadSettings(c)
	require.NoError(t, err)
	assert.Equal(t, 131072, s.DefaultChunkSize)
	assert.Equal(t, 90*time.Second, s.SessionTTL)
	assert.Equal(t, 5*time.Second, s.SweepInterval)
	assert.Equal(t, int64(1048576), s.MaxFileSize)
}

func TestLoadSettingsExpandsHomeDir(t *testing.T) {
	c := NewMapConfig(map[string]string{})

	s, err := LoadSettings(c)
	require.NoError(t, err)
	assert.NotContains(t, s.TempRoot, "~")
	assert.True(t, filepath.IsAbs(s.TempRoot))
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"blank temp root", func(s *Settings) { s.TempRoot = "" }},
		{"chunk below min", func(s *Settings) { s.DefaultChunkSize = s.MinChunkSize - 1 }},
		{"max below min", func(s *Settings) { s.MaxChunkSize = s.MinChunkSize - 1 }},
		{"zero ttl", func(s *Settings) { s.SessionTTL = 0 }},
		{"bad driver", func(s *Settings) { s.DBDriver = "postgres" }},
		{"sqlite without path", func(s *Settings) { s.DBDriver = "sqlite" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := DefaultSettings()
			test.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestDotenvConfigLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MCDROP_TEST_DOTENV_KEY=42\n"), 0600))
	t.Cleanup(func() { _ = os.Unsetenv("MCDROP_TEST_DOTENV_KEY") })

	c := NewDotenvConfig(path)
	require.NoError(t, c.Load())
	assert.Equal(t, 42, c.GetIntKey("MCDROP_TEST_DOTENV_KEY"))
	assert.Equal(t, "fallback", c.GetKeyWithDefault("MCDROP_TEST_MISSING", "fallback"))
}

func TestViperConfigReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcdrop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mcdrop_chunk_size: 262144\nmcdrop_session_ttl: 2m\n"), 0600))

	c := NewViperConfig(path)
	require.NoError(t, c.Load())
	assert.Equal(t, 262144, c.GetIntKeyWithDefault("MCDROP_CHUNK_SIZE", 0))
	assert.Equal(t, 2*time.Minute, c.GetDurationKeyWithDefault("MCDROP_SESSION_TTL", 0))
}
