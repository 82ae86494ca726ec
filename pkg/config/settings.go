package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// Settings is the typed configuration for mcdropd.
type Settings struct {
	// TempRoot is the directory all staging files live under.
	TempRoot string

	DefaultChunkSize int
	MinChunkSize     int
	MaxChunkSize     int
	MaxFileSize      int64

	SessionTTL     time.Duration
	CodeAttempts   int
	SweepInterval  time.Duration
	OrphanGrace    time.Duration
	TxRetry        int
	LogLevel       string
	Port           int
	DBDriver       string
	SqlitePath     string
	APIKeyName     string
	AdminUserEmail string

	// HistoryRetention is how long history records are kept.
	HistoryRetention time.Duration

	// CompletedRetention is how long a finished file stays downloadable.
	CompletedRetention time.Duration
}

// DefaultSettings returns the settings used when no keys are configured.
func DefaultSettings() Settings {
	return Settings{
		TempRoot:           "~/.mcdrop/staging",
		DefaultChunkSize:   1 * MiB,
		MinChunkSize:       64 * KiB,
		MaxChunkSize:       16 * MiB,
		MaxFileSize:        4 * GiB,
		SessionTTL:         15 * time.Minute,
		CodeAttempts:       10,
		SweepInterval:      time.Minute,
		OrphanGrace:        time.Hour,
		TxRetry:            3,
		LogLevel:           "info",
		Port:               1360,
		DBDriver:           "mysql",
		APIKeyName:         "X-API-Key",
		HistoryRetention:   90 * 24 * time.Hour,
		CompletedRetention: time.Hour,
	}
}

// LoadSettings reads Settings from c, falling back to DefaultSettings for missing keys,
// and validates the result.
func LoadSettings(c Configer) (Settings, error) {
	d := DefaultSettings()
	s := Settings{
		TempRoot:           c.GetKeyWithDefault("MCDROP_TEMP_ROOT", d.TempRoot),
		DefaultChunkSize:   c.GetIntKeyWithDefault("MCDROP_CHUNK_SIZE", d.DefaultChunkSize),
		MinChunkSize:       c.GetIntKeyWithDefault("MCDROP_MIN_CHUNK_SIZE", d.MinChunkSize),
		MaxChunkSize:       c.GetIntKeyWithDefault("MCDROP_MAX_CHUNK_SIZE", d.MaxChunkSize),
		MaxFileSize:        c.GetInt64KeyWithDefault("MCDROP_MAX_FILE_SIZE", d.MaxFileSize),
		SessionTTL:         c.GetDurationKeyWithDefault("MCDROP_SESSION_TTL", d.SessionTTL),
		CodeAttempts:       c.GetIntKeyWithDefault("MCDROP_CODE_ATTEMPTS", d.CodeAttempts),
		SweepInterval:      c.GetDurationKeyWithDefault("MCDROP_SWEEP_INTERVAL", d.SweepInterval),
		OrphanGrace:        c.GetDurationKeyWithDefault("MCDROP_ORPHAN_GRACE", d.OrphanGrace),
		TxRetry:            c.GetIntKeyWithDefault("MC_TX_RETRY", d.TxRetry),
		LogLevel:           c.GetKeyWithDefault("MCDROP_LOG_LEVEL", d.LogLevel),
		Port:               c.GetIntKeyWithDefault("MCDROP_PORT", d.Port),
		DBDriver:           c.GetKeyWithDefault("MCDROP_DB_DRIVER", d.DBDriver),
		SqlitePath:         c.GetKey("MCDROP_SQLITE_PATH"),
		APIKeyName:         c.GetKeyWithDefault("MCDROP_API_KEY_NAME", d.APIKeyName),
		AdminUserEmail:     c.GetKey("MCDROP_ADMIN_EMAIL"),
		HistoryRetention:   c.GetDurationKeyWithDefault("MCDROP_HISTORY_RETENTION", d.HistoryRetention),
		CompletedRetention: c.GetDurationKeyWithDefault("MCDROP_COMPLETED_RETENTION", d.CompletedRetention),
	}

	tempRoot, err := homedir.Expand(s.TempRoot)
	if err != nil {
		return s, fmt.Errorf("unable to expand MCDROP_TEMP_ROOT %q: %w", s.TempRoot, err)
	}
	s.TempRoot = tempRoot

	return s, s.Validate()
}

func (s Settings) Validate() error {
	switch {
	case s.TempRoot == "":
		return fmt.Errorf("MCDROP_TEMP_ROOT cannot be blank")
	case s.MinChunkSize <= 0:
		return fmt.Errorf("MCDROP_MIN_CHUNK_SIZE must be positive, got %d", s.MinChunkSize)
	case s.MaxChunkSize < s.MinChunkSize:
		return fmt.Errorf("MCDROP_MAX_CHUNK_SIZE (%d) is smaller than MCDROP_MIN_CHUNK_SIZE (%d)", s.MaxChunkSize, s.MinChunkSize)
	case s.DefaultChunkSize < s.MinChunkSize || s.DefaultChunkSize > s.MaxChunkSize:
		return fmt.Errorf("MCDROP_CHUNK_SIZE %d is outside [%d, %d]", s.DefaultChunkSize, s.MinChunkSize, s.MaxChunkSize)
	case s.MaxFileSize <= 0:
		return fmt.Errorf("MCDROP_MAX_FILE_SIZE must be positive, got %d", s.MaxFileSize)
	case s.SessionTTL <= 0:
		return fmt.Errorf("MCDROP_SESSION_TTL must be positive, got %s", s.SessionTTL)
	case s.CodeAttempts <= 0:
		return fmt.Errorf("MCDROP_CODE_ATTEMPTS must be positive, got %d", s.CodeAttempts)
	case s.SweepInterval <= 0:
		return fmt.Errorf("MCDROP_SWEEP_INTERVAL must be positive, got %s", s.SweepInterval)
	case s.DBDriver != "mysql" && s.DBDriver != "sqlite":
		return fmt.Errorf("MCDROP_DB_DRIVER must be mysql or sqlite, got %q", s.DBDriver)
	case s.DBDriver == "sqlite" && s.SqlitePath == "":
		return fmt.Errorf("MCDROP_SQLITE_PATH is required when MCDROP_DB_DRIVER is sqlite")
	}

	return nil
}
