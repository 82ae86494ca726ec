package config

import (
	"strings"

	"github.com/spf13/viper"
)

// ViperConfig reads keys from a config file (yaml, toml, json, or env format) with
// environment variables taking precedence. Keys are looked up case-insensitively, so
// MCDROP_CHUNK_SIZE in the environment and mcdrop_chunk_size in a yaml file are the
// same key.
type ViperConfig struct {
	typedGetter
	v          *viper.Viper
	configPath string
}

func NewViperConfig(path string) *ViperConfig {
	c := &ViperConfig{
		v:          viper.New(),
		configPath: path,
	}
	c.v.AutomaticEnv()
	c.typedGetter = typedGetter{lookup: c.lookup}

	return c
}

func (c *ViperConfig) LoadFromPath(path string) error {
	c.configPath = path
	return c.Load()
}

func (c *ViperConfig) Load() error {
	if c.configPath == "" {
		return nil
	}

	c.v.SetConfigFile(c.configPath)
	return c.v.ReadInConfig()
}

func (c *ViperConfig) lookup(key string) string {
	if val := c.v.GetString(key); val != "" {
		return val
	}

	return c.v.GetString(strings.ToLower(key))
}
