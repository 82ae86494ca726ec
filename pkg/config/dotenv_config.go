package config

import (
	"os"

	"github.com/subosito/gotenv"
)

// DotenvConfig reads keys from the process environment after optionally loading a
// dotenv file into it.
type DotenvConfig struct {
	typedGetter
	DotenvPath string
}

func NewDotenvConfig(path string) *DotenvConfig {
	return &DotenvConfig{
		typedGetter: typedGetter{lookup: os.Getenv},
		DotenvPath:  path,
	}
}

func (c *DotenvConfig) LoadFromPath(path string) error {
	c.DotenvPath = path
	return c.Load()
}

// Load loads the dotenv file if one was given. Variables already set in the
// environment win over the file.
func (c *DotenvConfig) Load() error {
	if c.DotenvPath == "" {
		return nil
	}

	return gotenv.Load(c.DotenvPath)
}
