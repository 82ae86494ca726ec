package config

import (
	"strconv"
	"time"

	"github.com/apex/log"
)

// typedGetter layers the typed accessors of Configer on top of a raw string lookup so
// that each config source only has to know how to find a value.
type typedGetter struct {
	lookup func(key string) string
}

func (g typedGetter) GetKey(key string) string {
	return g.lookup(key)
}

func (g typedGetter) MustGetKey(key string) string {
	val := g.lookup(key)
	if val == "" {
		log.Fatalf("No such required config key: '%s'", key)
	}

	return val
}

func (g typedGetter) GetKeyWithDefault(key, defaultValue string) string {
	if val := g.lookup(key); val != "" {
		return val
	}

	return defaultValue
}

func (g typedGetter) GetIntKey(key string) int {
	return g.GetIntKeyWithDefault(key, 0)
}

func (g typedGetter) MustGetIntKey(key string) int {
	intVal, err := strconv.Atoi(g.lookup(key))
	if err != nil {
		log.Fatalf("Required config key either doesn't exist or isn't an int: '%s': %s", key, err)
	}

	return intVal
}

func (g typedGetter) GetIntKeyWithDefault(key string, defaultValue int) int {
	intVal, err := strconv.Atoi(g.lookup(key))
	if err != nil {
		return defaultValue
	}

	return intVal
}

func (g typedGetter) GetInt64KeyWithDefault(key string, defaultValue int64) int64 {
	intVal, err := strconv.ParseInt(g.lookup(key), 10, 64)
	if err != nil {
		return defaultValue
	}

	return intVal
}

// GetDurationKeyWithDefault accepts Go duration strings ("90s", "15m"). A bare integer
// is treated as a number of seconds.
func (g typedGetter) GetDurationKeyWithDefault(key string, defaultValue time.Duration) time.Duration {
	val := g.lookup(key)
	if val == "" {
		return defaultValue
	}

	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return d
}
