package config

import (
	"strconv"
	"strings"
	"time"
)

// Config is a decoded YAML or JSON document. Accessors take a dotted path
// such as "ledger.backend" and fall back to the supplied default when the
// path is missing or holds a value of the wrong shape.
type Config struct {
	data map[string]any
}

// New wraps data. A nil map yields an empty Config.
func New(data map[string]any) Config {
	if data == nil {
		data = map[string]any{}
	}
	return Config{data: data}
}

// lookup walks path through nested maps.
func (c Config) lookup(path string) (any, bool) {
	var cur any = c.data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path. Numbers and booleans are not coerced.
func (c Config) String(path, def string) string {
	if s, ok := c.get(path).(string); ok {
		return s
	}
	return def
}

// Int returns the integer at path. Whole floats (JSON numbers) and numeric
// strings are accepted.
func (c Config) Int(path string, def int) int {
	switch v := c.get(path).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the boolean at path. Strings are parsed with strconv.ParseBool.
func (c Config) Bool(path string, def bool) bool {
	switch v := c.get(path).(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// Duration returns the duration at path. Strings use time.ParseDuration;
// bare numbers are seconds.
func (c Config) Duration(path string, def time.Duration) time.Duration {
	switch v := c.get(path).(type) {
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return def
}

// Section returns the map at path as its own Config, or an empty one.
func (c Config) Section(path string) Config {
	m, _ := c.get(path).(map[string]any)
	return New(m)
}

// Has reports whether path is present.
func (c Config) Has(path string) bool {
	_, ok := c.lookup(path)
	return ok
}

// Raw returns the underlying map. Callers must not modify it.
func (c Config) Raw() map[string]any {
	return c.data
}

func (c Config) get(path string) any {
	v, _ := c.lookup(path)
	return v
}
