package config

import (
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// SettingsGetter is an interface for retrieving raw settings by dotted key
type SettingsGetter interface {
	GetSetting(key string) (string, error)
}

// ViperSettings exposes a viper instance as a SettingsGetter
type ViperSettings struct {
	v *viper.Viper
}

// NewViperSettings wraps v
func NewViperSettings(v *viper.Viper) *ViperSettings {
	return &ViperSettings{v: v}
}

// GetSetting returns the string form of key, or "" when unset
func (s *ViperSettings) GetSetting(key string) (string, error) {
	if !s.v.IsSet(key) {
		return "", nil
	}
	return s.v.GetString(key), nil
}

// Loader provides typed access to settings with default values
type Loader struct {
	src SettingsGetter
}

// NewLoader creates a new settings loader
func NewLoader(src SettingsGetter) *Loader {
	return &Loader{src: src}
}

func (l *Loader) raw(key string) string {
	if l == nil || l.src == nil {
		return ""
	}
	val, _ := l.src.GetSetting(key)
	return val
}

// Int retrieves an integer setting, returning defaultVal if not found or invalid
func (l *Loader) Int(key string, defaultVal int) int {
	if val := l.raw(key); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			return v
		}
	}
	return defaultVal
}

// Bool retrieves a boolean setting, returning defaultVal if not found or invalid
func (l *Loader) Bool(key string, defaultVal bool) bool {
	if val := l.raw(key); val != "" {
		if v, err := strconv.ParseBool(val); err == nil {
			return v
		}
	}
	return defaultVal
}

// String retrieves a string setting, returning defaultVal if not found or empty
func (l *Loader) String(key, defaultVal string) string {
	if val := l.raw(key); val != "" {
		return val
	}
	return defaultVal
}

// Duration retrieves a duration setting, returning defaultVal if not found or invalid.
// Bare integers are read as seconds.
func (l *Loader) Duration(key string, defaultVal time.Duration) time.Duration {
	val := l.raw(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
