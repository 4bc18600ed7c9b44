package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// ToMap converts cfg into the nested map form of its JSON encoding.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// fromConfig loads cfg into a fresh viper instance.
func fromConfig(cfg *Config) (*viper.Viper, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func fromFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// Keys lists every settable dotted key.
func Keys() []string {
	v, err := fromConfig(Default())
	if err != nil {
		return nil
	}
	return v.AllKeys()
}

// ListValues returns every setting of cfg by dotted key, masking
// secrets on request.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	v, err := fromConfig(cfg)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any)
	for _, key := range v.AllKeys() {
		values[key] = v.Get(key)
	}
	if mask {
		values = MaskSecrets(values)
	}
	return values, nil
}

// GetValue reads one key from the config file, creating it with defaults
// when missing.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	v, err := fromFile(path)
	if err != nil {
		return nil, err
	}
	if !v.IsSet(key) {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v.Get(key), nil
}

// SetValue writes one key into an existing config file and returns the
// previous value. The raw value is decoded as JSON when possible and kept
// as a string otherwise. A value that would leave the file unloadable is
// rejected and nothing is written.
func SetValue(path, key, raw string) (previous any, err error) {
	if !knownKey(key) {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	v, err := fromFile(path)
	if err != nil {
		return nil, err
	}
	previous = v.Get(key)

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}
	v.Set(key, value)

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if _, err := cfg.Timeouts(); err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return previous, writeFile(path, v.AllSettings())
}

func knownKey(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}
