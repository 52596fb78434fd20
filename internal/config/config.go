// Package config reads daemon settings from a TOML file into ff flag sets.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/peterbourgon/ff/v3"
)

// EnvPrefix is the environment variable prefix for every flag.
const EnvPrefix = "WIFICONNECT"

// TableDelimiter joins table names onto keys: [bridge] socket = "..." sets
// the flag bridge.socket.
const TableDelimiter = "."

// DefaultPath returns the config file location under the user config dir.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "wificonnect", "config.toml")
}

// Options returns the ff options shared by every command: env vars with
// EnvPrefix, then the TOML file named by the config flag, if present. Keys
// not defined by a command are ignored so one file serves every command.
func Options() []ff.Option {
	return []ff.Option{
		ff.WithEnvVarPrefix(EnvPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(Parser),
		ff.WithAllowMissingConfigFile(true),
		ff.WithIgnoreUndefined(true),
	}
}

// OptionsVia is Options for subcommands: the config file path is read from
// the root command's already parsed config flag.
func OptionsVia(path *string) []ff.Option {
	return []ff.Option{
		ff.WithEnvVarPrefix(EnvPrefix),
		ff.WithConfigFileVia(path),
		ff.WithConfigFileParser(Parser),
		ff.WithAllowMissingConfigFile(true),
		ff.WithIgnoreUndefined(true),
	}
}

// Parser is an ff.ConfigFileParser for TOML.
func Parser(r io.Reader, set func(name, value string) error) error {
	var m map[string]any
	if _, err := toml.NewDecoder(r).Decode(&m); err != nil {
		return fmt.Errorf("error parsing TOML config: %w", err)
	}
	return walk("", m, set)
}

func walk(key string, val any, set func(name, value string) error) error {
	switch v := val.(type) {
	case string:
		return set(key, v)
	case int64:
		return set(key, strconv.FormatInt(v, 10))
	case float64:
		return set(key, strconv.FormatFloat(v, 'g', -1, 64))
	case bool:
		return set(key, strconv.FormatBool(v))
	case time.Time:
		return set(key, v.Format(time.RFC3339))
	case []any:
		for _, item := range v {
			if err := walk(key, item, set); err != nil {
				return err
			}
		}
		return nil
	case []map[string]any:
		for _, item := range v {
			if err := walk(key, item, set); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			name := k
			if key != "" {
				name = key + TableDelimiter + k
			}
			if err := walk(name, v[k], set); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("config key %q: unsupported value type %T", key, val)
	}
}
