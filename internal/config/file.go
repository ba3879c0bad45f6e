package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const envPrefix = "ASKDB_"

// FileLookup reads a YAML, TOML or JSON file and answers lookups for ASKDB_*
// keys. ASKDB_DB_MAX_ROWS resolves to "db.max_rows" or, failing that, to the
// flat key "db_max_rows". Lists are joined with commas.
func FileLookup(path string) (LookupFunc, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		for _, candidate := range fileKeys(key) {
			if !v.IsSet(candidate) {
				continue
			}
			return fileValue(v.Get(candidate)), true
		}
		return "", false
	}, nil
}

// ChainLookup consults lookups in order; the first hit wins.
func ChainLookup(lookups ...LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		for _, lookup := range lookups {
			if lookup == nil {
				continue
			}
			if value, ok := lookup(key); ok {
				return value, true
			}
		}
		return "", false
	}
}

func fileKeys(key string) []string {
	if !strings.HasPrefix(key, envPrefix) {
		return nil
	}
	flat := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	section, rest, ok := strings.Cut(flat, "_")
	if !ok {
		return []string{flat}
	}
	return []string{section + "." + rest, flat}
}

func fileValue(value any) string {
	if items, ok := value.([]any); ok {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, cast.ToString(item))
		}
		return strings.Join(parts, ",")
	}
	return cast.ToString(value)
}
